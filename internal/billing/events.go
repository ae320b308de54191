package billing

import "encoding/json"

// EventMetadata marshals arbitrary key/value detail for a subscription
// event. Marshal failures degrade to a null column rather than aborting
// the surrounding transaction.
func EventMetadata(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
