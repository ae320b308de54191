package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/covercheck/covercheck-backend/pkg/enums"
)

// SubscriptionEvent is an append-only audit entry. Rows are never updated
// or deleted.
type SubscriptionEvent struct {
	ID             uuid.UUID                   `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	SubscriptionID uuid.UUID                   `gorm:"column:subscription_id;type:uuid;not null;index"`
	ActorUserID    *uuid.UUID                  `gorm:"column:actor_user_id;type:uuid"`
	Event          enums.SubscriptionEventType `gorm:"column:event;not null"`
	OldValues      json.RawMessage             `gorm:"column:old_values;type:jsonb"`
	NewValues      json.RawMessage             `gorm:"column:new_values;type:jsonb"`
	Metadata       json.RawMessage             `gorm:"column:metadata;type:jsonb"`
	CreatedAt      time.Time                   `gorm:"column:created_at;autoCreateTime"`
}
