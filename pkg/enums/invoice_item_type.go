package enums

import "fmt"

// InvoiceItemType classifies a single invoice line.
type InvoiceItemType string

const (
	InvoiceItemTypeBaseFee    InvoiceItemType = "base_fee"
	InvoiceItemTypeOverage    InvoiceItemType = "overage"
	InvoiceItemTypeCredit     InvoiceItemType = "credit"
	InvoiceItemTypeAdjustment InvoiceItemType = "adjustment"
	InvoiceItemTypeTax        InvoiceItemType = "tax"
)

var validInvoiceItemTypes = []InvoiceItemType{
	InvoiceItemTypeBaseFee,
	InvoiceItemTypeOverage,
	InvoiceItemTypeCredit,
	InvoiceItemTypeAdjustment,
	InvoiceItemTypeTax,
}

// String implements fmt.Stringer.
func (i InvoiceItemType) String() string {
	return string(i)
}

// IsValid reports whether the value is a known InvoiceItemType.
func (i InvoiceItemType) IsValid() bool {
	for _, candidate := range validInvoiceItemTypes {
		if candidate == i {
			return true
		}
	}
	return false
}

// ParseInvoiceItemType converts raw input into an InvoiceItemType.
func ParseInvoiceItemType(value string) (InvoiceItemType, error) {
	for _, candidate := range validInvoiceItemTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid invoice item type %q", value)
}
