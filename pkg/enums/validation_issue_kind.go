package enums

import "fmt"

// ValidationIssueKind enumerates per-line problems reported by cart validation.
type ValidationIssueKind string

const (
	ValidationIssueOutOfStock      ValidationIssueKind = "out_of_stock"
	ValidationIssuePriceChanged    ValidationIssueKind = "price_changed"
	ValidationIssueQuantityClamped ValidationIssueKind = "quantity_clamped"
	ValidationIssueUnavailable     ValidationIssueKind = "unavailable"
)

var validValidationIssueKinds = []ValidationIssueKind{
	ValidationIssueOutOfStock,
	ValidationIssuePriceChanged,
	ValidationIssueQuantityClamped,
	ValidationIssueUnavailable,
}

// String implements fmt.Stringer.
func (v ValidationIssueKind) String() string {
	return string(v)
}

// IsValid reports whether the value is known.
func (v ValidationIssueKind) IsValid() bool {
	for _, candidate := range validValidationIssueKinds {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseValidationIssueKind converts raw input into a ValidationIssueKind.
func ParseValidationIssueKind(value string) (ValidationIssueKind, error) {
	switch value {
	case "outOfStock":
		return ValidationIssueOutOfStock, nil
	case "priceChanged":
		return ValidationIssuePriceChanged, nil
	case "quantityClamped":
		return ValidationIssueQuantityClamped, nil
	}
	for _, candidate := range validValidationIssueKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid validation issue kind %q", value)
}
