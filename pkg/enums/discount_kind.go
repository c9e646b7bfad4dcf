package enums

import "fmt"

// DiscountKind enumerates how a server-granted promotion affects pricing.
type DiscountKind string

const (
	DiscountKindPercentage   DiscountKind = "percentage"
	DiscountKindFixedAmount  DiscountKind = "fixed_amount"
	DiscountKindFreeShipping DiscountKind = "free_shipping"
)

var validDiscountKinds = []DiscountKind{
	DiscountKindPercentage,
	DiscountKindFixedAmount,
	DiscountKindFreeShipping,
}

// String implements fmt.Stringer.
func (d DiscountKind) String() string {
	return string(d)
}

// IsValid reports whether the value is known.
func (d DiscountKind) IsValid() bool {
	for _, candidate := range validDiscountKinds {
		if candidate == d {
			return true
		}
	}
	return false
}

// ParseDiscountKind converts raw input into a DiscountKind.
// The camelCase spellings used by older API clients are accepted as aliases.
func ParseDiscountKind(value string) (DiscountKind, error) {
	switch value {
	case "fixedAmount", "fixed":
		return DiscountKindFixedAmount, nil
	case "freeShipping":
		return DiscountKindFreeShipping, nil
	}
	for _, candidate := range validDiscountKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid discount kind %q", value)
}
