package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/packfinderz-cart/pkg/enums"
)

// Promotion is a server-validated discount rule. It is trusted for display
// only; minimum order checks happen when the coupon is granted.
type Promotion struct {
	Code              string             `json:"code,omitempty"`
	Kind              enums.DiscountKind `json:"discount_kind"`
	Value             decimal.Decimal    `json:"discount_value"`
	Description       string             `json:"description"`
	MinimumOrderValue *decimal.Decimal   `json:"minimum_order_value,omitempty"`
}

// MeetsMinimum reports whether subtotal satisfies the promotion threshold.
func (p Promotion) MeetsMinimum(subtotal decimal.Decimal) bool {
	if p.MinimumOrderValue == nil {
		return true
	}
	return subtotal.GreaterThanOrEqual(*p.MinimumOrderValue)
}
