// Package pricing computes cart totals. Everything here is pure: no I/O and
// no rounding until a caller asks for a display snapshot.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/packfinderz-cart/pkg/config"
	"github.com/angelmondragon/packfinderz-cart/pkg/enums"
)

// Line is the pricing view of a cart item.
type Line struct {
	UnitPrice     decimal.Decimal
	OriginalPrice *decimal.Decimal
	Quantity      int
}

// Rules holds the flat shipping and tax-inclusive VAT parameters.
type Rules struct {
	FreeShippingThreshold decimal.Decimal
	BaseShippingCost      decimal.Decimal
	TaxRate               decimal.Decimal
}

// DefaultRules returns the storefront defaults.
func DefaultRules() Rules {
	return Rules{
		FreeShippingThreshold: decimal.NewFromInt(5000),
		BaseShippingCost:      decimal.NewFromInt(300),
		TaxRate:               decimal.RequireFromString("0.10"),
	}
}

// RulesFromConfig maps the pricing section of the agent config.
func RulesFromConfig(cfg config.PricingConfig) Rules {
	return Rules{
		FreeShippingThreshold: cfg.FreeShippingThreshold,
		BaseShippingCost:      cfg.BaseShippingCost,
		TaxRate:               cfg.TaxRate,
	}
}

// Snapshot is the computed totals for one cart state.
type Snapshot struct {
	Subtotal       decimal.Decimal `json:"subtotal"`
	ShippingCost   decimal.Decimal `json:"shipping_cost"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	Total          decimal.Decimal `json:"total"`
	Savings        decimal.Decimal `json:"savings"`
}

// Round returns a copy rounded half-up to the given number of minor-unit
// places. Use only for presentation.
func (s Snapshot) Round(places int32) Snapshot {
	return Snapshot{
		Subtotal:       s.Subtotal.Round(places),
		ShippingCost:   s.ShippingCost.Round(places),
		DiscountAmount: s.DiscountAmount.Round(places),
		TaxAmount:      s.TaxAmount.Round(places),
		Total:          s.Total.Round(places),
		Savings:        s.Savings.Round(places),
	}
}

// Engine applies Rules to cart lines.
type Engine struct {
	rules Rules
}

// NewEngine builds an engine for the provided rules.
func NewEngine(rules Rules) *Engine {
	return &Engine{rules: rules}
}

// Rules exposes the active rules.
func (e *Engine) Rules() Rules {
	return e.rules
}

// Compute derives the totals for lines with an optional promotion.
func (e *Engine) Compute(lines []Line, promotion *Promotion) Snapshot {
	if len(lines) == 0 {
		return zeroSnapshot()
	}

	subtotal := decimal.Zero
	original := decimal.Zero
	for _, line := range lines {
		if line.Quantity <= 0 {
			continue
		}
		qty := decimal.NewFromInt(int64(line.Quantity))
		subtotal = subtotal.Add(line.UnitPrice.Mul(qty))

		listPrice := line.UnitPrice
		if line.OriginalPrice != nil {
			listPrice = *line.OriginalPrice
		}
		original = original.Add(listPrice.Mul(qty))
	}

	discount := e.discount(subtotal, promotion)
	shipping := e.shipping(subtotal, promotion)
	taxable := subtotal.Sub(discount)

	return Snapshot{
		Subtotal:       subtotal,
		ShippingCost:   shipping,
		DiscountAmount: discount,
		TaxAmount:      e.includedTax(taxable),
		Total:          taxable.Add(shipping),
		Savings:        original.Sub(subtotal).Add(discount),
	}
}

// shipping is free with a free-shipping promotion or once the subtotal reaches
// the threshold. The threshold is inclusive: a subtotal equal to it ships free.
func (e *Engine) shipping(subtotal decimal.Decimal, promotion *Promotion) decimal.Decimal {
	if promotion != nil && promotion.Kind == enums.DiscountKindFreeShipping {
		return decimal.Zero
	}
	if subtotal.GreaterThanOrEqual(e.rules.FreeShippingThreshold) {
		return decimal.Zero
	}
	return e.rules.BaseShippingCost
}

func (e *Engine) discount(subtotal decimal.Decimal, promotion *Promotion) decimal.Decimal {
	if promotion == nil || promotion.Value.IsNegative() {
		return decimal.Zero
	}
	var amount decimal.Decimal
	switch promotion.Kind {
	case enums.DiscountKindPercentage:
		amount = subtotal.Mul(promotion.Value)
	case enums.DiscountKindFixedAmount:
		amount = promotion.Value
	default:
		return decimal.Zero
	}
	return decimal.Min(amount, subtotal)
}

// includedTax extracts the VAT portion already contained in amount.
func (e *Engine) includedTax(amount decimal.Decimal) decimal.Decimal {
	rate := e.rules.TaxRate
	if rate.IsZero() || !amount.IsPositive() {
		return decimal.Zero
	}
	return amount.Mul(rate).Div(decimal.NewFromInt(1).Add(rate))
}

func zeroSnapshot() Snapshot {
	return Snapshot{
		Subtotal:       decimal.Zero,
		ShippingCost:   decimal.Zero,
		DiscountAmount: decimal.Zero,
		TaxAmount:      decimal.Zero,
		Total:          decimal.Zero,
		Savings:        decimal.Zero,
	}
}
