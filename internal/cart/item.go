package cart

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Variant is an opaque selection such as size or color. Nil and empty
// variants are the same "no variant" value.
type Variant map[string]any

// Key returns a canonical encoding of the variant that does not depend on
// key insertion order. encoding/json sorts map keys at every depth.
func (v Variant) Key() string {
	if len(v) == 0 {
		return ""
	}
	raw, err := json.Marshal(map[string]any(v))
	if err != nil {
		return fmt.Sprintf("%v", map[string]any(v))
	}
	return string(raw)
}

// Equal reports structural equality.
func (v Variant) Equal(other Variant) bool {
	return v.Key() == other.Key()
}

// Clone deep-copies nested maps and slices.
func (v Variant) Clone() Variant {
	if v == nil {
		return nil
	}
	out := make(Variant, len(v))
	for k, val := range v {
		out[k] = cloneValue(val)
	}
	return out
}

func cloneValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for k, v := range typed {
			out[k] = cloneValue(v)
		}
		return out
	case Variant:
		return typed.Clone()
	case []any:
		out := make([]any, len(typed))
		for i, v := range typed {
			out[i] = cloneValue(v)
		}
		return out
	default:
		return value
	}
}

// LineKey identifies a line item by product and variant.
func LineKey(productID string, variant Variant) string {
	return productID + "|" + variant.Key()
}

// CartItem is one line of the cart.
type CartItem struct {
	ID             string           `json:"id"`
	ProductID      string           `json:"product_id"`
	Name           string           `json:"name"`
	UnitPrice      decimal.Decimal  `json:"unit_price"`
	CompareAtPrice *decimal.Decimal `json:"compare_at_price,omitempty"`
	ImageURL       string           `json:"image_url,omitempty"`
	Quantity       int              `json:"quantity"`
	Variant        Variant          `json:"variant,omitempty"`
	SellerID       string           `json:"seller_id,omitempty"`
	SellerName     string           `json:"seller_name,omitempty"`
	Stock          *int             `json:"stock,omitempty"`
}

// LineKey returns the item's identity key.
func (i CartItem) LineKey() string {
	return LineKey(i.ProductID, i.Variant)
}

// Clone returns a copy that shares no mutable state with i.
func (i CartItem) Clone() CartItem {
	out := i
	out.Variant = i.Variant.Clone()
	if i.CompareAtPrice != nil {
		price := *i.CompareAtPrice
		out.CompareAtPrice = &price
	}
	if i.Stock != nil {
		stock := *i.Stock
		out.Stock = &stock
	}
	return out
}

// Product carries the catalog fields copied onto a new line item.
type Product struct {
	ID             string           `json:"id" validate:"required"`
	Name           string           `json:"name"`
	Price          decimal.Decimal  `json:"price"`
	CompareAtPrice *decimal.Decimal `json:"compare_at_price,omitempty"`
	ImageURL       string           `json:"image_url,omitempty"`
	SellerID       string           `json:"seller_id,omitempty"`
	SellerName     string           `json:"seller_name,omitempty"`
	Stock          *int             `json:"stock,omitempty"`
}

func newItem(id string, product Product, quantity int, variant Variant) CartItem {
	item := CartItem{
		ID:         id,
		ProductID:  product.ID,
		Name:       product.Name,
		UnitPrice:  product.Price,
		ImageURL:   product.ImageURL,
		Quantity:   quantity,
		Variant:    variant.Clone(),
		SellerID:   product.SellerID,
		SellerName: product.SellerName,
	}
	if product.CompareAtPrice != nil {
		price := *product.CompareAtPrice
		item.CompareAtPrice = &price
	}
	if product.Stock != nil {
		stock := *product.Stock
		item.Stock = &stock
	}
	return item
}

// CloneItems deep-copies items; nil becomes an empty slice.
func CloneItems(items []CartItem) []CartItem {
	out := make([]CartItem, 0, len(items))
	for _, item := range items {
		out = append(out, item.Clone())
	}
	return out
}
