package cart

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/packfinderz-cart/internal/pricing"
	"github.com/angelmondragon/packfinderz-cart/pkg/enums"
)

// Persistence stores the anonymous cart. Load never fails: absent or
// unreadable data yields an empty cart.
type Persistence interface {
	Load(ctx context.Context) []CartItem
	Save(ctx context.Context, items []CartItem) error
	Clear(ctx context.Context) error
}

// Gateway is the remote cart/coupon API.
type Gateway interface {
	Fetch(ctx context.Context) ([]CartItem, error)
	Add(ctx context.Context, productID string, quantity int, variant Variant) (*CartItem, error)
	Remove(ctx context.Context, itemID string) error
	Update(ctx context.Context, itemID string, quantity int) (*CartItem, error)
	Clear(ctx context.Context) error
	Merge(ctx context.Context, items []CartItem) error
	Validate(ctx context.Context, lines []ValidationLine) (*ValidationReport, error)
	ApplyCoupon(ctx context.Context, code string, subtotal decimal.Decimal) (*CouponGrant, error)
}

// AuthProvider exposes the session's authentication state.
type AuthProvider interface {
	IsAuthenticated() bool
	Token() string
}

// ValidationLine is what the server needs to validate one line. Prices are
// never sent.
type ValidationLine struct {
	ProductID string  `json:"product_id"`
	Quantity  int     `json:"quantity"`
	Variant   Variant `json:"variant,omitempty"`
}

// ValidationIssue is one per-line problem reported by the server.
type ValidationIssue struct {
	Kind              enums.ValidationIssueKind `json:"kind"`
	ItemID            string                    `json:"item_id,omitempty"`
	ProductID         string                    `json:"product_id"`
	Variant           Variant                   `json:"variant,omitempty"`
	Message           string                    `json:"message,omitempty"`
	AvailableQuantity *int                      `json:"available_quantity,omitempty"`
	CurrentPrice      *decimal.Decimal          `json:"current_price,omitempty"`
}

// ValidationReport is the server's verdict on the cart lines.
type ValidationReport struct {
	Valid  bool              `json:"valid"`
	Issues []ValidationIssue `json:"issues"`
}

// CouponGrant is an accepted coupon.
type CouponGrant struct {
	Promotion pricing.Promotion
	Message   string
}
