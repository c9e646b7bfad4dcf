package controllers

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/packfinderz-cart/internal/cart"
	"github.com/angelmondragon/packfinderz-cart/internal/pricing"
	pkgerrors "github.com/angelmondragon/packfinderz-cart/pkg/errors"
)

type stubStore struct {
	mu sync.Mutex

	items  []cart.CartItem
	authed bool

	addResult    cart.Result
	updateResult cart.Result
	removeResult cart.Result
	validation   cart.ValidationResult
	coupon       cart.CouponResult
	syncResult   cart.Result

	lastProduct   cart.Product
	lastQuantity  int
	lastVariant   cart.Variant
	lastItemID    string
	lastCode      string
	lastPromotion *pricing.Promotion
	syncCalls     int
}

func newStubStore() *stubStore {
	ok := cart.Result{Success: true}
	return &stubStore{
		addResult:    ok,
		updateResult: ok,
		removeResult: ok,
		syncResult:   ok,
		validation:   cart.ValidationResult{Success: true, Valid: true},
	}
}

func (s *stubStore) Snapshot() cart.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cart.Snapshot{Items: cart.CloneItems(s.items), IsAuthenticated: s.authed}
}

func (s *stubStore) Totals(promotion *pricing.Promotion) pricing.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPromotion = promotion
	lines := make([]pricing.Line, 0, len(s.items))
	for _, item := range s.items {
		lines = append(lines, pricing.Line{UnitPrice: item.UnitPrice, Quantity: item.Quantity})
	}
	return pricing.NewEngine(pricing.DefaultRules()).Compute(lines, promotion)
}

func (s *stubStore) AddToCart(_ context.Context, product cart.Product, quantity int, variant cart.Variant) cart.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastProduct = product
	s.lastQuantity = quantity
	s.lastVariant = variant
	if s.addResult.Success {
		s.items = append(s.items, cart.CartItem{ID: "local-1", ProductID: product.ID, UnitPrice: product.Price, Quantity: max(quantity, 1), Variant: variant})
	}
	return s.addResult
}

func (s *stubStore) UpdateQuantity(_ context.Context, itemID string, quantity int) cart.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastItemID = itemID
	s.lastQuantity = quantity
	return s.updateResult
}

func (s *stubStore) RemoveFromCart(_ context.Context, itemID string) cart.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastItemID = itemID
	return s.removeResult
}

func (s *stubStore) ClearCart(context.Context) cart.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = nil
	return cart.Result{Success: true}
}

func (s *stubStore) IsInCart(productID string, variant cart.Variant) bool {
	return s.ItemQuantity(productID, variant) > 0
}

func (s *stubStore) ItemQuantity(productID string, variant cart.Variant) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := cart.LineKey(productID, variant)
	for _, item := range s.items {
		if item.LineKey() == key {
			return item.Quantity
		}
	}
	return 0
}

func (s *stubStore) ValidateCart(context.Context) cart.ValidationResult {
	return s.validation
}

func (s *stubStore) ApplyCoupon(_ context.Context, code string) cart.CouponResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCode = code
	return s.coupon
}

func (s *stubStore) MergeGuestCart(context.Context) cart.Result {
	if !s.authed {
		return cart.Result{Error: "sign in to merge the guest cart", Code: pkgerrors.CodeUnauthorized}
	}
	return cart.Result{Success: true}
}

func (s *stubStore) LoadCartFromAPI(context.Context) cart.Result {
	return s.MergeGuestCart(context.Background())
}

func (s *stubStore) Reconcile(context.Context) cart.ValidationResult {
	return s.validation
}

func (s *stubStore) SyncAuth(context.Context) cart.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncCalls++
	return s.syncResult
}

type stubTokens struct {
	token   string
	subject string
	err     error
}

func (t *stubTokens) SetToken(token string) error {
	if t.err != nil {
		return t.err
	}
	t.token = token
	t.subject = "user-1"
	return nil
}

func (t *stubTokens) ClearToken() {
	t.token = ""
	t.subject = ""
}

func (t *stubTokens) IsAuthenticated() bool { return t.token != "" }

func (t *stubTokens) Subject() string { return t.subject }

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func priced(id, productID string, price int64, qty int) cart.CartItem {
	return cart.CartItem{ID: id, ProductID: productID, UnitPrice: decimal.NewFromInt(price), Quantity: qty}
}
