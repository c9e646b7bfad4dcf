// Package cart owns the shopping cart state: optimistic local mutation,
// mirroring to the remote cart for signed-in sessions, write-through to local
// storage for guests, and the guest-to-account merge.
package cart

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-cart/internal/pricing"
	pkgerrors "github.com/angelmondragon/packfinderz-cart/pkg/errors"
	"github.com/angelmondragon/packfinderz-cart/pkg/logger"
)

// Snapshot is a point-in-time copy of the cart state.
type Snapshot struct {
	Items           []CartItem `json:"items"`
	Loading         bool       `json:"loading"`
	Error           string     `json:"error,omitempty"`
	IsAuthenticated bool       `json:"is_authenticated"`
}

// StoreParams bundles the Store dependencies. Persistence, Gateway and Auth
// are required.
type StoreParams struct {
	Persistence Persistence
	Gateway     Gateway
	Auth        AuthProvider
	Pricing     *pricing.Engine
	Merger      *Merger
	Logger      *logger.Logger
	NewID       func() string
}

// Store is the single owner of one session's cart. It is safe for concurrent
// use. The lock is never held across remote or storage calls, so every
// continuation re-reads the current items before touching them.
type Store struct {
	persistence Persistence
	gateway     Gateway
	auth        AuthProvider
	pricing     *pricing.Engine
	merger      *Merger
	logg        *logger.Logger
	newID       func() string

	mu       sync.Mutex
	items    []CartItem
	inflight int
	lastErr  string
	authed   bool

	// gen counts local mutations. While remote loads are pending, touched
	// holds the gen of the last local change per line key and clearedAt the
	// gen of the last clear, so a landing load keeps newer local lines.
	gen       uint64
	loads     int
	touched   map[string]uint64
	clearedAt uint64

	// serializes storage writes so the last write carries the newest items
	persistMu sync.Mutex
}

// NewStore validates the dependencies and returns an empty store. Call Init
// to populate it.
func NewStore(p StoreParams) (*Store, error) {
	if p.Persistence == nil {
		return nil, fmt.Errorf("cart persistence required")
	}
	if p.Gateway == nil {
		return nil, fmt.Errorf("cart gateway required")
	}
	if p.Auth == nil {
		return nil, fmt.Errorf("auth provider required")
	}
	if p.Pricing == nil {
		p.Pricing = pricing.NewEngine(pricing.DefaultRules())
	}
	if p.Merger == nil {
		merger, err := NewMerger(p.Persistence, p.Gateway, p.Logger, nil)
		if err != nil {
			return nil, err
		}
		p.Merger = merger
	}
	if p.NewID == nil {
		p.NewID = uuid.NewString
	}
	return &Store{
		persistence: p.Persistence,
		gateway:     p.Gateway,
		auth:        p.Auth,
		pricing:     p.Pricing,
		merger:      p.Merger,
		logg:        p.Logger,
		newID:       p.NewID,
		items:       []CartItem{},
		touched:     map[string]uint64{},
	}, nil
}

// Init loads the remote cart for signed-in sessions and the stored guest cart
// otherwise. A failed remote load leaves the cart empty and records the error
// in the snapshot; Init itself still succeeds.
func (s *Store) Init(ctx context.Context) Result {
	authed := s.auth.IsAuthenticated()
	s.mu.Lock()
	s.authed = authed
	s.mu.Unlock()

	if authed {
		_ = s.LoadCartFromAPI(ctx)
		return succeeded()
	}
	s.replaceItems(s.persistence.Load(ctx))
	return succeeded()
}

// SyncAuth reacts to authentication changes. A guest becoming signed in
// triggers exactly one merge; signing out empties the cart.
func (s *Store) SyncAuth(ctx context.Context) Result {
	_, res := s.syncAuth(ctx)
	return res
}

func (s *Store) syncAuth(ctx context.Context) (bool, Result) {
	now := s.auth.IsAuthenticated()

	s.mu.Lock()
	prev := s.authed
	s.authed = now
	if prev && !now {
		s.items = []CartItem{}
		s.lastErr = ""
	}
	s.mu.Unlock()

	if !prev && now {
		return now, s.runMerge(ctx)
	}
	return now, succeeded()
}

// MergeGuestCart folds the stored guest cart into the remote cart and loads
// the result. With no guest cart it just loads the remote cart.
func (s *Store) MergeGuestCart(ctx context.Context) Result {
	if !s.auth.IsAuthenticated() {
		return failed(pkgerrors.New(pkgerrors.CodeUnauthorized, "sign in to merge the guest cart"))
	}
	return s.runMerge(ctx)
}

func (s *Store) runMerge(ctx context.Context) Result {
	s.begin()
	since := s.startLoad()
	outcome, err := s.merger.Merge(ctx)
	switch {
	case outcome.Fetched:
		s.endLoad(since, outcome.Items, true)
	case !outcome.Merged && err == nil:
		var items []CartItem
		items, err = s.gateway.Fetch(ctx)
		s.endLoad(since, items, err == nil)
	default:
		s.endLoad(since, nil, false)
	}
	return s.finish(ctx, "cart.merge", err)
}

// LoadCartFromAPI replaces the items with the remote cart.
func (s *Store) LoadCartFromAPI(ctx context.Context) Result {
	if !s.auth.IsAuthenticated() {
		return failed(pkgerrors.New(pkgerrors.CodeUnauthorized, "sign in to load the remote cart"))
	}
	s.begin()
	since := s.startLoad()
	items, err := s.gateway.Fetch(ctx)
	s.endLoad(since, items, err == nil)
	return s.finish(ctx, "cart.load", err)
}

// AddToCart adds quantity of product. An existing line with the same product
// and variant is incremented. Known stock is not enforced here; ValidateCart
// reports overselling. A remote failure keeps the optimistic line.
func (s *Store) AddToCart(ctx context.Context, product Product, quantity int, variant Variant) Result {
	if strings.TrimSpace(product.ID) == "" {
		return failed(pkgerrors.New(pkgerrors.CodeValidation, "product id is required"))
	}
	if product.Price.IsNegative() {
		return failed(pkgerrors.New(pkgerrors.CodeValidation, "product price must be non-negative"))
	}
	if quantity <= 0 {
		quantity = 1
	}

	authed, _ := s.syncAuth(ctx)
	key := LineKey(product.ID, variant)

	s.mu.Lock()
	s.inflight++
	s.touch(key)
	var itemID string
	if idx := s.indexByKey(key); idx >= 0 {
		s.items[idx].Quantity += quantity
		itemID = s.items[idx].ID
	} else {
		item := newItem(s.newID(), product, quantity, variant)
		s.items = append(s.items, item)
		itemID = item.ID
	}
	s.mu.Unlock()

	ctx = s.withItem(ctx, itemID, product.ID)
	var err error
	if authed {
		err = s.syncAdd(ctx, itemID, key, product.ID, quantity, variant)
	} else {
		err = s.persist(ctx)
	}
	return s.finish(ctx, "cart.add", err)
}

// syncAdd mirrors an add and adopts the remote id only if the line it was
// issued for still exists. A line removed while the call was in flight is
// removed remotely again instead of being brought back.
func (s *Store) syncAdd(ctx context.Context, localID, key, productID string, quantity int, variant Variant) error {
	remote, err := s.gateway.Add(ctx, productID, quantity, variant)
	if err != nil {
		return err
	}
	if remote == nil || remote.ID == "" || remote.ID == localID {
		return nil
	}

	s.mu.Lock()
	idx := s.indexByID(localID)
	if idx >= 0 {
		if other := s.indexByID(remote.ID); other < 0 || other == idx {
			s.items[idx].ID = remote.ID
		}
		s.mu.Unlock()
		return nil
	}
	if s.indexByID(remote.ID) >= 0 {
		s.mu.Unlock()
		return nil
	}
	stillWanted := s.indexByKey(key) >= 0
	s.mu.Unlock()

	if stillWanted {
		return nil
	}
	if err := s.gateway.Remove(ctx, remote.ID); err != nil && !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		s.warn(ctx, "cart.add", "compensating remote remove failed: "+err.Error())
	}
	return nil
}

// RemoveFromCart removes the line. Unknown ids are a successful no-op.
func (s *Store) RemoveFromCart(ctx context.Context, itemID string) Result {
	authed, _ := s.syncAuth(ctx)

	s.mu.Lock()
	idx := s.indexByID(itemID)
	if idx < 0 {
		s.mu.Unlock()
		return succeeded()
	}
	productID := s.items[idx].ProductID
	s.touch(s.items[idx].LineKey())
	s.items = slices.Delete(s.items, idx, idx+1)
	s.inflight++
	s.mu.Unlock()

	ctx = s.withItem(ctx, itemID, productID)
	var err error
	if authed {
		err = ignoreNotFound(s.gateway.Remove(ctx, itemID))
	} else {
		err = s.persist(ctx)
	}
	return s.finish(ctx, "cart.remove", err)
}

// UpdateQuantity sets the line quantity. Zero or less removes the line.
func (s *Store) UpdateQuantity(ctx context.Context, itemID string, quantity int) Result {
	if quantity <= 0 {
		return s.RemoveFromCart(ctx, itemID)
	}
	authed, _ := s.syncAuth(ctx)

	s.mu.Lock()
	idx := s.indexByID(itemID)
	if idx < 0 {
		s.mu.Unlock()
		return succeeded()
	}
	s.items[idx].Quantity = quantity
	productID := s.items[idx].ProductID
	s.touch(s.items[idx].LineKey())
	s.inflight++
	s.mu.Unlock()

	ctx = s.withItem(ctx, itemID, productID)
	var err error
	if authed {
		// the echo is ignored so a late response cannot undo a newer local quantity
		_, err = s.gateway.Update(ctx, itemID, quantity)
		err = ignoreNotFound(err)
	} else {
		err = s.persist(ctx)
	}
	return s.finish(ctx, "cart.update", err)
}

// ClearCart empties the cart remotely or in storage.
func (s *Store) ClearCart(ctx context.Context) Result {
	authed, _ := s.syncAuth(ctx)

	s.mu.Lock()
	s.items = []CartItem{}
	s.gen++
	s.clearedAt = s.gen
	s.inflight++
	s.mu.Unlock()

	var err error
	if authed {
		err = s.gateway.Clear(ctx)
	} else {
		s.persistMu.Lock()
		err = s.persistence.Clear(ctx)
		s.persistMu.Unlock()
	}
	return s.finish(ctx, "cart.clear", err)
}

// CartTotals prices the current items without a promotion.
func (s *Store) CartTotals() pricing.Snapshot {
	return s.Totals(nil)
}

// Totals prices the current items with an already accepted promotion.
func (s *Store) Totals(promotion *pricing.Promotion) pricing.Snapshot {
	s.mu.Lock()
	lines := pricingLines(s.items)
	s.mu.Unlock()
	return s.pricing.Compute(lines, promotion)
}

// IsInCart reports whether the product and variant has a line.
func (s *Store) IsInCart(productID string, variant Variant) bool {
	return s.ItemQuantity(productID, variant) > 0
}

// ItemQuantity returns the line quantity, or 0.
func (s *Store) ItemQuantity(productID string, variant Variant) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx := s.indexOf(productID, variant); idx >= 0 {
		return s.items[idx].Quantity
	}
	return 0
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() Snapshot {
	authed := s.auth.IsAuthenticated()
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Items:           CloneItems(s.items),
		Loading:         s.inflight > 0,
		Error:           s.lastErr,
		IsAuthenticated: authed,
	}
}

func (s *Store) begin() {
	s.mu.Lock()
	s.inflight++
	s.mu.Unlock()
}

// finish closes an operation opened with an inflight increment.
func (s *Store) finish(ctx context.Context, op string, err error) Result {
	s.settle(ctx, op, err, true)
	if err != nil {
		return failed(err)
	}
	return succeeded()
}

func (s *Store) settle(ctx context.Context, op string, err error, record bool) {
	s.mu.Lock()
	s.inflight--
	if err == nil {
		s.lastErr = ""
	} else if record {
		_, msg := describe(err)
		s.lastErr = msg
	}
	s.mu.Unlock()

	if err == nil || s.logg == nil {
		return
	}
	ctx = s.logg.WithOperation(ctx, op)
	if pkgerrors.IsCode(err, pkgerrors.CodeValidation) || pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		s.logg.Warn(ctx, err.Error())
		return
	}
	s.logg.Error(ctx, "cart operation failed", err)
}

// persist writes the current items while the session is a guest.
func (s *Store) persist(ctx context.Context) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	authed := s.authed
	items := CloneItems(s.items)
	s.mu.Unlock()

	if authed || s.auth.IsAuthenticated() {
		return nil
	}
	return s.persistence.Save(ctx, items)
}

// touch records a local change to the line. Callers hold s.mu.
func (s *Store) touch(key string) {
	s.gen++
	if s.loads > 0 {
		s.touched[key] = s.gen
	}
}

// startLoad registers a pending remote load and returns the generation it
// was issued at.
func (s *Store) startLoad() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	return s.gen
}

// endLoad closes a load started at since. With adopt set the fetched items
// become the cart, except for lines changed locally while the load was in
// flight, which keep their local state. Loads landing after sign-out are
// dropped.
func (s *Store) endLoad(since uint64, fetched []CartItem, adopt bool) {
	authed := s.auth.IsAuthenticated()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads--
	if adopt && authed {
		if s.gen == since {
			s.items = CloneItems(fetched)
		} else {
			s.items = s.overlay(since, fetched)
		}
	}
	if s.loads == 0 {
		clear(s.touched)
	}
}

// overlay merges fetched with lines changed locally after since. Callers
// hold s.mu.
func (s *Store) overlay(since uint64, fetched []CartItem) []CartItem {
	cleared := s.clearedAt > since
	changed := func(key string) bool {
		return cleared || s.touched[key] > since
	}

	out := make([]CartItem, 0, len(fetched)+len(s.items))
	seen := make(map[string]struct{}, len(fetched)+len(s.items))
	for _, item := range fetched {
		key := item.LineKey()
		if _, dup := seen[key]; dup || changed(key) {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, item.Clone())
	}
	for _, item := range s.items {
		key := item.LineKey()
		if _, dup := seen[key]; dup || !changed(key) {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, item.Clone())
	}
	return out
}

func (s *Store) replaceItems(items []CartItem) {
	cloned := CloneItems(items)
	s.mu.Lock()
	s.items = cloned
	s.mu.Unlock()
}

func (s *Store) indexByID(id string) int {
	if id == "" {
		return -1
	}
	return slices.IndexFunc(s.items, func(item CartItem) bool { return item.ID == id })
}

func (s *Store) indexByKey(key string) int {
	return slices.IndexFunc(s.items, func(item CartItem) bool { return item.LineKey() == key })
}

func (s *Store) indexOf(productID string, variant Variant) int {
	return slices.IndexFunc(s.items, func(item CartItem) bool {
		return item.ProductID == productID && item.Variant.Equal(variant)
	})
}

func (s *Store) withItem(ctx context.Context, itemID, productID string) context.Context {
	if s.logg == nil {
		return ctx
	}
	ctx = s.logg.WithItemID(ctx, itemID)
	return s.logg.WithProductID(ctx, productID)
}

func (s *Store) warn(ctx context.Context, op, msg string) {
	if s.logg == nil {
		return
	}
	s.logg.Warn(s.logg.WithOperation(ctx, op), msg)
}

func pricingLines(items []CartItem) []pricing.Line {
	lines := make([]pricing.Line, 0, len(items))
	for _, item := range items {
		lines = append(lines, pricing.Line{
			UnitPrice:     item.UnitPrice,
			OriginalPrice: item.CompareAtPrice,
			Quantity:      item.Quantity,
		})
	}
	return lines
}

func ignoreNotFound(err error) error {
	if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		return nil
	}
	return err
}
