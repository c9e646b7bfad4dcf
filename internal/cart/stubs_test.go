package cart

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/packfinderz-cart/pkg/errors"
)

type memPersistence struct {
	mu     sync.Mutex
	items  []CartItem
	saves  int
	clears int
	err    error
}

func (m *memPersistence) Load(context.Context) []CartItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return CloneItems(m.items)
}

func (m *memPersistence) Save(_ context.Context, items []CartItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.saves++
	m.items = CloneItems(items)
	return nil
}

func (m *memPersistence) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.clears++
	m.items = nil
	return nil
}

func (m *memPersistence) stored() []CartItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return CloneItems(m.items)
}

type fakeAuth struct {
	authed atomic.Bool
}

func (f *fakeAuth) IsAuthenticated() bool { return f.authed.Load() }

func (f *fakeAuth) Token() string {
	if f.authed.Load() {
		return "token"
	}
	return ""
}

type fakeGateway struct {
	mu sync.Mutex

	remote    []CartItem
	nextID    int
	fetches   int
	merges    [][]CartItem
	removes   []string
	updates   map[string]int
	clears    int
	lines     []ValidationLine
	coupons   []string
	subtotals []decimal.Decimal

	addErr    error
	fetchErr  error
	mergeErr  error
	removeErr error

	// addGate, when set, blocks Add until it receives a value.
	addGate chan struct{}
	// addStarted is closed on the first Add call when set.
	addStarted chan struct{}
	// fetchGate, when set, holds Fetch after it has read the remote cart.
	fetchGate    chan struct{}
	fetchStarted chan struct{}

	updateEcho int
	report     *ValidationReport
	grant      *CouponGrant
	couponErr  error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{updates: map[string]int{}}
}

func (g *fakeGateway) Fetch(context.Context) ([]CartItem, error) {
	g.mu.Lock()
	g.fetches++
	err := g.fetchErr
	items := CloneItems(g.remote)
	started := g.fetchStarted
	g.fetchStarted = nil
	gate := g.fetchGate
	g.mu.Unlock()

	if started != nil {
		close(started)
	}
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return items, nil
}

// holdFetch makes the next Fetch wait until the returned release is called.
// The returned channel is closed once that Fetch has read the remote cart.
func (g *fakeGateway) holdFetch() (started <-chan struct{}, release func()) {
	gate := make(chan struct{})
	begun := make(chan struct{})
	g.mu.Lock()
	g.fetchGate = gate
	g.fetchStarted = begun
	g.mu.Unlock()
	return begun, func() { close(gate) }
}

func (g *fakeGateway) Add(_ context.Context, productID string, quantity int, variant Variant) (*CartItem, error) {
	g.mu.Lock()
	started := g.addStarted
	g.addStarted = nil
	gate := g.addGate
	g.mu.Unlock()

	if started != nil {
		close(started)
	}
	if gate != nil {
		<-gate
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.addErr != nil {
		return nil, g.addErr
	}
	key := LineKey(productID, variant)
	for i := range g.remote {
		if g.remote[i].LineKey() == key {
			g.remote[i].Quantity += quantity
			item := g.remote[i].Clone()
			return &item, nil
		}
	}
	g.nextID++
	item := CartItem{ID: fmt.Sprintf("srv-%d", g.nextID), ProductID: productID, Quantity: quantity, Variant: variant.Clone()}
	g.remote = append(g.remote, item)
	out := item.Clone()
	return &out, nil
}

func (g *fakeGateway) Remove(_ context.Context, itemID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.removes = append(g.removes, itemID)
	if g.removeErr != nil {
		return g.removeErr
	}
	for i := range g.remote {
		if g.remote[i].ID == itemID {
			g.remote = append(g.remote[:i], g.remote[i+1:]...)
			return nil
		}
	}
	return pkgerrors.New(pkgerrors.CodeNotFound, "cart item not found")
}

func (g *fakeGateway) Update(_ context.Context, itemID string, quantity int) (*CartItem, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.updates[itemID] = quantity
	echo := quantity
	if g.updateEcho > 0 {
		echo = g.updateEcho
	}
	return &CartItem{ID: itemID, Quantity: echo}, nil
}

func (g *fakeGateway) Clear(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.clears++
	g.remote = nil
	return nil
}

func (g *fakeGateway) Merge(_ context.Context, items []CartItem) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.merges = append(g.merges, CloneItems(items))
	if g.mergeErr != nil {
		return g.mergeErr
	}
	for _, item := range items {
		g.nextID++
		merged := item.Clone()
		merged.ID = fmt.Sprintf("srv-%d", g.nextID)
		g.remote = append(g.remote, merged)
	}
	return nil
}

func (g *fakeGateway) Validate(_ context.Context, lines []ValidationLine) (*ValidationReport, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lines = lines
	if g.report == nil {
		return &ValidationReport{Valid: true}, nil
	}
	return g.report, nil
}

func (g *fakeGateway) ApplyCoupon(_ context.Context, code string, subtotal decimal.Decimal) (*CouponGrant, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.coupons = append(g.coupons, code)
	g.subtotals = append(g.subtotals, subtotal)
	if g.couponErr != nil {
		return nil, g.couponErr
	}
	return g.grant, nil
}

func (g *fakeGateway) mergeCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.merges)
}

func (g *fakeGateway) removedIDs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.removes...)
}
