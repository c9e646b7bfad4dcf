// Package persistence keeps the guest cart on durable local storage.
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/angelmondragon/packfinderz-cart/internal/cart"
	pkgerrors "github.com/angelmondragon/packfinderz-cart/pkg/errors"
	"github.com/angelmondragon/packfinderz-cart/pkg/logger"
	"github.com/angelmondragon/packfinderz-cart/pkg/metrics"
)

// ErrNotFound is returned by backends when nothing is stored under a key.
var ErrNotFound = errors.New("stored cart not found")

// Backend stores opaque payloads by key.
type Backend interface {
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, payload []byte) error
	Delete(ctx context.Context, key string) error
}

// Store serializes the cart as a JSON item list under a single key.
type Store struct {
	backend Backend
	key     string
	logg    *logger.Logger
	metrics *metrics.CartMetrics
}

// NewStore wires the storage key onto backend. logger and metrics are optional.
func NewStore(backend Backend, key string, logg *logger.Logger, m *metrics.CartMetrics) (*Store, error) {
	if backend == nil {
		return nil, fmt.Errorf("persistence backend required")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("storage key required")
	}
	return &Store{backend: backend, key: key, logg: logg, metrics: m}, nil
}

// Load returns the stored cart. Missing or unreadable data yields an empty
// cart and is only logged.
func (s *Store) Load(ctx context.Context) []cart.CartItem {
	payload, err := s.backend.Read(ctx, s.key)
	if errors.Is(err, ErrNotFound) {
		return []cart.CartItem{}
	}
	if err != nil {
		s.logError(ctx, "reading stored cart failed", err)
		return []cart.CartItem{}
	}
	if len(strings.TrimSpace(string(payload))) == 0 {
		return []cart.CartItem{}
	}

	var items []cart.CartItem
	if err := json.Unmarshal(payload, &items); err != nil {
		s.corrupt(ctx, err)
		return []cart.CartItem{}
	}
	return s.sanitize(ctx, items)
}

// Save overwrites the stored cart.
func (s *Store) Save(ctx context.Context, items []cart.CartItem) error {
	if items == nil {
		items = []cart.CartItem{}
	}
	payload, err := json.Marshal(items)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encoding cart")
	}
	if err := s.backend.Write(ctx, s.key, payload); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "saving cart")
	}
	return nil
}

// Clear removes the stored cart. Clearing an absent cart succeeds.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.backend.Delete(ctx, s.key); err != nil && !errors.Is(err, ErrNotFound) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clearing stored cart")
	}
	return nil
}

// sanitize drops lines that cannot belong to a cart and folds duplicate
// product/variant lines so the stored data cannot break line identity.
func (s *Store) sanitize(ctx context.Context, items []cart.CartItem) []cart.CartItem {
	out := make([]cart.CartItem, 0, len(items))
	index := make(map[string]int, len(items))
	dropped := 0
	for _, item := range items {
		if item.ID == "" || item.ProductID == "" || item.Quantity < 1 || item.UnitPrice.IsNegative() {
			dropped++
			continue
		}
		key := item.LineKey()
		if at, ok := index[key]; ok {
			out[at].Quantity += item.Quantity
			continue
		}
		index[key] = len(out)
		out = append(out, item)
	}
	if dropped > 0 {
		s.corrupt(ctx, fmt.Errorf("dropped %d invalid stored cart lines", dropped))
	}
	return out
}

func (s *Store) corrupt(ctx context.Context, err error) {
	s.metrics.IncCorruption()
	if s.logg == nil {
		return
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"error_code":  pkgerrors.CodeCorruption,
		"storage_key": s.key,
		"error":       err.Error(),
	})
	s.logg.Warn(ctx, "stored cart unreadable, starting empty")
}

func (s *Store) logError(ctx context.Context, msg string, err error) {
	if s.logg == nil {
		return
	}
	s.logg.Error(s.logg.WithField(ctx, "storage_key", s.key), msg, err)
}
