package cart

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/angelmondragon/packfinderz-cart/pkg/logger"
	"github.com/angelmondragon/packfinderz-cart/pkg/metrics"
)

// MergeOutcome describes what a merge attempt did.
type MergeOutcome struct {
	// Merged is true when the guest cart was accepted by the remote store.
	Merged bool
	// Fetched is true when Items holds the refreshed remote cart.
	Fetched bool
	Items   []CartItem
}

// Merger folds the persisted guest cart into the remote cart.
type Merger struct {
	persistence Persistence
	gateway     Gateway
	logg        *logger.Logger
	metrics     *metrics.CartMetrics
}

// NewMerger wires a merger; logger and metrics are optional.
func NewMerger(persistence Persistence, gateway Gateway, logg *logger.Logger, m *metrics.CartMetrics) (*Merger, error) {
	if persistence == nil {
		return nil, fmt.Errorf("cart persistence required")
	}
	if gateway == nil {
		return nil, fmt.Errorf("cart gateway required")
	}
	return &Merger{
		persistence: persistence,
		gateway:     gateway,
		logg:        logg,
		metrics:     m,
	}, nil
}

// Merge sends the guest cart to the remote merge endpoint. An empty guest
// cart sends nothing. When the merge call fails nothing is cleared. Errors
// after an accepted merge are combined and returned with the outcome.
func (m *Merger) Merge(ctx context.Context) (MergeOutcome, error) {
	guest := m.persistence.Load(ctx)
	if len(guest) == 0 {
		m.metrics.IncMerge(metrics.OutcomeNoop)
		return MergeOutcome{}, nil
	}

	if err := m.gateway.Merge(ctx, guest); err != nil {
		m.metrics.IncMerge(metrics.OutcomeFailure)
		if m.logg != nil {
			logCtx := m.logg.WithFields(ctx, map[string]any{"op": "cart.merge", "guest_items": len(guest)})
			m.logg.Error(logCtx, "guest cart merge failed", err)
		}
		return MergeOutcome{}, err
	}
	m.metrics.IncMerge(metrics.OutcomeSuccess)

	var errs error
	if err := m.persistence.Clear(ctx); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("clear guest cart: %w", err))
	}

	outcome := MergeOutcome{Merged: true}
	items, err := m.gateway.Fetch(ctx)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("fetch merged cart: %w", err))
	} else {
		outcome.Fetched = true
		outcome.Items = CloneItems(items)
	}

	if errs != nil && m.logg != nil {
		m.logg.Warn(m.logg.WithOperation(ctx, "cart.merge"), errs.Error())
	}
	return outcome, errs
}
