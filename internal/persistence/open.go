package persistence

import (
	"context"
	"fmt"

	"github.com/angelmondragon/packfinderz-cart/pkg/config"
	"github.com/angelmondragon/packfinderz-cart/pkg/db"
	"github.com/angelmondragon/packfinderz-cart/pkg/enums"
	"github.com/angelmondragon/packfinderz-cart/pkg/logger"
	"github.com/angelmondragon/packfinderz-cart/pkg/metrics"
	"github.com/angelmondragon/packfinderz-cart/pkg/redis"
)

// Opened is a ready store plus the resources backing it.
type Opened struct {
	Store   *Store
	Backend Backend
	Driver  enums.PersistenceDriver
	close   func() error
	ping    func(context.Context) error
}

// Ping checks the connection behind network backends. Local backends are
// always reachable.
func (o *Opened) Ping(ctx context.Context) error {
	if o == nil || o.ping == nil {
		return nil
	}
	return o.ping(ctx)
}

// Close releases connections held by the backend.
func (o *Opened) Close() error {
	if o == nil || o.close == nil {
		return nil
	}
	return o.close()
}

// Open builds the backend selected by cfg.Persistence.Driver.
func Open(ctx context.Context, cfg *config.Config, logg *logger.Logger, m *metrics.CartMetrics) (*Opened, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config required")
	}
	driver := cfg.Persistence.DriverKind()
	opened := &Opened{Driver: driver}

	switch driver {
	case enums.PersistenceDriverMemory:
		opened.Backend = NewMemoryBackend()
	case enums.PersistenceDriverFile:
		backend, err := NewFileBackend(cfg.Persistence.Dir)
		if err != nil {
			return nil, err
		}
		opened.Backend = backend
	case enums.PersistenceDriverSQLite, enums.PersistenceDriverPostgres:
		client, err := db.New(ctx, cfg.Persistence, logg)
		if err != nil {
			return nil, fmt.Errorf("opening %s storage: %w", driver, err)
		}
		backend, err := NewSQLBackend(client)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		opened.Backend = backend
		opened.close = client.Close
		opened.ping = client.Ping
	case enums.PersistenceDriverRedis:
		client, err := redis.New(ctx, cfg.Redis, logg)
		if err != nil {
			return nil, fmt.Errorf("opening redis storage: %w", err)
		}
		backend, err := NewRedisBackend(client)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		opened.Backend = backend
		opened.close = client.Close
		opened.ping = client.Ping
	default:
		return nil, fmt.Errorf("unsupported persistence driver %q", driver)
	}

	store, err := NewStore(opened.Backend, cfg.Persistence.Key, logg, m)
	if err != nil {
		_ = opened.Close()
		return nil, err
	}
	opened.Store = store
	return opened, nil
}
