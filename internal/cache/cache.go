package cache

import (
	"context"

	"fleetguard/internal/config"
	"fleetguard/internal/model"
)

// StateCache keeps the most recent telemetry sample per vehicle.
// Latest returns nil, nil on a miss.
type StateCache interface {
	PutLatest(ctx context.Context, sample model.TelemetrySample, fleetID string) error
	Latest(ctx context.Context, vin string) (*model.TelemetrySample, error)
	Evict(ctx context.Context, vin string) error
	Close() error
}

// New returns a redis-backed cache when enabled, otherwise a no-op.
func New(ctx context.Context, cfg config.CacheConfig) (StateCache, error) {
	if !cfg.Enabled {
		return Nop{}, nil
	}
	state, err := NewRedisState(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return state, nil
}

type Nop struct{}

func (Nop) PutLatest(context.Context, model.TelemetrySample, string) error { return nil }

func (Nop) Latest(context.Context, string) (*model.TelemetrySample, error) { return nil, nil }

func (Nop) Evict(context.Context, string) error { return nil }

func (Nop) Close() error { return nil }
