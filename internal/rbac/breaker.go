package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerConfig configures the circuit breaker guarding snapshot reads.
type BreakerConfig struct {
	Name         string
	MaxRequests  uint32        // probes allowed while half-open
	Interval     time.Duration // window for clearing counts while closed
	Timeout      time.Duration // open period before half-open
	FailureRatio float64
	MinRequests  uint32
}

// DefaultBreakerConfig returns conservative defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:         "rbac-snapshot",
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  3,
	}
}

type breakerSource struct {
	source SnapshotSource
	cb     *gobreaker.CircuitBreaker
}

// NewBreakerSource wraps source so that a store that keeps failing is not
// queried on every refresh; while the breaker is open reads fail fast with
// ErrStoreUnavailable.
func NewBreakerSource(source SnapshotSource, cfg BreakerConfig, logger *slog.Logger) SnapshotSource {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if logger != nil {
				logger.Warn("rbac store breaker state change",
					slog.String("breaker", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()))
			}
		},
	}
	return &breakerSource{source: source, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (b *breakerSource) GetEffectivePermissionSnapshot(ctx context.Context) (SnapshotData, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.source.GetEffectivePermissionSnapshot(ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return SnapshotData{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		}
		return SnapshotData{}, err
	}
	return out.(SnapshotData), nil
}
