package profiler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/lcalzada-xor/accessoryd/internal/core/domain"
	"github.com/lcalzada-xor/accessoryd/internal/core/ports"
)

// Default circuit breaker settings.
const (
	defaultMaxFailures uint32        = 3
	defaultCooldown    time.Duration = 2 * time.Minute
)

// BreakerConfig configures the source circuit breaker.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures before the circuit opens.
	MaxFailures uint32 `yaml:"max_failures"`
	// Cooldown is how long the circuit stays open before a trial call is allowed.
	Cooldown time.Duration `yaml:"cooldown"`
}

// Breaker wraps a telemetry source so a persistently failing tool stops being
// invoked for a cool-down period.
type Breaker struct {
	inner   ports.TelemetrySource
	breaker *gobreaker.CircuitBreaker[domain.Snapshot]
	logger  *slog.Logger
}

// NewBreaker wraps inner with a circuit breaker.
func NewBreaker(inner ports.TelemetrySource, cfg BreakerConfig, logger *slog.Logger) *Breaker {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = defaultMaxFailures
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaultCooldown
	}
	if logger == nil {
		logger = slog.Default()
	}

	cb := gobreaker.NewCircuitBreaker[domain.Snapshot](gobreaker.Settings{
		Name:        "source:" + string(inner.ID()),
		MaxRequests: 1,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})

	return &Breaker{inner: inner, breaker: cb, logger: logger}
}

func (b *Breaker) ID() domain.SourceID {
	return b.inner.ID()
}

// Collect routes the call through the breaker. An open circuit is reported as
// an unavailable source without touching the wrapped one.
func (b *Breaker) Collect(ctx context.Context) (domain.Snapshot, error) {
	snap, err := b.breaker.Execute(func() (domain.Snapshot, error) {
		return b.inner.Collect(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		b.logger.Debug("source skipped by circuit breaker", "source", b.inner.ID(), "state", b.State())
		return domain.Snapshot{Source: b.inner.ID()}, domain.NewSourceError(b.inner.ID(), "breaker",
			fmt.Errorf("%w: %w", domain.ErrSourceUnavailable, err))
	}
	return snap, err
}

// State reports the breaker state ("closed", "half-open", "open").
func (b *Breaker) State() string {
	return b.breaker.State().String()
}
