package ports

import (
	"context"
	"time"

	"github.com/lcalzada-xor/accessoryd/internal/core/domain"
)

// TelemetrySource is a battery data adapter.
// A non-nil error means the source produced no data for this cycle; callers
// must degrade instead of failing.
type TelemetrySource interface {
	ID() domain.SourceID
	Collect(ctx context.Context) (domain.Snapshot, error)
}

// TelemetryCache merges source snapshots and answers battery lookups.
type TelemetryCache interface {
	// Refresh re-queries all sources unless force is false and the TTL has not elapsed.
	// It reports whether a refresh actually ran.
	Refresh(ctx context.Context, force bool) bool

	// AwaitIdle blocks until no refresh is in flight or ctx is done.
	AwaitIdle(ctx context.Context)

	// Lookup tries the address key first and falls back to the name key.
	Lookup(address, name string) (int, bool)

	// Entries returns a copy of the merged mappings.
	Entries() domain.TelemetryEntries
}

// Settings exposes configuration read (not owned) by the engine.
type Settings interface {
	FeatureEnabled() bool
	RefreshInterval() time.Duration
}

// FeatureToggle is the settings store surface used by the config endpoint.
type FeatureToggle interface {
	FeatureEnabled() bool
	SetFeatureEnabled(enabled bool)
}
