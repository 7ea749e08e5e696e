package config

import (
	"sync/atomic"
	"time"
)

// Runtime is the mutable settings store read by the engine.
// It implements ports.Settings and ports.FeatureToggle.
type Runtime struct {
	enabled  atomic.Bool
	interval time.Duration
}

// NewRuntime seeds the runtime settings from cfg.
func NewRuntime(cfg *Config) *Runtime {
	r := &Runtime{interval: cfg.TelemetryTTL}
	r.enabled.Store(cfg.Enabled)
	return r
}

func (r *Runtime) FeatureEnabled() bool {
	return r.enabled.Load()
}

func (r *Runtime) SetFeatureEnabled(enabled bool) {
	r.enabled.Store(enabled)
}

// RefreshInterval is the minimum age of cached telemetry before a
// non-forced refresh re-queries the sources.
func (r *Runtime) RefreshInterval() time.Duration {
	return r.interval
}
