package reconcile

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/lcalzada-xor/accessoryd/internal/core/domain"
	"github.com/lcalzada-xor/accessoryd/internal/core/ports"
	"github.com/lcalzada-xor/accessoryd/internal/core/services/identity"
	"github.com/lcalzada-xor/accessoryd/internal/telemetry"
)

const (
	DefaultTTL            = 20 * time.Second
	DefaultStaleSourceTTL = 5 * time.Minute
)

// Config tunes the cache.
type Config struct {
	// TTL gates non-forced refreshes.
	TTL time.Duration
	// StaleSourceTTL bounds how long a failing source keeps contributing its last good snapshot.
	StaleSourceTTL time.Duration
	Logger         *slog.Logger
	// Now is overridable for tests.
	Now func() time.Time
}

// state is immutable once published.
type state struct {
	byAddress     map[string]int
	byName        map[string]int
	lastRefreshed time.Time
}

type lastGood struct {
	snap domain.Snapshot
	at   time.Time
}

type collected struct {
	snap domain.Snapshot
	err  error
}

// Cache merges telemetry source snapshots into one battery mapping.
type Cache struct {
	sources  []ports.TelemetrySource
	ttl      time.Duration
	staleTTL time.Duration
	now      func() time.Time
	logger   *slog.Logger
	tracer   trace.Tracer

	current atomic.Pointer[state]

	// running is closed when the in-flight refresh finishes; nil when idle.
	guard   sync.Mutex
	running chan struct{}

	// Only touched by the goroutine holding the in-flight guard.
	good      map[domain.SourceID]lastGood
	lastError map[domain.SourceID]string
}

// NewCache creates a cache over the given sources.
func NewCache(cfg Config, sources ...ports.TelemetrySource) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.StaleSourceTTL <= 0 {
		cfg.StaleSourceTTL = DefaultStaleSourceTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	c := &Cache{
		sources:   sources,
		ttl:       cfg.TTL,
		staleTTL:  cfg.StaleSourceTTL,
		now:       cfg.Now,
		logger:    cfg.Logger.With("component", "reconcile"),
		tracer:    otel.Tracer("reconcile"),
		good:      make(map[domain.SourceID]lastGood),
		lastError: make(map[domain.SourceID]string),
	}
	c.current.Store(&state{byAddress: map[string]int{}, byName: map[string]int{}})
	return c
}

// Refresh re-queries every source and swaps in a rebuilt mapping.
// Non-forced calls within the TTL are no-ops, and any call made while another
// refresh is running is dropped. It reports whether a refresh ran.
func (c *Cache) Refresh(ctx context.Context, force bool) bool {
	switch c.begin(force) {
	case skippedTTL:
		telemetry.RefreshesTotal.WithLabelValues("skipped_ttl").Inc()
		return false
	case skippedInProgress:
		telemetry.RefreshesTotal.WithLabelValues("skipped_in_progress").Inc()
		return false
	}
	defer c.end()

	// In-flight refreshes are not cancellable.
	ctx = context.WithoutCancel(ctx)
	ctx, span := c.tracer.Start(ctx, "reconcile.Refresh")
	defer span.End()
	span.SetAttributes(attribute.Bool("refresh.force", force))

	start := time.Now()
	results := c.collect(ctx)
	next := c.merge(results)
	c.current.Store(next)

	telemetry.RefreshDuration.Observe(time.Since(start).Seconds())
	telemetry.RefreshesTotal.WithLabelValues("ran").Inc()
	span.SetAttributes(
		attribute.Int("cache.addresses", len(next.byAddress)),
		attribute.Int("cache.names", len(next.byName)),
	)
	c.logger.Debug("telemetry cache refreshed",
		"force", force,
		"addresses", len(next.byAddress),
		"names", len(next.byName),
		"took", time.Since(start),
	)
	return true
}

// AwaitIdle blocks until the in-flight refresh, if any, has published.
func (c *Cache) AwaitIdle(ctx context.Context) {
	c.guard.Lock()
	done := c.running
	c.guard.Unlock()
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-ctx.Done():
	}
}

type admission int

const (
	admitted admission = iota
	skippedTTL
	skippedInProgress
)

// begin takes the in-progress guard. The TTL is checked under the same lock,
// so only a call that is about to refresh ever holds the guard.
func (c *Cache) begin(force bool) admission {
	c.guard.Lock()
	defer c.guard.Unlock()
	if c.running != nil {
		return skippedInProgress
	}
	if !force && c.fresh() {
		return skippedTTL
	}
	c.running = make(chan struct{})
	return admitted
}

func (c *Cache) end() {
	c.guard.Lock()
	close(c.running)
	c.running = nil
	c.guard.Unlock()
}

func (c *Cache) fresh() bool {
	last := c.current.Load().lastRefreshed
	return !last.IsZero() && c.now().Sub(last) < c.ttl
}

// collect runs every source concurrently. Source errors never abort the group.
func (c *Cache) collect(ctx context.Context) []collected {
	results := make([]collected, len(c.sources))

	var g errgroup.Group
	for i, src := range c.sources {
		g.Go(func() error {
			sctx, span := c.tracer.Start(ctx, "reconcile.Collect",
				trace.WithAttributes(attribute.String("source", string(src.ID()))))
			defer span.End()

			begin := time.Now()
			snap, err := src.Collect(sctx)
			telemetry.SourceDuration.WithLabelValues(string(src.ID())).Observe(time.Since(begin).Seconds())

			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "collect failed")
			}
			snap.Source = src.ID()
			results[i] = collected{snap: snap, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (c *Cache) merge(results []collected) *state {
	now := c.now()
	next := &state{
		byAddress:     make(map[string]int),
		byName:        make(map[string]int),
		lastRefreshed: now,
	}

	for _, r := range results {
		id := r.snap.Source
		snap := r.snap

		if r.err != nil {
			telemetry.SourceErrors.WithLabelValues(string(id)).Inc()
			c.logSourceError(id, r.err)

			prev, ok := c.good[id]
			if !ok || now.Sub(prev.at) > c.staleTTL {
				continue
			}
			snap = prev.snap
		} else {
			if _, failing := c.lastError[id]; failing {
				c.logger.Info("telemetry source recovered", "source", id)
				delete(c.lastError, id)
			}
			c.good[id] = lastGood{snap: snap, at: now}
			telemetry.SourceSamples.WithLabelValues(string(id), string(domain.IdentifierAddress)).Set(float64(len(snap.Address)))
			telemetry.SourceSamples.WithLabelValues(string(id), string(domain.IdentifierProductName)).Set(float64(len(snap.Name)))
		}

		foldInto(next.byAddress, next.byName, snap)
	}
	return next
}

// logSourceError logs each distinct failure once until the source recovers.
func (c *Cache) logSourceError(id domain.SourceID, err error) {
	msg := err.Error()
	if c.lastError[id] == msg {
		return
	}
	c.lastError[id] = msg
	c.logger.Warn("telemetry source returned no data", "source", id, "error", err)
}

// Lookup returns the battery percent for a device, trying the address first
// and the product name second.
func (c *Cache) Lookup(address, name string) (int, bool) {
	st := c.current.Load()
	if key := identity.NormalizeAddress(address); key != "" {
		if p, ok := st.byAddress[key]; ok {
			return p, true
		}
	}
	if key := identity.NormalizeName(name); key != "" {
		if p, ok := st.byName[key]; ok {
			return p, true
		}
	}
	return 0, false
}

// Entries returns a copy of the merged mappings.
func (c *Cache) Entries() domain.TelemetryEntries {
	st := c.current.Load()
	out := domain.TelemetryEntries{
		ByAddress:     make(map[string]int, len(st.byAddress)),
		ByName:        make(map[string]int, len(st.byName)),
		LastRefreshed: st.lastRefreshed,
	}
	for k, v := range st.byAddress {
		out.ByAddress[k] = v
	}
	for k, v := range st.byName {
		out.ByName[k] = v
	}
	return out
}

// fold merges snapshots into normalized address and name mappings using max-wins.
func fold(snapshots ...domain.Snapshot) (byAddress, byName map[string]int) {
	byAddress = make(map[string]int)
	byName = make(map[string]int)
	for _, snap := range snapshots {
		foldInto(byAddress, byName, snap)
	}
	return byAddress, byName
}

func foldInto(byAddress, byName map[string]int, snap domain.Snapshot) {
	for _, s := range snap.Address {
		mergeMax(byAddress, identity.NormalizeAddress(s.Identifier), s.Percent)
	}
	for _, s := range snap.Name {
		mergeMax(byName, identity.NormalizeName(s.Identifier), s.Percent)
	}
}

func mergeMax(m map[string]int, key string, percent int) {
	if key == "" {
		return
	}
	percent = domain.ClampPercent(percent)
	if cur, ok := m[key]; !ok || percent > cur {
		m[key] = percent
	}
}
