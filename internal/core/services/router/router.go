// Package router turns directory transitions into accessory records, attaches
// reconciled battery telemetry and emits one connect event per connection.
package router

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lcalzada-xor/accessoryd/internal/core/domain"
	"github.com/lcalzada-xor/accessoryd/internal/core/ports"
	"github.com/lcalzada-xor/accessoryd/internal/core/services/identity"
	"github.com/lcalzada-xor/accessoryd/internal/core/services/registry"
	"github.com/lcalzada-xor/accessoryd/internal/telemetry"
)

// Config for the router.
type Config struct {
	Logger *slog.Logger
	Now    func() time.Time
}

// Router implements ports.DirectorySink and ports.AccessoryService.
type Router struct {
	cache    ports.TelemetryCache
	settings ports.Settings
	devices  *registry.AccessoryRegistry
	subject  *registry.AccessorySubject
	logger   *slog.Logger
	now      func() time.Time
	tracer   trace.Tracer

	// mu serializes the live set, the pending set and the ledger.
	mu      sync.Mutex
	pending map[string]domain.AccessoryDevice
	ledger  *Ledger

	workers sync.WaitGroup
}

// New creates a router. settings may be nil, in which case dispatch is always enabled.
func New(cache ports.TelemetryCache, settings ports.Settings, devices *registry.AccessoryRegistry, subject *registry.AccessorySubject, cfg Config) *Router {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger.With("component", "router")
	return &Router{
		cache:    cache,
		settings: settings,
		devices:  devices,
		subject:  subject,
		logger:   logger,
		now:      cfg.Now,
		tracer:   otel.Tracer("router"),
		pending:  make(map[string]domain.AccessoryDevice),
		ledger:   NewLedger(logger),
	}
}

// DevicesChanged is the single entry point for directory transitions.
// Removals apply immediately; additions complete on a worker goroutine so a
// slow refresh never blocks the caller.
func (r *Router) DevicesChanged(ctx context.Context, added, removed []domain.PairedDevice) {
	r.mu.Lock()
	for _, p := range removed {
		key := identity.NormalizeAddress(p.Address)
		delete(r.pending, key)
		if dev, ok := r.devices.Remove(p.Address); ok {
			r.logger.Info("accessory disconnected", "name", dev.DisplayName, "address", dev.Address)
		}
	}
	if len(removed) > 0 {
		r.publishMissing()
	}

	var batch []domain.AccessoryDevice
	for _, p := range added {
		key := identity.NormalizeAddress(p.Address)
		if key == "" {
			continue
		}
		if _, ok := r.pending[key]; ok {
			continue
		}
		if _, ok := r.devices.Get(p.Address); ok {
			continue
		}
		dev := r.build(p)
		r.pending[key] = dev
		batch = append(batch, dev)
	}
	r.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	r.workers.Add(1)
	go r.complete(context.WithoutCancel(ctx), batch)
}

func (r *Router) build(p domain.PairedDevice) domain.AccessoryDevice {
	now := r.now()
	name := p.Name
	if name == "" {
		name = identity.CanonicalAddress(p.Address)
	}
	return domain.AccessoryDevice{
		ID:          uuid.NewString(),
		DisplayName: name,
		Address:     identity.CanonicalAddress(p.Address),
		Kind:        InferKind(p.Name, p.ClassBits),
		ClassBits:   p.ClassBits,
		ConnectedAt: now,
		UpdatedAt:   now,
	}
}

// complete refreshes telemetry, then commits every batch member that is
// still pending and emits its connect event.
func (r *Router) complete(ctx context.Context, batch []domain.AccessoryDevice) {
	defer r.workers.Done()

	ctx, span := r.tracer.Start(ctx, "router.Connect")
	defer span.End()
	span.SetAttributes(attribute.Int("accessories", len(batch)))

	if !r.cache.Refresh(ctx, true) {
		// Let the refresh already in flight finish instead of starting another.
		r.cache.AwaitIdle(ctx)
	}

	r.mu.Lock()
	events := make([]domain.ConnectEvent, 0, len(batch))
	for _, dev := range batch {
		key := identity.NormalizeAddress(dev.Address)
		if cur, ok := r.pending[key]; !ok || cur.ID != dev.ID {
			// Disconnected while the refresh ran.
			continue
		}
		delete(r.pending, key)

		dev.Battery = r.lookup(dev)
		dev.UpdatedAt = r.now()
		r.devices.Add(dev)
		r.ledger.Observe(dev.DisplayName, dev.Address, dev.Battery.Known)

		events = append(events, domain.ConnectEvent{
			Device:          dev,
			BatteryFraction: dev.Battery.Fraction(),
			IconHint:        dev.IconHint(),
			At:              dev.UpdatedAt,
		})
	}
	r.publishMissing()
	r.mu.Unlock()

	for _, ev := range events {
		if ev.Device.Battery.Known {
			telemetry.ConnectEvents.WithLabelValues("known").Inc()
		} else {
			telemetry.ConnectEvents.WithLabelValues("unknown").Inc()
		}
		if !r.featureEnabled() {
			r.logger.Debug("feature disabled, connect event not dispatched", "address", ev.Device.Address)
			continue
		}
		r.subject.NotifyConnected(ctx, ev)
	}
}

func (r *Router) lookup(dev domain.AccessoryDevice) domain.Battery {
	if p, ok := r.cache.Lookup(dev.Address, dev.DisplayName); ok {
		return domain.KnownBattery(p)
	}
	return domain.Battery{}
}

func (r *Router) featureEnabled() bool {
	return r.settings == nil || r.settings.FeatureEnabled()
}

// RefreshConnected re-runs the lookup for every connected accessory and
// updates stored batteries in place. It never emits connect events.
func (r *Router) RefreshConnected(ctx context.Context) {
	r.cache.Refresh(ctx, false)
	r.updateConnected()
}

func (r *Router) updateConnected() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for _, dev := range r.devices.All(context.Background()) {
		battery := r.lookup(dev)
		if battery != dev.Battery {
			r.devices.UpdateBattery(dev.Address, battery, now)
		}
		r.ledger.Observe(dev.DisplayName, dev.Address, battery.Known)
	}
	r.publishMissing()
}

// Accessories returns copies of the connected accessories.
func (r *Router) Accessories(ctx context.Context) []domain.AccessoryDevice {
	return r.devices.All(ctx)
}

// Telemetry returns the current cache contents.
func (r *Router) Telemetry(ctx context.Context) domain.TelemetryEntries {
	return r.cache.Entries()
}

// Missing lists the ledger keys of connected accessories without battery data.
func (r *Router) Missing(ctx context.Context) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.missing()
}

func (r *Router) missing() []string {
	live := make(map[string]struct{})
	for _, dev := range r.devices.All(context.Background()) {
		live[identity.LedgerKey(dev.DisplayName, dev.Address)] = struct{}{}
	}
	return r.ledger.Active(live)
}

// publishMissing updates the gauge. Callers hold r.mu.
func (r *Router) publishMissing() {
	telemetry.MissingTelemetry.Set(float64(len(r.missing())))
}

// ForceRefresh runs a forced refresh and, if it ran, updates connected devices.
func (r *Router) ForceRefresh(ctx context.Context) bool {
	if !r.cache.Refresh(ctx, true) {
		return false
	}
	r.updateConnected()
	return true
}

// Wait blocks until in-flight connect workers and their dispatches finish.
func (r *Router) Wait() {
	r.workers.Wait()
	r.subject.Wait()
}
