// Package directory tracks which audio accessories are connected by combining
// OS push notifications with a reconciling fixed-interval poll.
package directory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lcalzada-xor/accessoryd/internal/core/domain"
	"github.com/lcalzada-xor/accessoryd/internal/core/ports"
	"github.com/lcalzada-xor/accessoryd/internal/core/services/identity"
	"github.com/lcalzada-xor/accessoryd/internal/telemetry"
)

const (
	DefaultPollInterval = 3 * time.Second
	notificationBuffer  = 64
)

// Config for the poller.
type Config struct {
	PollInterval time.Duration
	Logger       *slog.Logger
	// Health is optional.
	Health ports.DirectoryHealth
}

// Poller owns the last directory snapshot and forwards transitions to the sink.
// All snapshot mutation happens on the Run goroutine.
type Poller struct {
	dir      ports.DeviceDirectory
	sink     ports.DirectorySink
	interval time.Duration
	logger   *slog.Logger
	health   ports.DirectoryHealth

	notifications chan domain.Notification

	snapshot domain.DirectorySnapshot
	failing  bool

	mu     sync.RWMutex
	states map[string]domain.ConnectionState
}

// NewPoller creates a poller over dir that reports to sink.
func NewPoller(dir ports.DeviceDirectory, sink ports.DirectorySink, cfg Config) *Poller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Poller{
		dir:           dir,
		sink:          sink,
		interval:      cfg.PollInterval,
		logger:        cfg.Logger.With("component", "directory"),
		health:        cfg.Health,
		notifications: make(chan domain.Notification, notificationBuffer),
		snapshot:      domain.DirectorySnapshot{},
		states:        make(map[string]domain.ConnectionState),
	}
}

// Notify queues a push notification. It never blocks; if the queue is full
// the notification is dropped and the next poll reconciles.
func (p *Poller) Notify(n domain.Notification) {
	telemetry.Notifications.WithLabelValues(boolLabel(n.Connected)).Inc()
	select {
	case p.notifications <- n:
	default:
		p.logger.Warn("notification queue full, deferring to poll", "address", n.Address)
	}
}

// Run polls immediately, then serves the ticker and the notification queue
// until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("directory poller started", "interval", p.interval)
	p.Poll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("directory poller stopped")
			return nil
		case <-ticker.C:
			p.Poll(ctx)
		case n := <-p.notifications:
			p.Handle(ctx, n)
		}
	}
}

// State returns the tracked connection state of a device.
func (p *Poller) State(address string) domain.ConnectionState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if s, ok := p.states[identity.NormalizeAddress(address)]; ok {
		return s
	}
	return domain.StateUnknown
}

// Poll re-enumerates the directory and forwards the diff. It must not be
// called concurrently with Run.
func (p *Poller) Poll(ctx context.Context) {
	devices, err := p.dir.ListPairedAudioDevices(ctx)
	if err != nil {
		telemetry.DirectoryErrors.Inc()
		if !p.failing {
			p.logger.Warn("device directory unavailable, treating all devices as disconnected", "error", err)
			p.setAvailable(false)
		}
		p.apply(ctx, domain.DirectorySnapshot{})
		return
	}
	if p.failing {
		p.logger.Info("device directory available again")
		p.setAvailable(true)
	}

	current := make(domain.DirectorySnapshot, len(devices))
	for _, d := range devices {
		if !d.Connected || !IsAudioCapable(d) {
			continue
		}
		key := identity.NormalizeAddress(d.Address)
		if key == "" {
			continue
		}
		current[key] = d
	}
	p.apply(ctx, current)
}

func (p *Poller) setAvailable(available bool) {
	p.failing = !available
	if p.health != nil {
		p.health.SetDirectoryAvailable(available)
	}
}

// Handle confirms a notification against the directory and applies a
// single-device diff. It must not be called concurrently with Run.
func (p *Poller) Handle(ctx context.Context, n domain.Notification) {
	key := identity.NormalizeAddress(n.Address)
	if key == "" {
		return
	}

	connected := n.Connected
	if confirmed, err := p.dir.IsConnected(ctx, n.Address); err == nil {
		connected = confirmed
	} else {
		p.logger.Debug("could not confirm notification, trusting it", "address", n.Address, "error", err)
	}

	_, tracked := p.snapshot[key]
	if connected == tracked {
		return
	}

	next := p.snapshot.Clone()
	if !connected {
		delete(next, key)
		p.apply(ctx, next)
		return
	}

	dev, ok := p.lookup(ctx, key)
	if !ok {
		return
	}
	dev.Connected = true
	next[key] = dev
	p.apply(ctx, next)
}

// lookup finds an audio capable paired device by normalized address.
func (p *Poller) lookup(ctx context.Context, key string) (domain.PairedDevice, bool) {
	devices, err := p.dir.ListPairedAudioDevices(ctx)
	if err != nil {
		return domain.PairedDevice{}, false
	}
	for _, d := range devices {
		if identity.NormalizeAddress(d.Address) == key && IsAudioCapable(d) {
			return d, true
		}
	}
	return domain.PairedDevice{}, false
}

// apply swaps in the next snapshot and forwards only the transitions.
func (p *Poller) apply(ctx context.Context, next domain.DirectorySnapshot) {
	added, removed := next.Diff(p.snapshot)
	p.snapshot = next
	if len(added) == 0 && len(removed) == 0 {
		return
	}

	p.mu.Lock()
	for _, d := range added {
		p.states[identity.NormalizeAddress(d.Address)] = domain.StateConnected
	}
	for _, d := range removed {
		p.states[identity.NormalizeAddress(d.Address)] = domain.StateDisconnected
	}
	p.mu.Unlock()

	p.logger.Debug("directory changed", "added", len(added), "removed", len(removed))
	p.sink.DevicesChanged(ctx, added, removed)
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
