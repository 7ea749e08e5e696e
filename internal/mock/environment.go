// Package mock simulates paired audio accessories so the daemon can run
// without Bluetooth hardware.
package mock

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/lcalzada-xor/accessoryd/internal/core/domain"
	"github.com/lcalzada-xor/accessoryd/internal/core/ports"
	"github.com/lcalzada-xor/accessoryd/internal/core/services/identity"
)

// DefaultStepInterval is how often Run advances the simulation.
const DefaultStepInterval = 7 * time.Second

var errUnknownDevice = errors.New("unknown mock device")

// Environment is a scripted device directory plus the telemetry sources that
// describe it. It implements ports.DeviceDirectory.
type Environment struct {
	logger *slog.Logger

	mu          sync.Mutex
	gen         *DataGenerator
	accessories []*MockAccessory
	byKey       map[string]*MockAccessory
	available   bool

	subMu  sync.Mutex
	nextID int
	subs   map[int]func(domain.Notification)
}

// NewEnvironment builds the named scenario.
func NewEnvironment(scenario string, seed int64, logger *slog.Logger) *Environment {
	if logger == nil {
		logger = slog.Default()
	}
	gen := NewDataGenerator(seed)
	e := &Environment{
		logger:    logger.With("component", "mock"),
		gen:       gen,
		byKey:     make(map[string]*MockAccessory),
		available: true,
		subs:      make(map[int]func(domain.Notification)),
	}
	for _, acc := range gen.GenerateScenario(scenario) {
		e.accessories = append(e.accessories, acc)
		e.byKey[identity.NormalizeAddress(acc.Address)] = acc
	}
	e.logger.Info("mock environment ready", "scenario", scenario, "accessories", len(e.accessories))
	return e
}

// Accessories returns copies of the simulated accessories.
func (e *Environment) Accessories() []MockAccessory {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]MockAccessory, 0, len(e.accessories))
	for _, acc := range e.accessories {
		out = append(out, *acc)
	}
	return out
}

func (e *Environment) ListPairedAudioDevices(ctx context.Context) ([]domain.PairedDevice, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.available {
		return nil, domain.ErrDirectoryUnavailable
	}
	out := make([]domain.PairedDevice, 0, len(e.accessories))
	for _, acc := range e.accessories {
		out = append(out, domain.PairedDevice{
			Address:   acc.Address,
			Name:      acc.Name,
			ClassBits: acc.Class,
			UUIDs:     append([]string(nil), acc.UUIDs...),
			Connected: acc.Connected,
		})
	}
	return out, nil
}

func (e *Environment) IsConnected(ctx context.Context, address string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.available {
		return false, domain.ErrDirectoryUnavailable
	}
	acc, ok := e.byKey[identity.NormalizeAddress(address)]
	if !ok {
		return false, errUnknownDevice
	}
	return acc.Connected, nil
}

// Subscribe delivers notifications until ctx is done.
func (e *Environment) Subscribe(ctx context.Context, handler func(domain.Notification)) error {
	e.subMu.Lock()
	id := e.nextID
	e.nextID++
	e.subs[id] = handler
	e.subMu.Unlock()

	<-ctx.Done()

	e.subMu.Lock()
	delete(e.subs, id)
	e.subMu.Unlock()
	return nil
}

func (e *Environment) notify(n domain.Notification) {
	e.subMu.Lock()
	handlers := make([]func(domain.Notification), 0, len(e.subs))
	for _, h := range e.subs {
		handlers = append(handlers, h)
	}
	e.subMu.Unlock()
	for _, h := range handlers {
		h(n)
	}
}

// SetConnected changes one accessory's connection and notifies subscribers.
func (e *Environment) SetConnected(address string, connected bool) error {
	e.mu.Lock()
	acc, ok := e.byKey[identity.NormalizeAddress(address)]
	if !ok {
		e.mu.Unlock()
		return errUnknownDevice
	}
	changed := acc.Connected != connected
	acc.Connected = connected
	addr := acc.Address
	e.mu.Unlock()

	if changed {
		e.notify(domain.Notification{Address: addr, Connected: connected})
	}
	return nil
}

// SetBattery overrides an accessory's battery percentage.
func (e *Environment) SetBattery(address string, percent int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	acc, ok := e.byKey[identity.NormalizeAddress(address)]
	if !ok {
		return errUnknownDevice
	}
	acc.Battery = domain.ClampPercent(percent)
	return nil
}

// SetAvailable simulates the radio being switched off or on.
func (e *Environment) SetAvailable(available bool) {
	e.mu.Lock()
	e.available = available
	e.mu.Unlock()
}

// Step advances the simulation once: connected accessories drain, idle ones
// charge, and one random accessory toggles its connection.
func (e *Environment) Step() {
	e.mu.Lock()
	for _, acc := range e.accessories {
		if acc.Connected {
			acc.Battery = domain.ClampPercent(acc.Battery - e.gen.intn(3))
		} else {
			acc.Battery = domain.ClampPercent(acc.Battery + e.gen.intn(4))
		}
	}
	acc := e.accessories[e.gen.intn(len(e.accessories))]
	address, connected := acc.Address, !acc.Connected
	e.mu.Unlock()

	e.logger.Debug("mock accessory toggled", "name", acc.Name, "connected", connected)
	e.SetConnected(address, connected)
}

// Run steps the simulation every interval until ctx is done.
func (e *Environment) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultStepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.Step()
		}
	}
}

// Sources returns one telemetry source per identifier style.
func (e *Environment) Sources() []ports.TelemetrySource {
	return []ports.TelemetrySource{
		&source{env: e, id: domain.SourceRegistry, style: StyleRegistry},
		&source{env: e, id: domain.SourcePreferences, style: StylePreferences},
		&source{env: e, id: domain.SourceProfiler, style: StyleProfiler},
	}
}

type source struct {
	env   *Environment
	id    domain.SourceID
	style TelemetryStyle
}

func (s *source) ID() domain.SourceID { return s.id }

func (s *source) Collect(ctx context.Context) (domain.Snapshot, error) {
	snap := domain.Snapshot{Source: s.id}
	s.env.mu.Lock()
	defer s.env.mu.Unlock()
	for _, acc := range s.env.accessories {
		if acc.Style != s.style {
			continue
		}
		switch s.style {
		case StyleRegistry:
			if acc.Connected {
				snap.AddAddress(acc.Address, acc.Battery)
			}
		case StylePreferences:
			snap.AddAddress(identity.NormalizeAddress(acc.Address), acc.Battery)
		case StyleProfiler:
			if acc.Connected {
				snap.AddName(acc.Name, acc.Battery)
			}
		}
	}
	return snap, nil
}
