package registry

import (
	"context"
	"log/slog"
	"sync"

	"github.com/lcalzada-xor/accessoryd/internal/core/domain"
	"github.com/lcalzada-xor/accessoryd/internal/core/ports"
)

// AccessoryObserver is notified once per physical connection.
type AccessoryObserver = ports.Dispatcher

// AccessorySubject manages observers and notifies them of connect events.
type AccessorySubject struct {
	observers []AccessoryObserver
	mu        sync.RWMutex
	inflight  sync.WaitGroup
}

// NewAccessorySubject creates a new subject.
func NewAccessorySubject() *AccessorySubject {
	return &AccessorySubject{
		observers: make([]AccessoryObserver, 0),
	}
}

// AddObserver registers a new observer.
func (s *AccessorySubject) AddObserver(observer AccessoryObserver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, observer)
}

// NotifyConnected fans the event out to every observer. Each observer runs
// in its own goroutine so a slow dispatcher never blocks the engine.
func (s *AccessorySubject) NotifyConnected(ctx context.Context, event domain.ConnectEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, obs := range s.observers {
		s.inflight.Add(1)
		go func(obs AccessoryObserver) {
			defer s.inflight.Done()
			obs.OnAccessoryConnected(ctx, event.Device, event.BatteryFraction, event.IconHint)
		}(obs)
	}
}

// Wait blocks until every dispatched notification has returned.
func (s *AccessorySubject) Wait() {
	s.inflight.Wait()
}

// LogObserver writes connect events to the structured log.
type LogObserver struct {
	logger *slog.Logger
}

func NewLogObserver(logger *slog.Logger) *LogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogObserver{logger: logger}
}

func (o *LogObserver) OnAccessoryConnected(ctx context.Context, device domain.AccessoryDevice, batteryFraction float64, iconHint string) {
	attrs := []any{
		"id", device.ID,
		"name", device.DisplayName,
		"address", device.Address,
		"kind", device.Kind,
		"icon", iconHint,
	}
	if device.Battery.Known {
		attrs = append(attrs, "battery", batteryFraction)
	} else {
		attrs = append(attrs, "battery", "unknown")
	}
	o.logger.InfoContext(ctx, "accessory connected", attrs...)
}
