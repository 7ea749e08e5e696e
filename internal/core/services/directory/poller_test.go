package directory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcalzada-xor/accessoryd/internal/core/domain"
	"github.com/lcalzada-xor/accessoryd/internal/core/services/identity"
)

const a2dpSink = "0000110b-0000-1000-8000-00805f9b34fb"

type fakeDirectory struct {
	mu      sync.Mutex
	devices map[string]domain.PairedDevice
	err     error
}

func newFakeDirectory(devices ...domain.PairedDevice) *fakeDirectory {
	d := &fakeDirectory{devices: map[string]domain.PairedDevice{}}
	for _, dev := range devices {
		d.devices[identity.NormalizeAddress(dev.Address)] = dev
	}
	return d
}

func (d *fakeDirectory) ListPairedAudioDevices(context.Context) ([]domain.PairedDevice, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	out := make([]domain.PairedDevice, 0, len(d.devices))
	for _, dev := range d.devices {
		out = append(out, dev)
	}
	return out, nil
}

func (d *fakeDirectory) IsConnected(_ context.Context, address string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return false, d.err
	}
	dev, ok := d.devices[identity.NormalizeAddress(address)]
	if !ok {
		return false, errors.New("unknown device")
	}
	return dev.Connected, nil
}

func (d *fakeDirectory) Subscribe(ctx context.Context, _ func(domain.Notification)) error {
	<-ctx.Done()
	return nil
}

func (d *fakeDirectory) setConnected(address string, connected bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := identity.NormalizeAddress(address)
	dev := d.devices[key]
	dev.Connected = connected
	d.devices[key] = dev
}

func (d *fakeDirectory) setErr(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

type change struct {
	added, removed []domain.PairedDevice
}

type recordingSink struct {
	mu      sync.Mutex
	changes []change
}

func (s *recordingSink) DevicesChanged(_ context.Context, added, removed []domain.PairedDevice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changes = append(s.changes, change{added: added, removed: removed})
}

func (s *recordingSink) snapshot() []change {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]change(nil), s.changes...)
}

func (s *recordingSink) totals() (added, removed int) {
	for _, c := range s.snapshot() {
		added += len(c.added)
		removed += len(c.removed)
	}
	return added, removed
}

type recordingHealth struct {
	mu    sync.Mutex
	calls []bool
}

func (h *recordingHealth) SetDirectoryAvailable(v bool) {
	h.mu.Lock()
	h.calls = append(h.calls, v)
	h.mu.Unlock()
}

func buds(connected bool) domain.PairedDevice {
	return domain.PairedDevice{
		Address:   "AA:BB:CC:DD:EE:FF",
		Name:      "Pro Buds",
		UUIDs:     []string{a2dpSink},
		Connected: connected,
	}
}

func TestPoller_PollPushPollScenario(t *testing.T) {
	dir := newFakeDirectory(buds(true))
	sink := &recordingSink{}
	p := NewPoller(dir, sink, Config{})
	ctx := context.Background()

	// t=0: poll sees X connected.
	p.Poll(ctx)
	assert.Equal(t, domain.StateConnected, p.State("aa:bb:cc:dd:ee:ff"))

	// t=1: push reports X disconnected.
	dir.setConnected("AA:BB:CC:DD:EE:FF", false)
	p.Handle(ctx, domain.Notification{Address: "AA:BB:CC:DD:EE:FF", Connected: false})
	assert.Equal(t, domain.StateDisconnected, p.State("AA:BB:CC:DD:EE:FF"))

	// Duplicate push is absorbed.
	p.Handle(ctx, domain.Notification{Address: "aa-bb-cc-dd-ee-ff", Connected: false})

	// t=3: poll confirms X absent.
	p.Poll(ctx)

	changes := sink.snapshot()
	require.Len(t, changes, 2)
	assert.Len(t, changes[0].added, 1)
	assert.Empty(t, changes[0].removed)
	assert.Empty(t, changes[1].added)
	assert.Len(t, changes[1].removed, 1)
}

func TestPoller_ConnectNotificationConfirmed(t *testing.T) {
	dir := newFakeDirectory(buds(false))
	sink := &recordingSink{}
	p := NewPoller(dir, sink, Config{})
	ctx := context.Background()

	p.Poll(ctx)
	assert.Empty(t, sink.snapshot())
	assert.Equal(t, domain.StateUnknown, p.State("AA:BB:CC:DD:EE:FF"))

	// A stale connect notification is overruled by the directory.
	p.Handle(ctx, domain.Notification{Address: "AA:BB:CC:DD:EE:FF", Connected: true})
	assert.Empty(t, sink.snapshot())

	dir.setConnected("AA:BB:CC:DD:EE:FF", true)
	p.Handle(ctx, domain.Notification{Address: "AA:BB:CC:DD:EE:FF", Connected: true})

	// The poll that follows finds nothing new.
	p.Poll(ctx)

	added, removed := sink.totals()
	assert.Equal(t, 1, added)
	assert.Equal(t, 0, removed)
	assert.Equal(t, "Pro Buds", sink.snapshot()[0].added[0].Name)
}

func TestPoller_IgnoresNonAudioDevices(t *testing.T) {
	keyboard := domain.PairedDevice{Address: "11:22:33:44:55:66", Name: "Keyboard", ClassBits: 0x002540, Connected: true}
	dir := newFakeDirectory(keyboard)
	sink := &recordingSink{}
	p := NewPoller(dir, sink, Config{})

	p.Poll(context.Background())
	p.Handle(context.Background(), domain.Notification{Address: keyboard.Address, Connected: true})
	assert.Empty(t, sink.snapshot())
}

func TestPoller_DirectoryFailure(t *testing.T) {
	dir := newFakeDirectory(buds(true))
	sink := &recordingSink{}
	health := &recordingHealth{}
	p := NewPoller(dir, sink, Config{Health: health})
	ctx := context.Background()

	p.Poll(ctx)

	dir.setErr(domain.ErrDirectoryUnavailable)
	p.Poll(ctx)
	p.Poll(ctx)

	added, removed := sink.totals()
	assert.Equal(t, 1, added)
	assert.Equal(t, 1, removed, "failure clears the live set once")
	assert.Equal(t, []bool{false}, health.calls, "failure is reported on the edge only")

	dir.setErr(nil)
	p.Poll(ctx)

	added, _ = sink.totals()
	assert.Equal(t, 2, added)
	assert.Equal(t, []bool{false, true}, health.calls)
}

func TestPoller_Run(t *testing.T) {
	dir := newFakeDirectory(buds(false))
	sink := &recordingSink{}
	p := NewPoller(dir, sink, Config{PollInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	dir.setConnected("AA:BB:CC:DD:EE:FF", true)
	p.Notify(domain.Notification{Address: "AA:BB:CC:DD:EE:FF", Connected: true})

	assert.Eventually(t, func() bool {
		added, _ := sink.totals()
		return added == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestIsAudioCapable(t *testing.T) {
	tests := []struct {
		name string
		dev  domain.PairedDevice
		want bool
	}{
		{"a2dp sink uuid", domain.PairedDevice{UUIDs: []string{a2dpSink}}, true},
		{"hfp short uuid", domain.PairedDevice{UUIDs: []string{"0x111E"}}, true},
		{"le audio pacs", domain.PairedDevice{UUIDs: []string{"00001850-0000-1000-8000-00805f9b34fb"}}, true},
		{"major class audio", domain.PairedDevice{ClassBits: 0x240404}, true},
		{"audio and rendering service bits", domain.PairedDevice{ClassBits: 0x240100}, true},
		{"keyboard", domain.PairedDevice{ClassBits: 0x002540, UUIDs: []string{"00001124-0000-1000-8000-00805f9b34fb"}}, false},
		{"phone", domain.PairedDevice{ClassBits: 0x5a020c}, false},
		{"custom uuid", domain.PairedDevice{UUIDs: []string{"6e400001-b5a3-f393-e0a9-e50e24dcca9e"}}, false},
		{"nothing", domain.PairedDevice{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsAudioCapable(tt.dev))
		})
	}
}
