package bluez

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcalzada-xor/accessoryd/internal/core/domain"
)

type fakeBus struct {
	mu      sync.Mutex
	objects ManagedObjects
	err     error
	props   map[dbus.ObjectPath]map[string]dbus.Variant
	signals chan<- *dbus.Signal
	ready   chan struct{}
}

func newFakeBus(objects ManagedObjects) *fakeBus {
	return &fakeBus{objects: objects, ready: make(chan struct{})}
}

func (b *fakeBus) ManagedObjects(context.Context) (ManagedObjects, error) {
	return b.objects, b.err
}

func (b *fakeBus) Property(_ context.Context, path dbus.ObjectPath, iface, name string) (dbus.Variant, error) {
	v, ok := b.props[path][iface+"."+name]
	if !ok {
		return dbus.Variant{}, errors.New("org.freedesktop.DBus.Error.UnknownObject")
	}
	return v, nil
}

func (b *fakeBus) Signals(ch chan<- *dbus.Signal) (func(), error) {
	b.mu.Lock()
	b.signals = ch
	b.mu.Unlock()
	close(b.ready)
	return func() {}, nil
}

func (b *fakeBus) emit(sig *dbus.Signal) {
	<-b.ready
	b.mu.Lock()
	ch := b.signals
	b.mu.Unlock()
	ch <- sig
}

func variants(kv map[string]any) map[string]dbus.Variant {
	out := make(map[string]dbus.Variant, len(kv))
	for k, v := range kv {
		out[k] = dbus.MakeVariant(v)
	}
	return out
}

func testObjects(powered bool) ManagedObjects {
	return ManagedObjects{
		"/org/bluez/hci0": {
			adapterIface: variants(map[string]any{"Powered": powered, "Address": "00:1A:7D:DA:71:13"}),
		},
		"/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF": {
			deviceIface: variants(map[string]any{
				"Address":   "AA:BB:CC:DD:EE:FF",
				"Name":      "Pro Buds",
				"Alias":     "Sam's Pro Buds",
				"Class":     uint32(0x240404),
				"UUIDs":     []string{"0000110b-0000-1000-8000-00805f9b34fb"},
				"Paired":    true,
				"Connected": true,
			}),
			batteryIface: variants(map[string]any{"Percentage": byte(62), "Source": "Pro Buds Case"}),
		},
		"/org/bluez/hci0/dev_11_22_33_44_55_66": {
			deviceIface: variants(map[string]any{
				"Address":   "11:22:33:44:55:66",
				"Name":      "Keyboard",
				"Class":     uint32(0x002540),
				"Paired":    true,
				"Connected": false,
			}),
		},
		"/org/bluez/hci0/dev_77_88_99_AA_BB_CC": {
			deviceIface: variants(map[string]any{
				"Address": "77:88:99:AA:BB:CC",
				"Name":    "Stranger Speaker",
				"Paired":  false,
			}),
		},
		"/org/bluez/hci1/dev_DD_EE_FF_00_11_22": {
			deviceIface: variants(map[string]any{"Address": "DD:EE:FF:00:11:22", "Paired": true}),
		},
	}
}

func TestBatteryRegistry_Collect(t *testing.T) {
	reg := NewBatteryRegistry(newFakeBus(testObjects(true)))
	assert.Equal(t, domain.SourceRegistry, reg.ID())

	snap, err := reg.Collect(context.Background())
	require.NoError(t, err)

	require.Len(t, snap.Address, 1)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", snap.Address[0].Identifier)
	assert.Equal(t, 62, snap.Address[0].Percent)

	var names []string
	for _, s := range snap.Name {
		names = append(names, s.Identifier)
		assert.Equal(t, 62, s.Percent)
	}
	assert.ElementsMatch(t, []string{"Pro Buds", "Sam's Pro Buds", "Pro Buds Case"}, names)
}

func TestBatteryRegistry_PercentageOneIsLiteral(t *testing.T) {
	objects := ManagedObjects{
		"/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF": {
			batteryIface: variants(map[string]any{"Percentage": byte(1)}),
		},
	}
	snap, err := NewBatteryRegistry(newFakeBus(objects)).Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Address, 1)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", snap.Address[0].Identifier, "address falls back to object path")
	assert.Equal(t, 1, snap.Address[0].Percent)
}

func TestBatteryRegistry_BusFailure(t *testing.T) {
	bus := newFakeBus(nil)
	bus.err = errors.New("org.freedesktop.DBus.Error.ServiceUnknown")

	_, err := NewBatteryRegistry(bus).Collect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSourceUnavailable)

	var srcErr *domain.SourceError
	require.ErrorAs(t, err, &srcErr)
	assert.Equal(t, domain.SourceRegistry, srcErr.Source)
}

func TestDirectory_ListPairedAudioDevices(t *testing.T) {
	dir := NewDirectory(newFakeBus(testObjects(true)), "hci0", nil)

	devices, err := dir.ListPairedAudioDevices(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 2)

	byAddr := map[string]domain.PairedDevice{}
	for _, d := range devices {
		byAddr[d.Address] = d
	}
	buds := byAddr["AA:BB:CC:DD:EE:FF"]
	assert.Equal(t, "Sam's Pro Buds", buds.Name)
	assert.Equal(t, uint32(0x240404), buds.ClassBits)
	assert.True(t, buds.Connected)
	assert.Len(t, buds.UUIDs, 1)

	kb := byAddr["11:22:33:44:55:66"]
	assert.Equal(t, "Keyboard", kb.Name)
	assert.False(t, kb.Connected)
}

func TestDirectory_PoweredOff(t *testing.T) {
	dir := NewDirectory(newFakeBus(testObjects(false)), "hci0", nil)

	_, err := dir.ListPairedAudioDevices(context.Background())
	assert.ErrorIs(t, err, domain.ErrDirectoryUnavailable)
}

func TestDirectory_MissingAdapter(t *testing.T) {
	dir := NewDirectory(newFakeBus(testObjects(true)), "hci7", nil)

	_, err := dir.ListPairedAudioDevices(context.Background())
	assert.ErrorIs(t, err, domain.ErrDirectoryUnavailable)
}

func TestDirectory_IsConnected(t *testing.T) {
	bus := newFakeBus(nil)
	bus.props = map[dbus.ObjectPath]map[string]dbus.Variant{
		"/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF": {
			deviceIface + ".Connected": dbus.MakeVariant(true),
		},
	}
	dir := NewDirectory(bus, "", nil)

	ok, err := dir.IsConnected(context.Background(), "aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = dir.IsConnected(context.Background(), "11:22:33:44:55:66")
	assert.ErrorIs(t, err, domain.ErrDirectoryUnavailable)
}

func TestDirectory_Subscribe(t *testing.T) {
	bus := newFakeBus(nil)
	dir := NewDirectory(bus, "hci0", nil)

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan domain.Notification, 4)
	done := make(chan error, 1)
	go func() {
		done <- dir.Subscribe(ctx, func(n domain.Notification) { got <- n })
	}()

	// Ignored: wrong interface, unrelated property, other adapter.
	bus.emit(&dbus.Signal{
		Path: "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF",
		Name: propertiesSignal,
		Body: []any{batteryIface, variants(map[string]any{"Percentage": byte(10)}), []string{}},
	})
	bus.emit(&dbus.Signal{
		Path: "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF",
		Name: propertiesSignal,
		Body: []any{deviceIface, variants(map[string]any{"RSSI": int16(-40)}), []string{}},
	})
	bus.emit(&dbus.Signal{
		Path: "/org/bluez/hci1/dev_AA_BB_CC_DD_EE_FF",
		Name: propertiesSignal,
		Body: []any{deviceIface, variants(map[string]any{"Connected": true}), []string{}},
	})
	bus.emit(&dbus.Signal{
		Path: "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF",
		Name: propertiesSignal,
		Body: []any{deviceIface, variants(map[string]any{"Connected": false}), []string{}},
	})

	select {
	case n := <-got:
		assert.Equal(t, domain.Notification{Address: "AA:BB:CC:DD:EE:FF", Connected: false}, n)
	case <-time.After(time.Second):
		t.Fatal("notification not delivered")
	}

	cancel()
	require.NoError(t, <-done)
	assert.Empty(t, got)
}

func TestPathHelpers(t *testing.T) {
	assert.Equal(t, dbus.ObjectPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF"), devicePath("hci0", "aa:bb:cc:dd:ee:ff"))
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", addressFromPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF"))
	assert.Equal(t, "", addressFromPath("/org/bluez/hci0"))
	assert.Equal(t, "", addressFromPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF/sep1"))
}
