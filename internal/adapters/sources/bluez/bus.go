// Package bluez reads paired device state and battery levels from the BlueZ
// daemon over the system D-Bus. It never pairs, connects or writes properties.
package bluez

import (
	"context"
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	busName          = "org.bluez"
	objectManager    = "org.freedesktop.DBus.ObjectManager"
	propertiesIface  = "org.freedesktop.DBus.Properties"
	adapterIface     = "org.bluez.Adapter1"
	deviceIface      = "org.bluez.Device1"
	batteryIface     = "org.bluez.Battery1"
	propertiesSignal = propertiesIface + ".PropertiesChanged"

	// DefaultAdapter is the controller used when none is configured.
	DefaultAdapter = "hci0"
)

var connectedRule = fmt.Sprintf(
	"type='signal',interface='%s',member='PropertiesChanged',arg0='%s'",
	propertiesIface, deviceIface,
)

// ManagedObjects is the reply of ObjectManager.GetManagedObjects.
type ManagedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// Bus is the subset of D-Bus calls the adapters rely on.
type Bus interface {
	ManagedObjects(ctx context.Context) (ManagedObjects, error)
	Property(ctx context.Context, path dbus.ObjectPath, iface, name string) (dbus.Variant, error)
	// Signals registers ch for device PropertiesChanged signals.
	// The returned function unregisters it.
	Signals(ch chan<- *dbus.Signal) (func(), error)
}

// SystemBus implements Bus on a system bus connection.
type SystemBus struct {
	conn *dbus.Conn
}

// ConnectSystemBus opens a private connection to the system bus.
func ConnectSystemBus() (*SystemBus, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}
	return &SystemBus{conn: conn}, nil
}

func (b *SystemBus) ManagedObjects(ctx context.Context) (ManagedObjects, error) {
	var objects ManagedObjects
	call := b.conn.Object(busName, "/").CallWithContext(ctx, objectManager+".GetManagedObjects", 0)
	if call.Err != nil {
		return nil, fmt.Errorf("GetManagedObjects: %w", call.Err)
	}
	if err := call.Store(&objects); err != nil {
		return nil, fmt.Errorf("decode managed objects: %w", err)
	}
	return objects, nil
}

func (b *SystemBus) Property(ctx context.Context, path dbus.ObjectPath, iface, name string) (dbus.Variant, error) {
	var v dbus.Variant
	call := b.conn.Object(busName, path).CallWithContext(ctx, propertiesIface+".Get", 0, iface, name)
	if call.Err != nil {
		return v, fmt.Errorf("get %s.%s on %s: %w", iface, name, path, call.Err)
	}
	if err := call.Store(&v); err != nil {
		return v, fmt.Errorf("decode %s.%s: %w", iface, name, err)
	}
	return v, nil
}

func (b *SystemBus) Signals(ch chan<- *dbus.Signal) (func(), error) {
	if err := b.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, connectedRule).Err; err != nil {
		return nil, fmt.Errorf("add match rule: %w", err)
	}
	b.conn.Signal(ch)
	return func() {
		b.conn.RemoveSignal(ch)
		b.conn.BusObject().Call("org.freedesktop.DBus.RemoveMatch", 0, connectedRule)
	}, nil
}

// Close closes the underlying connection.
func (b *SystemBus) Close() error {
	return b.conn.Close()
}

// adapterPath returns "/org/bluez/hci0" for "hci0".
func adapterPath(adapter string) dbus.ObjectPath {
	return dbus.ObjectPath("/org/bluez/" + adapter)
}

// devicePath converts "AA:BB:CC:DD:EE:FF" to "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF".
func devicePath(adapter, address string) dbus.ObjectPath {
	dev := strings.ToUpper(strings.ReplaceAll(address, ":", "_"))
	return dbus.ObjectPath(fmt.Sprintf("/org/bluez/%s/dev_%s", adapter, dev))
}

// addressFromPath is the inverse of devicePath. It returns "" for non-device paths.
func addressFromPath(path dbus.ObjectPath) string {
	s := string(path)
	i := strings.LastIndex(s, "/dev_")
	if i < 0 {
		return ""
	}
	dev := s[i+len("/dev_"):]
	if strings.Contains(dev, "/") {
		return ""
	}
	return strings.ReplaceAll(dev, "_", ":")
}

// prop reads a typed property from an interface's property map.
func prop[T any](props map[string]dbus.Variant, name string) (T, bool) {
	var zero T
	v, ok := props[name]
	if !ok {
		return zero, false
	}
	val, ok := v.Value().(T)
	if !ok {
		return zero, false
	}
	return val, true
}
