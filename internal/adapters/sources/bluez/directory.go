package bluez

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/godbus/dbus/v5"

	"github.com/lcalzada-xor/accessoryd/internal/core/domain"
)

// Directory implements ports.DeviceDirectory for one BlueZ adapter.
type Directory struct {
	bus     Bus
	adapter string
	logger  *slog.Logger
}

// NewDirectory creates a directory bound to adapter (e.g. "hci0").
func NewDirectory(bus Bus, adapter string, logger *slog.Logger) *Directory {
	if adapter == "" {
		adapter = DefaultAdapter
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{bus: bus, adapter: adapter, logger: logger.With("component", "bluez")}
}

// ListPairedAudioDevices returns every paired device under the adapter along
// with the class bits and service UUIDs needed for audio classification.
func (d *Directory) ListPairedAudioDevices(ctx context.Context) ([]domain.PairedDevice, error) {
	objects, err := d.bus.ManagedObjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrDirectoryUnavailable, err)
	}

	adapter, ok := objects[adapterPath(d.adapter)][adapterIface]
	if !ok {
		return nil, fmt.Errorf("%w: adapter %s not found", domain.ErrDirectoryUnavailable, d.adapter)
	}
	if powered, ok := prop[bool](adapter, "Powered"); ok && !powered {
		return nil, fmt.Errorf("%w: adapter %s is powered off", domain.ErrDirectoryUnavailable, d.adapter)
	}

	prefix := string(adapterPath(d.adapter)) + "/"
	var devices []domain.PairedDevice
	for path, ifaces := range objects {
		if !strings.HasPrefix(string(path), prefix) {
			continue
		}
		props, ok := ifaces[deviceIface]
		if !ok {
			continue
		}
		if paired, _ := prop[bool](props, "Paired"); !paired {
			continue
		}
		devices = append(devices, pairedDevice(path, props))
	}
	return devices, nil
}

func pairedDevice(path dbus.ObjectPath, props map[string]dbus.Variant) domain.PairedDevice {
	dev := domain.PairedDevice{}

	dev.Address, _ = prop[string](props, "Address")
	if dev.Address == "" {
		dev.Address = addressFromPath(path)
	}
	if alias, ok := prop[string](props, "Alias"); ok && alias != "" {
		dev.Name = alias
	} else {
		dev.Name, _ = prop[string](props, "Name")
	}
	dev.ClassBits, _ = prop[uint32](props, "Class")
	dev.UUIDs, _ = prop[[]string](props, "UUIDs")
	dev.Connected, _ = prop[bool](props, "Connected")
	return dev
}

// IsConnected reads Device1.Connected for one device.
func (d *Directory) IsConnected(ctx context.Context, address string) (bool, error) {
	v, err := d.bus.Property(ctx, devicePath(d.adapter, address), deviceIface, "Connected")
	if err != nil {
		return false, fmt.Errorf("%w: %w", domain.ErrDirectoryUnavailable, err)
	}
	connected, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("%w: Connected has type %T", domain.ErrMalformedPayload, v.Value())
	}
	return connected, nil
}

// Subscribe delivers Device1.Connected changes to handler until ctx is done.
func (d *Directory) Subscribe(ctx context.Context, handler func(domain.Notification)) error {
	ch := make(chan *dbus.Signal, 64)
	cancel, err := d.bus.Signals(ch)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", deviceIface, err)
	}
	defer cancel()

	prefix := string(adapterPath(d.adapter)) + "/"
	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-ch:
			if !ok {
				return nil
			}
			if sig.Name != propertiesSignal || !strings.HasPrefix(string(sig.Path), prefix) {
				continue
			}
			n, ok := notification(sig)
			if !ok {
				continue
			}
			d.logger.Debug("connection change", "address", n.Address, "connected", n.Connected)
			handler(n)
		}
	}
}

func notification(sig *dbus.Signal) (domain.Notification, bool) {
	if len(sig.Body) < 2 {
		return domain.Notification{}, false
	}
	if iface, ok := sig.Body[0].(string); !ok || iface != deviceIface {
		return domain.Notification{}, false
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return domain.Notification{}, false
	}
	connected, ok := prop[bool](changed, "Connected")
	if !ok {
		return domain.Notification{}, false
	}
	address := addressFromPath(sig.Path)
	if address == "" {
		return domain.Notification{}, false
	}
	return domain.Notification{Address: address, Connected: connected}, true
}
