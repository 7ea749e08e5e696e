package bluez

import (
	"context"
	"fmt"

	"github.com/lcalzada-xor/accessoryd/internal/core/domain"
)

// BatteryRegistry is the hardware registry telemetry source. It reports every
// object exposing org.bluez.Battery1.
type BatteryRegistry struct {
	bus Bus
}

// NewBatteryRegistry creates the registry source.
func NewBatteryRegistry(bus Bus) *BatteryRegistry {
	return &BatteryRegistry{bus: bus}
}

func (r *BatteryRegistry) ID() domain.SourceID {
	return domain.SourceRegistry
}

// Collect records an address sample from Device1.Address and a name sample
// from each of Device1.Name, Device1.Alias and Battery1.Source that is present.
func (r *BatteryRegistry) Collect(ctx context.Context) (domain.Snapshot, error) {
	snap := domain.Snapshot{Source: domain.SourceRegistry}

	objects, err := r.bus.ManagedObjects(ctx)
	if err != nil {
		return snap, domain.NewSourceError(domain.SourceRegistry, "enumerate",
			fmt.Errorf("%w: %w", domain.ErrSourceUnavailable, err))
	}

	for path, ifaces := range objects {
		battery, ok := ifaces[batteryIface]
		if !ok {
			continue
		}
		// BlueZ reports Percentage as a byte in 0..100, never as a fraction.
		level, ok := prop[byte](battery, "Percentage")
		if !ok {
			continue
		}
		percent := domain.ClampPercent(int(level))

		device := ifaces[deviceIface]
		address, ok := prop[string](device, "Address")
		if !ok {
			address = addressFromPath(path)
		}
		snap.AddAddress(address, percent)

		for _, name := range []string{"Name", "Alias"} {
			if v, ok := prop[string](device, name); ok {
				snap.AddName(v, percent)
			}
		}
		if v, ok := prop[string](battery, "Source"); ok {
			snap.AddName(v, percent)
		}
	}

	return snap, nil
}
