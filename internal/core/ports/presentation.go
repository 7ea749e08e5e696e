package ports

import (
	"context"

	"github.com/lcalzada-xor/accessoryd/internal/core/domain"
)

// Dispatcher is the boundary with the presentation layer.
// It is called once per physical connection, never per poll tick. The device is
// a copy; dispatchers cannot reach engine state through it.
type Dispatcher interface {
	OnAccessoryConnected(ctx context.Context, device domain.AccessoryDevice, batteryFraction float64, iconHint string)
}

// AccessoryService is the engine surface used by the HTTP and gRPC adapters.
type AccessoryService interface {
	Accessories(ctx context.Context) []domain.AccessoryDevice
	Telemetry(ctx context.Context) domain.TelemetryEntries
	Missing(ctx context.Context) []string
	ForceRefresh(ctx context.Context) bool
}
