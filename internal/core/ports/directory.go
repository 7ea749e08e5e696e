package ports

import (
	"context"

	"github.com/lcalzada-xor/accessoryd/internal/core/domain"
)

// DeviceDirectory is the read-only view of the OS device layer.
type DeviceDirectory interface {
	// ListPairedAudioDevices enumerates paired devices. Implementations return
	// domain.ErrDirectoryUnavailable when the radio is off or the service is gone.
	ListPairedAudioDevices(ctx context.Context) ([]domain.PairedDevice, error)

	// IsConnected reports the current connection state of one device.
	IsConnected(ctx context.Context, address string) (bool, error)

	// Subscribe delivers connect/disconnect notifications until ctx is done.
	Subscribe(ctx context.Context, handler func(domain.Notification)) error
}

// DirectorySink receives the transitions computed by the directory poller.
type DirectorySink interface {
	DevicesChanged(ctx context.Context, added, removed []domain.PairedDevice)
}

// DirectoryHealth is notified when the directory becomes (un)available.
type DirectoryHealth interface {
	SetDirectoryAvailable(available bool)
}
