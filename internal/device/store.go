package device

import "context"

// Store defines the narrow persistence contract for known devices.
// This abstraction allows different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
//
// The store holds just enough to re-resolve devices after a gateway
// restart; live state (health, manifests) is rebuilt from the network.
type Store interface {
	// LoadKnownDevices returns every persisted device.
	LoadKnownDevices(ctx context.Context) ([]KnownDevice, error)

	// SaveDevice inserts or updates one device by ID.
	SaveDevice(ctx context.Context, known KnownDevice) error

	// DeleteDevice removes one device by ID. Deleting an absent ID is not
	// an error.
	DeleteDevice(ctx context.Context, id string) error
}
