package device

import (
	"fmt"
	"time"

	"github.com/ascotlab/ascot-gateway/internal/manifest"
)

// Device is one discovered smart device as the registry tracks it.
//
// The identity is the mDNS instance name a device announces; it is stable
// across endpoint changes (DHCP renumbering), so the same identity keeps
// the same record. All fields besides ID may change over a device's life.
type Device struct {
	// Identity
	ID string `json:"id"`

	// Where the device can be reached right now.
	Endpoint     Endpoint `json:"endpoint"`
	ManifestPath string   `json:"manifest_path"`

	// Metadata holds TXT record properties from the latest announcement.
	Metadata map[string]string `json:"metadata,omitempty"`

	// Manifest is nil until capability resolution succeeds. Once set it is
	// replaced wholesale, never mutated, so holders of the pointer keep a
	// consistent view.
	Manifest *manifest.Manifest `json:"manifest,omitempty"`

	// Health tracking
	Health   HealthState `json:"health"`
	Failures int         `json:"failures"`

	// Timestamps
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// Clone creates an independent copy of the Device.
//
// The Metadata map is copied; the Manifest pointer is shared because
// manifests are immutable after parse. Clones are what the registry hands
// out, so external code can never mutate registry state.
func (d *Device) Clone() *Device {
	if d == nil {
		return nil
	}

	cpy := *d // Shallow copy of value fields

	if d.Metadata != nil {
		cpy.Metadata = make(map[string]string, len(d.Metadata))
		for k, v := range d.Metadata {
			cpy.Metadata[k] = v
		}
	}

	return &cpy
}

// Resolved reports whether the device's capabilities are known.
func (d *Device) Resolved() bool {
	return d.Manifest != nil
}

// Endpoint is the network address commands and manifest fetches go to.
type Endpoint struct {
	Scheme string `json:"scheme"`
	Host   string `json:"host"`
	Port   int    `json:"port"`
}

// BaseURL renders the endpoint as a URL prefix without trailing slash,
// e.g. "http://192.168.1.40:8080".
func (e Endpoint) BaseURL() string {
	return fmt.Sprintf("%s://%s:%d", e.Scheme, e.Host, e.Port)
}

// Equal reports whether two endpoints address the same location.
func (e Endpoint) Equal(other Endpoint) bool {
	return e.Scheme == other.Scheme && e.Host == other.Host && e.Port == other.Port
}

// HealthState represents how reachable the gateway believes a device is.
type HealthState string

// HealthState constants.
//
// Fresh devices answered recently. Stale devices have been silent past
// the configured interval but have not failed. Unreachable devices failed
// repeatedly or have never been resolved.
const (
	HealthFresh       HealthState = "fresh"
	HealthStale       HealthState = "stale"
	HealthUnreachable HealthState = "unreachable"
)

// AllHealthStates returns all valid health state values.
func AllHealthStates() []HealthState {
	return []HealthState{HealthFresh, HealthStale, HealthUnreachable}
}

// ParseHealthState converts a string to a HealthState.
// Returns ErrInvalidHealthState for unrecognised values.
func ParseHealthState(s string) (HealthState, error) {
	switch HealthState(s) {
	case HealthFresh, HealthStale, HealthUnreachable:
		return HealthState(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidHealthState, s)
	}
}

// KnownDevice is the narrow slice of a record that survives restarts:
// enough to re-resolve a device without waiting for it to announce again.
type KnownDevice struct {
	ID           string
	Endpoint     Endpoint
	ManifestPath string
}
