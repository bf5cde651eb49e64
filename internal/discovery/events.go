package discovery

import "github.com/ascotlab/ascot-gateway/internal/device"

// EventType classifies a change the listener observed on the network.
type EventType string

// EventType constants.
const (
	// EventAppeared means an identity not currently tracked announced itself.
	EventAppeared EventType = "appeared"

	// EventVanished means a tracked identity said goodbye or expired.
	EventVanished EventType = "vanished"

	// EventUpdated means a tracked identity announced new details
	// (endpoint, manifest path or TXT properties).
	EventUpdated EventType = "updated"
)

// Sighting is one normalised observation of a device announcement.
// Transport quirks (TXT defaults, address selection) are already applied;
// consumers never see raw mDNS records.
type Sighting struct {
	ID           string            `json:"id"`
	Endpoint     device.Endpoint   `json:"endpoint"`
	ManifestPath string            `json:"manifest_path"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Same reports whether two sightings carry identical details. Used to
// suppress duplicate announcements of an unchanged device.
func (s Sighting) Same(other Sighting) bool {
	if s.ID != other.ID || !s.Endpoint.Equal(other.Endpoint) || s.ManifestPath != other.ManifestPath {
		return false
	}
	if len(s.Metadata) != len(other.Metadata) {
		return false
	}
	for k, v := range s.Metadata {
		if other.Metadata[k] != v {
			return false
		}
	}
	return true
}

// Event is what the listener emits to the rest of the gateway.
type Event struct {
	Type     EventType `json:"type"`
	Sighting Sighting  `json:"sighting"`
}
