package mqtt

import "strings"

// DefaultPrefix is the topic prefix used when none is configured.
const DefaultPrefix = "ascot"

// Topic leaves under <prefix>/devices/<id>/.
const (
	leafStatus  = "status"
	leafCommand = "command"
	leafResult  = "result"
)

// Topics provides builders for the gateway's MQTT topics. Using these
// helpers keeps topic naming consistent across the codebase.
//
// The scheme is flat and narrow:
//
//	<prefix>/gateway/status          gateway presence (retained, LWT)
//	<prefix>/devices/<id>/status     device record snapshot (retained)
//	<prefix>/devices/<id>/command    command ingress for automations
//	<prefix>/devices/<id>/result     dispatch outcomes
//
// The zero value uses DefaultPrefix.
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultPrefix
	}
	return t.Prefix
}

// GatewayStatus returns the retained gateway presence topic. This is
// also the LWT topic, so subscribers can tell a crash from a graceful
// shutdown by the payload's reason field.
func (t Topics) GatewayStatus() string {
	return t.prefix() + "/gateway/status"
}

// DeviceStatus returns the retained status topic for one device.
func (t Topics) DeviceStatus(id string) string {
	return t.prefix() + "/devices/" + SanitiseLevel(id) + "/" + leafStatus
}

// DeviceCommand returns the command ingress topic for one device.
func (t Topics) DeviceCommand(id string) string {
	return t.prefix() + "/devices/" + SanitiseLevel(id) + "/" + leafCommand
}

// DeviceCommands returns the wildcard subscription matching every
// device's command topic.
func (t Topics) DeviceCommands() string {
	return t.prefix() + "/devices/+/" + leafCommand
}

// DeviceResult returns the dispatch result topic for one device.
func (t Topics) DeviceResult(id string) string {
	return t.prefix() + "/devices/" + SanitiseLevel(id) + "/" + leafResult
}

// ParseDeviceTopic splits a device topic into its identity level and
// leaf. It returns ok=false when the topic is not under this prefix's
// devices branch or does not have exactly four levels.
func (t Topics) ParseDeviceTopic(topic string) (id, leaf string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 {
		return "", "", false
	}
	if parts[0] != t.prefix() || parts[1] != "devices" || parts[2] == "" {
		return "", "", false
	}
	return parts[2], parts[3], true
}

// SanitiseLevel makes a device identity safe to use as a single topic
// level. mDNS instance names may contain characters that are reserved
// in MQTT topics; those are replaced with underscores. The mapping is
// stable but not reversible, so consumers should treat the level as an
// opaque key and read the identity from payloads.
func SanitiseLevel(id string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '+', '#':
			return '_'
		default:
			return r
		}
	}, id)
}
