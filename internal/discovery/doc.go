// Package discovery watches the local network for device announcements
// and turns them into a stream of appeared, updated and vanished events.
//
// The production transport is multicast DNS service browsing
// (DNSSDBrowser); the Listener supervises browse sessions, restarting
// failed ones with exponential backoff, and deduplicates repeated
// announcements so consumers only hear about actual changes.
//
// Announcements are normalised before anyone else sees them: the TXT
// "scheme" and "path" keys are applied (with defaults), an address is
// chosen (IPv4 preferred, then IPv6, then hostname) and any remaining
// TXT properties ride along as metadata.
//
// Events are delivered on a buffered channel and never block the
// network callback; under backpressure events are dropped and counted.
// The registry's staleness sweep compensates for any dropped vanish.
//
// Usage:
//
//	browser := discovery.NewDNSSDBrowser("_ascot._tcp", "local.", "/.well-known/ascot")
//	listener := discovery.NewListener(discovery.Options{Browser: browser})
//	go listener.Run(ctx)
//	for event := range listener.Events() {
//		// react to appearances, updates and departures
//	}
package discovery
