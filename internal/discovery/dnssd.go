package discovery

import (
	"context"
	"net"
	"strings"

	"github.com/brutella/dnssd"
)

// TXT record keys understood by the gateway. Anything else announced by
// a device is carried along untouched as sighting metadata.
const (
	txtKeyScheme = "scheme"
	txtKeyPath   = "path"
)

// DNSSDBrowser discovers devices through multicast DNS service browsing.
// It is the production Browser; tests substitute their own.
type DNSSDBrowser struct {
	// Service is the service type to browse for, e.g. "_ascot._tcp".
	Service string

	// Domain is the browse domain, normally "local.".
	Domain string

	// DefaultPath is used when an announcement carries no "path" TXT key.
	DefaultPath string

	logger Logger
}

// NewDNSSDBrowser returns a browser for the given service type and domain.
func NewDNSSDBrowser(service, domain, defaultPath string) *DNSSDBrowser {
	return &DNSSDBrowser{
		Service:     service,
		Domain:      domain,
		DefaultPath: defaultPath,
		logger:      &noopLogger{},
	}
}

// SetLogger sets the logger used for discarded announcements.
func (b *DNSSDBrowser) SetLogger(logger Logger) {
	if logger != nil {
		b.logger = logger
	}
}

// Browse runs one mDNS browse session until ctx is cancelled or the
// underlying responder fails. Announcements are normalised into
// sightings before the callbacks see them.
func (b *DNSSDBrowser) Browse(ctx context.Context, found func(Sighting), lost func(Sighting)) error {
	add := func(entry dnssd.BrowseEntry) {
		s, ok := b.normalise(entry)
		if !ok {
			b.logger.Debug("ignoring announcement without usable address", "instance", entry.Name)
			return
		}
		found(s)
	}
	rmv := func(entry dnssd.BrowseEntry) {
		s, _ := b.normalise(entry)
		if s.ID == "" {
			return
		}
		lost(s)
	}

	err := dnssd.LookupType(ctx, b.serviceType(), add, rmv)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// serviceType assembles the fully qualified browse type,
// e.g. "_ascot._tcp.local.".
func (b *DNSSDBrowser) serviceType() string {
	service := strings.TrimSuffix(b.Service, ".")
	domain := strings.TrimSuffix(b.Domain, ".")
	return service + "." + domain + "."
}

// normalise turns a raw browse entry into a sighting. It reports false
// when the entry carries no address at all; the instance name alone is
// still returned so removals can be matched.
func (b *DNSSDBrowser) normalise(entry dnssd.BrowseEntry) (Sighting, bool) {
	s := Sighting{
		ID:           entry.Name,
		ManifestPath: b.DefaultPath,
	}

	s.Endpoint.Scheme = "http"
	s.Endpoint.Port = entry.Port

	metadata := make(map[string]string)
	for key, value := range entry.Text {
		switch key {
		case txtKeyScheme:
			if value != "" {
				s.Endpoint.Scheme = strings.ToLower(value)
			}
		case txtKeyPath:
			if value != "" {
				s.ManifestPath = value
			}
		default:
			metadata[key] = value
		}
	}
	if len(metadata) > 0 {
		s.Metadata = metadata
	}
	if !strings.HasPrefix(s.ManifestPath, "/") {
		s.ManifestPath = "/" + s.ManifestPath
	}

	host, ok := pickHost(entry)
	if !ok {
		return s, false
	}
	s.Endpoint.Host = host
	return s, true
}

// pickHost chooses the address the gateway will talk to. IPv4 wins over
// IPv6 (bracketed for URL use); the announced hostname is the fallback.
func pickHost(entry dnssd.BrowseEntry) (string, bool) {
	var v6 net.IP
	for _, ip := range entry.IPs {
		if ip == nil {
			continue
		}
		if ip.To4() != nil {
			return ip.String(), true
		}
		if v6 == nil {
			v6 = ip
		}
	}
	if v6 != nil {
		return "[" + v6.String() + "]", true
	}
	host := strings.TrimSuffix(entry.Host, ".")
	if host == "" {
		return "", false
	}
	return host, true
}
