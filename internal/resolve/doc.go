// Package resolve fetches capability manifests from announced device
// endpoints.
//
// A device announcement only says where a device lives; the resolver
// asks the device what it can do by fetching its manifest over HTTP.
// Transient problems (the device is booting, flaky WiFi, a 5xx) are
// retried with exponential backoff; a device that answers with garbage
// or a 4xx is reported immediately as a manifest.MalformedError so the
// gateway does not hammer a broken endpoint.
package resolve
