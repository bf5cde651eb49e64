// Package api provides the HTTP JSON API and WebSocket server the
// operator panel consumes.
//
// The panel's rendering and session machinery live outside the gateway;
// this package is only the thin surface it reads and writes:
//
//	GET    /api/v1/health                         gateway status
//	GET    /api/v1/devices                        registry snapshot
//	GET    /api/v1/devices/{id}                   one record incl. manifest
//	DELETE /api/v1/devices/{id}                   operator removal
//	POST   /api/v1/devices/{id}/actions/{action}  command dispatch
//	GET    /api/v1/ws                             event stream
//
// The server follows the same lifecycle pattern as the other
// infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// There is no authentication on this surface: the gateway assumes a
// trusted local network, matching its device-facing trust model.
//
// Thread Safety: all methods are safe for concurrent use.
package api
