// Package manifest models the capability documents devices serve from
// their well-known manifest endpoint.
//
// A manifest declares the actions a device exposes, the parameters each
// action accepts, and the hazards a caller must acknowledge before an
// action is dispatched. Parse is the only way to build a Manifest from
// wire data; it validates structure up front so the dispatcher can trust
// every schema it reads.
//
// Manifests are immutable after Parse. The registry replaces whole
// *Manifest pointers on refresh, which keeps concurrent readers
// consistent without copying.
//
// Hazard tags outside the known catalogue are preserved, not rejected;
// UnknownHazards surfaces them so operators can see what a newer device
// is declaring.
package manifest
