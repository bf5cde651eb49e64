package discovery

import "context"

// Browser runs one browse session against the local network and invokes
// the callbacks as devices come and go. Browse blocks until the session
// ends: a nil or context error means a clean shutdown, anything else is
// a session failure the listener may retry.
//
// Callbacks are invoked from the browser's goroutine and must not block.
type Browser interface {
	Browse(ctx context.Context, found func(Sighting), lost func(Sighting)) error
}
