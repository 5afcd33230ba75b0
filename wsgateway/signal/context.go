package signal

import (
	"context"

	"golang.org/x/time/rate"
)

// sessContext is the per-connection state shared by all method handlers.
// The handler is single threaded per connection, no lock needed.
type sessContext struct {
	connID string
	userID string
	roomID string
	joined bool

	reqCtx   context.Context
	rlimiter *rate.Limiter
}
