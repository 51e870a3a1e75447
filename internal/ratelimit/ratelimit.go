package ratelimit

import (
	"context"
	"time"
)

// Store is the counter store contract. Implementations must make the
// increment and the conditional expiry a single atomic round trip so that
// concurrent gateway replicas never lose an update.
type Store interface {
	IncrWindow(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Scopes for rate-limit policies.
const (
	ScopeIP   = "ip"
	ScopeUser = "user"
)

// Policy is one enforced limit: at most Limit requests per Window for a
// given identifier within the scope.
type Policy struct {
	Scope  string
	Limit  int
	Window time.Duration
}

// Decision is the outcome of checking one policy for one request.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

// RetryAfter returns how long until the window that produced this decision
// resets. Never less than a second, so a 429 always tells the client to
// back off by a positive amount.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	until := d.Reset.Sub(now)
	if until < time.Second {
		return time.Second
	}
	return until
}
