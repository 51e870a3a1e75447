package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// FixedWindow counts requests in discrete, non-overlapping time buckets
// held in the shared store. Each bucket is its own key; rollover is simply
// a new key and old buckets expire on their own.
type FixedWindow struct {
	store Store
	grace time.Duration
}

func NewFixedWindow(store Store, grace time.Duration) *FixedWindow {
	if grace <= 0 {
		grace = 5 * time.Second
	}
	return &FixedWindow{
		store: store,
		grace: grace,
	}
}

// Allow increments the counter for the identifier's current window bucket
// and decides whether the request is within the policy's limit. The bucket
// ttl is window + grace so requests racing a boundary still land in a live
// key.
func (f *FixedWindow) Allow(ctx context.Context, p Policy, identifier string, now time.Time) (Decision, error) {
	windowStart := now.Truncate(p.Window)
	key := fmt.Sprintf("ratelimit:%s:%s:%d", p.Scope, identifier, windowStart.Unix())

	count, err := f.store.IncrWindow(ctx, key, p.Window+f.grace)
	if err != nil {
		return Decision{}, err
	}

	remaining := p.Limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return Decision{
		Allowed:   count <= int64(p.Limit),
		Limit:     p.Limit,
		Remaining: remaining,
		Reset:     windowStart.Add(p.Window),
	}, nil
}
