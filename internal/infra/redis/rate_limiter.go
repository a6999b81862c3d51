package redis

import (
	"context"
	"time"
)

// RateLimiter caps how many messages a user may submit per window. Fixed
// window: one counter per key, the first hit of a window arms its expiry
// and the count resets when the key does.
type RateLimiter struct {
	cli *Client
}

func NewRateLimiter(cli *Client) *RateLimiter {
	return &RateLimiter{cli: cli}
}

// Allow counts one submission against key and reports whether it still fits
// the limit. Counting is not rolled back on a denied submission; a user at
// the cap stays at the cap until the window expires.
func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	n, err := r.cli.Incr(ctx, key)
	if err != nil {
		return false, err
	}
	if n == 1 {
		if err := r.cli.Expire(ctx, key, window); err != nil {
			return false, err
		}
	}
	return n <= int64(limit), nil
}
