package harnessports

import "context"

// RateLimiter bounds how many turns a key (user) may start.
type RateLimiter interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}
