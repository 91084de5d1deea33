package harnessports

import "time"

// Cache is a keyed, expiring store for derived values.
type Cache[V any] interface {
	Get(key string) (V, bool)
	Set(key string, value V, ttl time.Duration)
	Delete(key string)
	Clear()
}
