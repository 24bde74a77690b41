package cache

import "io"

// Backend is a raw key-value store with an absolute hard expiry per key.
// Backends never return errors to the caller. They log and behave as a
// miss instead.
type Backend interface {
	// Get returns the stored value.
	// ok is false if key is not found or its hard expiry has passed.
	Get(key string) (v []byte, ok bool)

	// Store stores v until expire, a unix timestamp in NANOSECONDS.
	// v will be copied by the backend.
	Store(key string, v []byte, expire int64)

	// Del removes key. It is a no-op if key is not found.
	Del(key string)

	// Keys returns stored keys that have the given prefix. It may include
	// keys whose hard expiry has passed but that were not cleaned yet.
	Keys(prefix string) []string

	Len() int

	io.Closer
}
