// Package querykv implements the query store façade: the KV contract, the
// save/load paths with diff-and-cascade-delete reference counting, the
// per-query-definition LRU activation queue, and both a direct (sync) and
// single-writer-mailbox (async) variant.
package querykv

// Backend is the concrete persistent KV surface a Store is built on: the
// core defines this interface only. Concrete implementations (disk,
// embedded KV, in-memory) are external collaborators supplied by the
// caller.
type Backend interface {
	GetString(key string) (string, bool)
	SetString(key, value string)

	GetNumber(key string) (float64, bool)
	SetNumber(key string, value float64)

	GetU32Slice(key string) ([]uint32, bool)
	SetU32Slice(key string, value []uint32)

	Delete(key string)
}
