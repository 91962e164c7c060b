// Package ratelimit gates request admission with fixed-window counters.
//
// Every admission increments two independent buckets: one keyed by the
// principal and one keyed by the network origin. The origin bucket allows
// IPMultiplier times the principal limit since many principals may share an
// address. Limits come from the principal's role tier.
//
// Buckets live behind the Store interface. MemoryStore is correct only for a
// single process; RedisStore shares counters across instances.
//
// Config.Disabled bypasses enforcement entirely. It is intended for test
// environments and the limiter logs a warning when constructed with it.
package ratelimit
