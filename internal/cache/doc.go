// Package cache persists processing results across requests and restarts.
//
// Entries are keyed by Fingerprint, which depends only on the resolved
// resource id and the set of modifiers. Fetch serves fresh entries and
// recomputes stale or missing ones while holding a per-key lock, so a
// fingerprint is written at most once per freshness window.
//
// Two stores are provided: DiskStore, a sharded directory of data files with
// CBOR metadata sidecars and optional zstd compression, and RedisStore.
package cache
