// Package rendercache keeps recently produced render artifacts in memory so
// repeated previews, probes, and segment renders can be skipped.
//
// # Tables
//
// Three independent tables hold frame previews (keyed by PreviewKey), probed
// media metadata (keyed by source path), and rendered segment records (keyed by
// a settings hash). Each table is a bounded LRU: Get promotes an entry and an
// insert past capacity evicts the least recently used one. Every entry also
// expires after its table's TTL; an expired hit is evicted and counted as a
// miss.
//
// # Memory
//
// After every store the cache estimates its footprint and, when above
// max_memory_mb, drops expired entries from all tables. Capacity eviction and
// TTL cleanup are independent.
//
// A single Cache is safe for concurrent use by many pipelines. Each table has
// its own lock, so a write to one kind never blocks reads of another.
package rendercache
