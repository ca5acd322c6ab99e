// Package objcache memoizes serialized entity snapshots with per-entry
// expiration over a pluggable byte Storage.
//
// Entries are CBOR envelopes recording the write time and TTL; large
// envelopes are zstd compressed. An expired entry reads exactly like a miss
// and is evicted lazily. Expiration is measured from the write only.
package objcache
