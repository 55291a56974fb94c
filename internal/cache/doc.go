// Package cache defines the disk-backed store that maps a crash database and a
// numeric crash ID onto StoragePath/<database>/<crashID>/ bundle directories.
// A bundle is either absent or complete: population happens in a hidden
// staging directory that is renamed into place only after extraction
// finishes, so readers never observe a partially written bundle. The store
// also carries the per-crash lock map used to collapse concurrent populations
// of the same crash, and the retention policy the evictor applies to bundle
// creation times. Network access lives elsewhere (internal/attachment).
package cache
