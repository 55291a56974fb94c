// Package attachment materializes per-crash attachment bundles on disk.
//
// A Manager sits between the tool/HTTP boundary and the cache store: on a
// miss it asks a DescriptorSource for the crash's archive URL and reported
// size, refuses anything over MaxArchiveSize, downloads the zip into memory,
// writes it into a staging directory as <crashID>-<epochMillis>.zip, extracts
// it there, removes the zip and atomically publishes the directory. Concurrent
// callers for the same crash ID wait on a per-ID lock and reuse the result.
// PurgeExpired removes bundles older than RetentionWindow; it never runs on
// its own and is triggered by the caller.
package attachment
