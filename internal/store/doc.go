// Package store holds the authoritative in-memory state of every published
// resource.
//
// CONCURRENCY MODEL:
//   - identity → entry mapping is a sync.Map; lookups never block
//   - each entry owns exactly one lock guarding fields, children, timestamp
//     and hash; a writer holds at most one entry lock at a time
//   - lock acquisition is bounded by the configured timeout and the caller's
//     context; expiry is reported as LOCK_TIMEOUT, which is retryable
//   - once acquired, a transaction runs to completion; the caller's
//     cancellation is not propagated into it
//   - snapshots are published atomically after the new state, including its
//     content hash, is fully computed; readers never observe a partial write
//
// Every mutation is copy-on-write. A Resource returned by Get, List or a
// Mutation is never modified afterwards.
package store
