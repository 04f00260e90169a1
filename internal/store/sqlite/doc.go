// Package sqlite persists resource snapshots in SQLite.
//
// The store keeps two tables:
//   - resources: the latest snapshot per identity, document stored as
//     RFC 8785 canonical JSON including content_hash
//   - revisions: an append-only audit log of every committed hash
//
// Each mutation is written in one transaction, so the snapshot and its audit
// row are never out of step. Store implements store.Persister and is invoked
// while the in-memory entry lock is held.
//
// # Connection
//
//   - journal_mode=WAL so the CLI can read while another process writes
//   - synchronous=NORMAL
//   - busy_timeout=5000 (milliseconds)
//
// Revisions are ordered by seq (INTEGER AUTOINCREMENT), never by wall time.
package sqlite
