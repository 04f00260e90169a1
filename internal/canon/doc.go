// Package canon provides the canonical value tree used for resources and
// partial-update documents.
//
// This package sits at the bottom of the dependency graph: every other
// internal package imports canon; canon imports nothing internal.
//
// Key constraints:
//   - Values are immutable. Object.With and Object.Without return new objects.
//   - Objects preserve insertion (document) order; canonical serialization
//     ignores it and sorts keys by UTF-16 code units (RFC 8785).
//   - No float type. Decimal quantities travel as strings.
//   - Null only appears in patch documents. Canonical serialization rejects it.
package canon
