// Package resource defines the synchronized data model: identities, kinds,
// top-level resources and their children.
//
// A Resource is a value. The store hands out snapshots and replaces them
// wholesale on every mutation; nothing in this package mutates a Resource or
// Child after it has been built. Children slices are shared between
// snapshots and must be treated as read-only by every holder.
package resource
