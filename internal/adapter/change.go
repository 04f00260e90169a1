package adapter

import (
	"fmt"

	"github.com/roach88/peersync/internal/resource"
)

// Op is the kind of change pushed.
type Op string

const (
	OpPublish     Op = "publish"
	OpPatch       Op = "patch"
	OpSetChild    Op = "set_child"
	OpRemoveChild Op = "remove_child"
)

// ParseOp validates an op name.
func ParseOp(s string) (Op, error) {
	switch op := Op(s); op {
	case OpPublish, OpPatch, OpSetChild, OpRemoveChild:
		return op, nil
	}
	return "", fmt.Errorf("unknown op %q (want publish, patch, set_child or remove_child)", s)
}

// Change is one item to push.
type Change struct {
	Op Op

	// Kind names the resource kind; empty selects the adapter's default kind.
	Kind string

	// Target addresses the resource. Publish derives it from the document.
	Target resource.Identity

	// UID addresses the child of a remove_child.
	UID string

	// Object is the domain object: full document, patch document or child.
	Object any

	// AllowDowngrade admits explicit timestamps older than the stored one.
	AllowDowngrade bool
}

func (c Change) target() string {
	if c.Target == (resource.Identity{}) {
		return ""
	}
	return c.Target.String()
}
