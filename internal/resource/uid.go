package resource

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/roach88/peersync/internal/canon"
	"github.com/roach88/peersync/internal/errs"
)

// UIDGenerator assigns durable child identifiers.
type UIDGenerator interface {
	NewUID() (string, error)
}

// UUIDv7Generator generates time-sortable UUIDv7 child UIds.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// NewUID creates a new UUIDv7 as a hyphenated string.
func (UUIDv7Generator) NewUID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// AssignChildUIDs fills the missing child UIds of a publish document.
//
// A child without a UId adopts the UId of the prior child carrying the same
// public id, unless the document already claims that UId. Every other child
// without a UId gets a generated one and an advisory warning. prior is nil
// for a first publish.
func AssignChildUIDs(kind Kind, obj canon.Object, prior *Resource, gen UIDGenerator) (canon.Object, []string, error) {
	kind = kind.WithDefaults()
	v, ok := obj.Get(kind.ChildrenKey)
	if !ok {
		return obj, nil, nil
	}
	children, isArray := v.(canon.Array)
	if !isArray {
		return obj, nil, nil
	}

	claimed := make(map[string]struct{}, len(children))
	missing := false
	for _, elem := range children {
		child, isObject := elem.(canon.Object)
		if !isObject {
			continue
		}
		if uid, ok := child.GetString(kind.UIDKey); ok {
			claimed[uid] = struct{}{}
		} else if !child.Has(kind.UIDKey) {
			missing = true
		}
	}
	if !missing {
		return obj, nil, nil
	}

	known := make(map[string]string)
	if prior != nil {
		for _, c := range prior.Children {
			if c.PublicID == "" {
				continue
			}
			if _, dup := known[c.PublicID]; !dup {
				known[c.PublicID] = c.UID
			}
		}
	}

	var warnings []string
	out := make(canon.Array, len(children))
	for i, elem := range children {
		child, isObject := elem.(canon.Object)
		if !isObject || child.Has(kind.UIDKey) {
			out[i] = elem
			continue
		}

		if publicID, ok := child.GetString(kind.PublicIDKey); ok {
			if uid, found := known[publicID]; found {
				if _, taken := claimed[uid]; !taken {
					claimed[uid] = struct{}{}
					out[i] = child.With(kind.UIDKey, canon.String(uid))
					continue
				}
			}
		}

		uid, err := gen.NewUID()
		if err != nil {
			return canon.Object{}, nil, errs.Wrap(errs.CodeInvalidResource, err, "generate child uid")
		}
		claimed[uid] = struct{}{}
		out[i] = child.With(kind.UIDKey, canon.String(uid))
		warnings = append(warnings, fmt.Sprintf("%s[%d]: generated %s %s", kind.ChildrenKey, i, kind.UIDKey, uid))
	}
	return obj.With(kind.ChildrenKey, out), warnings, nil
}
