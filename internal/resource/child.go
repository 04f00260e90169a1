package resource

import (
	"time"

	"github.com/roach88/peersync/internal/canon"
	"github.com/roach88/peersync/internal/errs"
	"github.com/roach88/peersync/internal/version"
)

// Child is a resource owned by exactly one top-level resource, keyed by a
// durable UId unique within its parent.
type Child struct {
	UID         string
	PublicID    string
	Status      string
	LastUpdated time.Time
	Detail      canon.Object
}

// Canonical renders the child as one Object: uid, public id, status,
// last_updated, then the detail fields in document order.
func (c Child) Canonical(kind Kind) canon.Object {
	kind = kind.WithDefaults()
	pairs := []canon.Pair{canon.F(kind.UIDKey, canon.String(c.UID))}
	if c.PublicID != "" {
		pairs = append(pairs, canon.F(kind.PublicIDKey, canon.String(c.PublicID)))
	}
	if c.Status != "" {
		pairs = append(pairs, canon.F(KeyStatus, canon.String(c.Status)))
	}
	if !c.LastUpdated.IsZero() {
		pairs = append(pairs, canon.F(KeyLastUpdated, canon.String(version.Format(c.LastUpdated))))
	}
	c.Detail.Range(func(k string, v canon.Value) bool {
		pairs = append(pairs, canon.F(k, v))
		return true
	})
	return canon.NewObject(pairs...)
}

// ChildFromObject decodes a child from its canonical Object.
func ChildFromObject(kind Kind, obj canon.Object) (Child, error) {
	kind = kind.WithDefaults()
	b := NewChildBuilder(kind, "")
	var err error

	obj.Range(func(k string, v canon.Value) bool {
		switch k {
		case kind.UIDKey, kind.PublicIDKey, KeyStatus, KeyLastUpdated:
			s, ok := v.(canon.String)
			if !ok {
				err = &errs.Error{
					Code:    errs.CodeInvalidResource,
					Message: "child key must be a string, got " + canon.TypeName(v),
					Field:   k,
				}
				return false
			}
			switch k {
			case kind.UIDKey:
				b.UID(string(s))
			case kind.PublicIDKey:
				b.PublicID(string(s))
			case KeyStatus:
				b.Status(string(s))
			default:
				ts, perr := version.Parse(string(s))
				if perr != nil {
					err = &errs.Error{Code: errs.CodeInvalidResource, Message: "child timestamp is not RFC 3339", Field: k, Err: perr}
					return false
				}
				b.LastUpdated(ts)
			}
		default:
			b.Detail(k, v)
		}
		return true
	})
	if err != nil {
		return Child{}, err
	}
	return b.Build()
}

// ChildBuilder assembles a Child and validates it on Build.
type ChildBuilder struct {
	kind  Kind
	child Child
	pairs []canon.Pair
}

// NewChildBuilder starts a child with the given UId.
func NewChildBuilder(kind Kind, uid string) *ChildBuilder {
	return &ChildBuilder{kind: kind.WithDefaults(), child: Child{UID: uid}}
}

// UID sets the durable identifier.
func (b *ChildBuilder) UID(uid string) *ChildBuilder {
	b.child.UID = uid
	return b
}

// PublicID sets the public identifier.
func (b *ChildBuilder) PublicID(id string) *ChildBuilder {
	b.child.PublicID = id
	return b
}

// Status sets the status field.
func (b *ChildBuilder) Status(status string) *ChildBuilder {
	b.child.Status = status
	return b
}

// LastUpdated sets the child's timestamp.
func (b *ChildBuilder) LastUpdated(ts time.Time) *ChildBuilder {
	b.child.LastUpdated = ts.UTC()
	return b
}

// Detail appends a nested detail field.
func (b *ChildBuilder) Detail(key string, v canon.Value) *ChildBuilder {
	b.pairs = append(b.pairs, canon.F(key, v))
	return b
}

// Build validates and returns the child.
func (b *ChildBuilder) Build() (Child, error) {
	c := b.child
	if c.UID == "" {
		return Child{}, &errs.Error{Code: errs.CodeInvalidResource, Message: "child requires a uid", Field: b.kind.UIDKey}
	}
	detail := canon.NewObject(b.pairs...)
	var err error
	detail.Range(func(k string, v canon.Value) bool {
		switch k {
		case b.kind.UIDKey, b.kind.PublicIDKey, KeyStatus, KeyLastUpdated:
			err = &errs.Error{Code: errs.CodeInvalidResource, Message: "detail field shadows a child key", Field: k}
			return false
		}
		if path, found := findNull(v, k); found {
			err = &errs.Error{Code: errs.CodeInvalidResource, Message: "child detail holds a null", Field: path}
			return false
		}
		return true
	})
	if err != nil {
		return Child{}, err
	}
	c.Detail = detail
	return c, nil
}
