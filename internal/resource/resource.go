package resource

import (
	"fmt"
	"time"

	"github.com/roach88/peersync/internal/canon"
	"github.com/roach88/peersync/internal/errs"
	"github.com/roach88/peersync/internal/integrity"
	"github.com/roach88/peersync/internal/version"
)

// Resource is a top-level synchronized resource snapshot.
type Resource struct {
	Kind        Kind
	Identity    Identity
	Fields      canon.Object
	Children    []Child
	LastUpdated time.Time
	ContentHash string
}

// Canonical returns the hash input: identity, fields, the child collection
// and last_updated. The content hash is not part of its own input.
func (r Resource) Canonical() canon.Object {
	kind := r.Kind.WithDefaults()
	pairs := make([]canon.Pair, 0, r.Fields.Len()+4)
	pairs = append(pairs,
		canon.F(KeyPartyID, canon.String(r.Identity.PartyID)),
		canon.F(KeyID, canon.String(r.Identity.ID)),
	)
	r.Fields.Range(func(k string, v canon.Value) bool {
		pairs = append(pairs, canon.F(k, v))
		return true
	})
	children := make(canon.Array, len(r.Children))
	for i, c := range r.Children {
		children[i] = c.Canonical(kind)
	}
	pairs = append(pairs, canon.F(kind.ChildrenKey, children))
	if !r.LastUpdated.IsZero() {
		pairs = append(pairs, canon.F(KeyLastUpdated, canon.String(version.Format(r.LastUpdated))))
	}
	return canon.NewObject(pairs...)
}

// Document returns the canonical form plus content_hash, as delivered to a
// peer and persisted.
func (r Resource) Document() canon.Object {
	doc := r.Canonical()
	if r.ContentHash != "" {
		doc = doc.With(KeyContentHash, canon.String(r.ContentHash))
	}
	return doc
}

// ComputeHash hashes the canonical form under the kind's domain.
func (r Resource) ComputeHash() (string, error) {
	h, err := integrity.Hash(r.Kind.WithDefaults().Name, r.Canonical())
	if err != nil {
		return "", fmt.Errorf("resource %s: %w", r.Identity, err)
	}
	return h, nil
}

// Seal returns r with ContentHash recomputed.
func (r Resource) Seal() (Resource, error) {
	h, err := r.ComputeHash()
	if err != nil {
		return Resource{}, err
	}
	r.ContentHash = h
	return r, nil
}

// SameContent reports whether r and other carry equal fields and children,
// ignoring timestamps and hashes.
func (r Resource) SameContent(other Resource) bool {
	if r.Identity != other.Identity || !canon.Equal(r.Fields, other.Fields) || len(r.Children) != len(other.Children) {
		return false
	}
	kind := r.Kind.WithDefaults()
	for i := range r.Children {
		if !canon.Equal(r.Children[i].Canonical(kind), other.Children[i].Canonical(kind)) {
			return false
		}
	}
	return true
}

// Child looks a child up by UId, then by public id. A UId match wins over
// another child's equal public id.
func (r Resource) Child(ref string) (Child, bool) {
	if ref == "" {
		return Child{}, false
	}
	for _, c := range r.Children {
		if c.UID == ref {
			return c, true
		}
	}
	for _, c := range r.Children {
		if c.PublicID == ref {
			return c, true
		}
	}
	return Child{}, false
}

// FromObject decodes a full resource document of kind. A content_hash in
// obj is ignored; the hash is always recomputed. A missing last_updated
// leaves LastUpdated zero so that the version guard assigns one.
func FromObject(kind Kind, obj canon.Object) (Resource, error) {
	kind = kind.WithDefaults()
	party, _ := obj.GetString(KeyPartyID)
	id, _ := obj.GetString(KeyID)
	b := NewBuilder(kind, Identity{PartyID: party, ID: id})

	if v, ok := obj.Get(KeyLastUpdated); ok {
		s, isString := v.(canon.String)
		if !isString {
			return Resource{}, &errs.Error{Code: errs.CodeInvalidResource, Message: "timestamp must be a string", Field: KeyLastUpdated}
		}
		ts, err := version.Parse(string(s))
		if err != nil {
			return Resource{}, &errs.Error{Code: errs.CodeInvalidResource, Message: "timestamp is not RFC 3339", Field: KeyLastUpdated, Err: err}
		}
		b.LastUpdated(ts)
	}

	if v, ok := obj.Get(kind.ChildrenKey); ok {
		arr, isArray := v.(canon.Array)
		if !isArray {
			return Resource{}, &errs.Error{Code: errs.CodeInvalidResource, Message: "child collection must be an array", Field: kind.ChildrenKey}
		}
		for i, elem := range arr {
			childObj, isObject := elem.(canon.Object)
			if !isObject {
				return Resource{}, &errs.Error{
					Code:    errs.CodeInvalidResource,
					Message: fmt.Sprintf("child %d must be an object, got %s", i, canon.TypeName(elem)),
					Field:   kind.ChildrenKey,
				}
			}
			c, err := ChildFromObject(kind, childObj)
			if err != nil {
				return Resource{}, err
			}
			b.Child(c)
		}
	}

	obj.Range(func(k string, v canon.Value) bool {
		if !kind.reserved(k) {
			b.Field(k, v)
		}
		return true
	})
	return b.Build()
}

// Builder assembles a Resource and validates it on Build.
type Builder struct {
	kind        Kind
	identity    Identity
	fields      []canon.Pair
	children    []Child
	lastUpdated time.Time
}

// NewBuilder starts a resource of kind with the given identity.
func NewBuilder(kind Kind, id Identity) *Builder {
	return &Builder{kind: kind.WithDefaults(), identity: id}
}

// Field appends a top-level field.
func (b *Builder) Field(key string, v canon.Value) *Builder {
	b.fields = append(b.fields, canon.F(key, v))
	return b
}

// Fields appends every field of obj in document order.
func (b *Builder) Fields(obj canon.Object) *Builder {
	obj.Range(func(k string, v canon.Value) bool {
		b.fields = append(b.fields, canon.F(k, v))
		return true
	})
	return b
}

// Child appends a child.
func (b *Builder) Child(c Child) *Builder {
	b.children = append(b.children, c)
	return b
}

// LastUpdated sets the resource timestamp.
func (b *Builder) LastUpdated(ts time.Time) *Builder {
	b.lastUpdated = ts.UTC()
	return b
}

// Build validates the resource and computes its content hash.
func (b *Builder) Build() (Resource, error) {
	target := b.identity.String()
	if err := b.kind.Validate(); err != nil {
		return Resource{}, err
	}
	if err := b.identity.Validate(); err != nil {
		return Resource{}, err
	}

	fields := canon.NewObject(b.fields...)
	var err *errs.Error
	fields.Range(func(k string, v canon.Value) bool {
		switch {
		case b.kind.reserved(k):
			err = &errs.Error{Code: errs.CodeInvalidResource, Message: "field is reserved", Field: k}
		case !b.kind.allows(k):
			err = errs.UnknownField(k)
		default:
			if path, found := findNull(v, k); found {
				err = &errs.Error{Code: errs.CodeInvalidResource, Message: "stored fields may not hold null", Field: path}
			}
		}
		return err == nil
	})
	if err != nil {
		return Resource{}, err.WithTarget(target)
	}

	seen := make(map[string]struct{}, len(b.children))
	for _, c := range b.children {
		if c.UID == "" {
			return Resource{}, (&errs.Error{Code: errs.CodeInvalidResource, Message: "child requires a uid", Field: b.kind.UIDKey}).WithTarget(target)
		}
		if _, dup := seen[c.UID]; dup {
			return Resource{}, errs.New(errs.CodeInvalidResource, "duplicate child uid %q", c.UID).WithTarget(target)
		}
		seen[c.UID] = struct{}{}
	}

	r := Resource{
		Kind:        b.kind,
		Identity:    b.identity,
		Fields:      fields,
		Children:    append([]Child(nil), b.children...),
		LastUpdated: b.lastUpdated,
	}
	return r.Seal()
}

// findNull returns the dotted path of the first Null inside v.
func findNull(v canon.Value, path string) (string, bool) {
	switch tv := v.(type) {
	case canon.Null:
		return path, true
	case canon.Array:
		for _, elem := range tv {
			if p, found := findNull(elem, path); found {
				return p, true
			}
		}
	case canon.Object:
		var (
			hit   string
			found bool
		)
		tv.Range(func(k string, child canon.Value) bool {
			hit, found = findNull(child, path+"."+k)
			return !found
		})
		return hit, found
	}
	return "", false
}
