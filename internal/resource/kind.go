package resource

import (
	"github.com/roach88/peersync/internal/errs"
	"github.com/roach88/peersync/internal/patch"
)

// DefaultKindName is the kind used when none is configured.
const DefaultKindName = "facility"

// Kind describes how one resource type is laid out on the wire.
type Kind struct {
	// Name identifies the kind and selects the hash domain.
	Name string

	// ChildrenKey is the field holding the child collection.
	ChildrenKey string

	// UIDKey is the child field carrying the durable child identifier.
	UIDKey string

	// PublicIDKey is the child field carrying the optional public identifier.
	PublicIDKey string

	// Protected lists extra top-level fields patches may not touch.
	Protected []string

	// Fields, when non-empty, closes the field set of the kind.
	Fields []string
}

// DefaultKind returns the facility kind with default keys.
func DefaultKind() Kind {
	return Kind{Name: DefaultKindName}.WithDefaults()
}

// WithDefaults fills empty keys with their defaults.
func (k Kind) WithDefaults() Kind {
	if k.Name == "" {
		k.Name = DefaultKindName
	}
	if k.ChildrenKey == "" {
		k.ChildrenKey = "children"
	}
	if k.UIDKey == "" {
		k.UIDKey = "uid"
	}
	if k.PublicIDKey == "" {
		k.PublicIDKey = "public_id"
	}
	return k
}

// Validate checks that the layout keys do not collide with reserved keys.
func (k Kind) Validate() error {
	k = k.WithDefaults()
	switch k.ChildrenKey {
	case KeyPartyID, KeyID, KeyLastUpdated, KeyContentHash:
		return errs.New(errs.CodeInvalidResource, "kind %s: children key %q is reserved", k.Name, k.ChildrenKey)
	}
	if k.UIDKey == k.PublicIDKey {
		return errs.New(errs.CodeInvalidResource, "kind %s: uid and public id keys must differ", k.Name)
	}
	for _, key := range []string{k.UIDKey, k.PublicIDKey} {
		if key == KeyStatus || key == KeyLastUpdated {
			return errs.New(errs.CodeInvalidResource, "kind %s: child key %q is reserved", k.Name, key)
		}
	}
	return nil
}

// ProtectedKeys returns every top-level key a patch may not address:
// identity, the child collection, the content hash and the kind's extras.
func (k Kind) ProtectedKeys() patch.Protected {
	k = k.WithDefaults()
	keys := append([]string{KeyPartyID, KeyID, k.ChildrenKey, KeyContentHash}, k.Protected...)
	return patch.Protect(keys...)
}

// PatchOptions returns the patch options implied by the kind.
func (k Kind) PatchOptions() []patch.Option {
	if len(k.Fields) == 0 {
		return nil
	}
	return []patch.Option{patch.AllowOnly(k.Fields...)}
}

func (k Kind) allows(field string) bool {
	if len(k.Fields) == 0 {
		return true
	}
	for _, f := range k.Fields {
		if f == field {
			return true
		}
	}
	return false
}

// reserved reports keys the Resource carries outside its field object.
func (k Kind) reserved(key string) bool {
	switch key {
	case KeyPartyID, KeyID, KeyLastUpdated, KeyContentHash, k.ChildrenKey:
		return true
	}
	return false
}
