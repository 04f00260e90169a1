// Package patch applies merge-patch documents to canonical resources.
//
// Apply is a pure function: it never mutates its inputs and either returns a
// fully merged result or an error together with the unchanged current value.
//
// Semantics per top-level entry, in document order:
//   - protected key: abort the whole operation with FIELD_PROTECTED
//   - null: remove the key (no-op when absent)
//   - object onto object: merge recursively
//   - object onto anything else: replace wholesale, dropping nested nulls
//   - anything else: replace verbatim (arrays are replaced, never merged)
package patch

import (
	"github.com/roach88/peersync/internal/canon"
	"github.com/roach88/peersync/internal/errs"
)

// Protected is a set of top-level keys a patch may not touch.
type Protected map[string]struct{}

// Protect builds a Protected set.
func Protect(keys ...string) Protected {
	p := make(Protected, len(keys))
	for _, k := range keys {
		p[k] = struct{}{}
	}
	return p
}

// Contains reports whether key is protected.
func (p Protected) Contains(key string) bool {
	_, ok := p[key]
	return ok
}

// Option configures Apply.
type Option func(*config)

type config struct {
	allowed map[string]struct{}
}

// AllowOnly closes the field set: a patch key that is neither listed nor
// already present in the current resource fails with UNKNOWN_FIELD.
func AllowOnly(fields ...string) Option {
	return func(c *config) {
		c.allowed = make(map[string]struct{}, len(fields))
		for _, f := range fields {
			c.allowed[f] = struct{}{}
		}
	}
}

// Apply merges doc onto current. On error current is returned unmodified.
func Apply(current canon.Object, doc canon.Value, protected Protected, opts ...Option) (canon.Object, error) {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	patchDoc, ok := doc.(canon.Object)
	if !ok {
		return current, errs.New(errs.CodeMalformedPatch, "patch must be an object, got %s", canon.TypeName(doc))
	}

	if err := check(current, patchDoc, protected, cfg); err != nil {
		return current, err
	}

	return merge(current, patchDoc), nil
}

// check validates every entry before anything is merged, so a failure never
// leaves a partially applied result behind.
func check(current, doc canon.Object, protected Protected, cfg *config) error {
	var err error
	doc.Range(func(key string, value canon.Value) bool {
		if protected.Contains(key) {
			err = errs.FieldProtected(key)
			return false
		}
		if cfg.allowed != nil && !current.Has(key) {
			if _, ok := cfg.allowed[key]; !ok {
				err = errs.UnknownField(key)
				return false
			}
		}
		if path, found := nullInArray(value, key); found {
			err = &errs.Error{
				Code:    errs.CodeMalformedPatch,
				Message: "null is only allowed as an object member",
				Field:   path,
			}
			return false
		}
		return true
	})
	return err
}

// nullInArray finds a null element nested anywhere inside an array.
func nullInArray(v canon.Value, path string) (string, bool) {
	switch val := v.(type) {
	case canon.Array:
		for _, elem := range val {
			if _, isNull := elem.(canon.Null); isNull {
				return path, true
			}
			if p, found := nullInArray(elem, path); found {
				return p, true
			}
		}
	case canon.Object:
		var (
			hit   string
			found bool
		)
		val.Range(func(k string, elem canon.Value) bool {
			hit, found = nullInArray(elem, path+"."+k)
			return !found
		})
		return hit, found
	}
	return "", false
}

func merge(target, doc canon.Object) canon.Object {
	out := target
	doc.Range(func(key string, value canon.Value) bool {
		switch v := value.(type) {
		case canon.Null:
			out = out.Without(key)
		case canon.Object:
			existing, ok := out.GetObject(key)
			if !ok {
				// Wholesale replacement; merging onto an empty object drops
				// nested removal markers.
				existing = canon.Object{}
			}
			out = out.With(key, merge(existing, v))
		default:
			out = out.With(key, value)
		}
		return true
	})
	return out
}
