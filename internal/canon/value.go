package canon

import (
	"slices"
	"unicode/utf16"
)

// Value is a sealed interface over the canonical value kinds.
// Only Null, String, Int, Bool, Array and Object implement it.
type Value interface {
	canonValue()
}

// Null is the explicit removal sentinel of a patch document.
type Null struct{}

func (Null) canonValue() {}

// String is a string value.
type String string

func (String) canonValue() {}

// Int is an integer value. Always int64.
type Int int64

func (Int) canonValue() {}

// Bool is a boolean value.
type Bool bool

func (Bool) canonValue() {}

// Array is an ordered sequence of values.
// Arrays must not be modified after construction.
type Array []Value

func (Array) canonValue() {}

// Object is an immutable ordered mapping of field name to value.
// The zero Object is empty and ready to use.
type Object struct {
	keys []string
	vals map[string]Value
}

func (Object) canonValue() {}

// Pair is a key-value pair for Object construction.
type Pair struct {
	Key   string
	Value Value
}

// F is a shorthand for Pair.
// Example: NewObject(F("id", String("A")), F("publish", Bool(true)))
func F(key string, value Value) Pair {
	return Pair{Key: key, Value: value}
}

// NewObject builds an Object from pairs in order. A repeated key keeps its
// first position and takes the last value.
func NewObject(pairs ...Pair) Object {
	obj := Object{
		keys: make([]string, 0, len(pairs)),
		vals: make(map[string]Value, len(pairs)),
	}
	for _, p := range pairs {
		if _, exists := obj.vals[p.Key]; !exists {
			obj.keys = append(obj.keys, p.Key)
		}
		obj.vals[p.Key] = p.Value
	}
	return obj
}

// Len returns the number of fields.
func (o Object) Len() int {
	return len(o.keys)
}

// Keys returns field names in document order.
func (o Object) Keys() []string {
	return slices.Clone(o.keys)
}

// Get returns the value stored under key.
func (o Object) Get(key string) (Value, bool) {
	v, ok := o.vals[key]
	return v, ok
}

// Has reports whether key is present.
func (o Object) Has(key string) bool {
	_, ok := o.vals[key]
	return ok
}

// GetString returns the string stored under key, if it is a String.
func (o Object) GetString(key string) (string, bool) {
	s, ok := o.vals[key].(String)
	return string(s), ok
}

// GetObject returns the object stored under key, if it is an Object.
func (o Object) GetObject(key string) (Object, bool) {
	obj, ok := o.vals[key].(Object)
	return obj, ok
}

// GetArray returns the array stored under key, if it is an Array.
func (o Object) GetArray(key string) (Array, bool) {
	arr, ok := o.vals[key].(Array)
	return arr, ok
}

// Range calls fn for each field in document order until fn returns false.
func (o Object) Range(fn func(key string, value Value) bool) {
	for _, k := range o.keys {
		if !fn(k, o.vals[k]) {
			return
		}
	}
}

// With returns a copy of o with key set to value. An existing key keeps its
// position; a new key is appended.
func (o Object) With(key string, value Value) Object {
	out := o.clone(1)
	if _, exists := out.vals[key]; !exists {
		out.keys = append(out.keys, key)
	}
	out.vals[key] = value
	return out
}

// Without returns a copy of o with key removed. Removing an absent key
// returns o unchanged.
func (o Object) Without(key string) Object {
	if !o.Has(key) {
		return o
	}
	out := Object{
		keys: make([]string, 0, len(o.keys)-1),
		vals: make(map[string]Value, len(o.keys)-1),
	}
	for _, k := range o.keys {
		if k == key {
			continue
		}
		out.keys = append(out.keys, k)
		out.vals[k] = o.vals[k]
	}
	return out
}

func (o Object) clone(extra int) Object {
	out := Object{
		keys: make([]string, len(o.keys), len(o.keys)+extra),
		vals: make(map[string]Value, len(o.keys)+extra),
	}
	copy(out.keys, o.keys)
	for k, v := range o.vals {
		out.vals[k] = v
	}
	return out
}

// SortedKeys returns keys in RFC 8785 canonical order (UTF-16 code units).
// Go's string comparison orders by UTF-8 bytes, which differs for
// characters outside the BMP.
func (o Object) SortedKeys() []string {
	keys := slices.Clone(o.keys)
	slices.SortFunc(keys, compareKeysRFC8785)
	return keys
}

func compareKeysRFC8785(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))
	for i := 0; i < len(a16) && i < len(b16); i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	}
	return 0
}

// Equal reports structural equality. Object key order is not significant.
func Equal(a, b Value) bool {
	switch av := a.(type) {
	case nil:
		return b == nil
	case Null:
		_, ok := b.(Null)
		return ok
	case String:
		bv, ok := b.(String)
		return ok && av == bv
	case Int:
		bv, ok := b.(Int)
		return ok && av == bv
	case Bool:
		bv, ok := b.(Bool)
		return ok && av == bv
	case Array:
		bv, ok := b.(Array)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case Object:
		bv, ok := b.(Object)
		if !ok || av.Len() != bv.Len() {
			return false
		}
		for _, k := range av.keys {
			other, exists := bv.vals[k]
			if !exists || !Equal(av.vals[k], other) {
				return false
			}
		}
		return true
	}
	return false
}
