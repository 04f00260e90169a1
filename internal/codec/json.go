package codec

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/roach88/peersync/internal/canon"
	"github.com/roach88/peersync/internal/errs"
	"github.com/roach88/peersync/internal/resource"
)

// JSON converts JSON-shaped documents of one kind.
//
// Accepted inputs: canon.Object, []byte / json.RawMessage holding a JSON
// object, map[string]any, and any value encoding/json can marshal to an
// object. Floating point numbers are rejected unless they are integral
// (encoding/json decodes every number into float64); decimal quantities
// travel as strings. Children are passed through as given; the store
// assigns missing child UIds because only it knows the prior children.
type JSON struct {
	kind resource.Kind
}

// NewJSON creates a JSON codec for kind.
func NewJSON(kind resource.Kind) *JSON {
	return &JSON{kind: kind.WithDefaults()}
}

// ToCanonical implements Codec.
func (c *JSON) ToCanonical(obj any) (canon.Object, []string, error) {
	out, err := c.decode(obj)
	if err != nil {
		return canon.Object{}, nil, err
	}

	for _, key := range []string{resource.KeyPartyID, resource.KeyID} {
		if v, ok := out.Get(key); ok {
			if s, isString := v.(canon.String); !isString || s == "" {
				return canon.Object{}, nil, &errs.Error{
					Code:    errs.CodeConversionFailed,
					Message: "identity must be a non-empty string, got " + canon.TypeName(v),
					Field:   key,
				}
			}
		}
	}

	return out, nil, nil
}

// FromCanonical implements Codec. The result is a map[string]any.
func (c *JSON) FromCanonical(kind resource.Kind, obj canon.Object) (any, error) {
	return canon.ToAny(obj), nil
}

func (c *JSON) decode(obj any) (canon.Object, error) {
	switch v := obj.(type) {
	case nil:
		return canon.Object{}, errs.New(errs.CodeConversionFailed, "nothing to convert")
	case canon.Object:
		return v, nil
	case []byte:
		return parseBytes(v)
	case json.RawMessage:
		return parseBytes(v)
	case map[string]any:
		return fromMap(v)
	}

	data, err := json.Marshal(obj)
	if err != nil {
		return canon.Object{}, errs.Wrap(errs.CodeConversionFailed, err, fmt.Sprintf("marshal %T", obj))
	}
	return parseBytes(data)
}

func parseBytes(data []byte) (canon.Object, error) {
	out, err := canon.ParseObject(data)
	if err != nil {
		return canon.Object{}, errs.Wrap(errs.CodeConversionFailed, err, "decode document")
	}
	return out, nil
}

func fromMap(m map[string]any) (canon.Object, error) {
	normalized, err := integralFloats(m, "")
	if err != nil {
		return canon.Object{}, err
	}
	v, err := canon.FromAny(normalized)
	if err != nil {
		return canon.Object{}, errs.Wrap(errs.CodeConversionFailed, err, "convert document")
	}
	return v.(canon.Object), nil
}

// integralFloats replaces integral float64 values with int64 and rejects the
// rest.
func integralFloats(v any, path string) (any, error) {
	switch val := v.(type) {
	case float64:
		if math.Trunc(val) != val || math.IsInf(val, 0) || math.Abs(val) > 1<<53 {
			return nil, &errs.Error{
				Code:    errs.CodeConversionFailed,
				Message: fmt.Sprintf("non-integral number %v; decimal quantities must be strings", val),
				Field:   path,
			}
		}
		return int64(val), nil
	case float32:
		return integralFloats(float64(val), path)
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			conv, err := integralFloats(elem, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			out[i] = conv
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			sub := k
			if path != "" {
				sub = path + "." + k
			}
			conv, err := integralFloats(elem, sub)
			if err != nil {
				return nil, err
			}
			out[k] = conv
		}
		return out, nil
	}
	return v, nil
}
