// Package constraint matches process scheduling constraints against the
// properties advertised by execution engine resources.
//
// A constraint set is a conjunction of independent per-key predicates:
//   - a nil or empty constraint set matches every resource
//   - a key whose value is nil imposes no requirement
//   - a scalar value requires the resource property to be equal
//   - a list value requires the resource property to be a member of the list
//
// There are no OR semantics across keys and no wildcards.
package constraint

import (
	"fmt"
	"sort"
)

// Constraints maps a property key to a required value or a set of allowed values.
type Constraints map[string]any

// Properties is the opaque key/value map advertised by a node or resource.
type Properties map[string]any

// Clone returns a shallow copy of p that is safe to extend.
func (p Properties) Clone() Properties {
	out := make(Properties, len(p)+1)
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Match reports whether properties satisfy every constraint.
func Match(constraints Constraints, properties Properties) bool {
	if len(constraints) == 0 {
		return true
	}

	for key, want := range constraints {
		if want == nil {
			continue
		}

		advertised, ok := properties[key]
		if !ok || advertised == nil {
			return false
		}
		have, ok := normalize(advertised)
		if !ok {
			return false
		}

		if allowed, isList := listValues(want); isList {
			if !containsValue(allowed, have) {
				return false
			}
			continue
		}

		scalar, ok := normalize(want)
		if !ok || scalar != have {
			return false
		}
	}
	return true
}

// Validate checks that every constraint value is nil, a scalar, or a list of scalars.
func Validate(constraints Constraints) error {
	keys := make([]string, 0, len(constraints))
	for k := range constraints {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if key == "" {
			return fmt.Errorf("constraint key is empty")
		}
		value := constraints[key]
		if value == nil {
			continue
		}
		if items, isList := listValues(value); isList {
			for i, item := range items {
				if _, ok := normalize(item); !ok {
					return fmt.Errorf("constraint %q: element %d has unsupported type %T", key, i, item)
				}
			}
			continue
		}
		if _, ok := normalize(value); !ok {
			return fmt.Errorf("constraint %q: unsupported value type %T", key, value)
		}
	}
	return nil
}

// listValues flattens the list forms produced by JSON and YAML decoding.
func listValues(v any) ([]any, bool) {
	switch list := v.(type) {
	case []any:
		return list, true
	case []string:
		out := make([]any, len(list))
		for i, s := range list {
			out[i] = s
		}
		return out, true
	default:
		return nil, false
	}
}

func containsValue(items []any, have any) bool {
	for _, item := range items {
		if v, ok := normalize(item); ok && v == have {
			return true
		}
	}
	return false
}

// normalize folds numeric types to float64 so values decoded from JSON and
// YAML compare equal. Non-scalar values are rejected.
func normalize(v any) (any, bool) {
	switch n := v.(type) {
	case string, bool:
		return n, true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return nil, false
	}
}
