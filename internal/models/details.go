package models

import (
	"encoding/json"
	"math"
	"reflect"
)

// Details holds provider specific fields (redirect URL, deep link, QR
// payload, error code/message). Values must survive a JSON round trip on
// every backend, so unset markers are collapsed to an explicit nil by
// Normalize before anything is written.
type Details map[string]any

// Normalize returns a copy of d in which typed nils (nil pointers, nil
// slices, nil maps, nil interfaces), empty raw JSON, NaN and infinities are
// replaced by an untyped nil. Nested maps and slices are walked. The result
// is never nil.
func (d Details) Normalize() Details {
	out := make(Details, len(d))
	for k, v := range d {
		out[k] = normalizeValue(v)
	}
	return out
}

// Merge returns a normalized copy of d overlaid with patch.
func (d Details) Merge(patch Details) Details {
	out := d.Normalize()
	for k, v := range patch {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case json.RawMessage:
		if len(t) == 0 || string(t) == "null" {
			return nil
		}
		return t
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil
		}
		return t
	case float32:
		if math.IsNaN(float64(t)) || math.IsInf(float64(t), 0) {
			return nil
		}
		return t
	case Details:
		if t == nil {
			return nil
		}
		return t.Normalize()
	case map[string]any:
		if t == nil {
			return nil
		}
		return map[string]any(Details(t).Normalize())
	case []any:
		if t == nil {
			return nil
		}
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeValue(e)
		}
		return out
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		if rv.IsNil() {
			return nil
		}
	}
	if rv.Kind() == reflect.Pointer {
		return normalizeValue(rv.Elem().Interface())
	}
	return v
}

// String returns the value under key when it is a string.
func (d Details) String(key string) string {
	if s, ok := d[key].(string); ok {
		return s
	}
	return ""
}
