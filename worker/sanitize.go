// Tool-argument sanitization for the delegated executor: length-capping
// strings, detecting cyclic object graphs, and replacing non-serializable
// values with a placeholder, so a bad or adversarial agent call can never
// blow up the worker process or loop forever walking a self-referential
// structure. Adapted from app/shared/error_sanitizer.go's SanitizeMap/
// sanitizeSlice recursive-walk idiom, repurposed from string-redaction to
// a size/shape-safety pass over arbitrary tool-call arguments.
package worker

import (
	"fmt"
	"reflect"
)

const (
	maxStringLen = 8192
	maxDepth     = 32
)

const placeholderNonSerializable = "[unserializable]"
const placeholderCyclic = "[cyclic reference]"
const placeholderTruncated = "...[truncated]"

// SanitizeArgs returns a copy of args safe to marshal and hand to the
// delegated executor: every string value longer than maxStringLen is
// truncated, every cycle is cut and replaced with a marker, and any value
// JSON cannot represent (channels, funcs, complex numbers) is replaced with
// a placeholder.
func SanitizeArgs(args map[string]any) map[string]any {
	seen := make(map[uintptr]bool)
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = sanitizeValue(v, seen, 0)
	}
	return out
}

func sanitizeValue(v any, seen map[uintptr]bool, depth int) any {
	if depth > maxDepth {
		return placeholderTruncated
	}

	switch val := v.(type) {
	case nil:
		return nil
	case string:
		return truncateString(val)
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return val
	case map[string]any:
		return sanitizeMap(val, seen, depth)
	case []any:
		return sanitizeSlice(val, seen, depth)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.IsNil() {
			return nil
		}
		if cyclic(rv, seen) {
			return placeholderCyclic
		}
		m := make(map[string]any, rv.Len())
		for _, key := range rv.MapKeys() {
			m[fmt.Sprintf("%v", key.Interface())] = sanitizeValue(rv.MapIndex(key).Interface(), seen, depth+1)
		}
		return m
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil
		}
		if rv.Kind() == reflect.Slice && cyclic(rv, seen) {
			return placeholderCyclic
		}
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = sanitizeValue(rv.Index(i).Interface(), seen, depth+1)
		}
		return out
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return sanitizeValue(rv.Elem().Interface(), seen, depth+1)
	case reflect.Struct:
		return sanitizeStruct(rv, seen, depth)
	case reflect.Chan, reflect.Func, reflect.Complex64, reflect.Complex128, reflect.UnsafePointer:
		return placeholderNonSerializable
	default:
		return fmt.Sprintf("%v", v)
	}
}

func sanitizeMap(m map[string]any, seen map[uintptr]bool, depth int) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = sanitizeValue(v, seen, depth+1)
	}
	return out
}

func sanitizeSlice(s []any, seen map[uintptr]bool, depth int) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = sanitizeValue(v, seen, depth+1)
	}
	return out
}

func sanitizeStruct(rv reflect.Value, seen map[uintptr]bool, depth int) map[string]any {
	t := rv.Type()
	out := make(map[string]any, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		out[field.Name] = sanitizeValue(rv.Field(i).Interface(), seen, depth+1)
	}
	return out
}

// cyclic marks the pointer/slice-data backing rv as seen, returning true if
// it had already been visited on this walk (a self-referential structure).
func cyclic(rv reflect.Value, seen map[uintptr]bool) bool {
	var ptr uintptr
	switch rv.Kind() {
	case reflect.Map, reflect.Ptr:
		ptr = rv.Pointer()
	case reflect.Slice:
		ptr = rv.Pointer()
	default:
		return false
	}
	if ptr == 0 {
		return false
	}
	if seen[ptr] {
		return true
	}
	seen[ptr] = true
	return false
}

func truncateString(s string) string {
	if len(s) <= maxStringLen {
		return s
	}
	return s[:maxStringLen] + placeholderTruncated
}
