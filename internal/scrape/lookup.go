package scrape

import "strings"

// Lookup follows keys through Records and Maps. It fails as soon as a key is
// missing or the current value is not keyed.
func Lookup(v Value, keys ...string) (Value, bool) {
	cur := v
	for _, k := range keys {
		switch t := cur.(type) {
		case Record:
			if t.Name != k {
				return nil, false
			}
			cur = t.Value
		case *Map:
			next, ok := t.Get(k)
			if !ok {
				return nil, false
			}
			cur = next
		default:
			return nil, false
		}
	}
	return cur, true
}

// LookupPath is Lookup with a dotted path such as "model.title".
func LookupPath(v Value, path string) (Value, bool) {
	path = strings.TrimSpace(path)
	if path == "" {
		return v, true
	}
	return Lookup(v, strings.Split(path, ".")...)
}

// Text returns the string behind a Scalar, or the value's JSON otherwise.
func Text(v Value) string {
	if s, ok := v.(Scalar); ok {
		return string(s)
	}
	return String(v)
}
