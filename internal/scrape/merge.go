package scrape

import (
	"errors"
	"fmt"
)

// ErrMergeTypeMismatch is matched by every *MismatchError.
var ErrMergeTypeMismatch = errors.New("merge type mismatch")

// MismatchError reports a key that holds a mapping on one side and a
// non-mapping on the other. The extracted structure cannot be trusted after it.
type MismatchError struct {
	// Path is the dotted key path from the merge root.
	Path string
	Dest Kind
	Src  Kind
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("merge type mismatch at %q: cannot merge %s into %s", e.Path, e.Src, e.Dest)
}

func (e *MismatchError) Unwrap() error { return ErrMergeTypeMismatch }

// Merge deep-merges src into dest, in src key order. A key missing from dest
// is inserted. Mappings merge recursively and must meet another mapping.
// Sequences are extended by sequences and appended to otherwise. Any other
// existing value is promoted to a two-element Sequence of old and new, whether
// or not the two are equal.
func Merge(dest, src *Map) error {
	return mergeMap(dest, src, "")
}

// MergeRecord merges the single entry of r into dest.
func MergeRecord(dest *Map, r Record) error {
	return mergeKey(dest, r.Name, r.Value, "")
}

func mergeMap(dest, src *Map, path string) error {
	if src == nil {
		return nil
	}
	for _, k := range src.keys {
		if err := mergeKey(dest, k, src.entries[k].value, path); err != nil {
			return err
		}
	}
	return nil
}

func mergeKey(dest *Map, key string, v Value, path string) error {
	if path != "" {
		path += "."
	}
	path += key

	old, ok := dest.Get(key)
	if !ok {
		dest.Set(key, cloneMappings(v))
		return nil
	}
	if cur, isMapping := asMapping(old); isMapping {
		sub, ok := asMapping(v)
		if !ok {
			return &MismatchError{Path: path, Dest: KindMap, Src: KindOf(v)}
		}
		if _, already := old.(*Map); !already {
			dest.Set(key, cur)
		}
		return mergeMap(cur, sub, path)
	}
	switch cur := old.(type) {
	case Sequence:
		dest.Set(key, extend(cur, v))
	case LinkList:
		if more, ok := v.(LinkList); ok {
			out := make(LinkList, 0, len(cur)+len(more))
			dest.Set(key, append(append(out, cur...), more...))
			return nil
		}
		dest.Set(key, extend(pairsToSequence(cur), v))
	default:
		dest.Set(key, Sequence{old, v})
	}
	return nil
}

// asMapping views v as a *Map; a Record counts as a one-entry mapping.
func asMapping(v Value) (*Map, bool) {
	switch t := v.(type) {
	case *Map:
		if t == nil {
			return nil, false
		}
		return t, true
	case Record:
		m := NewMap()
		m.Set(t.Name, t.Value)
		return m, true
	}
	return nil, false
}

func extend(seq Sequence, v Value) Sequence {
	out := make(Sequence, 0, len(seq)+1)
	out = append(out, seq...)
	switch t := v.(type) {
	case Sequence:
		return append(out, t...)
	case LinkList:
		return append(out, pairsToSequence(t)...)
	default:
		return append(out, v)
	}
}

func pairsToSequence(l LinkList) Sequence {
	out := make(Sequence, len(l))
	for i, p := range l {
		out[i] = p
	}
	return out
}
