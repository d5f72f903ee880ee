// Package scrape infers nested, schema-less structured data from an HTML
// element subtree. Repeated child structures are grouped, singletons are
// collapsed and hyperlink targets are kept next to their text.
package scrape

import "fmt"

// Value is the result of extracting a node. nil means nothing was extracted.
// The concrete types are Scalar, LinkPair, LinkList, Record, Sequence and *Map.
type Value interface {
	isValue()
}

// Scalar is trimmed text or an image source.
type Scalar string

// LinkPair is an anchor's aggregated content paired with its target. Href is
// nil when the anchor has no href attribute; otherwise a Scalar, or a Sequence
// when merging promoted it.
type LinkPair struct {
	Value Value
	Href  Value
}

// LinkList holds sibling links collected under one parent.
type LinkList []LinkPair

// Record wraps a value under the inferred name of the element producing it.
type Record struct {
	Name  string
	Value Value
}

// Sequence is an ordered list of values.
type Sequence []Value

func (Scalar) isValue()   {}
func (LinkPair) isValue() {}
func (LinkList) isValue() {}
func (Record) isValue()   {}
func (Sequence) isValue() {}
func (*Map) isValue()     {}

// Kind names a Value variant.
type Kind int

const (
	KindNone Kind = iota
	KindScalar
	KindLinkPair
	KindLinkList
	KindRecord
	KindSequence
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindLinkPair:
		return "link pair"
	case KindLinkList:
		return "link list"
	case KindRecord:
		return "record"
	case KindSequence:
		return "sequence"
	case KindMap:
		return "mapping"
	default:
		return "none"
	}
}

// KindOf reports the variant of v.
func KindOf(v Value) Kind {
	switch t := v.(type) {
	case Scalar:
		return KindScalar
	case LinkPair:
		return KindLinkPair
	case LinkList:
		return KindLinkList
	case Record:
		return KindRecord
	case Sequence:
		return KindSequence
	case *Map:
		if t == nil {
			return KindNone
		}
		return KindMap
	default:
		return KindNone
	}
}

// IsEmpty reports whether v carries no information: nil, an empty scalar, an
// empty list or an empty mapping.
func IsEmpty(v Value) bool {
	switch t := v.(type) {
	case nil:
		return true
	case Scalar:
		return t == ""
	case LinkList:
		return len(t) == 0
	case Sequence:
		return len(t) == 0
	case *Map:
		return t == nil || t.Len() == 0
	default:
		return false
	}
}

// Map is an insertion-ordered mapping from names to values. Each entry may
// carry a label; the links bucket uses it to remember the original link value
// behind a string key.
type Map struct {
	keys    []string
	entries map[string]*mapEntry
}

type mapEntry struct {
	label Value
	value Value
}

// NewMap returns an empty Map.
func NewMap() *Map {
	return &Map{entries: make(map[string]*mapEntry)}
}

// Len returns the number of entries.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Keys returns the keys in insertion order.
func (m *Map) Keys() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Get returns the value stored under key.
func (m *Map) Get(key string) (Value, bool) {
	if m == nil {
		return nil, false
	}
	e, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	return e.value, true
}

// Set stores v under key. An existing key keeps its position and label.
func (m *Map) Set(key string, v Value) {
	if e, ok := m.entries[key]; ok {
		e.value = v
		return
	}
	m.keys = append(m.keys, key)
	m.entries[key] = &mapEntry{value: v}
}

// Delete removes key if present.
func (m *Map) Delete(key string) {
	if _, ok := m.entries[key]; !ok {
		return
	}
	delete(m.entries, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
}

func (m *Map) setLabeled(key string, label Value, v Value) {
	m.Set(key, v)
	m.entries[key].label = label
}

// Label returns the original value recorded for key, or nil.
func (m *Map) Label(key string) Value {
	if m == nil {
		return nil
	}
	if e, ok := m.entries[key]; ok {
		return e.label
	}
	return nil
}

// Clone returns a copy of m. Nested mappings are copied too; other values are
// shared since nothing mutates them in place.
func (m *Map) Clone() *Map {
	if m == nil {
		return nil
	}
	out := &Map{keys: make([]string, len(m.keys)), entries: make(map[string]*mapEntry, len(m.entries))}
	copy(out.keys, m.keys)
	for k, e := range m.entries {
		out.entries[k] = &mapEntry{label: e.label, value: cloneMappings(e.value)}
	}
	return out
}

func cloneMappings(v Value) Value {
	switch t := v.(type) {
	case *Map:
		return t.Clone()
	case Record:
		return Record{Name: t.Name, Value: cloneMappings(t.Value)}
	}
	return v
}

// String renders v as compact JSON, mostly for logs and test failures.
func String(v Value) string {
	b, err := Marshal(v)
	if err != nil {
		return fmt.Sprintf("<%s: %v>", KindOf(v), err)
	}
	return string(b)
}
