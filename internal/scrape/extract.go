package scrape

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// Reserved accumulator keys. They surface in output whenever a node keeps
// both loose values and links.
const (
	ValuesKey = "__value__"
	LinksKey  = "__links__"
)

// DefaultMaxDepth bounds recursion when Extractor.MaxDepth is zero.
const DefaultMaxDepth = 512

const documentName = "[document]"

// ErrTooDeep is returned when element nesting exceeds the depth limit.
var ErrTooDeep = errors.New("document nesting exceeds maximum depth")

// Extractor converts document nodes into Values. The zero value is ready to
// use and is safe for concurrent use once configured.
type Extractor struct {
	// MaxDepth caps element nesting below the starting node.
	MaxDepth int
	// IgnoreTags lists element names whose subtrees are skipped.
	IgnoreTags []string
	// IDFallback names an element by its id when no single class applies.
	IDFallback bool
}

// Extract runs the default Extractor on n.
func Extract(n *html.Node) (Value, error) {
	var e Extractor
	return e.Extract(n)
}

// Extract converts n into a Value. It never modifies the tree. The only
// failures are a depth overflow and a merge type mismatch between siblings.
func (e *Extractor) Extract(n *html.Node) (Value, error) {
	if n == nil {
		return nil, nil
	}
	w := walker{maxDepth: e.MaxDepth, idFallback: e.IDFallback}
	if w.maxDepth <= 0 {
		w.maxDepth = DefaultMaxDepth
	}
	if len(e.IgnoreTags) > 0 {
		w.ignore = make(map[string]bool, len(e.IgnoreTags))
		for _, t := range e.IgnoreTags {
			w.ignore[strings.ToLower(strings.TrimSpace(t))] = true
		}
	}
	return w.extract(n, 0)
}

type walker struct {
	maxDepth   int
	ignore     map[string]bool
	idFallback bool
}

func (w *walker) extract(n *html.Node, depth int) (Value, error) {
	switch n.Type {
	case html.TextNode:
		s := strings.TrimSpace(n.Data)
		if s == "" {
			return nil, nil
		}
		return Scalar(s), nil
	case html.ElementNode:
		if w.ignore[n.Data] {
			return nil, nil
		}
		if n.Data == "img" {
			src, ok := attr(n, "src")
			if !ok {
				return nil, nil
			}
			return Scalar(src), nil
		}
	case html.DocumentNode:
	default:
		return nil, nil
	}
	if depth > w.maxDepth {
		return nil, fmt.Errorf("%w (%d)", ErrTooDeep, w.maxDepth)
	}

	acc := newAccumulator()
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		cinfo, err := w.extract(c, depth+1)
		if err != nil {
			return nil, err
		}
		if IsEmpty(cinfo) {
			continue
		}
		if err := acc.fold(cinfo); err != nil {
			return nil, err
		}
	}
	acc.prune()
	return acc.result(n, w.name(n)), nil
}

// name is the element's tag unless it carries exactly one class token.
func (w *walker) name(n *html.Node) string {
	if n.Type == html.DocumentNode {
		return documentName
	}
	if cls, ok := attr(n, "class"); ok {
		if fields := strings.Fields(cls); len(fields) == 1 {
			return fields[0]
		}
	}
	if w.idFallback {
		if id, ok := attr(n, "id"); ok && strings.TrimSpace(id) != "" {
			return strings.TrimSpace(id)
		}
	}
	return n.Data
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// accumulator folds one element's child results. It lives for a single call.
type accumulator struct {
	m *Map
}

func newAccumulator() *accumulator {
	m := NewMap()
	m.Set(ValuesKey, Sequence{})
	m.Set(LinksKey, NewMap())
	return &accumulator{m: m}
}

func (a *accumulator) fold(v Value) error {
	switch t := v.(type) {
	case Record:
		return MergeRecord(a.m, t)
	case *Map:
		return Merge(a.m, t)
	case LinkList:
		for _, p := range t {
			if err := a.addLink(p); err != nil {
				return err
			}
		}
		return nil
	case LinkPair:
		return a.addLink(t)
	default:
		return a.addValue(v)
	}
}

func (a *accumulator) addValue(v Value) error {
	cur, ok := a.m.Get(ValuesKey)
	if seq, isSeq := cur.(Sequence); ok && isSeq {
		a.m.Set(ValuesKey, append(seq, v))
		return nil
	}
	return mergeKey(a.m, ValuesKey, v, "")
}

// addLink stores p under its value's key; a repeated key keeps its position
// and takes the later href.
func (a *accumulator) addLink(p LinkPair) error {
	cur, ok := a.m.Get(LinksKey)
	if !ok {
		cur = NewMap()
		a.m.Set(LinksKey, cur)
	}
	links, isMap := cur.(*Map)
	if !isMap || links == nil {
		return &MismatchError{Path: LinksKey, Dest: KindOf(cur), Src: KindMap}
	}
	links.setLabeled(linkKey(p.Value), p.Value, p.Href)
	return nil
}

// prune drops empty buckets and collapses singleton sequences.
func (a *accumulator) prune() {
	prune(a.m)
}

func prune(m *Map) {
	for _, k := range m.Keys() {
		v, _ := m.Get(k)
		v = collapse(v)
		if IsEmpty(v) {
			m.Delete(k)
			continue
		}
		m.Set(k, v)
	}
}

func collapse(v Value) Value {
	for {
		switch t := v.(type) {
		case Sequence:
			if len(t) != 1 {
				return v
			}
			v = t[0]
		case LinkList:
			if len(t) != 1 {
				return v
			}
			v = t[0]
		default:
			return v
		}
	}
}

func (a *accumulator) result(n *html.Node, name string) Value {
	m := a.m
	if m.Len() == 0 {
		return nil
	}
	var data Value = m
	if m.Len() == 1 {
		k := m.keys[0]
		v := m.entries[k].value
		if links, ok := v.(*Map); ok && k == LinksKey {
			// A links-only node is a link collector, even when it is an anchor.
			return linkList(links)
		}
		if p, ok := v.(LinkPair); ok {
			return p
		}
		data = v
	}
	if n.Type == html.ElementNode && n.Data == "a" {
		var href Value
		if h, ok := attr(n, "href"); ok {
			href = Scalar(h)
		}
		return LinkPair{Value: data, Href: href}
	}
	return Record{Name: name, Value: data}
}

func linkList(links *Map) LinkList {
	out := make(LinkList, 0, links.Len())
	for _, k := range links.keys {
		e := links.entries[k]
		label := e.label
		if label == nil {
			label = Scalar(k)
		}
		out = append(out, LinkPair{Value: label, Href: e.value})
	}
	return out
}
