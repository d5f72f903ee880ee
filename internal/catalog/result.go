package catalog

import "github.com/hyperifyio/pagescrape/internal/scrape"

// Item is one extracted listing entry.
type Item struct {
	Key   string
	Value scrape.Value
}

// Result holds the items of one listing page in page order. When Keyed, a
// repeated key keeps its first position and its last value.
type Result struct {
	Name  string
	URL   string
	Keyed bool
	Items []Item

	index map[string]int
}

func (r *Result) add(key string, v scrape.Value) {
	if !r.Keyed {
		r.Items = append(r.Items, Item{Value: v})
		return
	}
	if r.index == nil {
		r.index = make(map[string]int)
	}
	if i, ok := r.index[key]; ok {
		r.Items[i].Value = v
		return
	}
	r.index[key] = len(r.Items)
	r.Items = append(r.Items, Item{Key: key, Value: v})
}

// Get returns the item stored under key.
func (r Result) Get(key string) (scrape.Value, bool) {
	for _, it := range r.Items {
		if it.Key == key {
			return it.Value, true
		}
	}
	return nil, false
}

// Keys lists item keys in page order.
func (r Result) Keys() []string {
	keys := make([]string, 0, len(r.Items))
	for _, it := range r.Items {
		keys = append(keys, it.Key)
	}
	return keys
}

// Value is the result as an ordered mapping when keyed, otherwise a sequence.
func (r Result) Value() scrape.Value {
	if r.Keyed {
		m := scrape.NewMap()
		for _, it := range r.Items {
			m.Set(it.Key, it.Value)
		}
		return m
	}
	seq := make(scrape.Sequence, 0, len(r.Items))
	for _, it := range r.Items {
		seq = append(seq, it.Value)
	}
	return seq
}

// MarshalJSON encodes Value.
func (r Result) MarshalJSON() ([]byte, error) {
	return scrape.Marshal(r.Value())
}
