package scrape

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Marshal encodes v as JSON. Maps and records keep their key order, link
// pairs become two-element arrays and a missing href becomes null.
func Marshal(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := encode(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (p LinkPair) MarshalJSON() ([]byte, error) { return Marshal(p) }
func (l LinkList) MarshalJSON() ([]byte, error) { return Marshal(l) }
func (r Record) MarshalJSON() ([]byte, error)   { return Marshal(r) }
func (s Sequence) MarshalJSON() ([]byte, error) { return Marshal(s) }
func (m *Map) MarshalJSON() ([]byte, error)     { return Marshal(m) }

func encode(buf *bytes.Buffer, v Value) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case Scalar:
		return encodeString(buf, string(t))
	case LinkPair:
		buf.WriteByte('[')
		if err := encode(buf, t.Value); err != nil {
			return err
		}
		buf.WriteByte(',')
		if err := encode(buf, t.Href); err != nil {
			return err
		}
		buf.WriteByte(']')
	case LinkList:
		buf.WriteByte('[')
		for i, p := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encode(buf, p); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case Sequence:
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encode(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case Record:
		buf.WriteByte('{')
		if err := encodeString(buf, t.Name); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := encode(buf, t.Value); err != nil {
			return err
		}
		buf.WriteByte('}')
	case *Map:
		if t == nil {
			buf.WriteString("null")
			return nil
		}
		buf.WriteByte('{')
		for i, k := range t.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := encode(buf, t.entries[k].value); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("scrape: cannot encode %T", v)
	}
	return nil
}

func encodeString(buf *bytes.Buffer, s string) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	// Encode terminates with a newline
	buf.Truncate(buf.Len() - 1)
	return nil
}

// linkKey is the links-bucket key for a link's value.
func linkKey(v Value) string {
	if s, ok := v.(Scalar); ok {
		return string(s)
	}
	b, err := Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
