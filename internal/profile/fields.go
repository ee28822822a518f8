package profile

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Field is one label/value pair captured outside the fixed schema.
type Field struct {
	Key   string
	Value string
}

// Fields is an insertion-ordered string map. The zero value is empty and ready
// to use. Fields is never mutated in place; With returns a copy.
type Fields struct {
	entries []Field
}

// NewFields builds Fields from pairs. When a key repeats, the first value wins.
func NewFields(pairs ...Field) Fields {
	var f Fields
	for _, p := range pairs {
		f = f.With(p.Key, p.Value)
	}
	return f
}

// Len reports the number of entries.
func (f Fields) Len() int {
	return len(f.entries)
}

// Get returns the value stored under key.
func (f Fields) Get(key string) (string, bool) {
	for _, e := range f.entries {
		if e.Key == key {
			return e.Value, true
		}
	}
	return "", false
}

// Keys returns the keys in insertion order.
func (f Fields) Keys() []string {
	keys := make([]string, 0, len(f.entries))
	for _, e := range f.entries {
		keys = append(keys, e.Key)
	}
	return keys
}

// Entries returns a copy of the entries in insertion order.
func (f Fields) Entries() []Field {
	return append([]Field(nil), f.entries...)
}

// With returns a copy of f with key appended. Empty keys and keys that already
// exist leave the result unchanged.
func (f Fields) With(key, value string) Fields {
	if key == "" {
		return f
	}
	if _, ok := f.Get(key); ok {
		return f
	}
	next := make([]Field, len(f.entries), len(f.entries)+1)
	copy(next, f.entries)
	return Fields{entries: append(next, Field{Key: key, Value: value})}
}

// MarshalJSON encodes the entries as a JSON object in insertion order.
func (f Fields) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range f.entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.Key)
		if err != nil {
			return nil, fmt.Errorf("marshal key %q: %w", e.Key, err)
		}
		val, err := json.Marshal(e.Value)
		if err != nil {
			return nil, fmt.Errorf("marshal value for %q: %w", e.Key, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, keeping the document's key order.
// Non-string values are kept as their compact JSON text.
func (f *Fields) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("read extra fields: %w", err)
	}
	if tok == nil {
		*f = Fields{}
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("extra fields: expected object, got %v", tok)
	}
	var out Fields
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("read extra field key: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("extra fields: unexpected key %v", keyTok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("read extra field %q: %w", key, err)
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			var compact bytes.Buffer
			if cerr := json.Compact(&compact, raw); cerr != nil {
				return fmt.Errorf("compact extra field %q: %w", key, cerr)
			}
			s = compact.String()
		}
		out = out.With(key, s)
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("close extra fields: %w", err)
	}
	*f = out
	return nil
}
