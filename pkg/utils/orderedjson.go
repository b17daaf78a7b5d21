package utils

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DecodeObject walks a JSON object and calls fn for each member in document
// order. A JSON null is accepted and produces no calls.
func DecodeObject(data []byte, fn func(key string, value json.RawMessage) error) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("failed to read object: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("expected JSON object, got %v", tok)
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("failed to read object key: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("expected object key, got %v", tok)
		}

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("failed to read value for %q: %w", key, err)
		}

		if err := fn(key, value); err != nil {
			return err
		}
	}

	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("failed to close object: %w", err)
	}

	return nil
}

// ObjectBuilder writes a JSON object whose members keep insertion order.
type ObjectBuilder struct {
	buf bytes.Buffer
	n   int
	err error
}

func (b *ObjectBuilder) Add(key string, value interface{}) {
	if b.err != nil {
		return
	}

	k, err := json.Marshal(key)
	if err != nil {
		b.err = err
		return
	}
	v, err := json.Marshal(value)
	if err != nil {
		b.err = fmt.Errorf("failed to encode %q: %w", key, err)
		return
	}

	if b.n == 0 {
		b.buf.WriteByte('{')
	} else {
		b.buf.WriteByte(',')
	}
	b.buf.Write(k)
	b.buf.WriteByte(':')
	b.buf.Write(v)
	b.n++
}

func (b *ObjectBuilder) Bytes() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.n == 0 {
		return []byte("{}"), nil
	}
	out := make([]byte, 0, b.buf.Len()+1)
	out = append(out, b.buf.Bytes()...)
	return append(out, '}'), nil
}
