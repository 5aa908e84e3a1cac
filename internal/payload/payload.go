// Package payload builds the two Selcom request bodies.
//
// A Payload keeps its fields in insertion order: the same order is used for the
// JSON body, the Signed-Fields header and the signed string.
package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type field struct {
	name  string
	value any
}

type Payload struct {
	fields []field
	index  map[string]int
}

func New() *Payload {
	return &Payload{index: make(map[string]int)}
}

// Set appends name, or replaces its value in place when it is already present.
func (p *Payload) Set(name string, value any) *Payload {
	if i, ok := p.index[name]; ok {
		p.fields[i].value = value
		return p
	}
	p.index[name] = len(p.fields)
	p.fields = append(p.fields, field{name: name, value: value})
	return p
}

func (p *Payload) Get(name string) (any, bool) {
	i, ok := p.index[name]
	if !ok {
		return nil, false
	}
	return p.fields[i].value, true
}

// Fields returns the field names in signing order.
func (p *Payload) Fields() []string {
	names := make([]string, len(p.fields))
	for i, f := range p.fields {
		names[i] = f.name
	}
	return names
}

// Values returns every value in its signed string form.
func (p *Payload) Values() map[string]string {
	values := make(map[string]string, len(p.fields))
	for _, f := range p.fields {
		values[f.name] = fmt.Sprint(f.value)
	}
	return values
}

func (p *Payload) Len() int {
	return len(p.fields)
}

func (p *Payload) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range p.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.name)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(f.value)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.name, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
