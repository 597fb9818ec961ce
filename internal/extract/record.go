package extract

import (
	"bytes"
	"encoding/json"
	"slices"
	"time"
)

// Record maps region names to values in template order. It is immutable
// once returned by an Extractor.
type Record struct {
	template string
	names    []string
	values   map[string]Value
}

func newRecord(templateName string, capacity int) *Record {
	return &Record{
		template: templateName,
		names:    make([]string, 0, capacity),
		values:   make(map[string]Value, capacity),
	}
}

// set stores v under name. A repeated name replaces the earlier value and
// keeps the position of its first occurrence.
func (r *Record) set(name string, v Value) {
	if _, ok := r.values[name]; !ok {
		r.names = append(r.names, name)
	}
	r.values[name] = v
}

// Template returns the name of the template the record was extracted with.
func (r *Record) Template() string { return r.template }

// Names returns the field names in order.
func (r *Record) Names() []string { return slices.Clone(r.names) }

// Len returns the number of fields.
func (r *Record) Len() int { return len(r.names) }

// Get returns the value of a field.
func (r *Record) Get(name string) (Value, bool) {
	v, ok := r.values[name]
	return v, ok
}

// String returns a present string field.
func (r *Record) String(name string) (string, bool) { return r.values[name].Str() }

// Int returns a present integer field.
func (r *Record) Int(name string) (int64, bool) { return r.values[name].Int() }

// Float returns a present float field.
func (r *Record) Float(name string) (float64, bool) { return r.values[name].Float() }

// Date returns a present date field.
func (r *Record) Date(name string) (time.Time, bool) { return r.values[name].Date() }

// Map returns the fields as Go values, absent fields as nil.
func (r *Record) Map() map[string]any {
	out := make(map[string]any, len(r.names))
	for _, n := range r.names {
		out[n] = r.values[n].Interface()
	}
	return out
}

// MarshalJSON encodes the record as an object with keys in field order.
func (r *Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, n := range r.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(n)
		if err != nil {
			return nil, err
		}
		val, err := r.values[n].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
