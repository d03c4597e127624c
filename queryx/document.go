package queryx

import (
	"io"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// IDField is the engine-assigned identity field of every stored document.
const IDField = "_id"

// Document is an ordered mapping from field name to a dynamically-typed value.
//
// Values are drawn from a small variant set: string, float64, int64, bool,
// time.Time, []any, and nested *Document. Field access is by explicit key
// lookup; the typed getters return (value, ok) pairs instead of panicking or
// relying on reflection.
//
// Documents returned by read operations are snapshots: later updates through
// the collection are never reflected in a previously returned Document.
type Document struct {
	fields map[string]any
	order  []string
}

// NewDocument creates an empty document.
func NewDocument() *Document {
	return &Document{fields: make(map[string]any)}
}

// FromMap builds a document from a plain map. Field order follows the order
// of the keys slice returned by iterating the map, so it is unspecified;
// use Set when order matters.
func FromMap(m map[string]any) *Document {
	doc := NewDocument()
	for k, v := range m {
		doc.Set(k, v)
	}
	return doc
}

// Set stores a value under a field name, preserving first-set order. It
// returns the document for chaining.
func (d *Document) Set(field string, value any) *Document {
	if _, exists := d.fields[field]; !exists {
		d.order = append(d.order, field)
	}
	d.fields[field] = value
	return d
}

// Get returns the raw value of a field.
func (d *Document) Get(field string) (any, bool) {
	v, ok := d.fields[field]
	return v, ok
}

// Has reports whether the field is present.
func (d *Document) Has(field string) bool {
	_, ok := d.fields[field]
	return ok
}

// Delete removes a field if present.
func (d *Document) Delete(field string) {
	if _, ok := d.fields[field]; !ok {
		return
	}
	delete(d.fields, field)
	for i, f := range d.order {
		if f == field {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
}

// Keys returns the field names in insertion order.
func (d *Document) Keys() []string {
	keys := make([]string, len(d.order))
	copy(keys, d.order)
	return keys
}

// Len returns the number of fields.
func (d *Document) Len() int {
	return len(d.fields)
}

// ID returns the document identity assigned by the storage engine.
func (d *Document) ID() (string, bool) {
	return d.GetString(IDField)
}

// GetString returns a string field.
func (d *Document) GetString(field string) (string, bool) {
	if v, ok := d.fields[field]; ok {
		if s, ok := v.(string); ok {
			return s, true
		}
	}
	return "", false
}

// GetFloat returns a numeric field as float64, coercing integer values.
func (d *Document) GetFloat(field string) (float64, bool) {
	if v, ok := d.fields[field]; ok {
		return toFloat64(v)
	}
	return 0, false
}

// GetInt returns an integer field, accepting whole float64 values as stored
// by JSON decoding.
func (d *Document) GetInt(field string) (int64, bool) {
	v, ok := d.fields[field]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	}
	return 0, false
}

// GetBool returns a boolean field.
func (d *Document) GetBool(field string) (bool, bool) {
	if v, ok := d.fields[field]; ok {
		if b, ok := v.(bool); ok {
			return b, true
		}
	}
	return false, false
}

// GetTime returns a time field, accepting RFC 3339 strings as stored by the
// JSON codec.
func (d *Document) GetTime(field string) (time.Time, bool) {
	v, ok := d.fields[field]
	if !ok {
		return time.Time{}, false
	}
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

// GetList returns a list field.
func (d *Document) GetList(field string) ([]any, bool) {
	if v, ok := d.fields[field]; ok {
		if list, ok := v.([]any); ok {
			return list, true
		}
	}
	return nil, false
}

// GetDocument returns a nested document field.
func (d *Document) GetDocument(field string) (*Document, bool) {
	v, ok := d.fields[field]
	if !ok {
		return nil, false
	}
	switch nested := v.(type) {
	case *Document:
		return nested, true
	case map[string]any:
		return FromMap(nested), true
	}
	return nil, false
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	clone := &Document{
		fields: make(map[string]any, len(d.fields)),
		order:  make([]string, len(d.order)),
	}
	copy(clone.order, d.order)
	for k, v := range d.fields {
		clone.fields[k] = cloneValue(v)
	}
	return clone
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case *Document:
		return val.Clone()
	case map[string]any:
		m := make(map[string]any, len(val))
		for k, e := range val {
			m[k] = cloneValue(e)
		}
		return m
	case []any:
		list := make([]any, len(val))
		for i, e := range val {
			list[i] = cloneValue(e)
		}
		return list
	default:
		return v
	}
}

// ToMap returns the fields as a plain map. Nested documents stay as
// *Document values; the map shares no storage with the document.
func (d *Document) ToMap() map[string]any {
	m := make(map[string]any, len(d.fields))
	for k, v := range d.fields {
		m[k] = cloneValue(v)
	}
	return m
}

// MarshalJSON encodes the document as a JSON object in field order.
func (d *Document) MarshalJSON() ([]byte, error) {
	stream := json.BorrowStream(nil)
	defer json.ReturnStream(stream)

	writeDocument(stream, d)
	if stream.Error != nil {
		return nil, stream.Error
	}
	buf := stream.Buffer()
	out := make([]byte, len(buf))
	copy(out, buf)
	return out, nil
}

func writeDocument(stream *jsoniter.Stream, d *Document) {
	stream.WriteObjectStart()
	for i, field := range d.order {
		if i > 0 {
			stream.WriteMore()
		}
		stream.WriteObjectField(field)
		writeValue(stream, d.fields[field])
	}
	stream.WriteObjectEnd()
}

func writeValue(stream *jsoniter.Stream, v any) {
	switch val := v.(type) {
	case *Document:
		writeDocument(stream, val)
	case []any:
		stream.WriteArrayStart()
		for i, e := range val {
			if i > 0 {
				stream.WriteMore()
			}
			writeValue(stream, e)
		}
		stream.WriteArrayEnd()
	case time.Time:
		stream.WriteString(val.Format(time.RFC3339Nano))
	default:
		stream.WriteVal(v)
	}
}

// UnmarshalJSON decodes a JSON object, preserving field order. Nested objects
// decode as *Document, arrays as []any, and numbers as float64.
func (d *Document) UnmarshalJSON(data []byte) error {
	iter := jsoniter.ParseBytes(json, data)
	doc, err := readDocument(iter)
	if err != nil {
		return err
	}
	*d = *doc
	return nil
}

func readDocument(iter *jsoniter.Iterator) (*Document, error) {
	doc := NewDocument()
	for field := iter.ReadObject(); field != ""; field = iter.ReadObject() {
		value, err := readValue(iter)
		if err != nil {
			return nil, err
		}
		doc.Set(field, value)
	}
	if iter.Error != nil && iter.Error != io.EOF {
		return nil, iter.Error
	}
	return doc, nil
}

func readValue(iter *jsoniter.Iterator) (any, error) {
	switch iter.WhatIsNext() {
	case jsoniter.ObjectValue:
		return readDocument(iter)
	case jsoniter.ArrayValue:
		var list []any
		for iter.ReadArray() {
			v, err := readValue(iter)
			if err != nil {
				return nil, err
			}
			list = append(list, v)
		}
		return list, iter.Error
	case jsoniter.StringValue:
		return iter.ReadString(), iter.Error
	case jsoniter.NumberValue:
		return iter.ReadFloat64(), iter.Error
	case jsoniter.BoolValue:
		return iter.ReadBool(), iter.Error
	case jsoniter.NilValue:
		iter.ReadNil()
		return nil, iter.Error
	default:
		iter.Skip()
		return nil, iter.Error
	}
}
