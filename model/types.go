package model

import (
	"fmt"
	"strconv"
	"time"
)

// DocID is the user-facing stable document identifier.
type DocID uint64

// SegmentID is the unique identifier for a segment within an engine.
type SegmentID uint64

// Ordinal is a dense, segment-local document number.
// It is transient and may change during merges.
type Ordinal uint32

// Version identifies a published snapshot. Versions only grow.
type Version uint64

// Location identifies where the live copy of a document is stored.
type Location struct {
	SegmentID SegmentID
	Ordinal   Ordinal
}

// String returns a string representation of the Location.
func (l Location) String() string {
	return fmt.Sprintf("Loc(%d:%d)", l.SegmentID, l.Ordinal)
}

// Hit is a single ranked search result.
type Hit struct {
	DocID DocID
	Score float64
}

// FieldKind enumerates the supported field value kinds.
type FieldKind uint8

const (
	KindText FieldKind = iota + 1
	KindNumber
	KindBool
	KindDate
)

func (k FieldKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindDate:
		return "date"
	default:
		return "unknown"
	}
}

// FieldValue is a tagged value stored in a document field.
// Only text values are analyzed and indexed; all values are stored.
type FieldValue struct {
	kind FieldKind
	s    string
	n    float64
	b    bool
	t    time.Time
}

// Text returns a text field value.
func Text(s string) FieldValue { return FieldValue{kind: KindText, s: s} }

// Number returns a numeric field value.
func Number(n float64) FieldValue { return FieldValue{kind: KindNumber, n: n} }

// Bool returns a boolean field value.
func Bool(b bool) FieldValue { return FieldValue{kind: KindBool, b: b} }

// Date returns a date field value. The time is normalized to UTC.
func Date(t time.Time) FieldValue { return FieldValue{kind: KindDate, t: t.UTC()} }

// Kind returns the value kind.
func (v FieldValue) Kind() FieldKind { return v.kind }

// StringValue returns the text content and true if the value is text.
func (v FieldValue) StringValue() (string, bool) { return v.s, v.kind == KindText }

// NumberValue returns the number and true if the value is numeric.
func (v FieldValue) NumberValue() (float64, bool) { return v.n, v.kind == KindNumber }

// BoolValue returns the boolean and true if the value is a bool.
func (v FieldValue) BoolValue() (bool, bool) { return v.b, v.kind == KindBool }

// DateValue returns the time and true if the value is a date.
func (v FieldValue) DateValue() (time.Time, bool) { return v.t, v.kind == KindDate }

// Equal reports whether two values have the same kind and content.
func (v FieldValue) Equal(o FieldValue) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindText:
		return v.s == o.s
	case KindNumber:
		return v.n == o.n
	case KindBool:
		return v.b == o.b
	case KindDate:
		return v.t.Equal(o.t)
	}
	return true
}

func (v FieldValue) String() string {
	switch v.kind {
	case KindText:
		return v.s
	case KindNumber:
		return strconv.FormatFloat(v.n, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindDate:
		return v.t.Format(time.RFC3339Nano)
	default:
		return ""
	}
}

// Field is a named value within a document.
type Field struct {
	Name  string
	Value FieldValue
}

// Document is an immutable set of ordered fields identified by a DocID.
type Document struct {
	ID     DocID
	Fields []Field
}

// Get returns the first value stored under name.
func (d *Document) Get(name string) (FieldValue, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return FieldValue{}, false
}

// Clone returns a copy that does not share the field slice.
func (d *Document) Clone() *Document {
	out := &Document{ID: d.ID, Fields: make([]Field, len(d.Fields))}
	copy(out.Fields, d.Fields)
	return out
}

// DocumentBuilder provides a fluent API for constructing documents.
type DocumentBuilder struct {
	doc Document
}

// NewDocument starts building a document with the given id.
func NewDocument(id DocID) *DocumentBuilder {
	return &DocumentBuilder{doc: Document{ID: id}}
}

// Text appends a text field.
func (b *DocumentBuilder) Text(name, s string) *DocumentBuilder {
	return b.Field(name, Text(s))
}

// Number appends a numeric field.
func (b *DocumentBuilder) Number(name string, n float64) *DocumentBuilder {
	return b.Field(name, Number(n))
}

// Bool appends a boolean field.
func (b *DocumentBuilder) Bool(name string, v bool) *DocumentBuilder {
	return b.Field(name, Bool(v))
}

// Date appends a date field.
func (b *DocumentBuilder) Date(name string, t time.Time) *DocumentBuilder {
	return b.Field(name, Date(t))
}

// Field appends an arbitrary field.
func (b *DocumentBuilder) Field(name string, v FieldValue) *DocumentBuilder {
	b.doc.Fields = append(b.doc.Fields, Field{Name: name, Value: v})
	return b
}

// Build returns the constructed document.
func (b *DocumentBuilder) Build() *Document {
	d := b.doc
	return &d
}
