package encoding

import (
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/textgo/model"
)

// ErrInvalidDocument is returned when an encoded document cannot be decoded.
var ErrInvalidDocument = errors.New("invalid encoded document")

// maxFields bounds the field count accepted by DecodeDocument.
const maxFields = 1 << 16

// AppendDocument appends the binary form of doc to dst.
//
// Layout: id(8) | uvarint fieldCount | { name(str16) kind(1) value }*.
// Text values are uvarint length-prefixed, numbers and dates are 8 bytes,
// bools are 1 byte.
func AppendDocument(dst []byte, doc *model.Document) ([]byte, error) {
	b := NewBuffer(dst)
	b.WriteUint64(uint64(doc.ID))
	b.WriteUvarint(uint64(len(doc.Fields)))
	for _, f := range doc.Fields {
		b.WriteString(f.Name)
		v := f.Value
		b.WriteUint8(uint8(v.Kind()))
		switch v.Kind() {
		case model.KindText:
			s, _ := v.StringValue()
			b.WriteBytes([]byte(s))
		case model.KindNumber:
			n, _ := v.NumberValue()
			b.WriteFloat64(n)
		case model.KindBool:
			x, _ := v.BoolValue()
			if x {
				b.WriteUint8(1)
			} else {
				b.WriteUint8(0)
			}
		case model.KindDate:
			t, _ := v.DateValue()
			b.WriteUint64(uint64(t.UnixNano()))
		default:
			return dst, fmt.Errorf("%w: field %q has no value", ErrInvalidDocument, f.Name)
		}
	}
	if err := b.Err(); err != nil {
		return dst, err
	}
	return b.Bytes(), nil
}

// EncodeDocument returns the binary form of doc.
func EncodeDocument(doc *model.Document) ([]byte, error) {
	return AppendDocument(make([]byte, 0, 64), doc)
}

// ReadDocument consumes one document from b.
func ReadDocument(b *Buffer) (*model.Document, error) {
	doc := &model.Document{ID: model.DocID(b.ReadUint64())}
	n := b.ReadUvarint()
	if b.Err() != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, b.Err())
	}
	if n > maxFields {
		return nil, fmt.Errorf("%w: %d fields", ErrInvalidDocument, n)
	}
	doc.Fields = make([]model.Field, 0, n)
	for i := uint64(0); i < n; i++ {
		name := b.ReadString()
		kind := model.FieldKind(b.ReadUint8())
		var v model.FieldValue
		switch kind {
		case model.KindText:
			v = model.Text(string(b.ReadBytes()))
		case model.KindNumber:
			v = model.Number(b.ReadFloat64())
		case model.KindBool:
			v = model.Bool(b.ReadUint8() != 0)
		case model.KindDate:
			v = model.Date(time.Unix(0, int64(b.ReadUint64())))
		default:
			if b.Err() == nil {
				return nil, fmt.Errorf("%w: unknown kind %d", ErrInvalidDocument, kind)
			}
		}
		if b.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, b.Err())
		}
		doc.Fields = append(doc.Fields, model.Field{Name: name, Value: v})
	}
	return doc, nil
}

// DecodeDocument decodes a document encoded by EncodeDocument.
func DecodeDocument(data []byte) (*model.Document, error) {
	b := NewBuffer(data)
	doc, err := ReadDocument(b)
	if err != nil {
		return nil, err
	}
	if b.Remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrInvalidDocument, b.Remaining())
	}
	return doc, nil
}
