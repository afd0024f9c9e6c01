// Package record classifies queue entries and decodes data records against
// a schema.
package record

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"destore/internal/postcard"
	"destore/internal/schema"
)

var (
	ErrEmptyEntry     = errors.New("record: empty entry")
	ErrNoActiveSchema = errors.New("record: no active schema")
	ErrDecodeMismatch = errors.New("record: entry does not match schema")
)

// Marker is the first byte of a schema announcement.
const Marker = 0xFF

// AnnouncementSize is the marker byte plus a fingerprint.
const AnnouncementSize = 1 + schema.FingerprintSize

// MaxZeroSized caps the element count of collections whose elements
// encode to no bytes, since the input length cannot bound them.
const MaxZeroSized = 1 << 16

// Class is the classification of a queue entry.
type Class struct {
	Announcement bool
	Fingerprint  schema.Fingerprint // valid when Announcement
	Data         []byte             // valid otherwise
}

// Classify splits entries into schema announcements (0xFF followed by an
// 8-byte fingerprint) and data records. A data record whose first byte is
// 0xFF is indistinguishable from a malformed announcement and is rejected.
func Classify(entry []byte) (Class, error) {
	if len(entry) == 0 {
		return Class{}, ErrEmptyEntry
	}
	if entry[0] != Marker {
		return Class{Data: entry}, nil
	}
	if len(entry) != AnnouncementSize {
		return Class{}, &MismatchError{Offset: 0, Err: fmt.Errorf("announcement of %d bytes, want %d", len(entry), AnnouncementSize)}
	}
	var c Class
	c.Announcement = true
	copy(c.Fingerprint[:], entry[1:])
	return c, nil
}

// Announce builds the announcement entry for fp.
func Announce(fp schema.Fingerprint) []byte {
	b := make([]byte, 0, AnnouncementSize)
	b = append(b, Marker)
	return append(b, fp[:]...)
}

// MismatchError locates a decode failure within an entry.
type MismatchError struct {
	Offset int
	Err    error
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("record: entry does not match schema at byte %d: %v", e.Offset, e.Err)
}

func (e *MismatchError) Is(target error) bool { return target == ErrDecodeMismatch }

func (e *MismatchError) Unwrap() error { return e.Err }

// Decode decodes a data record against active. The whole entry must be
// consumed.
func Decode(entry []byte, active *schema.Node) (Value, error) {
	if active == nil {
		return Value{}, ErrNoActiveSchema
	}
	if len(entry) == 0 {
		return Value{}, ErrEmptyEntry
	}
	d := decoder{s: postcard.NewStream(entry)}
	v, err := d.node(active, 0)
	if err != nil {
		return Value{}, &MismatchError{Offset: d.s.Position(), Err: err}
	}
	if n := d.s.Remaining(); n != 0 {
		return Value{}, &MismatchError{Offset: d.s.Position(), Err: fmt.Errorf("%d trailing bytes", n)}
	}
	return v, nil
}

type decoder struct {
	s *postcard.Stream
}

func (d *decoder) node(n *schema.Node, depth int) (Value, error) {
	if depth > schema.MaxDepth {
		return Value{}, fmt.Errorf("nesting deeper than %d", schema.MaxDepth)
	}
	v := Value{Kind: n.Kind}
	var err error
	switch n.Kind {
	case schema.KindBool:
		var b byte
		if b, err = d.s.ReadByte(); err == nil {
			if b > 1 {
				return v, fmt.Errorf("bool byte 0x%02x", b)
			}
			v.Bool = b == 1
		}
	case schema.KindI8:
		var b byte
		b, err = d.s.ReadByte()
		v.Int = int64(int8(b))
	case schema.KindU8:
		var b byte
		b, err = d.s.ReadByte()
		v.Uint = uint64(b)
	case schema.KindI16:
		v.Int, err = d.s.ReadVarint(postcard.Bits16)
	case schema.KindI32:
		v.Int, err = d.s.ReadVarint(postcard.Bits32)
	case schema.KindI64, schema.KindIsize:
		v.Int, err = d.s.ReadVarint(postcard.Bits64)
	case schema.KindU16:
		v.Uint, err = d.s.ReadUvarint(postcard.Bits16)
	case schema.KindU32:
		v.Uint, err = d.s.ReadUvarint(postcard.Bits32)
	case schema.KindU64, schema.KindUsize:
		v.Uint, err = d.s.ReadUvarint(postcard.Bits64)
	case schema.KindI128:
		v.Big, err = d.s.ReadVarint128()
	case schema.KindU128:
		v.Big, err = d.s.ReadUvarint128()
	case schema.KindF32:
		var f float32
		f, err = d.s.ReadFloat32()
		v.Float = float64(f)
	case schema.KindF64:
		v.Float, err = d.s.ReadFloat64()
	case schema.KindChar:
		var s string
		if s, err = d.s.ReadString(); err == nil {
			r, size := utf8.DecodeRuneInString(s)
			if size == 0 || size != len(s) {
				return v, fmt.Errorf("char of %d bytes is not one rune", len(s))
			}
			v.Char = r
		}
	case schema.KindString:
		v.Str, err = d.s.ReadString()
	case schema.KindByteArray:
		v.Bytes, err = d.s.ReadByteArray()
	case schema.KindUnit:
	case schema.KindOption:
		var tag byte
		if tag, err = d.s.ReadByte(); err != nil {
			break
		}
		switch tag {
		case 0:
		case 1:
			var inner Value
			if inner, err = d.node(n.Elem, depth+1); err == nil {
				v.Elem = &inner
			}
		default:
			return v, fmt.Errorf("option tag 0x%02x", tag)
		}
	case schema.KindSeq:
		v.Elems, err = d.seq(n.Elem, depth)
	case schema.KindTuple:
		v.Elems, err = d.list(n.Elems, depth)
	case schema.KindMap:
		v.Entries, err = d.entries(n.Key, n.Val, depth)
	case schema.KindStruct:
		v.Name = n.Name
		v.Shape = n.Body.Kind
		err = d.shape(&v, n.Body, depth)
	case schema.KindEnum:
		v.Name = n.Name
		var disc uint64
		if disc, err = d.s.ReadUvarint(postcard.Bits32); err != nil {
			break
		}
		if disc >= uint64(len(n.Variants)) {
			return v, fmt.Errorf("variant %d of %s, which has %d", disc, n.Name, len(n.Variants))
		}
		vr := n.Variants[disc]
		v.Variant = vr.Name
		v.VariantIndex = uint32(disc)
		v.Shape = vr.Body.Kind
		err = d.shape(&v, vr.Body, depth)
	case schema.KindSchema:
		v.Schema, err = schema.Decode(d.s)
	default:
		return v, fmt.Errorf("unsupported kind %v", n.Kind)
	}
	return v, err
}

func (d *decoder) shape(v *Value, s *schema.Shape, depth int) error {
	var err error
	switch s.Kind {
	case schema.ShapeUnit:
	case schema.ShapeNewtype:
		var inner Value
		if inner, err = d.node(s.Newtype, depth+1); err == nil {
			v.Elems = []Value{inner}
		}
	case schema.ShapeTuple:
		v.Elems, err = d.list(s.Elems, depth)
	case schema.ShapeStruct:
		v.Fields = make([]FieldValue, 0, len(s.Fields))
		for _, f := range s.Fields {
			fv, ferr := d.node(f.Type, depth+1)
			if ferr != nil {
				return fmt.Errorf("field %s: %w", f.Name, ferr)
			}
			v.Fields = append(v.Fields, FieldValue{Name: f.Name, Value: fv})
		}
	}
	return err
}

func (d *decoder) list(ns []*schema.Node, depth int) ([]Value, error) {
	out := make([]Value, 0, len(ns))
	for _, n := range ns {
		v, err := d.node(n, depth+1)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (d *decoder) length(elems ...*schema.Node) (int, error) {
	minSize := 0
	for _, e := range elems {
		minSize += minEncodedSize(e)
	}
	n, err := d.s.ReadLength(minSize)
	if err != nil {
		return 0, err
	}
	if minSize == 0 && n > MaxZeroSized {
		return 0, fmt.Errorf("%d zero-sized elements", n)
	}
	return n, nil
}

func (d *decoder) seq(elem *schema.Node, depth int) ([]Value, error) {
	n, err := d.length(elem)
	if err != nil {
		return nil, err
	}
	out := make([]Value, 0, n)
	for i := 0; i < n; i++ {
		v, err := d.node(elem, depth+1)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func (d *decoder) entries(key, val *schema.Node, depth int) ([]MapEntry, error) {
	n, err := d.length(key, val)
	if err != nil {
		return nil, err
	}
	out := make([]MapEntry, 0, n)
	for i := 0; i < n; i++ {
		k, err := d.node(key, depth+1)
		if err != nil {
			return nil, fmt.Errorf("key %d: %w", i, err)
		}
		v, err := d.node(val, depth+1)
		if err != nil {
			return nil, fmt.Errorf("value %d: %w", i, err)
		}
		out = append(out, MapEntry{Key: k, Value: v})
	}
	return out, nil
}

// minEncodedSize is a lower bound on the bytes a value of n occupies.
func minEncodedSize(n *schema.Node) int {
	switch n.Kind {
	case schema.KindUnit:
		return 0
	case schema.KindTuple:
		size := 0
		for _, e := range n.Elems {
			size += minEncodedSize(e)
		}
		return size
	case schema.KindStruct:
		switch n.Body.Kind {
		case schema.ShapeUnit:
			return 0
		case schema.ShapeNewtype:
			return minEncodedSize(n.Body.Newtype)
		case schema.ShapeTuple:
			size := 0
			for _, e := range n.Body.Elems {
				size += minEncodedSize(e)
			}
			return size
		case schema.ShapeStruct:
			size := 0
			for _, f := range n.Body.Fields {
				size += minEncodedSize(f.Type)
			}
			return size
		}
	}
	return 1
}
