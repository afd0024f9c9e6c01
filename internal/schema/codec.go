package schema

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"destore/internal/postcard"
)

var (
	ErrMalformed = errors.New("schema: malformed encoding")
	ErrInvalid   = errors.New("schema: invalid tree")
)

// MaxDepth bounds nesting when decoding untrusted encodings.
const MaxDepth = 128

// Marshal encodes n in the length-framed form stored in the cache.
func Marshal(n *Node) ([]byte, error) {
	if err := Validate(n); err != nil {
		return nil, err
	}
	var w postcard.Writer
	Encode(&w, n)
	return w.Bytes(), nil
}

// Unmarshal decodes a tree produced by Marshal. Trailing bytes are an error.
func Unmarshal(data []byte) (*Node, error) {
	s := postcard.NewStream(data)
	n, err := Decode(s)
	if err != nil {
		return nil, err
	}
	if s.Remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, s.Remaining())
	}
	return n, nil
}

// Encode appends n to w. n must be valid.
func Encode(w *postcard.Writer, n *Node) {
	w.PutUvarint(uint64(n.Kind))
	switch n.Kind {
	case KindOption, KindSeq:
		Encode(w, n.Elem)
	case KindTuple:
		encodeList(w, n.Elems)
	case KindMap:
		Encode(w, n.Key)
		Encode(w, n.Val)
	case KindStruct:
		w.PutString(n.Name)
		encodeShape(w, n.Body)
	case KindEnum:
		w.PutString(n.Name)
		w.PutUvarint(uint64(len(n.Variants)))
		for _, v := range n.Variants {
			w.PutString(v.Name)
			encodeShape(w, v.Body)
		}
	}
}

func encodeList(w *postcard.Writer, nodes []*Node) {
	w.PutUvarint(uint64(len(nodes)))
	for _, e := range nodes {
		Encode(w, e)
	}
}

func encodeShape(w *postcard.Writer, s *Shape) {
	w.PutUvarint(uint64(s.Kind))
	switch s.Kind {
	case ShapeNewtype:
		Encode(w, s.Newtype)
	case ShapeTuple:
		encodeList(w, s.Elems)
	case ShapeStruct:
		w.PutUvarint(uint64(len(s.Fields)))
		for _, f := range s.Fields {
			w.PutString(f.Name)
			Encode(w, f.Type)
		}
	}
}

// Decode reads one tree from s.
func Decode(s *postcard.Stream) (*Node, error) {
	d := decoder{s: s}
	return d.node(0)
}

type decoder struct {
	s *postcard.Stream
}

func (d *decoder) wrap(err error) error {
	if errors.Is(err, ErrMalformed) {
		return err
	}
	return fmt.Errorf("%w at %d: %w", ErrMalformed, d.s.Position(), err)
}

func (d *decoder) node(depth int) (*Node, error) {
	if depth > MaxDepth {
		return nil, fmt.Errorf("%w: nesting deeper than %d", ErrMalformed, MaxDepth)
	}
	tag, err := d.s.ReadUvarint(postcard.Bits32)
	if err != nil {
		return nil, d.wrap(err)
	}
	k := Kind(tag)
	if tag >= uint64(kindCount) {
		return nil, fmt.Errorf("%w: unknown kind %d at %d", ErrMalformed, tag, d.s.Position()-1)
	}
	n := &Node{Kind: k}
	switch k {
	case KindOption, KindSeq:
		if n.Elem, err = d.node(depth + 1); err != nil {
			return nil, err
		}
	case KindTuple:
		if n.Elems, err = d.list(depth + 1); err != nil {
			return nil, err
		}
	case KindMap:
		if n.Key, err = d.node(depth + 1); err != nil {
			return nil, err
		}
		if n.Val, err = d.node(depth + 1); err != nil {
			return nil, err
		}
	case KindStruct:
		if n.Name, err = d.name(); err != nil {
			return nil, err
		}
		if n.Body, err = d.shape(depth + 1); err != nil {
			return nil, err
		}
	case KindEnum:
		if n.Name, err = d.name(); err != nil {
			return nil, err
		}
		count, err := d.s.ReadLength(2)
		if err != nil {
			return nil, d.wrap(err)
		}
		n.Variants = make([]Variant, 0, count)
		for i := 0; i < count; i++ {
			var v Variant
			if v.Name, err = d.name(); err != nil {
				return nil, err
			}
			if v.Body, err = d.shape(depth + 1); err != nil {
				return nil, err
			}
			n.Variants = append(n.Variants, v)
		}
	}
	return n, nil
}

func (d *decoder) list(depth int) ([]*Node, error) {
	count, err := d.s.ReadLength(1)
	if err != nil {
		return nil, d.wrap(err)
	}
	out := make([]*Node, 0, count)
	for i := 0; i < count; i++ {
		e, err := d.node(depth)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (d *decoder) shape(depth int) (*Shape, error) {
	tag, err := d.s.ReadUvarint(postcard.Bits32)
	if err != nil {
		return nil, d.wrap(err)
	}
	s := &Shape{Kind: ShapeKind(tag)}
	switch s.Kind {
	case ShapeUnit:
	case ShapeNewtype:
		if s.Newtype, err = d.node(depth); err != nil {
			return nil, err
		}
	case ShapeTuple:
		if s.Elems, err = d.list(depth); err != nil {
			return nil, err
		}
	case ShapeStruct:
		count, err := d.s.ReadLength(2)
		if err != nil {
			return nil, d.wrap(err)
		}
		s.Fields = make([]NamedField, 0, count)
		for i := 0; i < count; i++ {
			var f NamedField
			if f.Name, err = d.name(); err != nil {
				return nil, err
			}
			if f.Type, err = d.node(depth); err != nil {
				return nil, err
			}
			s.Fields = append(s.Fields, f)
		}
	default:
		return nil, fmt.Errorf("%w: unknown shape %d", ErrMalformed, tag)
	}
	return s, nil
}

func (d *decoder) name() (string, error) {
	str, err := d.s.ReadString()
	if err != nil {
		return "", d.wrap(err)
	}
	if str == "" {
		return "", fmt.Errorf("%w: empty name at %d", ErrMalformed, d.s.Position())
	}
	return str, nil
}

// Validate checks that every node has the children its Kind requires and
// that every name is non-empty UTF-8.
func Validate(n *Node) error {
	return validate(n, 0)
}

func validate(n *Node, depth int) error {
	if n == nil {
		return fmt.Errorf("%w: nil node", ErrInvalid)
	}
	if depth > MaxDepth {
		return fmt.Errorf("%w: nesting deeper than %d", ErrInvalid, MaxDepth)
	}
	if !n.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %d", ErrInvalid, n.Kind)
	}
	switch n.Kind {
	case KindOption, KindSeq:
		return validate(n.Elem, depth+1)
	case KindTuple:
		for _, e := range n.Elems {
			if err := validate(e, depth+1); err != nil {
				return err
			}
		}
	case KindMap:
		if err := validate(n.Key, depth+1); err != nil {
			return err
		}
		return validate(n.Val, depth+1)
	case KindStruct:
		if err := validName(n.Name); err != nil {
			return err
		}
		return validateShape(n.Body, depth+1)
	case KindEnum:
		if err := validName(n.Name); err != nil {
			return err
		}
		for _, v := range n.Variants {
			if err := validName(v.Name); err != nil {
				return err
			}
			if err := validateShape(v.Body, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateShape(s *Shape, depth int) error {
	if s == nil {
		return fmt.Errorf("%w: nil shape", ErrInvalid)
	}
	switch s.Kind {
	case ShapeUnit:
	case ShapeNewtype:
		return validate(s.Newtype, depth)
	case ShapeTuple:
		for _, e := range s.Elems {
			if err := validate(e, depth); err != nil {
				return err
			}
		}
	case ShapeStruct:
		for _, f := range s.Fields {
			if err := validName(f.Name); err != nil {
				return err
			}
			if err := validate(f.Type, depth); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%w: unknown shape %d", ErrInvalid, s.Kind)
	}
	return nil
}

func validName(s string) error {
	if s == "" {
		return fmt.Errorf("%w: empty name", ErrInvalid)
	}
	if !utf8.ValidString(s) {
		return fmt.Errorf("%w: name %q is not utf-8", ErrInvalid, s)
	}
	return nil
}
