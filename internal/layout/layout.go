// Package layout reconstructs a schema tree from the static descriptor a
// firmware image exports, by walking the compiler's in-memory layout of the
// descriptor byte for byte.
//
// Descriptor layout on a 32-bit target (all pointers are 4-byte LE virtual
// addresses, all descriptors 4-byte aligned):
//
//	node (20 bytes)
//	  +0x00 tag byte
//	        0..3  struct family; the byte is also the low byte of the
//	              struct body's u32 shape discriminant
//	        4..29 sequential kinds, see tagKinds (27 unused)
//	  struct:   +0x00 shape (12 bytes)   +0x0c name (&str)
//	  Option:   +0x04 *node
//	  Seq:      +0x04 *node
//	  Tuple:    +0x04 slice of *node
//	  Map:      +0x04 *key  +0x08 *val
//	  Enum:     +0x04 name (&str)  +0x0c slice of *variant
//
//	shape (12 bytes)
//	  +0x00 u32 discriminant: 0 unit, 1 newtype, 2 tuple, 3 struct
//	  +0x04 newtype: *node; tuple: slice of *node; struct: slice of *field
//
//	field (12 bytes):   +0x00 name (&str)  +0x08 *node
//	variant (20 bytes): +0x00 shape        +0x0c name (&str)
//	slice (8 bytes):    +0x00 *[count]*T   +0x04 u32 count
//	&str (8 bytes):     +0x00 *[len]u8     +0x04 u32 len
package layout

import (
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"destore/internal/elfx"
	"destore/internal/schema"
)

var (
	ErrUnknownTag  = errors.New("layout: unknown tag")
	ErrInvalidUTF8 = errors.New("layout: invalid utf-8")
	ErrEmptyName   = errors.New("layout: empty name")
	ErrLimit       = errors.New("layout: limit exceeded")
)

// UnknownTagError reports a discriminant outside the known table. It
// signals either an unsupported schema feature or a layout mismatch.
type UnknownTagError struct {
	Tag    uint32
	Offset uint64
	Shape  bool // shape discriminant rather than node tag
}

func (e *UnknownTagError) Error() string {
	what := "type tag"
	if e.Shape {
		what = "shape discriminant"
	}
	return fmt.Sprintf("layout: unknown %s %d at offset 0x%x", what, e.Tag, e.Offset)
}

func (e *UnknownTagError) Is(target error) bool { return target == ErrUnknownTag }

// DefaultSymbol is the export name the firmware uses for its record schema.
const DefaultSymbol = "_DESTORE_SCHEMA"

// Field offsets within descriptors.
const (
	offPayload     = 0x04 // first word after the tag
	offSecond      = 0x08 // second word after the tag
	offStructName  = 0x0c
	offEnumName    = 0x04
	offEnumVars    = 0x0c
	offShapeBody   = 0x04
	offFieldType   = 0x08
	offVariantName = 0x0c
	offSliceCount  = 0x04
	offStrLen      = 0x04
)

// Struct family: the shape discriminant doubles as the node tag.
const structFamilyMax = 3

// Shape discriminants.
const (
	shapeUnit    = 0
	shapeNewtype = 1
	shapeTuple   = 2
	shapeStruct  = 3
)

// tagKinds maps sequential node tags to kinds. The compiler numbers the
// kinds from 4 in declaration order; 27 is where the struct kind would
// fall but struct lives in 0..3, so it is absent.
var tagKinds = map[byte]schema.Kind{
	4:  schema.KindBool,
	5:  schema.KindI8,
	6:  schema.KindU8,
	7:  schema.KindI16,
	8:  schema.KindI32,
	9:  schema.KindI64,
	10: schema.KindI128,
	11: schema.KindU16,
	12: schema.KindU32,
	13: schema.KindU64,
	14: schema.KindU128,
	15: schema.KindUsize,
	16: schema.KindIsize,
	17: schema.KindF32,
	18: schema.KindF64,
	19: schema.KindChar,
	20: schema.KindString,
	21: schema.KindByteArray,
	22: schema.KindOption,
	23: schema.KindUnit,
	24: schema.KindSeq,
	25: schema.KindTuple,
	26: schema.KindMap,
	28: schema.KindEnum,
	29: schema.KindSchema,
}

type family int

const (
	familyStruct family = iota
	familySequential
)

// classify is the first decode stage: struct family or sequential kind.
func classify(tag byte) (family, schema.Kind, bool) {
	if tag <= structFamilyMax {
		return familyStruct, schema.KindStruct, true
	}
	k, ok := tagKinds[tag]
	return familySequential, k, ok
}

// Options bounds the walk over untrusted images.
type Options struct {
	MaxDepth int // nesting cap; 0 = DefaultMaxDepth
	MaxElems int // per-slice element cap; 0 = DefaultMaxElems
	Logger   *slog.Logger
}

const (
	DefaultMaxDepth = 64
	DefaultMaxElems = 1 << 16
)

func (o Options) maxDepth() int {
	if o.MaxDepth > 0 {
		return o.MaxDepth
	}
	return DefaultMaxDepth
}

func (o Options) maxElems() int {
	if o.MaxElems > 0 {
		return o.MaxElems
	}
	return DefaultMaxElems
}

// Decoder walks schema descriptors inside one ELF image.
type Decoder struct {
	f    *elfx.File
	opts Options
	log  *slog.Logger
}

// NewDecoder returns a decoder over f.
func NewDecoder(f *elfx.File, opts Options) *Decoder {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Decoder{f: f, opts: opts, log: log}
}

// LoadSchema reconstructs the tree exported under symbol. The symbol's
// value is a pointer cell holding the address of the root descriptor.
func (d *Decoder) LoadSchema(symbol string) (*schema.Node, error) {
	sym, err := d.f.Symbol(symbol)
	if err != nil {
		return nil, err
	}
	cell, err := d.f.SectionOffset(sym.Section, sym.Value)
	if err != nil {
		return nil, fmt.Errorf("layout: %s: %w", symbol, err)
	}
	d.log.Debug("schema symbol", "symbol", symbol, "value", hex(sym.Value), "offset", hex(cell))

	root, err := d.pointer(cell)
	if err != nil {
		return nil, fmt.Errorf("layout: %s: %w", symbol, err)
	}
	n, err := d.node(root, 0)
	if err != nil {
		return nil, fmt.Errorf("layout: %s: %w", symbol, err)
	}
	return n, nil
}

// Export is one schema found in an image.
type Export struct {
	Symbol      string             `json:"symbol"`
	Fingerprint schema.Fingerprint `json:"fingerprint"`
	Schema      *schema.Node       `json:"schema"`
}

// LoadAll reconstructs every schema exported under a symbol starting with prefix.
func (d *Decoder) LoadAll(prefix string) ([]Export, error) {
	syms, err := d.f.Symbols(prefix)
	if err != nil {
		return nil, err
	}
	if len(syms) == 0 {
		return nil, fmt.Errorf("%w: %s*", elfx.ErrNoSymbol, prefix)
	}
	out := make([]Export, 0, len(syms))
	for _, sym := range syms {
		n, err := d.LoadSchema(sym.Name)
		if err != nil {
			return nil, err
		}
		out = append(out, Export{Symbol: sym.Name, Fingerprint: schema.FingerprintOf(n), Schema: n})
	}
	return out, nil
}

// LoadFile opens path and reconstructs the schema exported under symbol.
func LoadFile(path, symbol string, opts Options) (*schema.Node, error) {
	f, err := elfx.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return NewDecoder(f, opts).LoadSchema(symbol)
}

// LoadAllFile opens path and reconstructs every export starting with prefix.
func LoadAllFile(path, prefix string, opts Options) ([]Export, error) {
	f, err := elfx.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return NewDecoder(f, opts).LoadAll(prefix)
}

func (d *Decoder) pointer(off uint64) (uint64, error) {
	target, err := d.f.Pointer(off)
	if err != nil {
		return 0, err
	}
	d.log.Debug("resolve pointer", "at", hex(off), "to", hex(target), "section", cellSection{d.f, off})
	return target, nil
}

// cellSection names the section a pointer cell points into. It is only
// resolved when the record is actually logged.
type cellSection struct {
	f   *elfx.File
	off uint64
}

func (c cellSection) LogValue() slog.Value {
	va, err := c.f.Uint32(c.off)
	if err != nil {
		return slog.StringValue("?")
	}
	return slog.StringValue(c.f.SectionName(uint64(va)))
}

func (d *Decoder) node(off uint64, depth int) (*schema.Node, error) {
	if depth > d.opts.maxDepth() {
		return nil, fmt.Errorf("%w: nesting deeper than %d at 0x%x", ErrLimit, d.opts.maxDepth(), off)
	}
	tag, err := d.f.Byte(off)
	if err != nil {
		return nil, err
	}
	fam, kind, ok := classify(tag)
	if !ok {
		return nil, &UnknownTagError{Tag: uint32(tag), Offset: off}
	}
	d.log.Debug("decode node", "tag", tag, "kind", kind, "offset", hex(off))

	if fam == familyStruct {
		body, err := d.shape(off, depth+1)
		if err != nil {
			return nil, err
		}
		name, err := d.name(off + offStructName)
		if err != nil {
			return nil, err
		}
		return schema.Struct(name, body), nil
	}

	switch kind {
	case schema.KindOption, schema.KindSeq:
		elem, err := d.child(off+offPayload, depth)
		if err != nil {
			return nil, err
		}
		return &schema.Node{Kind: kind, Elem: elem}, nil
	case schema.KindTuple:
		elems, err := decodeSlice(d, off+offPayload, depth+1, d.node)
		if err != nil {
			return nil, err
		}
		return schema.Tuple(elems...), nil
	case schema.KindMap:
		key, err := d.child(off+offPayload, depth)
		if err != nil {
			return nil, err
		}
		val, err := d.child(off+offSecond, depth)
		if err != nil {
			return nil, err
		}
		return schema.Map(key, val), nil
	case schema.KindEnum:
		name, err := d.name(off + offEnumName)
		if err != nil {
			return nil, err
		}
		variants, err := decodeSlice(d, off+offEnumVars, depth+1, d.variant)
		if err != nil {
			return nil, err
		}
		return schema.Enum(name, variants...), nil
	default:
		return schema.Prim(kind), nil
	}
}

// child follows the pointer at off and decodes the node it references.
func (d *Decoder) child(off uint64, depth int) (*schema.Node, error) {
	target, err := d.pointer(off)
	if err != nil {
		return nil, err
	}
	return d.node(target, depth+1)
}

// shape is the second decode stage, shared by struct bodies and variants.
func (d *Decoder) shape(off uint64, depth int) (*schema.Shape, error) {
	disc, err := d.f.Uint32(off)
	if err != nil {
		return nil, err
	}
	switch disc {
	case shapeUnit:
		return schema.UnitShape(), nil
	case shapeNewtype:
		inner, err := d.child(off+offShapeBody, depth)
		if err != nil {
			return nil, err
		}
		return schema.NewtypeShape(inner), nil
	case shapeTuple:
		elems, err := decodeSlice(d, off+offShapeBody, depth+1, d.node)
		if err != nil {
			return nil, err
		}
		return schema.TupleShape(elems...), nil
	case shapeStruct:
		fields, err := decodeSlice(d, off+offShapeBody, depth+1, d.field)
		if err != nil {
			return nil, err
		}
		return schema.StructShape(fields...), nil
	default:
		return nil, &UnknownTagError{Tag: disc, Offset: off, Shape: true}
	}
}

func (d *Decoder) field(off uint64, depth int) (schema.NamedField, error) {
	name, err := d.name(off)
	if err != nil {
		return schema.NamedField{}, err
	}
	typ, err := d.child(off+offFieldType, depth)
	if err != nil {
		return schema.NamedField{}, err
	}
	return schema.Field(name, typ), nil
}

func (d *Decoder) variant(off uint64, depth int) (schema.Variant, error) {
	name, err := d.name(off + offVariantName)
	if err != nil {
		return schema.Variant{}, err
	}
	body, err := d.shape(off, depth)
	if err != nil {
		return schema.Variant{}, err
	}
	return schema.Var(name, body), nil
}

// decodeSlice reads a {*[count]*T, count} slice at off and decodes each
// element with elem.
func decodeSlice[T any](d *Decoder, off uint64, depth int, elem func(uint64, int) (T, error)) ([]T, error) {
	count, err := d.f.Uint32(off + offSliceCount)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		// the array pointer of an empty slice dangles
		return []T{}, nil
	}
	if int64(count) > int64(d.opts.maxElems()) {
		return nil, fmt.Errorf("%w: slice of %d elements at 0x%x", ErrLimit, count, off)
	}
	start, err := d.pointer(off)
	if err != nil {
		return nil, err
	}
	d.log.Debug("slice", "start", hex(start), "count", count)

	out := make([]T, 0, count)
	for i := uint64(0); i < uint64(count); i++ {
		at, err := d.pointer(start + i*elfx.PointerSize)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		v, err := elem(at, depth)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// str reads a {*[len]u8, len} string at off.
func (d *Decoder) str(off uint64) (string, error) {
	n, err := d.f.Uint32(off + offStrLen)
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	ptr, err := d.pointer(off)
	if err != nil {
		return "", err
	}
	b, err := d.f.Bytes(ptr, int(n))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", fmt.Errorf("%w: %d bytes at 0x%x", ErrInvalidUTF8, n, ptr)
	}
	return string(b), nil
}

func (d *Decoder) name(off uint64) (string, error) {
	s, err := d.str(off)
	if err != nil {
		return "", err
	}
	if s == "" {
		return "", fmt.Errorf("%w at 0x%x", ErrEmptyName, off)
	}
	return s, nil
}

type hex uint64

func (h hex) LogValue() slog.Value { return slog.StringValue(fmt.Sprintf("0x%x", uint64(h))) }
