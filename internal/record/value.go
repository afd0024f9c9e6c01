package record

import (
	"math"
	"math/big"
	"strconv"
	"strings"

	"destore/internal/schema"
)

// Value is a decoded record. Kind selects which fields are meaningful:
//
//	Bool                   Bool
//	I8..I64, Isize         Int
//	U8..U64, Usize         Uint
//	I128, U128             Big
//	F32, F64               Float
//	Char                   Char
//	String                 Str
//	ByteArray              Bytes
//	Option                 Elem (nil = None)
//	Seq, Tuple             Elems
//	Map                    Entries
//	Struct                 Name, Shape, Elems or Fields
//	Enum                   Name, Variant, VariantIndex, Shape, Elems or Fields
//	Schema                 Schema
//
// Newtype bodies hold their single value in Elems[0].
type Value struct {
	Kind schema.Kind

	Bool  bool
	Int   int64
	Uint  uint64
	Big   *big.Int
	Float float64
	Char  rune
	Str   string
	Bytes []byte

	Elem    *Value
	Elems   []Value
	Entries []MapEntry
	Fields  []FieldValue

	Name         string
	Shape        schema.ShapeKind
	Variant      string
	VariantIndex uint32

	Schema *schema.Node
}

// FieldValue is a named struct field.
type FieldValue struct {
	Name  string
	Value Value
}

// MapEntry is one key/value pair in wire order.
type MapEntry struct {
	Key   Value
	Value Value
}

// String renders v in Rust debug notation, e.g. Classic { a: 1, b: 2, c: true }.
func (v Value) String() string {
	var b strings.Builder
	v.write(&b)
	return b.String()
}

func (v Value) write(b *strings.Builder) {
	switch v.Kind {
	case schema.KindBool:
		b.WriteString(strconv.FormatBool(v.Bool))
	case schema.KindI8, schema.KindI16, schema.KindI32, schema.KindI64, schema.KindIsize:
		b.WriteString(strconv.FormatInt(v.Int, 10))
	case schema.KindU8, schema.KindU16, schema.KindU32, schema.KindU64, schema.KindUsize:
		b.WriteString(strconv.FormatUint(v.Uint, 10))
	case schema.KindI128, schema.KindU128:
		if v.Big == nil {
			b.WriteString("0")
		} else {
			b.WriteString(v.Big.String())
		}
	case schema.KindF32, schema.KindF64:
		b.WriteString(formatFloat(v.Float, v.Kind))
	case schema.KindChar:
		b.WriteString(strconv.QuoteRune(v.Char))
	case schema.KindString:
		b.WriteString(strconv.Quote(v.Str))
	case schema.KindByteArray:
		b.WriteByte('[')
		for i, c := range v.Bytes {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(strconv.Itoa(int(c)))
		}
		b.WriteByte(']')
	case schema.KindUnit:
		b.WriteString("()")
	case schema.KindOption:
		if v.Elem == nil {
			b.WriteString("None")
			return
		}
		b.WriteString("Some(")
		v.Elem.write(b)
		b.WriteByte(')')
	case schema.KindSeq:
		writeList(b, "[", "]", v.Elems)
	case schema.KindTuple:
		if len(v.Elems) == 1 {
			b.WriteByte('(')
			v.Elems[0].write(b)
			b.WriteString(",)")
			return
		}
		writeList(b, "(", ")", v.Elems)
	case schema.KindMap:
		b.WriteByte('{')
		for i, e := range v.Entries {
			if i > 0 {
				b.WriteString(", ")
			}
			e.Key.write(b)
			b.WriteString(": ")
			e.Value.write(b)
		}
		b.WriteByte('}')
	case schema.KindStruct:
		v.writeBody(b, v.Name)
	case schema.KindEnum:
		v.writeBody(b, v.Variant)
	case schema.KindSchema:
		if v.Schema != nil {
			b.WriteString(v.Schema.String())
		}
	}
}

func (v Value) writeBody(b *strings.Builder, name string) {
	b.WriteString(name)
	switch v.Shape {
	case schema.ShapeNewtype, schema.ShapeTuple:
		writeList(b, "(", ")", v.Elems)
	case schema.ShapeStruct:
		if len(v.Fields) == 0 {
			b.WriteString(" {}")
			return
		}
		b.WriteString(" { ")
		for i, f := range v.Fields {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(f.Name)
			b.WriteString(": ")
			f.Value.write(b)
		}
		b.WriteString(" }")
	}
}

func writeList(b *strings.Builder, lp, rp string, vs []Value) {
	b.WriteString(lp)
	for i, e := range vs {
		if i > 0 {
			b.WriteString(", ")
		}
		e.write(b)
	}
	b.WriteString(rp)
}

// formatFloat prints integral values with a trailing ".0".
func formatFloat(f float64, k schema.Kind) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	bits := 64
	if k == schema.KindF32 {
		bits = 32
	}
	s := strconv.FormatFloat(f, 'g', -1, bits)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

// Native converts v to plain Go values for JSON and YAML encoders.
// Structs, maps and non-unit enum variants become Ordered mappings, and
// sequences and tuples become slices. 128-bit integers that overflow 64
// bits and non-finite floats become strings.
func (v Value) Native() any {
	switch v.Kind {
	case schema.KindBool:
		return v.Bool
	case schema.KindI8, schema.KindI16, schema.KindI32, schema.KindI64, schema.KindIsize:
		return v.Int
	case schema.KindU8, schema.KindU16, schema.KindU32, schema.KindU64, schema.KindUsize:
		return v.Uint
	case schema.KindI128, schema.KindU128:
		switch {
		case v.Big == nil:
			return int64(0)
		case v.Big.IsInt64():
			return v.Big.Int64()
		case v.Big.IsUint64():
			return v.Big.Uint64()
		}
		return v.Big.String()
	case schema.KindF32, schema.KindF64:
		if math.IsNaN(v.Float) || math.IsInf(v.Float, 0) {
			return formatFloat(v.Float, v.Kind)
		}
		return v.Float
	case schema.KindChar:
		return string(v.Char)
	case schema.KindString:
		return v.Str
	case schema.KindByteArray:
		return v.Bytes
	case schema.KindUnit:
		return nil
	case schema.KindOption:
		if v.Elem == nil {
			return nil
		}
		return v.Elem.Native()
	case schema.KindSeq, schema.KindTuple:
		return natives(v.Elems)
	case schema.KindMap:
		m := make(Ordered, 0, len(v.Entries))
		for _, e := range v.Entries {
			key := e.Key.String()
			if e.Key.Kind == schema.KindString {
				key = e.Key.Str
			}
			m = append(m, Pair{Key: key, Value: e.Value.Native()})
		}
		return m
	case schema.KindStruct:
		if v.Shape == schema.ShapeUnit {
			return v.Name
		}
		return v.nativeBody()
	case schema.KindEnum:
		if v.Shape == schema.ShapeUnit {
			return v.Variant
		}
		return Ordered{{Key: v.Variant, Value: v.nativeBody()}}
	case schema.KindSchema:
		if v.Schema == nil {
			return nil
		}
		return v.Schema.String()
	}
	return nil
}

func (v Value) nativeBody() any {
	switch v.Shape {
	case schema.ShapeNewtype:
		if len(v.Elems) == 1 {
			return v.Elems[0].Native()
		}
		return nil
	case schema.ShapeTuple:
		return natives(v.Elems)
	case schema.ShapeStruct:
		m := make(Ordered, 0, len(v.Fields))
		for _, f := range v.Fields {
			m = append(m, Pair{Key: f.Name, Value: f.Value.Native()})
		}
		return m
	}
	return nil
}

func natives(vs []Value) []any {
	out := make([]any, len(vs))
	for i, e := range vs {
		out[i] = e.Native()
	}
	return out
}
