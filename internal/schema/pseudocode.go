package schema

import "strings"

var primNames = map[Kind]string{
	KindBool:      "bool",
	KindI8:        "i8",
	KindU8:        "u8",
	KindI16:       "i16",
	KindI32:       "i32",
	KindI64:       "i64",
	KindI128:      "i128",
	KindU16:       "u16",
	KindU32:       "u32",
	KindU64:       "u64",
	KindU128:      "u128",
	KindUsize:     "usize",
	KindIsize:     "isize",
	KindF32:       "f32",
	KindF64:       "f64",
	KindChar:      "char",
	KindString:    "String",
	KindByteArray: "&[u8]",
	KindUnit:      "()",
	KindSchema:    "Schema",
}

// String renders n as Rust-like pseudocode, e.g.
// "struct Classic { a: u32, b: u16, c: bool }". Named types nested below
// the root are rendered by name only.
func (n *Node) String() string {
	var b strings.Builder
	writeNode(&b, n, true)
	return b.String()
}

func writeNode(b *strings.Builder, n *Node, top bool) {
	if n == nil {
		b.WriteString("<nil>")
		return
	}
	if s, ok := primNames[n.Kind]; ok {
		b.WriteString(s)
		return
	}
	switch n.Kind {
	case KindOption:
		b.WriteString("Option<")
		writeNode(b, n.Elem, false)
		b.WriteByte('>')
	case KindSeq:
		b.WriteByte('[')
		writeNode(b, n.Elem, false)
		b.WriteByte(']')
	case KindTuple:
		writeList(b, n.Elems)
	case KindMap:
		b.WriteString("Map<")
		writeNode(b, n.Key, false)
		b.WriteString(", ")
		writeNode(b, n.Val, false)
		b.WriteByte('>')
	case KindStruct:
		if !top {
			b.WriteString(n.Name)
			return
		}
		b.WriteString("struct ")
		b.WriteString(n.Name)
		writeShape(b, n.Body)
	case KindEnum:
		if !top {
			b.WriteString(n.Name)
			return
		}
		b.WriteString("enum ")
		b.WriteString(n.Name)
		b.WriteString(" { ")
		for i, v := range n.Variants {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(v.Name)
			writeShape(b, v.Body)
		}
		b.WriteString(" }")
	default:
		b.WriteString(n.Kind.String())
	}
}

func writeShape(b *strings.Builder, s *Shape) {
	if s == nil {
		return
	}
	switch s.Kind {
	case ShapeNewtype:
		b.WriteByte('(')
		writeNode(b, s.Newtype, false)
		b.WriteByte(')')
	case ShapeTuple:
		writeList(b, s.Elems)
	case ShapeStruct:
		b.WriteString(" { ")
		for i, f := range s.Fields {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(f.Name)
			b.WriteString(": ")
			writeNode(b, f.Type, false)
		}
		b.WriteString(" }")
	}
}

func writeList(b *strings.Builder, nodes []*Node) {
	b.WriteByte('(')
	for i, e := range nodes {
		if i > 0 {
			b.WriteString(", ")
		}
		writeNode(b, e, false)
	}
	b.WriteByte(')')
}
