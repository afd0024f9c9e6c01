// Package schema models the type-schema tree that describes a serialized
// record: primitive kinds, composites, named structs and enums.
package schema

import "fmt"

// Kind identifies the variant of a Node. The numeric values are the
// declaration-order indices used by the serialized form and the fingerprint.
type Kind uint8

const (
	KindBool Kind = iota
	KindI8
	KindU8
	KindI16
	KindI32
	KindI64
	KindI128
	KindU16
	KindU32
	KindU64
	KindU128
	KindUsize
	KindIsize
	KindF32
	KindF64
	KindChar
	KindString
	KindByteArray
	KindOption
	KindUnit
	KindSeq
	KindTuple
	KindMap
	KindStruct
	KindEnum
	KindSchema

	kindCount
)

var kindNames = [kindCount]string{
	KindBool:      "Bool",
	KindI8:        "I8",
	KindU8:        "U8",
	KindI16:       "I16",
	KindI32:       "I32",
	KindI64:       "I64",
	KindI128:      "I128",
	KindU16:       "U16",
	KindU32:       "U32",
	KindU64:       "U64",
	KindU128:      "U128",
	KindUsize:     "Usize",
	KindIsize:     "Isize",
	KindF32:       "F32",
	KindF64:       "F64",
	KindChar:      "Char",
	KindString:    "String",
	KindByteArray: "ByteArray",
	KindOption:    "Option",
	KindUnit:      "Unit",
	KindSeq:       "Seq",
	KindTuple:     "Tuple",
	KindMap:       "Map",
	KindStruct:    "Struct",
	KindEnum:      "Enum",
	KindSchema:    "Schema",
}

func (k Kind) String() string {
	if k < kindCount {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Valid reports whether k names a known kind.
func (k Kind) Valid() bool { return k < kindCount }

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// ShapeKind identifies the body layout of a struct or enum variant.
type ShapeKind uint8

const (
	ShapeUnit ShapeKind = iota
	ShapeNewtype
	ShapeTuple
	ShapeStruct
)

func (k ShapeKind) String() string {
	switch k {
	case ShapeUnit:
		return "Unit"
	case ShapeNewtype:
		return "Newtype"
	case ShapeTuple:
		return "Tuple"
	case ShapeStruct:
		return "Struct"
	default:
		return fmt.Sprintf("Shape(%d)", uint8(k))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k ShapeKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Node is one node of a schema tree. Which fields are set depends on Kind:
//
//	Option, Seq   Elem
//	Tuple         Elems
//	Map           Key, Val
//	Struct        Name, Body
//	Enum          Name, Variants
//
// Trees are acyclic and treated as immutable once built.
type Node struct {
	Kind     Kind      `json:"kind"`
	Name     string    `json:"name,omitempty"`
	Elem     *Node     `json:"elem,omitempty"`
	Elems    []*Node   `json:"elems,omitempty"`
	Key      *Node     `json:"key,omitempty"`
	Val      *Node     `json:"val,omitempty"`
	Body     *Shape    `json:"body,omitempty"`
	Variants []Variant `json:"variants,omitempty"`
}

// Shape is the body of a struct or enum variant.
type Shape struct {
	Kind    ShapeKind    `json:"kind"`
	Newtype *Node        `json:"newtype,omitempty"`
	Elems   []*Node      `json:"elems,omitempty"`
	Fields  []NamedField `json:"fields,omitempty"`
}

// NamedField is a struct field.
type NamedField struct {
	Name string `json:"name"`
	Type *Node  `json:"type"`
}

// Variant is an enum variant. Its index in Node.Variants is its wire discriminant.
type Variant struct {
	Name string `json:"name"`
	Body *Shape `json:"body"`
}

// Prim returns a node for a primitive kind.
func Prim(k Kind) *Node { return &Node{Kind: k} }

// Option returns Option(elem).
func Option(elem *Node) *Node { return &Node{Kind: KindOption, Elem: elem} }

// Seq returns Seq(elem).
func Seq(elem *Node) *Node { return &Node{Kind: KindSeq, Elem: elem} }

// Tuple returns Tuple(elems...).
func Tuple(elems ...*Node) *Node { return &Node{Kind: KindTuple, Elems: elems} }

// Map returns Map{key, val}.
func Map(key, val *Node) *Node { return &Node{Kind: KindMap, Key: key, Val: val} }

// Struct returns a named struct with the given body.
func Struct(name string, body *Shape) *Node { return &Node{Kind: KindStruct, Name: name, Body: body} }

// Enum returns a named enum with variants in declaration order.
func Enum(name string, variants ...Variant) *Node {
	return &Node{Kind: KindEnum, Name: name, Variants: variants}
}

// UnitShape returns a unit body.
func UnitShape() *Shape { return &Shape{Kind: ShapeUnit} }

// NewtypeShape returns a single-element body.
func NewtypeShape(n *Node) *Shape { return &Shape{Kind: ShapeNewtype, Newtype: n} }

// TupleShape returns a positional body.
func TupleShape(elems ...*Node) *Shape { return &Shape{Kind: ShapeTuple, Elems: elems} }

// StructShape returns a named-field body.
func StructShape(fields ...NamedField) *Shape { return &Shape{Kind: ShapeStruct, Fields: fields} }

// Field is shorthand for a NamedField.
func Field(name string, typ *Node) NamedField { return NamedField{Name: name, Type: typ} }

// Var is shorthand for a Variant.
func Var(name string, body *Shape) Variant { return Variant{Name: name, Body: body} }

// Walk calls fn for n and every descendant, parents first. fn returning
// false prunes that subtree.
func Walk(n *Node, fn func(*Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	switch n.Kind {
	case KindOption, KindSeq:
		Walk(n.Elem, fn)
	case KindTuple:
		for _, e := range n.Elems {
			Walk(e, fn)
		}
	case KindMap:
		Walk(n.Key, fn)
		Walk(n.Val, fn)
	case KindStruct:
		walkShape(n.Body, fn)
	case KindEnum:
		for _, v := range n.Variants {
			walkShape(v.Body, fn)
		}
	}
}

func walkShape(s *Shape, fn func(*Node) bool) {
	if s == nil {
		return
	}
	switch s.Kind {
	case ShapeNewtype:
		Walk(s.Newtype, fn)
	case ShapeTuple:
		for _, e := range s.Elems {
			Walk(e, fn)
		}
	case ShapeStruct:
		for _, f := range s.Fields {
			Walk(f.Type, fn)
		}
	}
}
