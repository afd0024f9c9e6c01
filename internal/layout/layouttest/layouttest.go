// Package layouttest emits schema descriptors in the firmware compiler's
// 32-bit memory layout and wraps them in an ELF image.
package layouttest

import (
	"debug/elf"
	"encoding/binary"
	"fmt"

	"destore/internal/elfx/elfxtest"
	"destore/internal/schema"
)

const (
	RodataAddr = 0x3c010000
	DataAddr   = 0x3fc80000
)

// Descriptor tags, independent of the decoder's own table.
var tags = map[schema.Kind]byte{
	schema.KindBool:      4,
	schema.KindI8:        5,
	schema.KindU8:        6,
	schema.KindI16:       7,
	schema.KindI32:       8,
	schema.KindI64:       9,
	schema.KindI128:      10,
	schema.KindU16:       11,
	schema.KindU32:       12,
	schema.KindU64:       13,
	schema.KindU128:      14,
	schema.KindUsize:     15,
	schema.KindIsize:     16,
	schema.KindF32:       17,
	schema.KindF64:       18,
	schema.KindChar:      19,
	schema.KindString:    20,
	schema.KindByteArray: 21,
	schema.KindOption:    22,
	schema.KindUnit:      23,
	schema.KindSeq:       24,
	schema.KindTuple:     25,
	schema.KindMap:       26,
	schema.KindEnum:      28,
	schema.KindSchema:    29,
}

var shapeDisc = map[schema.ShapeKind]uint32{
	schema.ShapeUnit:    0,
	schema.ShapeNewtype: 1,
	schema.ShapeTuple:   2,
	schema.ShapeStruct:  3,
}

type export struct {
	symbol string
	addr   uint32
}

// Builder accumulates descriptors in a .rodata arena and exports root
// pointers from .data.
type Builder struct {
	rodata  []byte
	exports []export
}

// Export lays n out and exports a pointer to it under symbol.
func (b *Builder) Export(symbol string, n *schema.Node) uint32 {
	addr := b.node(n)
	b.ExportAddr(symbol, addr)
	return addr
}

// ExportAddr exports a pointer to an arbitrary arena address.
func (b *Builder) ExportAddr(symbol string, addr uint32) {
	b.exports = append(b.exports, export{symbol: symbol, addr: addr})
}

// Raw appends data to the arena, 4-byte aligned, and returns its address.
func (b *Builder) Raw(data []byte) uint32 {
	addr := b.alloc(len(data))
	copy(b.rodata[addr-RodataAddr:], data)
	return addr
}

// PutUint32 overwrites the word at addr.
func (b *Builder) PutUint32(addr, v uint32) {
	binary.LittleEndian.PutUint32(b.rodata[addr-RodataAddr:], v)
}

// PutByte overwrites the byte at addr.
func (b *Builder) PutByte(addr uint32, v byte) {
	b.rodata[addr-RodataAddr] = v
}

// Str lays out string bytes and returns the {ptr, len} pair.
func (b *Builder) Str(s string) (ptr, n uint32) {
	return b.Raw([]byte(s)), uint32(len(s))
}

// Image returns the ELF description: .rodata holds the arena, .data one
// pointer cell per export.
func (b *Builder) Image() elfxtest.Image {
	data := make([]byte, 4*len(b.exports))
	syms := make([]elfxtest.Symbol, 0, len(b.exports))
	for i, e := range b.exports {
		binary.LittleEndian.PutUint32(data[4*i:], e.addr)
		syms = append(syms, elfxtest.Symbol{Name: e.symbol, Section: 1, Value: DataAddr + uint32(4*i), Size: 4})
	}
	rodata := b.rodata
	if len(rodata) == 0 {
		rodata = make([]byte, 4)
	}
	if len(data) == 0 {
		data = make([]byte, 4)
	}
	return elfxtest.Image{
		Sections: []elfxtest.Section{
			{Name: ".rodata", Flags: elf.SHF_ALLOC, Addr: RodataAddr, Data: rodata},
			{Name: ".data", Flags: elf.SHF_ALLOC | elf.SHF_WRITE, Addr: DataAddr, Data: data},
		},
		Symbols: syms,
	}
}

// Bytes serializes the ELF image.
func (b *Builder) Bytes() []byte {
	img := b.Image()
	return img.Bytes()
}

func (b *Builder) alloc(n int) uint32 {
	for len(b.rodata)%4 != 0 {
		b.rodata = append(b.rodata, 0)
	}
	addr := RodataAddr + uint32(len(b.rodata))
	b.rodata = append(b.rodata, make([]byte, n)...)
	return addr
}

func (b *Builder) putStr(at uint32, s string) {
	if s == "" {
		b.PutUint32(at, 1)
		return
	}
	ptr, n := b.Str(s)
	b.PutUint32(at, ptr)
	b.PutUint32(at+4, n)
}

// putSlice writes a {ptr, count} pair at at, pointing to an array of addrs.
// Empty slices carry a dangling aligned pointer, as the compiler emits.
func (b *Builder) putSlice(at uint32, addrs []uint32) {
	if len(addrs) == 0 {
		b.PutUint32(at, 4)
		return
	}
	arr := b.alloc(4 * len(addrs))
	for i, a := range addrs {
		b.PutUint32(arr+uint32(4*i), a)
	}
	b.PutUint32(at, arr)
	b.PutUint32(at+4, uint32(len(addrs)))
}

func (b *Builder) nodes(ns []*schema.Node) []uint32 {
	addrs := make([]uint32, len(ns))
	for i, n := range ns {
		addrs[i] = b.node(n)
	}
	return addrs
}

func (b *Builder) node(n *schema.Node) uint32 {
	at := b.alloc(20)
	switch n.Kind {
	case schema.KindStruct:
		b.shape(at, n.Body)
		b.putStr(at+12, n.Name)
		return at
	case schema.KindOption, schema.KindSeq:
		b.PutUint32(at+4, b.node(n.Elem))
	case schema.KindTuple:
		b.putSlice(at+4, b.nodes(n.Elems))
	case schema.KindMap:
		b.PutUint32(at+4, b.node(n.Key))
		b.PutUint32(at+8, b.node(n.Val))
	case schema.KindEnum:
		b.putStr(at+4, n.Name)
		vs := make([]uint32, len(n.Variants))
		for i, v := range n.Variants {
			va := b.alloc(20)
			b.shape(va, v.Body)
			b.putStr(va+12, v.Name)
			vs[i] = va
		}
		b.putSlice(at+12, vs)
	}
	tag, ok := tags[n.Kind]
	if !ok {
		panic(fmt.Sprintf("layouttest: no tag for %v", n.Kind))
	}
	b.PutByte(at, tag)
	return at
}

// shape writes a 12-byte shape at at. The discriminant's low byte is the
// struct node's tag.
func (b *Builder) shape(at uint32, s *schema.Shape) {
	b.PutUint32(at, shapeDisc[s.Kind])
	switch s.Kind {
	case schema.ShapeNewtype:
		b.PutUint32(at+4, b.node(s.Newtype))
	case schema.ShapeTuple:
		b.putSlice(at+4, b.nodes(s.Elems))
	case schema.ShapeStruct:
		fs := make([]uint32, len(s.Fields))
		for i, f := range s.Fields {
			fa := b.alloc(12)
			b.putStr(fa, f.Name)
			b.PutUint32(fa+8, b.node(f.Type))
			fs[i] = fa
		}
		b.putSlice(at+4, fs)
	}
}
