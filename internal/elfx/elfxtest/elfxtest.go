// Package elfxtest builds minimal 32-bit little-endian ELF images for tests.
package elfxtest

import (
	"debug/elf"
	"encoding/binary"
)

// Section is one allocated section of the image.
type Section struct {
	Name  string
	Type  elf.SectionType // zero means SHT_PROGBITS
	Flags elf.SectionFlag
	Addr  uint32
	Data  []byte
	Size  uint32 // SHT_NOBITS only
}

// Symbol is a global object symbol. Section indexes Image.Sections.
type Symbol struct {
	Name    string
	Section int
	Value   uint32
	Size    uint32
}

// Image describes an ELF32 file with a .symtab.
type Image struct {
	Machine  elf.Machine // zero means EM_RISCV
	Sections []Section
	Symbols  []Symbol
}

const (
	ehdrSize = 52
	shdrSize = 40
	symSize  = 16
)

type shdr struct {
	name, typ, flags, addr, off, size, link, info, align, entsize uint32
}

// Bytes serializes the image. Section data follows the ELF header in
// order, then .symtab, .strtab and .shstrtab, then the section headers.
func (img *Image) Bytes() []byte {
	le := binary.LittleEndian
	out := make([]byte, ehdrSize)

	shstr := []byte{0}
	addName := func(tab *[]byte, s string) uint32 {
		off := uint32(len(*tab))
		*tab = append(*tab, s...)
		*tab = append(*tab, 0)
		return off
	}
	align := func() {
		for len(out)%4 != 0 {
			out = append(out, 0)
		}
	}

	headers := []shdr{{}} // SHN_UNDEF
	for _, s := range img.Sections {
		align()
		typ := s.Type
		if typ == 0 {
			typ = elf.SHT_PROGBITS
		}
		h := shdr{
			name:  addName(&shstr, s.Name),
			typ:   uint32(typ),
			flags: uint32(s.Flags),
			addr:  s.Addr,
			off:   uint32(len(out)),
			size:  uint32(len(s.Data)),
			align: 4,
		}
		if typ == elf.SHT_NOBITS {
			h.size = s.Size
		} else {
			out = append(out, s.Data...)
		}
		headers = append(headers, h)
	}

	strtab := []byte{0}
	symtab := make([]byte, symSize) // null symbol
	for _, sym := range img.Symbols {
		var e [symSize]byte
		le.PutUint32(e[0:], addName(&strtab, sym.Name))
		le.PutUint32(e[4:], sym.Value)
		le.PutUint32(e[8:], sym.Size)
		e[12] = byte(elf.STB_GLOBAL)<<4 | byte(elf.STT_OBJECT)
		le.PutUint16(e[14:], uint16(sym.Section+1))
		symtab = append(symtab, e[:]...)
	}

	symtabIdx := len(headers)
	strtabIdx := symtabIdx + 1
	shstrIdx := symtabIdx + 2

	align()
	headers = append(headers, shdr{
		name: addName(&shstr, ".symtab"), typ: uint32(elf.SHT_SYMTAB),
		off: uint32(len(out)), size: uint32(len(symtab)),
		link: uint32(strtabIdx), info: 1, align: 4, entsize: symSize,
	})
	out = append(out, symtab...)

	headers = append(headers, shdr{
		name: addName(&shstr, ".strtab"), typ: uint32(elf.SHT_STRTAB),
		off: uint32(len(out)), size: uint32(len(strtab)), align: 1,
	})
	out = append(out, strtab...)

	shstrName := addName(&shstr, ".shstrtab")
	headers = append(headers, shdr{
		name: shstrName, typ: uint32(elf.SHT_STRTAB),
		off: uint32(len(out)), size: uint32(len(shstr)), align: 1,
	})
	out = append(out, shstr...)

	align()
	shoff := uint32(len(out))
	for _, h := range headers {
		var e [shdrSize]byte
		for i, v := range []uint32{h.name, h.typ, h.flags, h.addr, h.off, h.size, h.link, h.info, h.align, h.entsize} {
			le.PutUint32(e[i*4:], v)
		}
		out = append(out, e[:]...)
	}

	machine := img.Machine
	if machine == 0 {
		machine = elf.EM_RISCV
	}
	copy(out[0:], elf.ELFMAG)
	out[elf.EI_CLASS] = byte(elf.ELFCLASS32)
	out[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	out[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	le.PutUint16(out[16:], uint16(elf.ET_EXEC))
	le.PutUint16(out[18:], uint16(machine))
	le.PutUint32(out[20:], uint32(elf.EV_CURRENT))
	le.PutUint32(out[32:], shoff)
	le.PutUint16(out[40:], ehdrSize)
	le.PutUint16(out[42:], 32) // e_phentsize; no program headers
	le.PutUint16(out[46:], shdrSize)
	le.PutUint16(out[48:], uint16(len(headers)))
	le.PutUint16(out[50:], uint16(shstrIdx))
	return out
}
