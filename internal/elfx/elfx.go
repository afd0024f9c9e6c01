// Package elfx provides ELF loading and address-resolution helpers for
// 32-bit little-endian firmware images.
package elfx

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotELF             = errors.New("elfx: not an ELF file")
	ErrNot32Bit           = errors.New("elfx: not 32-bit ELF")
	ErrNotLittleEndian    = errors.New("elfx: not little-endian")
	ErrNoSymbol           = errors.New("elfx: symbol not found")
	ErrNoSection          = errors.New("elfx: no section covers address")
	ErrSectionOutOfBounds = errors.New("elfx: section out of bounds")
	ErrTruncated          = errors.New("elfx: read out of range")
)

// PointerSize is the width of a pointer in the target's static data.
const PointerSize = 4

// File wraps a debug/elf.File over an in-memory image of the binary.
type File struct {
	ELF   *elf.File
	data  []byte
	unmap func() error
}

// Symbol is a symbol table entry.
type Symbol struct {
	Name    string
	Section elf.SectionIndex
	Value   uint64
	Size    uint64
}

// Open maps an ELF file into memory and validates it is a 32-bit
// little-endian image.
func Open(path string) (*File, error) {
	data, unmap, err := mapFile(path)
	if err != nil {
		return nil, fmt.Errorf("elfx: open: %w", err)
	}
	f, err := NewFile(data)
	if err != nil {
		unmap()
		return nil, err
	}
	f.unmap = unmap
	return f, nil
}

// NewFile parses an ELF image held in memory.
func NewFile(data []byte) (*File, error) {
	ef, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotELF, err)
	}
	if ef.Class != elf.ELFCLASS32 {
		ef.Close()
		return nil, ErrNot32Bit
	}
	if ef.Data != elf.ELFDATA2LSB {
		ef.Close()
		return nil, ErrNotLittleEndian
	}
	return &File{ELF: ef, data: data}, nil
}

// Close releases resources.
func (f *File) Close() error {
	err := f.ELF.Close()
	if f.unmap != nil {
		if uerr := f.unmap(); err == nil {
			err = uerr
		}
		f.unmap = nil
	}
	return err
}

// Symbol looks up a .symtab symbol by exact name.
func (f *File) Symbol(name string) (Symbol, error) {
	syms, err := f.ELF.Symbols()
	if err != nil {
		return Symbol{}, fmt.Errorf("%w: %s: symtab: %v", ErrNoSymbol, name, err)
	}
	for _, s := range syms {
		if s.Name == name {
			return Symbol{Name: s.Name, Section: s.Section, Value: s.Value, Size: s.Size}, nil
		}
	}
	return Symbol{}, fmt.Errorf("%w: %s", ErrNoSymbol, name)
}

// Symbols returns every defined symbol whose name starts with prefix, in
// symbol table order.
func (f *File) Symbols(prefix string) ([]Symbol, error) {
	syms, err := f.ELF.Symbols()
	if err != nil {
		if errors.Is(err, elf.ErrNoSymbols) {
			return nil, nil
		}
		return nil, fmt.Errorf("elfx: symtab: %w", err)
	}
	var out []Symbol
	for _, s := range syms {
		if !strings.HasPrefix(s.Name, prefix) || s.Section == elf.SHN_UNDEF {
			continue
		}
		out = append(out, Symbol{Name: s.Name, Section: s.Section, Value: s.Value, Size: s.Size})
	}
	return out, nil
}

// SectionOffset converts an address within section index idx to a file offset.
func (f *File) SectionOffset(idx elf.SectionIndex, addr uint64) (uint64, error) {
	if idx == elf.SHN_UNDEF || int(idx) >= len(f.ELF.Sections) {
		return 0, fmt.Errorf("%w: index %d", ErrSectionOutOfBounds, idx)
	}
	s := f.ELF.Sections[idx]
	if addr < s.Addr || addr-s.Addr >= s.Size {
		return 0, fmt.Errorf("%w: address 0x%x outside %s [0x%x, 0x%x)",
			ErrSectionOutOfBounds, addr, s.Name, s.Addr, s.Addr+s.Size)
	}
	return s.Offset + (addr - s.Addr), nil
}

// VAToFileOffset converts a virtual address to a file offset using the
// first allocated section whose [Addr, Addr+Size) contains va.
func (f *File) VAToFileOffset(va uint64) (uint64, error) {
	for _, s := range f.ELF.Sections {
		if s.Flags&elf.SHF_ALLOC == 0 || s.Size == 0 {
			continue
		}
		if va >= s.Addr && va < s.Addr+s.Size {
			return s.Offset + (va - s.Addr), nil
		}
	}
	return 0, fmt.Errorf("%w: VA 0x%x", ErrNoSection, va)
}

// SectionName returns the name of the allocated section containing va, or "".
func (f *File) SectionName(va uint64) string {
	for _, s := range f.ELF.Sections {
		if s.Flags&elf.SHF_ALLOC != 0 && va >= s.Addr && va < s.Addr+s.Size {
			return s.Name
		}
	}
	return ""
}

// Bytes returns n bytes at file offset off. The slice aliases the image.
func (f *File) Bytes(off uint64, n int) ([]byte, error) {
	if n < 0 || off > uint64(len(f.data)) || uint64(n) > uint64(len(f.data))-off {
		return nil, fmt.Errorf("%w: %d bytes at 0x%x (file size 0x%x)", ErrTruncated, n, off, len(f.data))
	}
	return f.data[off : off+uint64(n)], nil
}

// Byte returns the byte at file offset off.
func (f *File) Byte(off uint64) (byte, error) {
	b, err := f.Bytes(off, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// Uint32 reads a little-endian uint32 at file offset off.
func (f *File) Uint32(off uint64) (uint32, error) {
	b, err := f.Bytes(off, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// Pointer reads a 4-byte virtual address at file offset off and resolves
// it to the file offset it points at.
func (f *File) Pointer(off uint64) (uint64, error) {
	va, err := f.Uint32(off)
	if err != nil {
		return 0, err
	}
	return f.VAToFileOffset(uint64(va))
}
