package flash

import "fmt"

// Reader is read access to a flash region. Offsets are relative to the
// start of the region.
type Reader interface {
	ReadFlash(offset uint32, p []byte) error
	Capacity() int
}

// NorFlash is a writable flash device.
type NorFlash interface {
	Reader
	Write(offset uint32, p []byte) error
	Erase(from, to uint32) error
}

// Buffer exposes a dumped partition as a read-only flash device.
type Buffer struct {
	data []byte
}

var _ NorFlash = (*Buffer)(nil)

// NewBuffer wraps data without copying.
func NewBuffer(data []byte) *Buffer { return &Buffer{data: data} }

// ReadFlash copies len(p) bytes at offset into p.
func (b *Buffer) ReadFlash(offset uint32, p []byte) error {
	if uint64(offset)+uint64(len(p)) > uint64(len(b.data)) {
		return fmt.Errorf("%w: %d bytes at 0x%x (capacity 0x%x)", ErrOutOfBounds, len(p), offset, len(b.data))
	}
	copy(p, b.data[offset:])
	return nil
}

// Capacity returns the buffer length.
func (b *Buffer) Capacity() int { return len(b.data) }

// Write panics. A dump is never written back.
func (b *Buffer) Write(offset uint32, p []byte) error {
	panic(fmt.Sprintf("flash: write of %d bytes at 0x%x to a read-only buffer", len(p), offset))
}

// Erase panics. A dump is never erased.
func (b *Buffer) Erase(from, to uint32) error {
	panic(fmt.Sprintf("flash: erase of [0x%x, 0x%x) on a read-only buffer", from, to))
}
