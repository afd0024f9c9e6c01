// Package flash iterates the entries of a sequential-storage queue in a
// raw flash dump.
//
// Queue layout (word size 4, page size P):
//
//	page
//	  +0      start marker word; FF FF FF FF = page unused
//	  +4      items ...
//	  +P-4    end marker word; set once the writer moved past the page
//
//	item header (8 bytes)
//	  +0 u32 CRC-32C of the data; 0 = popped (a computed 0 is stored as 1)
//	  +4 u16 data length
//	  +6 u16 CRC-16/MODBUS of the two length bytes
//	  data padded to a word; it continues at the next page's item region
//	  when the page runs out
//
// An all-FF header marks the end of the items written to a page.
package flash

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"log/slog"
)

var (
	ErrOutOfBounds = errors.New("flash: read out of bounds")
	ErrCorrupted   = errors.New("flash: corrupted queue")
)

const (
	WordSize        = 4
	HeaderSize      = 8
	DefaultPageSize = 4096
	DefaultMaxEntry = 4096

	markerSize = WordSize
)

// Entry is one live queue item.
type Entry struct {
	Offset uint32 // header offset within the region
	Data   []byte
}

// Range is the [Start, End) span of the region holding the queue.
type Range struct {
	Start, End uint32
}

// Options configures iteration.
type Options struct {
	PageSize int // 0 = DefaultPageSize
	MaxEntry int // 0 = DefaultMaxEntry
	Logger   *slog.Logger
}

// Iterator walks queue entries in write order. It is forward-only and not
// safe for concurrent use.
type Iterator struct {
	r        Reader
	rng      Range
	pageSize uint32
	maxEntry int
	log      *slog.Logger

	page   uint32 // start of the current page
	pos    uint32 // next header position
	inPage bool
	done   bool
	err    error
	hdr    [HeaderSize]byte
}

// Iterate returns an iterator over the queue stored in rng. An End of 0
// means the reader's capacity.
func Iterate(r Reader, rng Range, opts Options) *Iterator {
	it := &Iterator{
		r:        r,
		rng:      rng,
		pageSize: DefaultPageSize,
		maxEntry: DefaultMaxEntry,
		log:      opts.Logger,
		page:     rng.Start,
	}
	if it.log == nil {
		it.log = slog.Default()
	}
	if opts.PageSize != 0 {
		it.pageSize = uint32(opts.PageSize)
	}
	if opts.MaxEntry != 0 {
		it.maxEntry = opts.MaxEntry
	}
	if it.rng.End == 0 {
		it.rng.End = uint32(r.Capacity())
	}

	switch {
	case opts.PageSize < 0 || it.pageSize%WordSize != 0 || it.pageSize < 2*markerSize+HeaderSize:
		it.fail(fmt.Errorf("flash: invalid page size %d", opts.PageSize))
	case it.rng.Start > it.rng.End:
		it.fail(fmt.Errorf("flash: invalid range [0x%x, 0x%x)", it.rng.Start, it.rng.End))
	case uint64(it.rng.End) > uint64(r.Capacity()):
		it.fail(fmt.Errorf("%w: range end 0x%x beyond capacity 0x%x", ErrOutOfBounds, it.rng.End, r.Capacity()))
	}
	return it
}

func (it *Iterator) fail(err error) {
	it.done = true
	it.err = err
}

// Next returns the next live entry. ok is false once the queue is
// exhausted or after an error; the error is returned on every later call.
func (it *Iterator) Next() (Entry, bool, error) {
	for !it.done {
		if !it.inPage {
			open, err := it.openPage(it.page)
			if err != nil {
				it.fail(err)
				break
			}
			if !open {
				it.done = true
				break
			}
			it.pos = it.page + markerSize
		}

		if it.itemEnd()-it.pos < HeaderSize {
			it.nextPage()
			continue
		}
		if err := it.read(it.pos, it.hdr[:]); err != nil {
			it.fail(err)
			break
		}
		if isErased(it.hdr[:]) {
			closed, err := it.pageClosed()
			if err != nil {
				it.fail(err)
				break
			}
			if !closed {
				it.log.Debug("queue end", "page", hex(it.page), "offset", hex(it.pos))
				it.done = true
				break
			}
			it.nextPage()
			continue
		}

		e, popped, err := it.item()
		if err != nil {
			it.fail(err)
			break
		}
		if popped {
			continue
		}
		return e, true, nil
	}
	return Entry{}, false, it.err
}

// item decodes the header in it.hdr and the data that follows, leaving
// it.pos after the item.
func (it *Iterator) item() (Entry, bool, error) {
	at := it.pos
	crc := binary.LittleEndian.Uint32(it.hdr[0:])
	n := binary.LittleEndian.Uint16(it.hdr[4:])
	lcrc := binary.LittleEndian.Uint16(it.hdr[6:])
	if want := LengthChecksum(n); lcrc != want {
		return Entry{}, false, fmt.Errorf("%w: header at 0x%x: length 0x%04x, crc 0x%04x, stored 0x%04x", ErrCorrupted, at, n, want, lcrc)
	}
	if int(n) > it.maxEntry {
		return Entry{}, false, fmt.Errorf("%w: entry at 0x%x of %d bytes exceeds %d", ErrCorrupted, at, n, it.maxEntry)
	}

	it.pos += HeaderSize
	data, err := it.data(int(n))
	if err != nil {
		return Entry{}, false, fmt.Errorf("entry at 0x%x: %w", at, err)
	}
	if crc == 0 {
		it.log.Debug("skip popped entry", "offset", hex(at), "len", n)
		return Entry{}, true, nil
	}
	if got := Checksum(data); got != crc {
		return Entry{}, false, fmt.Errorf("%w: entry at 0x%x: crc 0x%08x, stored 0x%08x", ErrCorrupted, at, got, crc)
	}
	it.log.Debug("entry", "offset", hex(at), "len", n)
	return Entry{Offset: at, Data: data}, false, nil
}

// data reads n bytes of item data starting at it.pos, following the item
// into later pages as needed.
func (it *Iterator) data(n int) ([]byte, error) {
	padded := alignUp(n)
	buf := make([]byte, padded)
	for got := 0; got < padded; {
		end := it.itemEnd()
		if it.pos >= end {
			it.nextPage()
			open, err := it.openPage(it.page)
			if err != nil {
				return nil, err
			}
			if !open {
				return nil, fmt.Errorf("%w: data continues into unused page 0x%x", ErrCorrupted, it.page)
			}
			it.pos = it.page + markerSize
			continue
		}
		k := min(int(end-it.pos), padded-got)
		if err := it.read(it.pos, buf[got:got+k]); err != nil {
			return nil, err
		}
		got += k
		it.pos += uint32(k)
	}
	return buf[:n], nil
}

// openPage reports whether the page at p is in use. A page that does not
// fit before the range end counts as unused.
func (it *Iterator) openPage(p uint32) (bool, error) {
	if uint64(p)+uint64(it.pageSize) > uint64(it.rng.End) {
		return false, nil
	}
	var m [markerSize]byte
	if err := it.read(p, m[:]); err != nil {
		return false, err
	}
	it.log.Debug("read page", "page", hex(p), "open", !isErased(m[:]))
	it.inPage = !isErased(m[:])
	return it.inPage, nil
}

func (it *Iterator) pageClosed() (bool, error) {
	var m [markerSize]byte
	if err := it.read(it.page+it.pageSize-markerSize, m[:]); err != nil {
		return false, err
	}
	return !isErased(m[:]), nil
}

func (it *Iterator) nextPage() {
	it.page += it.pageSize
	it.inPage = false
}

func (it *Iterator) itemEnd() uint32 { return it.page + it.pageSize - markerSize }

func (it *Iterator) read(off uint32, p []byte) error {
	if uint64(off)+uint64(len(p)) > uint64(it.rng.End) {
		return fmt.Errorf("%w: %d bytes at 0x%x past range end 0x%x", ErrOutOfBounds, len(p), off, it.rng.End)
	}
	return it.r.ReadFlash(off, p)
}

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Checksum is the stored CRC-32C of an item's data. A CRC of 0 marks a
// popped item, so it is stored as 1.
func Checksum(data []byte) uint32 {
	c := crc32.Checksum(data, castagnoli)
	if c == 0 {
		c = 1
	}
	return c
}

// LengthChecksum is the CRC-16/MODBUS of the little-endian length, stored
// after the length in every item header.
func LengthChecksum(n uint16) uint16 {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], n)
	return crc16(b[:])
}

// crc16 is CRC-16/MODBUS: reflected poly 0x8005, init 0xFFFF, no final xor.
func crc16(data []byte) uint16 {
	crc := uint16(0xffff)
	for _, b := range data {
		crc ^= uint16(b)
		for range 8 {
			if crc&1 != 0 {
				crc = crc>>1 ^ 0xa001
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

// IsErasedPage reports whether every byte of p is 0xFF.
func IsErasedPage(p []byte) bool { return isErased(p) }

var erasedWord = bytes.Repeat([]byte{0xff}, 64)

func isErased(p []byte) bool {
	for len(p) > 0 {
		k := min(len(p), len(erasedWord))
		if !bytes.Equal(p[:k], erasedWord[:k]) {
			return false
		}
		p = p[k:]
	}
	return true
}

func alignUp(n int) int { return (n + WordSize - 1) &^ (WordSize - 1) }

type hex uint32

func (h hex) LogValue() slog.Value { return slog.StringValue(fmt.Sprintf("0x%x", uint32(h))) }
