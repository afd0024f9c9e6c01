// Package flashtest writes sequential-storage queue images for tests.
package flashtest

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"destore/internal/flash"
)

// Marker is the value written to a set page marker.
const Marker = 0x00000000

// Image is an erased flash region that entries can be pushed into.
type Image struct {
	pageSize int
	data     []byte
	page     int // current page index; -1 before the first push
	pos      int // next write offset
}

// New returns pages erased pages of pageSize bytes.
func New(pages, pageSize int) *Image {
	return &Image{
		pageSize: pageSize,
		data:     bytes.Repeat([]byte{0xff}, pages*pageSize),
		page:     -1,
	}
}

// Bytes returns the image. The slice aliases the image.
func (img *Image) Bytes() []byte { return img.data }

// Push appends an entry and returns its header offset. It panics when the
// image is full.
func (img *Image) Push(data []byte) uint32 {
	if img.page < 0 {
		img.openPage(0)
	}
	if img.itemEnd()-img.pos < flash.HeaderSize {
		img.ClosePage()
	}
	at := img.pos

	var hdr [flash.HeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:], flash.Checksum(data))
	binary.LittleEndian.PutUint16(hdr[4:], uint16(len(data)))
	binary.LittleEndian.PutUint16(hdr[6:], flash.LengthChecksum(uint16(len(data))))
	copy(img.data[img.pos:], hdr[:])
	img.pos += flash.HeaderSize

	padded := make([]byte, (len(data)+flash.WordSize-1)&^(flash.WordSize-1))
	copy(padded, data)
	for len(padded) > 0 {
		if img.pos >= img.itemEnd() {
			img.ClosePage()
		}
		k := min(len(padded), img.itemEnd()-img.pos)
		copy(img.data[img.pos:], padded[:k])
		img.pos += k
		padded = padded[k:]
	}
	return uint32(at)
}

// Pop marks the entry at offset as consumed by zeroing its CRC.
func (img *Image) Pop(offset uint32) {
	binary.LittleEndian.PutUint32(img.data[offset:], 0)
}

// ClosePage sets the current page's end marker and opens the next page.
func (img *Image) ClosePage() {
	end := (img.page+1)*img.pageSize - flash.WordSize
	binary.LittleEndian.PutUint32(img.data[end:], Marker)
	img.openPage(img.page + 1)
}

func (img *Image) openPage(p int) {
	if (p+1)*img.pageSize > len(img.data) {
		panic(fmt.Sprintf("flashtest: image of %d pages is full", len(img.data)/img.pageSize))
	}
	img.page = p
	binary.LittleEndian.PutUint32(img.data[p*img.pageSize:], Marker)
	img.pos = p*img.pageSize + flash.WordSize
}

func (img *Image) itemEnd() int { return (img.page+1)*img.pageSize - flash.WordSize }
