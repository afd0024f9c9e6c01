// Package postcard reads and writes the compact wire encoding used by the
// device: LEB128 varints, zigzag signed integers, little-endian floats and
// varint-length-prefixed byte strings.
package postcard

import (
	"encoding/binary"
	"errors"
	"math"
	"math/big"
	"unicode/utf8"
)

var (
	ErrEOF         = errors.New("postcard: unexpected end of data")
	ErrOverflow    = errors.New("postcard: varint overflows target width")
	ErrInvalidUTF8 = errors.New("postcard: invalid utf-8")
)

// Varint widths in bits.
const (
	Bits16  = 16
	Bits32  = 32
	Bits64  = 64
	Bits128 = 128
)

const (
	dataBitsPerByte = 7
	byteMask        = (1 << dataBitsPerByte) - 1 // 0x7f
	continueBit     = 0x80
)

// Stream reads postcard-encoded data from a byte slice.
type Stream struct {
	data []byte
	pos  int
	end  int
}

// NewStream creates a stream over the given data.
func NewStream(data []byte) *Stream {
	return &Stream{data: data, pos: 0, end: len(data)}
}

// Position returns the current read position.
func (s *Stream) Position() int { return s.pos }

// Remaining returns bytes left to read.
func (s *Stream) Remaining() int { return s.end - s.pos }

// ReadByte reads a single byte.
func (s *Stream) ReadByte() (byte, error) {
	if s.pos >= s.end {
		return 0, ErrEOF
	}
	b := s.data[s.pos]
	s.pos++
	return b, nil
}

// ReadBytes reads n bytes into a new slice.
func (s *Stream) ReadBytes(n int) ([]byte, error) {
	if n < 0 || s.pos+n > s.end {
		return nil, ErrEOF
	}
	out := make([]byte, n)
	copy(out, s.data[s.pos:s.pos+n])
	s.pos += n
	return out, nil
}

// ReadUvarint reads an unsigned LEB128 varint that must fit in bits (at most 64).
//
// Encoding: each byte carries 7 bits of data, least significant group first.
// Bit 7 set means another byte follows. The byte count is capped at
// ceil(bits/7) and the final byte may not carry bits beyond the width.
func (s *Stream) ReadUvarint(bits uint) (uint64, error) {
	maxBytes := int((bits + dataBitsPerByte - 1) / dataBitsPerByte)
	var v uint64
	for i := 0; i < maxBytes; i++ {
		b, err := s.ReadByte()
		if err != nil {
			return 0, err
		}
		shift := uint(i * dataBitsPerByte)
		if i == maxBytes-1 && b>>(bits-shift) != 0 {
			return 0, ErrOverflow
		}
		v |= uint64(b&byteMask) << shift
		if b&continueBit == 0 {
			return v, nil
		}
	}
	return 0, ErrOverflow
}

// ReadVarint reads a zigzag-encoded signed varint that must fit in bits.
func (s *Stream) ReadVarint(bits uint) (int64, error) {
	u, err := s.ReadUvarint(bits)
	if err != nil {
		return 0, err
	}
	return int64(u>>1) ^ -int64(u&1), nil
}

// ReadUvarint128 reads an unsigned 128-bit varint.
func (s *Stream) ReadUvarint128() (*big.Int, error) {
	const maxBytes = (Bits128 + dataBitsPerByte - 1) / dataBitsPerByte // 19
	v := new(big.Int)
	group := new(big.Int)
	for i := 0; i < maxBytes; i++ {
		b, err := s.ReadByte()
		if err != nil {
			return nil, err
		}
		shift := uint(i * dataBitsPerByte)
		if i == maxBytes-1 && b>>(Bits128-shift) != 0 {
			return nil, ErrOverflow
		}
		group.SetUint64(uint64(b & byteMask))
		v.Or(v, group.Lsh(group, shift))
		if b&continueBit == 0 {
			return v, nil
		}
	}
	return nil, ErrOverflow
}

// ReadVarint128 reads a zigzag-encoded signed 128-bit varint.
func (s *Stream) ReadVarint128() (*big.Int, error) {
	u, err := s.ReadUvarint128()
	if err != nil {
		return nil, err
	}
	neg := u.Bit(0) == 1
	u.Rsh(u, 1)
	if neg {
		// -(u>>1) - 1
		u.Neg(u).Sub(u, big.NewInt(1))
	}
	return u, nil
}

// ReadFloat32 reads a little-endian IEEE-754 binary32.
func (s *Stream) ReadFloat32() (float32, error) {
	if s.pos+4 > s.end {
		return 0, ErrEOF
	}
	v := binary.LittleEndian.Uint32(s.data[s.pos:])
	s.pos += 4
	return math.Float32frombits(v), nil
}

// ReadFloat64 reads a little-endian IEEE-754 binary64.
func (s *Stream) ReadFloat64() (float64, error) {
	if s.pos+8 > s.end {
		return 0, ErrEOF
	}
	v := binary.LittleEndian.Uint64(s.data[s.pos:])
	s.pos += 8
	return math.Float64frombits(v), nil
}

// ReadLength reads a varint collection length and checks it against the
// bytes left, assuming every element takes at least minElem bytes.
func (s *Stream) ReadLength(minElem int) (int, error) {
	n, err := s.ReadUvarint(Bits64)
	if err != nil {
		return 0, err
	}
	if minElem > 0 && n > uint64(s.Remaining()/minElem) {
		return 0, ErrEOF
	}
	if n > math.MaxInt32 {
		return 0, ErrOverflow
	}
	return int(n), nil
}

// ReadByteArray reads a varint-length-prefixed byte string.
func (s *Stream) ReadByteArray() ([]byte, error) {
	n, err := s.ReadLength(1)
	if err != nil {
		return nil, err
	}
	return s.ReadBytes(n)
}

// ReadString reads a varint-length-prefixed UTF-8 string.
func (s *Stream) ReadString() (string, error) {
	b, err := s.ReadByteArray()
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", ErrInvalidUTF8
	}
	return string(b), nil
}
