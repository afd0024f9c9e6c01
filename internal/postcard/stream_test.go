package postcard

import (
	"errors"
	"math"
	"math/big"
	"testing"
)

func TestReadUvarint(t *testing.T) {
	tests := []struct {
		in   []byte
		bits uint
		want uint64
	}{
		{[]byte{0x00}, Bits16, 0},
		{[]byte{0x7f}, Bits16, 127},
		{[]byte{0x80, 0x01}, Bits16, 128},
		{[]byte{0xe8, 0x07}, Bits16, 1000},
		{[]byte{0xff, 0xff, 0x03}, Bits16, math.MaxUint16},
		{[]byte{0xf0, 0xa2, 0x04}, Bits32, 70000},
		{[]byte{0xff, 0xff, 0xff, 0xff, 0x0f}, Bits32, math.MaxUint32},
		{[]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x01}, Bits64, math.MaxUint64},
	}
	for _, tt := range tests {
		s := NewStream(tt.in)
		got, err := s.ReadUvarint(tt.bits)
		if err != nil {
			t.Errorf("ReadUvarint(%x, %d): %v", tt.in, tt.bits, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ReadUvarint(%x, %d) = %d, want %d", tt.in, tt.bits, got, tt.want)
		}
		if s.Remaining() != 0 {
			t.Errorf("ReadUvarint(%x) left %d bytes", tt.in, s.Remaining())
		}
	}
}

func TestReadUvarint_Overflow(t *testing.T) {
	tests := []struct {
		in   []byte
		bits uint
	}{
		{[]byte{0xff, 0xff, 0x04}, Bits16},             // 2^16
		{[]byte{0x80, 0x80, 0x80}, Bits16},             // continuation past max length
		{[]byte{0xff, 0xff, 0xff, 0xff, 0x10}, Bits32}, // 2^32
	}
	for _, tt := range tests {
		_, err := NewStream(tt.in).ReadUvarint(tt.bits)
		if !errors.Is(err, ErrOverflow) {
			t.Errorf("ReadUvarint(%x, %d) err = %v, want ErrOverflow", tt.in, tt.bits, err)
		}
	}
}

func TestReadUvarint_EOF(t *testing.T) {
	_, err := NewStream(nil).ReadUvarint(Bits32)
	if err != ErrEOF {
		t.Errorf("expected EOF, got %v", err)
	}

	// Continuation bit with no following byte.
	_, err = NewStream([]byte{0x80}).ReadUvarint(Bits32)
	if err != ErrEOF {
		t.Errorf("expected EOF for unterminated, got %v", err)
	}
}

func TestReadVarint_Zigzag(t *testing.T) {
	tests := []struct {
		in   []byte
		want int64
	}{
		{[]byte{0x00}, 0},
		{[]byte{0x01}, -1},
		{[]byte{0x02}, 1},
		{[]byte{0x03}, -2},
		{[]byte{0xfe, 0xff, 0x03}, math.MaxInt16},
		{[]byte{0xff, 0xff, 0x03}, math.MinInt16},
	}
	for _, tt := range tests {
		got, err := NewStream(tt.in).ReadVarint(Bits16)
		if err != nil {
			t.Errorf("ReadVarint(%x): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ReadVarint(%x) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestVarint128(t *testing.T) {
	maxU128 := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
	minI128 := new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
	maxBytes := []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x03}

	unsigned := []struct {
		in   []byte
		want *big.Int
	}{
		{[]byte{0x00}, big.NewInt(0)},
		{[]byte{0xac, 0x02}, big.NewInt(300)},
		{maxBytes, maxU128},
	}
	for _, tt := range unsigned {
		got, err := NewStream(tt.in).ReadUvarint128()
		if err != nil {
			t.Fatalf("ReadUvarint128(%x): %v", tt.in, err)
		}
		if got.Cmp(tt.want) != 0 {
			t.Errorf("ReadUvarint128(%x) = %s, want %s", tt.in, got, tt.want)
		}
	}

	signed := []struct {
		in   []byte
		want *big.Int
	}{
		{[]byte{0x01}, big.NewInt(-1)},
		{[]byte{0x54}, big.NewInt(42)},
		{maxBytes, minI128},
	}
	for _, tt := range signed {
		got, err := NewStream(tt.in).ReadVarint128()
		if err != nil {
			t.Fatalf("ReadVarint128(%x): %v", tt.in, err)
		}
		if got.Cmp(tt.want) != 0 {
			t.Errorf("ReadVarint128(%x) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestWriterMatchesReader(t *testing.T) {
	var w Writer
	w.PutUvarint(70000)
	w.PutString("héllo")

	s := NewStream(w.Bytes())
	if v, err := s.ReadUvarint(Bits32); err != nil || v != 70000 {
		t.Errorf("uvarint = %d, %v", v, err)
	}
	if v, err := s.ReadString(); err != nil || v != "héllo" {
		t.Errorf("string = %q, %v", v, err)
	}
	if s.Remaining() != 0 {
		t.Errorf("remaining = %d, want 0", s.Remaining())
	}
}

func TestReadString_InvalidUTF8(t *testing.T) {
	_, err := NewStream([]byte{2, 0xc3, 0x28}).ReadString()
	if err != ErrInvalidUTF8 {
		t.Errorf("expected ErrInvalidUTF8, got %v", err)
	}
}

func TestReadLength_ClampedByRemaining(t *testing.T) {
	// Claims 200 elements with 2 bytes of payload left.
	_, err := NewStream([]byte{0xc8, 0x01, 0, 0}).ReadLength(1)
	if err != ErrEOF {
		t.Errorf("expected EOF, got %v", err)
	}
}

func TestStreamPosition(t *testing.T) {
	s := NewStream([]byte{0, 0, 0, 0x05})
	if _, err := s.ReadBytes(3); err != nil {
		t.Fatal(err)
	}
	if s.Position() != 3 {
		t.Errorf("position = %d, want 3", s.Position())
	}
	if s.Remaining() != 1 {
		t.Errorf("remaining = %d, want 1", s.Remaining())
	}
	v, err := s.ReadUvarint(Bits32)
	if err != nil {
		t.Fatal(err)
	}
	if v != 5 {
		t.Errorf("ReadUvarint = %d, want 5", v)
	}
}

func FuzzStream(f *testing.F) {
	f.Add([]byte{0xf0, 0xa2, 0x04})
	f.Add([]byte{0xff, 0xff, 0xff})
	f.Add([]byte{})

	f.Fuzz(func(t *testing.T, data []byte) {
		s := NewStream(data)
		for s.Remaining() > 0 {
			if _, err := s.ReadUvarint(Bits64); err != nil {
				return
			}
		}
		s = NewStream(data)
		s.ReadUvarint128()
		NewStream(data).ReadString()
	})
}
