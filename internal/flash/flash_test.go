package flash_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"destore/internal/flash"
	"destore/internal/flash/flashtest"
)

const pageSize = 64

func collect(t *testing.T, it *flash.Iterator) ([]flash.Entry, error) {
	t.Helper()
	var out []flash.Entry
	for i := 0; i < 1000; i++ {
		e, ok, err := it.Next()
		if err != nil || !ok {
			return out, err
		}
		out = append(out, e)
	}
	t.Fatal("iterator did not terminate")
	return nil, nil
}

func datas(es []flash.Entry) [][]byte {
	out := make([][]byte, len(es))
	for i, e := range es {
		out[i] = e.Data
	}
	return out
}

func iterate(img *flashtest.Image) *flash.Iterator {
	return flash.Iterate(flash.NewBuffer(img.Bytes()), flash.Range{}, flash.Options{PageSize: pageSize})
}

func TestBuffer(t *testing.T) {
	b := flash.NewBuffer([]byte{1, 2, 3, 4, 5})
	assert.Equal(t, 5, b.Capacity())

	p := make([]byte, 2)
	require.NoError(t, b.ReadFlash(3, p))
	assert.Equal(t, []byte{4, 5}, p)

	assert.ErrorIs(t, b.ReadFlash(4, p), flash.ErrOutOfBounds)
	assert.ErrorIs(t, b.ReadFlash(0xffffffff, p), flash.ErrOutOfBounds)

	assert.Panics(t, func() { _ = b.Write(0, []byte{0}) })
	assert.Panics(t, func() { _ = b.Erase(0, 4) })
}

func TestIterateEntries(t *testing.T) {
	img := flashtest.New(4, pageSize)
	want := [][]byte{
		{0x01},
		{0xff, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88},
		{0x03, 0xe8, 0x07, 0xf0, 0xa2, 0x04},
		{},
	}
	var offsets []uint32
	for _, d := range want {
		offsets = append(offsets, img.Push(d))
	}

	got, err := collect(t, iterate(img))
	require.NoError(t, err)
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, offsets[i], got[i].Offset)
		assert.True(t, bytes.Equal(want[i], got[i].Data), "entry %d: %x", i, got[i].Data)
	}
	assert.Equal(t, uint32(4), got[0].Offset)
}

func TestIterateEmpty(t *testing.T) {
	img := flashtest.New(2, pageSize)
	got, err := collect(t, iterate(img))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestIterateStopsAtErasedTail(t *testing.T) {
	img := flashtest.New(4, pageSize)
	img.Push([]byte("first"))
	img.Push([]byte("second"))

	// Garbage after the page that is never reached: the third page's start
	// marker is erased so iteration ends before it.
	raw := img.Bytes()
	copy(raw[2*pageSize+8:], []byte{0xde, 0xad, 0xbe, 0xef})

	got, err := collect(t, iterate(img))
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("first"), []byte("second")}, datas(got))
}

func TestIterateSpansPages(t *testing.T) {
	img := flashtest.New(4, pageSize)
	// item region is 56 bytes per page
	small := bytes.Repeat([]byte{0xaa}, 20)
	big := make([]byte, 90)
	for i := range big {
		big[i] = byte(i)
	}
	img.Push(small)
	img.Push(big)
	img.Push([]byte{7})

	got, err := collect(t, iterate(img))
	require.NoError(t, err)
	assert.Equal(t, [][]byte{small, big, {7}}, datas(got))
}

func TestIterateClosedPages(t *testing.T) {
	img := flashtest.New(4, pageSize)
	img.Push([]byte("a"))
	img.ClosePage()
	img.Push([]byte("b"))
	img.ClosePage()
	img.Push([]byte("c"))

	got, err := collect(t, iterate(img))
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b"), []byte("c")}, datas(got))
}

func TestIterateOpenPageEndsQueue(t *testing.T) {
	img := flashtest.New(4, pageSize)
	img.Push([]byte("a"))
	img.ClosePage()
	img.Push([]byte("b"))

	raw := img.Bytes()
	// Erase page 0's end marker: its items end the queue.
	binary.LittleEndian.PutUint32(raw[pageSize-4:], 0xffffffff)

	got, err := collect(t, iterate(img))
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("a")}, datas(got))
}

func TestIterateSkipsPopped(t *testing.T) {
	img := flashtest.New(2, pageSize)
	a := img.Push([]byte("a"))
	img.Push([]byte("b"))
	img.Pop(a)

	got, err := collect(t, iterate(img))
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("b")}, datas(got))
}

func TestIterateCorruption(t *testing.T) {
	tests := []struct {
		name    string
		corrupt func(raw []byte, at uint32)
	}{
		{"crc", func(raw []byte, at uint32) { raw[at+flash.HeaderSize] ^= 0x01 }},
		{"length crc", func(raw []byte, at uint32) { raw[at+6] ^= 0x10 }},
		{"oversized", func(raw []byte, at uint32) {
			binary.LittleEndian.PutUint16(raw[at+4:], 0x2000)
			binary.LittleEndian.PutUint16(raw[at+6:], flash.LengthChecksum(0x2000))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := flashtest.New(2, pageSize)
			img.Push([]byte("ok"))
			at := img.Push([]byte("payload"))
			tt.corrupt(img.Bytes(), at)

			it := iterate(img)
			e, ok, err := it.Next()
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, []byte("ok"), e.Data)

			_, ok, err = it.Next()
			assert.False(t, ok)
			assert.ErrorIs(t, err, flash.ErrCorrupted)

			// sticky
			_, ok, err = it.Next()
			assert.False(t, ok)
			assert.ErrorIs(t, err, flash.ErrCorrupted)
		})
	}
}

func TestIterateDataIntoUnusedPage(t *testing.T) {
	img := flashtest.New(3, pageSize)
	img.Push(bytes.Repeat([]byte{1}, 80))
	raw := img.Bytes()
	// Erase page 1 so the entry's tail has nowhere to continue.
	copy(raw[pageSize:2*pageSize], bytes.Repeat([]byte{0xff}, pageSize))

	_, err := collect(t, iterate(img))
	assert.ErrorIs(t, err, flash.ErrCorrupted)
}

func TestIterateRange(t *testing.T) {
	img := flashtest.New(2, pageSize)
	img.Push([]byte("x"))
	region := append(bytes.Repeat([]byte{0}, pageSize), img.Bytes()...)

	it := flash.Iterate(flash.NewBuffer(region), flash.Range{Start: pageSize, End: 3 * pageSize}, flash.Options{PageSize: pageSize})
	got, err := collect(t, it)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint32(pageSize+4), got[0].Offset)

	// range beyond the buffer
	it = flash.Iterate(flash.NewBuffer(region), flash.Range{End: 4 * pageSize}, flash.Options{PageSize: pageSize})
	_, err = collect(t, it)
	assert.ErrorIs(t, err, flash.ErrOutOfBounds)

	// bad page size
	it = flash.Iterate(flash.NewBuffer(region), flash.Range{}, flash.Options{PageSize: 30})
	_, err = collect(t, it)
	assert.Error(t, err)
}

func TestChecksumNeverZero(t *testing.T) {
	assert.NotZero(t, flash.Checksum(nil))
	assert.Equal(t, uint32(1), flash.Checksum(nil), "crc32 of empty input is 0")
}

func TestChecksumCheckValues(t *testing.T) {
	// CRC-32C and CRC-16/MODBUS check values over "123456789".
	assert.Equal(t, uint32(0xe3069283), flash.Checksum([]byte("123456789")))

	tests := []struct {
		n    uint16
		want uint16
	}{
		{6, 0x1002},
		{0x2000, 0x6800},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, flash.LengthChecksum(tt.n), "length %d", tt.n)
	}
}

func TestItemHeaderBytes(t *testing.T) {
	// A queue written by the device: one 6-byte item on an open page.
	raw := bytes.Repeat([]byte{0xff}, pageSize)
	copy(raw, []byte{0, 0, 0, 0})
	data := []byte{0x03, 0xe8, 0x07, 0xf0, 0xa2, 0x04}
	binary.LittleEndian.PutUint32(raw[4:], flash.Checksum(data))
	copy(raw[8:], []byte{0x06, 0x00, 0x02, 0x10})
	copy(raw[12:], data)

	it := flash.Iterate(flash.NewBuffer(raw), flash.Range{}, flash.Options{PageSize: pageSize})
	got, err := collect(t, it)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, data, got[0].Data)
}

func FuzzIterate(f *testing.F) {
	img := flashtest.New(3, pageSize)
	img.Push([]byte("seed"))
	img.Push(bytes.Repeat([]byte{9}, 70))
	f.Add(img.Bytes())
	f.Fuzz(func(t *testing.T, data []byte) {
		it := flash.Iterate(flash.NewBuffer(data), flash.Range{}, flash.Options{PageSize: pageSize})
		for i := 0; ; i++ {
			if i > len(data) {
				t.Fatal("more entries than bytes")
			}
			_, ok, err := it.Next()
			if !ok || err != nil {
				return
			}
		}
	})
}
