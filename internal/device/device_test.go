package device

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"destore/internal/logging"
)

const page = 64

// image returns live pages followed by erased ones and a trailing page of
// garbage that must never be read.
func image(live, erased int) []byte {
	var b bytes.Buffer
	for i := 0; i < live; i++ {
		b.Write(bytes.Repeat([]byte{byte(i + 1)}, page))
	}
	for i := 0; i < erased; i++ {
		b.Write(bytes.Repeat([]byte{0xff}, page))
	}
	b.Write(bytes.Repeat([]byte{0xee}, page))
	return b.Bytes()
}

func TestDumpStopsAfterErasedPage(t *testing.T) {
	img := image(2, 2)
	got, err := Dump(context.Background(), bytes.NewReader(img), Options{
		Size: uint32(len(img)), PageSize: page, ChunkSize: 16, Logger: logging.Discard(),
	})
	require.NoError(t, err)
	assert.Equal(t, img[:3*page], got, "live pages plus the first erased page")
}

func TestDumpStart(t *testing.T) {
	img := image(3, 1)
	got, err := Dump(context.Background(), bytes.NewReader(img), Options{
		Start: page, Size: 2 * page, PageSize: page, Logger: logging.Discard(),
	})
	require.NoError(t, err)
	assert.Equal(t, img[page:3*page], got)
}

func TestDumpPartialLastPage(t *testing.T) {
	img := image(2, 0)
	got, err := Dump(context.Background(), bytes.NewReader(img), Options{
		Size: page + 10, PageSize: page, Logger: logging.Discard(),
	})
	require.NoError(t, err)
	assert.Equal(t, img[:page+10], got)
}

func TestDumpShortRead(t *testing.T) {
	img := image(1, 0)
	_, err := Dump(context.Background(), bytes.NewReader(img), Options{
		Size: 4 * page, PageSize: page, Logger: logging.Discard(),
	})
	assert.ErrorIs(t, err, ErrShortRead)
}

func TestDumpCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Dump(ctx, bytes.NewReader(image(2, 0)), Options{Size: 2 * page, PageSize: page})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDumpInvalidPageSize(t *testing.T) {
	_, err := Dump(context.Background(), bytes.NewReader(nil), Options{Size: 1, PageSize: 30})
	assert.Error(t, err)
}

func TestDumpFile(t *testing.T) {
	img := image(1, 1)
	path := filepath.Join(t.TempDir(), "flash.bin")
	require.NoError(t, os.WriteFile(path, img, 0644))

	got, err := DumpFile(context.Background(), path, Options{Size: uint32(len(img)), PageSize: page, Logger: logging.Discard()})
	require.NoError(t, err)
	assert.Equal(t, img[:2*page], got)

	_, err = DumpFile(context.Background(), filepath.Join(t.TempDir(), "nope"), Options{Size: page})
	assert.ErrorIs(t, err, os.ErrNotExist)
}
