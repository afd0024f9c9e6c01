// Package device reads a flash partition from a raw device or image file.
package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"destore/internal/flash"
)

// ErrShortRead is returned when the source ends inside the requested span.
var ErrShortRead = errors.New("device: short read")

// Options selects the span to dump.
type Options struct {
	Start     uint32
	Size      uint32
	PageSize  int // 0 = flash.DefaultPageSize
	ChunkSize int // bytes per read call; 0 = PageSize
	Logger    *slog.Logger
}

// Dump reads Size bytes at Start page by page. It stops after the first
// page that is entirely erased; that page is part of the result, so the
// queue reader sees where the log ends.
func Dump(ctx context.Context, r io.ReaderAt, opts Options) ([]byte, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	page := opts.PageSize
	if page == 0 {
		page = flash.DefaultPageSize
	}
	if page < 0 || page%flash.WordSize != 0 {
		return nil, fmt.Errorf("device: invalid page size %d", opts.PageSize)
	}
	chunk := opts.ChunkSize
	if chunk <= 0 || chunk > page {
		chunk = page
	}

	out := make([]byte, 0, min(int(opts.Size), 1<<20))
	buf := make([]byte, page)
	off := int64(opts.Start)
	rest := int64(opts.Size)
	for rest > 0 {
		n := int(min(int64(page), rest))
		for got := 0; got < n; {
			if err := ctx.Err(); err != nil {
				return out, err
			}
			k := min(chunk, n-got)
			m, err := r.ReadAt(buf[got:got+k], off+int64(got))
			got += m
			if err != nil && (m < k || !errors.Is(err, io.EOF)) {
				if errors.Is(err, io.EOF) {
					out = append(out, buf[:got]...)
					return out, fmt.Errorf("%w: %d of %d bytes at 0x%x", ErrShortRead, got, n, off)
				}
				return out, fmt.Errorf("device: read at 0x%x: %w", off+int64(got), err)
			}
		}
		out = append(out, buf[:n]...)
		log.Debug("read page", "offset", fmt.Sprintf("0x%x", off), "len", n)

		if flash.IsErasedPage(buf[:n]) {
			log.Info("erased page reached, stopping dump", "offset", fmt.Sprintf("0x%x", off))
			break
		}
		off += int64(n)
		rest -= int64(n)
	}
	return out, nil
}

// DumpFile opens path read-only and dumps from it.
func DumpFile(ctx context.Context, path string, opts Options) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("device: %w", err)
	}
	defer f.Close()
	adviseSequential(f, int64(opts.Start), int64(opts.Size))
	return Dump(ctx, f, opts)
}
