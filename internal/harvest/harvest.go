// Package harvest moves schemas from firmware binaries into the cache.
package harvest

import (
	"fmt"
	"log/slog"

	"destore/internal/cache"
	"destore/internal/layout"
	"destore/internal/schema"
)

// Harvester extracts schemas from ELF images and stores them.
type Harvester struct {
	Cache  *cache.Cache
	Symbol string // exact symbol; empty = layout.DefaultSymbol
	// All stores every export whose name starts with Symbol.
	All    bool
	Layout layout.Options
	Logger *slog.Logger
}

func (h *Harvester) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func (h *Harvester) symbol() string {
	if h.Symbol != "" {
		return h.Symbol
	}
	return layout.DefaultSymbol
}

// Harvest reconstructs the schema(s) exported by the binary at path and
// stores them, returning their fingerprints.
func (h *Harvester) Harvest(path string) ([]schema.Fingerprint, error) {
	log := h.logger()
	opts := h.Layout
	if opts.Logger == nil {
		opts.Logger = log
	}

	if !h.All {
		n, err := layout.LoadFile(path, h.symbol(), opts)
		if err != nil {
			return nil, fmt.Errorf("harvest: %s: %w", path, err)
		}
		log.Debug("reconstructed schema", "path", path, "schema", n.String())
		fp, err := h.Cache.Store(n)
		if err != nil {
			return nil, fmt.Errorf("harvest: %s: %w", path, err)
		}
		return []schema.Fingerprint{fp}, nil
	}

	exports, err := layout.LoadAllFile(path, h.symbol(), opts)
	if err != nil {
		return nil, fmt.Errorf("harvest: %s: %w", path, err)
	}
	fps := make([]schema.Fingerprint, 0, len(exports))
	for _, e := range exports {
		log.Debug("reconstructed schema", "path", path, "symbol", e.Symbol, "schema", e.Schema.String())
		fp, err := h.Cache.Store(e.Schema)
		if err != nil {
			return fps, fmt.Errorf("harvest: %s: %s: %w", path, e.Symbol, err)
		}
		fps = append(fps, fp)
	}
	return fps, nil
}

// Background harvests path on a detached goroutine. Failures are logged
// at warn level and sent on the returned channel, which callers may
// ignore. Nothing waits for the goroutine: a process that exits first
// leaves the cache without the schema until the next run.
func (h *Harvester) Background(path string) <-chan error {
	done := make(chan error, 1)
	go func() {
		fps, err := h.Harvest(path)
		if err != nil {
			h.logger().Warn("background harvest failed", "path", path, "err", err)
		} else {
			h.logger().Debug("background harvest done", "path", path, "fingerprints", fps)
		}
		done <- err
	}()
	return done
}
