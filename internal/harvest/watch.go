package harvest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"destore/internal/schema"
)

// DefaultDebounce is how long a binary must stay quiet after a write
// before it is harvested. Linkers write output in several passes.
const DefaultDebounce = 250 * time.Millisecond

// Event reports one harvest triggered by Watch.
type Event struct {
	Path         string
	Fingerprints []schema.Fingerprint
	Err          error
}

// Watch harvests each path once, then again whenever it is rewritten,
// until ctx is cancelled. Paths are watched through their parent
// directories so that binaries replaced by rename are still seen. The
// returned channel is closed when watching stops.
func (h *Harvester) Watch(ctx context.Context, paths []string, debounce time.Duration) (<-chan Event, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("harvest: create watcher: %w", err)
	}

	tracked := make(map[string]bool, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			fsw.Close()
			return nil, fmt.Errorf("harvest: %s: %w", p, err)
		}
		if _, err := os.Stat(abs); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("harvest: %w", err)
		}
		if err := fsw.Add(filepath.Dir(abs)); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("harvest: watch %s: %w", filepath.Dir(abs), err)
		}
		tracked[abs] = true
	}

	events := make(chan Event, len(tracked))
	go h.watchLoop(ctx, fsw, tracked, debounce, events)
	return events, nil
}

func (h *Harvester) watchLoop(ctx context.Context, fsw *fsnotify.Watcher, tracked map[string]bool, debounce time.Duration, events chan<- Event) {
	log := h.logger()
	defer close(events)
	defer fsw.Close()

	pending := make(map[string]bool, len(tracked))
	for p := range tracked {
		pending[p] = true
	}
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if !tracked[ev.Name] || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			log.Debug("binary changed", "path", ev.Name, "op", ev.Op.String())
			pending[ev.Name] = true
			timer.Reset(debounce)

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			log.Warn("watch error", "err", err)

		case <-timer.C:
			for p := range pending {
				delete(pending, p)
				fps, err := h.Harvest(p)
				if err != nil {
					log.Warn("harvest failed", "path", p, "err", err)
				}
				select {
				case events <- Event{Path: p, Fingerprints: fps, Err: err}:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}
