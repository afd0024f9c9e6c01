// Package cache stores reconstructed schemas on disk keyed by fingerprint.
//
// Each schema lives in <dir>/<hex fingerprint>.pcs holding its serialized
// form. A file is written once and never modified; its existence is the
// cache's only index.
package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"destore/internal/schema"
)

// Ext is the cache file extension.
const Ext = ".pcs"

// Cache is a directory of serialized schemas.
type Cache struct {
	dir string
	log *slog.Logger
}

// Open creates dir if needed and returns a cache rooted there.
func Open(dir string, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: create %s: %w", dir, err)
	}
	return &Cache{dir: dir, log: logger}, nil
}

// Dir returns the cache directory.
func (c *Cache) Dir() string { return c.dir }

// Path returns the file that holds fp.
func (c *Cache) Path(fp schema.Fingerprint) string {
	return filepath.Join(c.dir, fp.String()+Ext)
}

// Store serializes n under its fingerprint. Storing a fingerprint that is
// already present is a no-op; with concurrent writers the first one wins.
func (c *Cache) Store(n *schema.Node) (schema.Fingerprint, error) {
	fp := schema.FingerprintOf(n)
	path := c.Path(fp)

	if _, err := os.Stat(path); err == nil {
		c.log.Info("schema already stored", "fingerprint", fp, "path", path)
		return fp, nil
	}

	data, err := schema.Marshal(n)
	if err != nil {
		return fp, fmt.Errorf("cache: %s: %w", fp, err)
	}

	tmp, err := os.CreateTemp(c.dir, fp.String()+".*.tmp")
	if err != nil {
		return fp, fmt.Errorf("cache: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fp, fmt.Errorf("cache: write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fp, fmt.Errorf("cache: close %s: %w", tmp.Name(), err)
	}

	if err := os.Link(tmp.Name(), path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			c.log.Info("schema already stored", "fingerprint", fp, "path", path)
			return fp, nil
		}
		return fp, fmt.Errorf("cache: link %s: %w", path, err)
	}
	c.log.Info("schema stored", "fingerprint", fp, "path", path)
	return fp, nil
}

// Lookup loads the schema for fp. A missing entry returns ok=false and no
// error; an unreadable or undecodable file is an error.
func (c *Cache) Lookup(fp schema.Fingerprint) (*schema.Node, bool, error) {
	path := c.Path(fp)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.log.Info("schema not found", "fingerprint", fp)
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("cache: read %s: %w", path, err)
	}
	n, err := schema.Unmarshal(data)
	if err != nil {
		return nil, false, fmt.Errorf("cache: decode %s: %w", path, err)
	}
	c.log.Debug("schema loaded", "fingerprint", fp, "path", path)
	return n, true, nil
}

// List returns the fingerprints present in the cache, sorted. Files that
// are not named <16 hex digits>.pcs are ignored.
func (c *Cache) List() ([]schema.Fingerprint, error) {
	ents, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("cache: list %s: %w", c.dir, err)
	}
	var out []schema.Fingerprint
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, Ext) {
			continue
		}
		fp, err := schema.ParseFingerprint(strings.TrimSuffix(name, Ext))
		if err != nil {
			continue
		}
		out = append(out, fp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}
