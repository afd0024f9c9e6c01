package harvest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"destore/internal/cache"
	"destore/internal/elfx"
	"destore/internal/layout/layouttest"
	"destore/internal/logging"
	"destore/internal/schema"
)

func tupleSchema() *schema.Node {
	return schema.Tuple(schema.Prim(schema.KindU8), schema.Prim(schema.KindU16), schema.Prim(schema.KindU32))
}

func classic() *schema.Node {
	return schema.Struct("Classic", schema.StructShape(
		schema.Field("a", schema.Prim(schema.KindU32)),
		schema.Field("b", schema.Prim(schema.KindU16)),
		schema.Field("c", schema.Prim(schema.KindBool)),
	))
}

func writeELF(t *testing.T, path string, exports map[string]*schema.Node) {
	t.Helper()
	var b layouttest.Builder
	for _, sym := range []string{"_DESTORE_SCHEMA", "_DESTORE_SCHEMA_TUPLE", "_DESTORE_SCHEMA_CLASSIC"} {
		if n, ok := exports[sym]; ok {
			b.Export(sym, n)
		}
	}
	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, b.Bytes(), 0644))
	require.NoError(t, os.Rename(tmp, path))
}

func newHarvester(t *testing.T) *Harvester {
	t.Helper()
	c, err := cache.Open(filepath.Join(t.TempDir(), "cache"), logging.Discard())
	require.NoError(t, err)
	return &Harvester{Cache: c, Logger: logging.Discard()}
}

func TestHarvest(t *testing.T) {
	h := newHarvester(t)
	path := filepath.Join(t.TempDir(), "fw.elf")
	writeELF(t, path, map[string]*schema.Node{"_DESTORE_SCHEMA": classic()})

	fps, err := h.Harvest(path)
	require.NoError(t, err)
	require.Equal(t, []schema.Fingerprint{schema.FingerprintOf(classic())}, fps)

	n, ok, err := h.Cache.Lookup(fps[0])
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "struct Classic { a: u32, b: u16, c: bool }", n.String())

	// second harvest is a no-op
	again, err := h.Harvest(path)
	require.NoError(t, err)
	assert.Equal(t, fps, again)
}

func TestHarvestAll(t *testing.T) {
	h := newHarvester(t)
	h.All = true
	path := filepath.Join(t.TempDir(), "fw.elf")
	writeELF(t, path, map[string]*schema.Node{
		"_DESTORE_SCHEMA_TUPLE":   tupleSchema(),
		"_DESTORE_SCHEMA_CLASSIC": classic(),
	})

	fps, err := h.Harvest(path)
	require.NoError(t, err)
	assert.ElementsMatch(t, []schema.Fingerprint{schema.FingerprintOf(tupleSchema()), schema.FingerprintOf(classic())}, fps)

	listed, err := h.Cache.List()
	require.NoError(t, err)
	assert.Len(t, listed, 2)
}

func TestHarvestErrors(t *testing.T) {
	h := newHarvester(t)
	path := filepath.Join(t.TempDir(), "fw.elf")
	writeELF(t, path, map[string]*schema.Node{"_DESTORE_SCHEMA_TUPLE": tupleSchema()})

	_, err := h.Harvest(path)
	assert.ErrorIs(t, err, elfx.ErrNoSymbol)

	_, err = h.Harvest(filepath.Join(t.TempDir(), "missing.elf"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestBackground(t *testing.T) {
	h := newHarvester(t)
	path := filepath.Join(t.TempDir(), "fw.elf")
	writeELF(t, path, map[string]*schema.Node{"_DESTORE_SCHEMA": tupleSchema()})

	select {
	case err := <-h.Background(path):
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("background harvest did not finish")
	}
	_, ok, err := h.Cache.Lookup(schema.FingerprintOf(tupleSchema()))
	require.NoError(t, err)
	assert.True(t, ok)

	select {
	case err := <-h.Background(filepath.Join(t.TempDir(), "missing")):
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("background harvest did not finish")
	}
}

func TestWatch(t *testing.T) {
	h := newHarvester(t)
	path := filepath.Join(t.TempDir(), "fw.elf")
	writeELF(t, path, map[string]*schema.Node{"_DESTORE_SCHEMA": tupleSchema()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := h.Watch(ctx, []string{path}, 20*time.Millisecond)
	require.NoError(t, err)

	next := func() Event {
		t.Helper()
		select {
		case ev := <-events:
			return ev
		case <-time.After(5 * time.Second):
			t.Fatal("no watch event")
			return Event{}
		}
	}

	ev := next()
	require.NoError(t, ev.Err)
	assert.Equal(t, []schema.Fingerprint{schema.FingerprintOf(tupleSchema())}, ev.Fingerprints)

	writeELF(t, path, map[string]*schema.Node{"_DESTORE_SCHEMA": classic()})
	ev = next()
	require.NoError(t, ev.Err)
	assert.Equal(t, []schema.Fingerprint{schema.FingerprintOf(classic())}, ev.Fingerprints)

	cancel()
	for range events {
	}
}

func TestWatchMissingPath(t *testing.T) {
	h := newHarvester(t)
	_, err := h.Watch(context.Background(), []string{filepath.Join(t.TempDir(), "nope")}, 0)
	assert.Error(t, err)
}
