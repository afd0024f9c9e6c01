package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"destore/internal/layout/layouttest"
	"destore/internal/schema"
)

func dump(t *testing.T, args ...string) string {
	t.Helper()
	flagSymbol, flagAll, flagJSON, flagDOT, flagVerbose = "_DESTORE_SCHEMA", false, false, false, false
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute(), errOut.String())
	return out.String()
}

func firmware(t *testing.T) string {
	t.Helper()
	var b layouttest.Builder
	b.Export("_DESTORE_SCHEMA", schema.Tuple(schema.Prim(schema.KindU8), schema.Prim(schema.KindU16), schema.Prim(schema.KindU32)))
	b.Export("_DESTORE_SCHEMA_FLAG", schema.Prim(schema.KindBool))
	path := filepath.Join(t.TempDir(), "fw.elf")
	require.NoError(t, os.WriteFile(path, b.Bytes(), 0644))
	return path
}

func TestPseudocode(t *testing.T) {
	path := firmware(t)
	assert.Equal(t, "(u8, u16, u32)\n", dump(t, path))
}

func TestAll(t *testing.T) {
	path := firmware(t)
	out := dump(t, path, "--all")
	assert.Contains(t, out, "_DESTORE_SCHEMA_FLAG dfb701864cbd63af\n  bool\n")
	assert.Contains(t, out, "  (u8, u16, u32)\n")
}

func TestJSON(t *testing.T) {
	path := firmware(t)
	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(dump(t, path, "--json")), &got))
	assert.Equal(t, "_DESTORE_SCHEMA", got["symbol"])
	assert.Len(t, got["fingerprint"], 16)
}

func TestDOT(t *testing.T) {
	path := firmware(t)
	out := dump(t, path, "--dot", "--all")
	assert.True(t, strings.Contains(out, "_DESTORE_SCHEMA_FLAG"), out)
}
