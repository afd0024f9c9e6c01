// Package output writes decoded records and reconstructed schemas.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"destore/internal/schema"
	"destore/internal/session"
)

// Format selects the record encoding.
type Format int

const (
	Text Format = iota
	JSON
	YAML
)

func (f Format) String() string {
	switch f {
	case JSON:
		return "json"
	case YAML:
		return "yaml"
	}
	return "text"
}

// ParseFormat accepts text, json and yaml.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "text":
		return Text, nil
	case "json":
		return JSON, nil
	case "yaml", "yml":
		return YAML, nil
	}
	return Text, fmt.Errorf("output: unknown format %q", s)
}

// RecordEntry is the structured form of a record.
type RecordEntry struct {
	Index       int                `json:"index" yaml:"index"`
	Offset      uint32             `json:"offset" yaml:"offset"`
	Fingerprint schema.Fingerprint `json:"fingerprint" yaml:"fingerprint"`
	Value       any                `json:"value" yaml:"value"`
}

// RecordWriter emits records one at a time.
type RecordWriter struct {
	w    io.Writer
	f    Format
	json *json.Encoder
	yaml *yaml.Encoder
}

// NewRecordWriter returns a writer for f. Text writes one debug-formatted
// value per line, JSON one object per line, YAML one document per record.
func NewRecordWriter(w io.Writer, f Format) *RecordWriter {
	rw := &RecordWriter{w: w, f: f}
	switch f {
	case JSON:
		rw.json = json.NewEncoder(w)
	case YAML:
		rw.yaml = yaml.NewEncoder(w)
		rw.yaml.SetIndent(2)
	}
	return rw
}

// Write emits r.
func (rw *RecordWriter) Write(r session.Record) error {
	var err error
	switch rw.f {
	case JSON:
		err = rw.json.Encode(entry(r))
	case YAML:
		err = rw.yaml.Encode(entry(r))
	default:
		_, err = fmt.Fprintf(rw.w, "0x%06x %s\n", r.Offset, r.Value)
	}
	if err != nil {
		return fmt.Errorf("output: record %d: %w", r.Index, err)
	}
	return nil
}

// Close flushes buffered output.
func (rw *RecordWriter) Close() error {
	if rw.yaml != nil {
		return rw.yaml.Close()
	}
	return nil
}

func entry(r session.Record) RecordEntry {
	return RecordEntry{Index: r.Index, Offset: r.Offset, Fingerprint: r.Fingerprint, Value: r.Value.Native()}
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("output: encode: %w", err)
	}
	return nil
}
