// Package session decodes a stream of queue entries, tracking which schema
// the device last announced.
package session

import (
	"errors"
	"fmt"
	"log/slog"

	"destore/internal/flash"
	"destore/internal/record"
	"destore/internal/schema"
)

var (
	ErrSchemaNotFound = errors.New("session: schema not in cache")
	ErrSchemaMismatch = errors.New("session: announced schema differs from supplied schema")
)

// Lookuper resolves fingerprints to schemas. *cache.Cache implements it.
type Lookuper interface {
	Lookup(fp schema.Fingerprint) (*schema.Node, bool, error)
}

// Options configures a session.
type Options struct {
	// Cache resolves announcements when Schema is nil.
	Cache Lookuper
	// Schema, when set, is the only schema the stream may announce.
	Schema *schema.Node
	Logger *slog.Logger
}

// Record is one decoded data entry.
type Record struct {
	Index       int
	Offset      uint32
	Fingerprint schema.Fingerprint
	Value       record.Value
}

// Session holds the active schema between entries.
type Session struct {
	cache    Lookuper
	supplied *schema.Node
	suppFP   schema.Fingerprint
	log      *slog.Logger

	active   *schema.Node
	activeFP schema.Fingerprint
	index    int
}

// New returns a session. A supplied schema is active from the start;
// otherwise nothing is until the first announcement.
func New(opts Options) *Session {
	s := &Session{cache: opts.Cache, supplied: opts.Schema, log: opts.Logger}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.supplied != nil {
		s.suppFP = schema.FingerprintOf(s.supplied)
		s.active, s.activeFP = s.supplied, s.suppFP
		s.log.Info("using supplied schema", "fingerprint", s.suppFP, "schema", s.supplied.String())
	}
	return s
}

// Active returns the active schema, or nil if none is active yet.
func (s *Session) Active() (*schema.Node, schema.Fingerprint) { return s.active, s.activeFP }

// Feed processes one entry. Announcements switch the active schema and
// return ok=false; data entries are decoded against it.
func (s *Session) Feed(entry []byte) (Record, bool, error) {
	c, err := record.Classify(entry)
	if err != nil {
		return Record{}, false, err
	}
	if c.Announcement {
		return Record{}, false, s.announce(c.Fingerprint)
	}

	v, err := record.Decode(c.Data, s.active)
	if err != nil {
		return Record{}, false, err
	}
	r := Record{Index: s.index, Fingerprint: s.activeFP, Value: v}
	s.index++
	return r, true, nil
}

func (s *Session) announce(fp schema.Fingerprint) error {
	if s.supplied != nil {
		if fp != s.suppFP {
			return fmt.Errorf("%w: announced %s, supplied %s", ErrSchemaMismatch, fp, s.suppFP)
		}
		s.activate(s.supplied, fp)
		return nil
	}
	if s.cache == nil {
		return fmt.Errorf("%w: %s (no cache)", ErrSchemaNotFound, fp)
	}
	n, ok, err := s.cache.Lookup(fp)
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrSchemaNotFound, fp)
	}
	s.activate(n, fp)
	return nil
}

func (s *Session) activate(n *schema.Node, fp schema.Fingerprint) {
	if s.active != nil && fp == s.activeFP {
		s.log.Debug("schema re-announced", "fingerprint", fp)
		return
	}
	s.active, s.activeFP = n, fp
	s.log.Info("active schema", "fingerprint", fp, "schema", n.String())
}

// Run feeds every entry of it through the session and passes decoded
// records to emit. It stops at the first error.
func (s *Session) Run(it *flash.Iterator, emit func(Record) error) error {
	for {
		e, ok, err := it.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		r, ok, err := s.Feed(e.Data)
		if err != nil {
			return fmt.Errorf("entry at 0x%x: %w", e.Offset, err)
		}
		if !ok {
			continue
		}
		r.Offset = e.Offset
		if err := emit(r); err != nil {
			return err
		}
	}
}
