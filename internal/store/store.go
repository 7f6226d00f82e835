// Package store implements the concurrent key-value map at the heart of
// the server: strings with optional TTL, and append-only streams with
// monotonic entry ids and blocking-reader wakeups.
package store

import (
	"sync"
	"time"
)

// Value is the tagged union of things a key can hold.
type Value struct {
	IsStream bool
	Str      []byte
	Stream   *Stream
}

// StringValue wraps a byte-string payload.
func StringValue(b []byte) Value { return Value{Str: b} }

// valueEntry pairs a string Value with an optional absolute expiry.
type valueEntry struct {
	data      []byte
	expiresAt time.Time // zero means no TTL
}

func (e *valueEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Store holds the process's entire dataset. Strings and streams live in
// separate maps guarded by separate mutexes; neither lock is ever held
// across socket or disk I/O.
type Store struct {
	stringsMu sync.Mutex
	strings   map[string]*valueEntry

	streamsMu sync.Mutex
	streams   map[string]*Stream
}

// New returns an empty store.
func New() *Store {
	return &Store{
		strings: make(map[string]*valueEntry),
		streams: make(map[string]*Stream),
	}
}

// Set inserts or overwrites key in the string mapping. ttl of zero means
// no expiration.
func (s *Store) Set(key string, value []byte, ttl time.Duration) {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	s.stringsMu.Lock()
	defer s.stringsMu.Unlock()
	s.strings[key] = &valueEntry{data: value, expiresAt: expiresAt}
}

// SetAt is like Set but takes an absolute expiry instant directly, used
// by the RDB loader which reads an absolute EXPIRETIME_MS.
func (s *Store) SetAt(key string, value []byte, expiresAt time.Time) {
	s.stringsMu.Lock()
	defer s.stringsMu.Unlock()
	s.strings[key] = &valueEntry{data: value, expiresAt: expiresAt}
}

// Get returns the current string value of key, lazily evicting it if its
// TTL has passed.
func (s *Store) Get(key string) ([]byte, bool) {
	now := time.Now()
	s.stringsMu.Lock()
	defer s.stringsMu.Unlock()
	e, ok := s.strings[key]
	if !ok {
		return nil, false
	}
	if e.expired(now) {
		delete(s.strings, key)
		return nil, false
	}
	return e.data, true
}

// GetType reports "string", "stream", or "none". String mapping is
// checked first, matching spec.md's documented tie-break.
func (s *Store) GetType(key string) string {
	if _, ok := s.Get(key); ok {
		return "string"
	}
	s.streamsMu.Lock()
	_, ok := s.streams[key]
	s.streamsMu.Unlock()
	if ok {
		return "stream"
	}
	return "none"
}

// Keys returns every non-expired string key, e.g. for KEYS * and DBSIZE.
func (s *Store) Keys() []string {
	now := time.Now()
	s.stringsMu.Lock()
	defer s.stringsMu.Unlock()
	out := make([]string, 0, len(s.strings))
	for k, e := range s.strings {
		if e.expired(now) {
			delete(s.strings, k)
			continue
		}
		out = append(out, k)
	}
	return out
}

// DataSnapshot is a point-in-time copy of non-expired key/value pairs,
// used by the RDB-style snapshot writer (KEYS and DBSIZE use Keys).
type DataSnapshot struct {
	Key       string
	Value     []byte
	ExpiresAt time.Time // zero means no TTL
}

// Data returns a snapshot of every non-expired string entry.
func (s *Store) Data() []DataSnapshot {
	now := time.Now()
	s.stringsMu.Lock()
	defer s.stringsMu.Unlock()
	out := make([]DataSnapshot, 0, len(s.strings))
	for k, e := range s.strings {
		if e.expired(now) {
			delete(s.strings, k)
			continue
		}
		out = append(out, DataSnapshot{Key: k, Value: e.data, ExpiresAt: e.expiresAt})
	}
	return out
}

// StreamKeys returns every stream key currently present.
func (s *Store) StreamKeys() []string {
	s.streamsMu.Lock()
	defer s.streamsMu.Unlock()
	out := make([]string, 0, len(s.streams))
	for k := range s.streams {
		out = append(out, k)
	}
	return out
}

// streamFor returns the Stream for key, creating an empty one if absent.
func (s *Store) streamFor(key string) *Stream {
	s.streamsMu.Lock()
	defer s.streamsMu.Unlock()
	st, ok := s.streams[key]
	if !ok {
		st = newStream()
		s.streams[key] = st
	}
	return st
}

// StreamMaxID returns the current maximum entry id of key's stream,
// creating the stream if absent so that "$" resolution is stable across
// repeated calls even before any XADD.
func (s *Store) StreamMaxID(key string) EntryID {
	return s.streamFor(key).maxID()
}

// StreamAppend resolves idSpec against the stream's current max id and
// appends a new entry, waking any blocked subscribers.
func (s *Store) StreamAppend(key string, idSpec string, fields []Field) (EntryID, error) {
	return s.streamFor(key).append(idSpec, fields)
}

// StreamRange returns entries in [start, end] (or the caller's own
// exclusive adjustment, used by XREAD) in id order.
func (s *Store) StreamRange(key string, start, end EntryID) []Entry {
	s.streamsMu.Lock()
	st, ok := s.streams[key]
	s.streamsMu.Unlock()
	if !ok {
		return nil
	}
	return st.rangeBetween(start, end)
}

// StreamSubscribe registers a one-shot wake channel on key's stream for
// ids strictly greater than waitedPast.
func (s *Store) StreamSubscribe(key string, waitedPast EntryID) *Subscription {
	return s.streamFor(key).subscribe(waitedPast)
}
