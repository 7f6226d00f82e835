package rdb

import (
	"bytes"
	"testing"
	"time"

	"redis-server/internal/store"
)

func TestWriteLoadRoundTrip(t *testing.T) {
	s := store.New()
	s.Set("foo", []byte("bar"), 0)
	s.Set("baz", []byte("789"), 0)
	s.Set("expiring", []byte("soon"), time.Hour)
	s.StreamAppend("stream1", "1-1", []store.Field{{Field: "a", Value: "1"}})
	s.StreamAppend("stream1", "1-2", []store.Field{{Field: "b", Value: "2"}})

	var buf bytes.Buffer
	if err := WriteTo(&buf, s); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	loaded := store.New()
	if err := LoadFrom(bytes.NewReader(buf.Bytes()), loaded); err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}

	for _, key := range []string{"foo", "baz", "expiring"} {
		want, _ := s.Get(key)
		got, ok := loaded.Get(key)
		if !ok || string(got) != string(want) {
			t.Fatalf("key %q: got %q, want %q", key, got, want)
		}
	}

	entries := loaded.StreamRange("stream1", store.MinID, store.MaxID)
	if len(entries) != 2 {
		t.Fatalf("got %d stream entries, want 2", len(entries))
	}
	if entries[0].ID.String() != "1-1" || entries[1].ID.String() != "1-2" {
		t.Fatalf("unexpected entry ids: %v, %v", entries[0].ID, entries[1].ID)
	}
}

func TestLoadMissingFileIsEmptyStore(t *testing.T) {
	s := store.New()
	if err := Load("/nonexistent/path/dump.rdb", s); err != nil {
		t.Fatalf("Load on missing file: %v", err)
	}
	if len(s.Keys()) != 0 {
		t.Fatalf("expected empty store")
	}
}

func TestLengthEncodingBigEndian(t *testing.T) {
	var buf bytes.Buffer
	if err := writeLength(&buf, 128); err != nil {
		t.Fatalf("writeLength: %v", err)
	}
	got, special, err := readLength(bytes.NewReader(buf.Bytes()))
	if err != nil || special || got != 128 {
		t.Fatalf("got %d, %v, %v", got, special, err)
	}

	// Canonical reference form per SPEC_FULL.md §9 decision 1: marker
	// 0x80 followed by a big-endian uint32.
	raw := []byte{0x80, 0x00, 0x00, 0x00, 0x80}
	got, special, err = readLength(bytes.NewReader(raw))
	if err != nil || special || got != 128 {
		t.Fatalf("big-endian decode: got %d, %v, %v", got, special, err)
	}
}

func TestLoadExpiredEntryDropped(t *testing.T) {
	s := store.New()
	s.SetAt("gone", []byte("v"), time.Now().Add(20*time.Millisecond))
	s.Set("here", []byte("v"), 0)

	var buf bytes.Buffer
	if err := WriteTo(&buf, s); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("gone")) {
		t.Fatalf("writer should have emitted the not-yet-expired entry")
	}
	// Let the written EXPIRETIME_MS pass so the reader sees an expired record.
	time.Sleep(40 * time.Millisecond)

	loaded := store.New()
	if err := LoadFrom(bytes.NewReader(buf.Bytes()), loaded); err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if _, ok := loaded.Get("gone"); ok {
		t.Fatalf("expired entry should have been dropped at load time")
	}
	if _, ok := loaded.Get("here"); !ok {
		t.Fatalf("non-expired entry missing")
	}
}
