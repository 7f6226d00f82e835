package store

import (
	"testing"
	"time"
)

func TestSetGet(t *testing.T) {
	s := New()
	s.Set("k", []byte("v"), 0)
	got, ok := s.Get("k")
	if !ok || string(got) != "v" {
		t.Fatalf("got %q, %v", got, ok)
	}
	if _, ok := s.Get("missing"); ok {
		t.Fatalf("expected missing key to be absent")
	}
}

func TestTTLExpiry(t *testing.T) {
	s := New()
	s.Set("k", []byte("v"), 30*time.Millisecond)
	if _, ok := s.Get("k"); !ok {
		t.Fatalf("expected key present before ttl")
	}
	time.Sleep(60 * time.Millisecond)
	if _, ok := s.Get("k"); ok {
		t.Fatalf("expected key expired")
	}
	for _, k := range s.Keys() {
		if k == "k" {
			t.Fatalf("expired key still in Keys()")
		}
	}
}

func TestGetType(t *testing.T) {
	s := New()
	if got := s.GetType("nope"); got != "none" {
		t.Fatalf("got %q", got)
	}
	s.Set("str", []byte("v"), 0)
	if got := s.GetType("str"); got != "string" {
		t.Fatalf("got %q", got)
	}
	s.StreamAppend("strm", "1-1", []Field{{"a", "1"}})
	if got := s.GetType("strm"); got != "stream" {
		t.Fatalf("got %q", got)
	}
}

func TestStreamAppendMonotonicity(t *testing.T) {
	s := New()
	id, err := s.StreamAppend("s", "1-1", []Field{{"a", "1"}})
	if err != nil || id != (EntryID{1, 1}) {
		t.Fatalf("got %v, %v", id, err)
	}

	_, err = s.StreamAppend("s", "1-1", []Field{{"a", "2"}})
	if err == nil || err.Error() != NotIncreasingErr {
		t.Fatalf("got %v, want %q", err, NotIncreasingErr)
	}

	_, err = s.StreamAppend("empty", "0-0", []Field{{"a", "1"}})
	if err == nil || err.Error() != MinIDErr {
		t.Fatalf("got %v, want %q", err, MinIDErr)
	}

	id2, err := s.StreamAppend("s", "1-*", nil)
	if err != nil || id2 != (EntryID{1, 2}) {
		t.Fatalf("got %v, %v", id2, err)
	}

	id3, err := s.StreamAppend("s", "*", nil)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !id2.Less(id3) {
		t.Fatalf("expected %v < %v", id2, id3)
	}
}

func TestStreamRange(t *testing.T) {
	s := New()
	s.StreamAppend("s", "1-1", []Field{{"a", "1"}})
	s.StreamAppend("s", "1-2", []Field{{"a", "2"}})
	s.StreamAppend("s", "2-1", []Field{{"a", "3"}})

	entries := s.StreamRange("s", MinID, MaxID)
	if len(entries) != 3 {
		t.Fatalf("got %d entries", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if !entries[i-1].ID.Less(entries[i].ID) {
			t.Fatalf("entries not ordered: %v, %v", entries[i-1].ID, entries[i].ID)
		}
	}

	start, _ := ParseRangeStart("1")
	end, _ := ParseRangeEnd("1")
	entries = s.StreamRange("s", start, end)
	if len(entries) != 2 {
		t.Fatalf("got %d entries for ms=1 range", len(entries))
	}
}

func TestStreamSubscribeWake(t *testing.T) {
	s := New()
	s.StreamAppend("s", "1-1", nil)
	maxID := s.StreamMaxID("s")

	sub := s.StreamSubscribe("s", maxID)
	done := make(chan EntryID, 1)
	go func() {
		<-sub.Ready
		entries := s.StreamRange("s", NextID(maxID), MaxID)
		if len(entries) > 0 {
			done <- entries[0].ID
		} else {
			done <- EntryID{}
		}
	}()

	time.Sleep(10 * time.Millisecond)
	newID, err := s.StreamAppend("s", "2-1", []Field{{"a", "1"}})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	select {
	case got := <-done:
		if got != newID {
			t.Fatalf("got %v, want %v", got, newID)
		}
	case <-time.After(time.Second):
		t.Fatalf("subscriber was never woken")
	}
}

func TestStreamSubscribeCancelOnTimeout(t *testing.T) {
	s := New()
	sub := s.StreamSubscribe("s", MinID)
	sub.Cancel()
	// A second cancel (simulating a late timeout firing after a wake)
	// must not panic.
	sub.Cancel()
}
