package store

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"
)

// EntryID is a stream entry identifier: a pair (ms, seq) in lexicographic
// order.
type EntryID struct {
	Ms  uint64
	Seq uint64
}

// MinID is the smallest possible id, rejected by XADD and used as the
// inclusive lower bound "-" in range queries.
var MinID = EntryID{0, 0}

// MaxID is the largest possible id, used to denote "+" in range queries.
var MaxID = EntryID{math.MaxUint64, math.MaxUint64}

// Less reports whether id sorts strictly before other.
func (id EntryID) Less(other EntryID) bool {
	if id.Ms != other.Ms {
		return id.Ms < other.Ms
	}
	return id.Seq < other.Seq
}

// LessOrEqual reports id <= other.
func (id EntryID) LessOrEqual(other EntryID) bool {
	return id == other || id.Less(other)
}

// String renders the canonical "<ms>-<seq>" textual form.
func (id EntryID) String() string {
	return fmt.Sprintf("%d-%d", id.Ms, id.Seq)
}

// Field is a single field/value pair carried by a stream entry.
type Field struct {
	Field string
	Value string
}

// Entry is one stored stream record.
type Entry struct {
	ID     EntryID
	Fields []Field
}

// MinIDErr is the exact error text XADD returns when rejecting (0,0).
const MinIDErr = "ERR The ID specified in XADD must be greater than 0-0"

// NotIncreasingErr is the exact error text XADD returns when the
// resolved id does not exceed the stream's current maximum.
const NotIncreasingErr = "ERR The ID specified in XADD is equal or smaller than the target stream top item"

// Subscription is a one-shot wake channel returned by StreamSubscribe.
// The caller selects on Ready (closed on wake) and its own deadline.
type Subscription struct {
	Ready chan struct{}

	stream     *Stream
	waitedPast EntryID
	fired      bool
}

// Cancel removes the subscription if it has not already fired. Safe to
// call after the subscriber gave up on a timeout.
func (sub *Subscription) Cancel() {
	sub.stream.mu.Lock()
	defer sub.stream.mu.Unlock()
	if sub.fired {
		return
	}
	sub.stream.removeSubscriberLocked(sub)
}

// Stream is an ordered append-only log of entries, plus pending blocked
// readers.
type Stream struct {
	mu          sync.Mutex
	entries     []Entry // sorted by ID, append-only
	subscribers []*Subscription
}

func newStream() *Stream {
	return &Stream{}
}

func (st *Stream) maxID() EntryID {
	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.entries) == 0 {
		return MinID
	}
	return st.entries[len(st.entries)-1].ID
}

// resolveIDSpec implements the three id-spec shapes from spec.md §4.3.
func resolveIDSpec(idSpec string, currMax EntryID) (EntryID, error) {
	if idSpec == "*" {
		nowMs := uint64(time.Now().UnixMilli())
		if nowMs == currMax.Ms {
			return EntryID{Ms: nowMs, Seq: currMax.Seq + 1}, nil
		}
		return EntryID{Ms: nowMs, Seq: 0}, nil
	}

	parts := strings.SplitN(idSpec, "-", 2)
	msStr := parts[0]
	ms, err := strconv.ParseUint(msStr, 10, 64)
	if err != nil {
		return EntryID{}, fmt.Errorf("ERR Invalid stream ID specified as stream command argument")
	}

	if len(parts) == 1 {
		return EntryID{Ms: ms, Seq: 0}, nil
	}

	seqPart := parts[1]
	if seqPart == "*" {
		switch {
		case ms == currMax.Ms:
			return EntryID{Ms: ms, Seq: currMax.Seq + 1}, nil
		case ms == 0:
			return EntryID{Ms: ms, Seq: 1}, nil
		default:
			return EntryID{Ms: ms, Seq: 0}, nil
		}
	}

	seq, err := strconv.ParseUint(seqPart, 10, 64)
	if err != nil {
		return EntryID{}, fmt.Errorf("ERR Invalid stream ID specified as stream command argument")
	}
	return EntryID{Ms: ms, Seq: seq}, nil
}

func (st *Stream) append(idSpec string, fields []Field) (EntryID, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	var currMax EntryID
	if len(st.entries) > 0 {
		currMax = st.entries[len(st.entries)-1].ID
	}

	id, err := resolveIDSpec(idSpec, currMax)
	if err != nil {
		return EntryID{}, err
	}

	if id == MinID {
		return EntryID{}, fmt.Errorf(MinIDErr)
	}
	if len(st.entries) > 0 && !currMax.Less(id) {
		return EntryID{}, fmt.Errorf(NotIncreasingErr)
	}

	st.entries = append(st.entries, Entry{ID: id, Fields: fields})
	st.wakeSubscribersLocked(id)
	return id, nil
}

func (st *Stream) wakeSubscribersLocked(newID EntryID) {
	remaining := st.subscribers[:0]
	for _, sub := range st.subscribers {
		if sub.waitedPast.Less(newID) {
			sub.fired = true
			close(sub.Ready)
		} else {
			remaining = append(remaining, sub)
		}
	}
	st.subscribers = remaining
}

func (st *Stream) removeSubscriberLocked(target *Subscription) {
	remaining := st.subscribers[:0]
	for _, sub := range st.subscribers {
		if sub != target {
			remaining = append(remaining, sub)
		}
	}
	st.subscribers = remaining
}

func (st *Stream) subscribe(waitedPast EntryID) *Subscription {
	st.mu.Lock()
	defer st.mu.Unlock()
	sub := &Subscription{Ready: make(chan struct{}), stream: st, waitedPast: waitedPast}
	st.subscribers = append(st.subscribers, sub)
	return sub
}

func (st *Stream) rangeBetween(start, end EntryID) []Entry {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]Entry, 0)
	for _, e := range st.entries {
		if e.ID.Less(start) {
			continue
		}
		if end.Less(e.ID) {
			break
		}
		out = append(out, e)
	}
	return out
}

// ParseRangeStart implements spec.md §4.3's XRANGE/XREAD start parsing:
// "-" -> (0,0); "<ms>" -> (ms,0); "<ms>-<seq>" -> literal.
func ParseRangeStart(s string) (EntryID, error) {
	if s == "-" {
		return MinID, nil
	}
	return parseBound(s, 0)
}

// ParseRangeEnd implements spec.md §4.3's end parsing:
// "+" -> (MAX,MAX); "<ms>" -> (ms,MAX); "<ms>-<seq>" -> literal.
func ParseRangeEnd(s string) (EntryID, error) {
	if s == "+" {
		return MaxID, nil
	}
	return parseBound(s, math.MaxUint64)
}

func parseBound(s string, defaultSeq uint64) (EntryID, error) {
	parts := strings.SplitN(s, "-", 2)
	ms, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return EntryID{}, fmt.Errorf("ERR Invalid stream ID specified as stream command argument")
	}
	if len(parts) == 1 {
		return EntryID{Ms: ms, Seq: defaultSeq}, nil
	}
	seq, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return EntryID{}, fmt.Errorf("ERR Invalid stream ID specified as stream command argument")
	}
	return EntryID{Ms: ms, Seq: seq}, nil
}

// NextID returns the smallest id strictly greater than id, used to turn
// an inclusive XREAD id into an exclusive lower range bound.
func NextID(id EntryID) EntryID {
	if id.Seq != math.MaxUint64 {
		return EntryID{Ms: id.Ms, Seq: id.Seq + 1}
	}
	return EntryID{Ms: id.Ms + 1, Seq: 0}
}
