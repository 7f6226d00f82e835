package master

import (
	"bytes"
	"sync"

	"github.com/pierrec/lz4/v4"
)

// maxBacklogBlocks bounds how many compressed blocks the ring keeps,
// giving a bounded backlog for diagnostics without unbounded RAM growth.
const maxBacklogBlocks = 16

// backlogBlock is one LZ4-compressed chunk of previously propagated
// command bytes.
type backlogBlock struct {
	compressed  []byte
	originalLen int
}

// Backlog is a bounded in-memory ring of recently propagated command
// bytes, compressed in blocks once it exceeds a threshold. It is
// diagnostic only — exposed via INFO replication's repl_backlog_bytes —
// and is never used to serve a PSYNC continuation, since partial resync
// is out of scope per spec.md's Non-goals.
type Backlog struct {
	mu        sync.Mutex
	pending   bytes.Buffer
	blocks    []backlogBlock
	threshold int
}

// NewBacklog creates a backlog that compresses pending bytes into a
// block once they cross threshold bytes.
func NewBacklog(threshold int) *Backlog {
	return &Backlog{threshold: threshold}
}

// Append adds propagated command bytes to the backlog.
func (b *Backlog) Append(data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending.Write(data)
	if b.pending.Len() >= b.threshold {
		b.compressPendingLocked()
	}
}

func (b *Backlog) compressPendingLocked() {
	raw := append([]byte(nil), b.pending.Bytes()...)
	b.pending.Reset()

	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(raw); err != nil {
		return
	}
	if err := w.Close(); err != nil {
		return
	}

	b.blocks = append(b.blocks, backlogBlock{compressed: buf.Bytes(), originalLen: len(raw)})
	if len(b.blocks) > maxBacklogBlocks {
		b.blocks = b.blocks[len(b.blocks)-maxBacklogBlocks:]
	}
}

// Len reports the total (uncompressed-equivalent) byte count currently
// held by the backlog, for INFO replication's repl_backlog_bytes.
func (b *Backlog) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := b.pending.Len()
	for _, blk := range b.blocks {
		total += blk.originalLen
	}
	return total
}
