// Package replica implements the replica server role: it drives the
// handshake with a master, applies propagated commands to its own
// store, tracks a replication byte offset, and answers REPLCONF GETACK.
// Its own listening port mirrors the master's read-only command subset
// for ordinary clients.
package replica

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"redis-server/internal/command"
	"redis-server/internal/conn"
	"redis-server/internal/logger"
	"redis-server/internal/ratelimit"
	"redis-server/internal/rdb"
	"redis-server/internal/resp"
	"redis-server/internal/store"

	"golang.org/x/time/rate"
)

// Replica holds ReplicaState per spec.md §3: the master's replication
// id, a running byte offset counting every RESP array received from the
// master after handshake, and its own store.
type Replica struct {
	masterAddr string
	listenPort int

	store *store.Store

	masterReplID string
	replOffset   int64 // atomic

	reconnectLimiter *rate.Limiter

	mu         sync.Mutex
	masterConn *conn.Conn
}

// New creates a replica that will connect to masterAddr ("host:port"),
// announcing listenPort as its own REPLCONF listening-port.
func New(s *store.Store, masterAddr string, listenPort int, reconnectEvery time.Duration) *Replica {
	hz := 0.0
	if reconnectEvery > 0 {
		hz = 1 / reconnectEvery.Seconds()
	}
	return &Replica{
		masterAddr:       masterAddr,
		listenPort:       listenPort,
		store:            s,
		reconnectLimiter: ratelimit.Reconnector(hz),
	}
}

// Store exposes the replica's store for the client-facing listener.
func (r *Replica) Store() *store.Store { return r.store }

// Offset returns the current replication_offset.
func (r *Replica) Offset() int64 { return atomic.LoadInt64(&r.replOffset) }

// Run drives the handshake-then-apply loop until ctx is cancelled,
// reconnecting (rate-limited) whenever the master connection drops.
func (r *Replica) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := r.connectAndApply(ctx); err != nil {
			logger.Warn("replica: lost connection to master %s: %v", r.masterAddr, err)
		}
		if ctx.Err() != nil {
			return
		}
		if err := r.reconnectLimiter.Wait(ctx); err != nil {
			return
		}
	}
}

func (r *Replica) connectAndApply(ctx context.Context) error {
	c, payload, err := r.handshake()
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	r.mu.Lock()
	r.masterConn = c
	r.mu.Unlock()
	atomic.StoreInt64(&r.replOffset, 0)

	if err := rdb.LoadFrom(bytes.NewReader(payload), r.store); err != nil {
		logger.Warn("replica: failed to load PSYNC snapshot: %v", err)
	}
	logger.Info("replica: full resync with %s complete, entering apply loop", r.masterAddr)

	return r.applyLoop(ctx, c)
}

// handshake drives spec.md §4.6's four-step PING/REPLCONF/REPLCONF/PSYNC
// sequence and returns the connected master link plus the RDB payload
// shipped with FULLRESYNC.
func (r *Replica) handshake() (*conn.Conn, []byte, error) {
	nc, err := net.Dial("tcp", r.masterAddr)
	if err != nil {
		return nil, nil, err
	}
	c := conn.New(nc)

	if err := c.WriteValue(resp.StringArray("PING")); err != nil {
		return nil, nil, err
	}
	if v, err := c.ReadValue(); err != nil || !strings.EqualFold(v.Str, "PONG") {
		return nil, nil, fmt.Errorf("expected PONG, got %+v (%v)", v, err)
	}

	if err := c.WriteValue(resp.StringArray("REPLCONF", "listening-port", strconv.Itoa(r.listenPort))); err != nil {
		return nil, nil, err
	}
	if v, err := c.ReadValue(); err != nil || !strings.EqualFold(v.Str, "OK") {
		return nil, nil, fmt.Errorf("expected OK for listening-port, got %+v (%v)", v, err)
	}

	if err := c.WriteValue(resp.StringArray("REPLCONF", "capa", "psync2")); err != nil {
		return nil, nil, err
	}
	if v, err := c.ReadValue(); err != nil || !strings.EqualFold(v.Str, "OK") {
		return nil, nil, fmt.Errorf("expected OK for capa, got %+v (%v)", v, err)
	}

	if err := c.WriteValue(resp.StringArray("PSYNC", "?", "-1")); err != nil {
		return nil, nil, err
	}
	v, err := c.ReadValue()
	if err != nil {
		return nil, nil, err
	}
	fields := strings.Fields(v.Str)
	if len(fields) != 3 || !strings.EqualFold(fields[0], "FULLRESYNC") {
		return nil, nil, fmt.Errorf("expected FULLRESYNC, got %+v", v)
	}
	r.masterReplID = fields[1]

	payload, err := c.ReadRDBFrame()
	if err != nil {
		return nil, nil, err
	}
	return c, payload, nil
}

// applyLoop reads RESP arrays from the master indefinitely. Every
// successfully decoded array advances replOffset by its byte length,
// per spec.md §4.6, regardless of which command it carries.
func (r *Replica) applyLoop(ctx context.Context, c *conn.Conn) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		v, n, err := c.ReadValueCounted()
		if err != nil {
			return err
		}
		args, err := v.StringSlice()
		if err != nil || len(args) == 0 {
			atomic.AddInt64(&r.replOffset, int64(n))
			continue
		}
		r.applyCommand(c, args, n)
	}
}

func (r *Replica) applyCommand(c *conn.Conn, args []string, wireLen int) {
	name := strings.ToUpper(args[0])
	switch name {
	case "PING":
		atomic.AddInt64(&r.replOffset, int64(wireLen))

	case "SET":
		key, value, ttl, err := command.ParseSet(args[1:])
		if err == nil {
			r.store.Set(key, value, ttl)
		}
		atomic.AddInt64(&r.replOffset, int64(wireLen))

	case "REPLCONF":
		if len(args) >= 2 && strings.EqualFold(args[1], "GETACK") {
			// spec.md Open Question 2's resolution: the reported offset
			// is the count of bytes received before this GETACK; its
			// own bytes are folded into replOffset only after replying,
			// so the master's next WAIT sees a caught-up replica.
			offset := atomic.LoadInt64(&r.replOffset)
			ack := resp.StringArray("REPLCONF", "ACK", strconv.FormatInt(offset, 10))
			if err := c.WriteValue(ack); err != nil {
				logger.Warn("replica: failed to send REPLCONF ACK: %v", err)
			}
		}
		atomic.AddInt64(&r.replOffset, int64(wireLen))

	default:
		atomic.AddInt64(&r.replOffset, int64(wireLen))
	}
}
