// Package master implements the master server role: it owns the store,
// dispatches client commands read from framed connections, and manages
// the list of connected replicas — propagating mutations to them and
// driving WAIT via REPLCONF GETACK/ACK.
package master

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"redis-server/internal/command"
	"redis-server/internal/conn"
	"redis-server/internal/logger"
	"redis-server/internal/rdb"
	"redis-server/internal/ratelimit"
	"redis-server/internal/resp"
	"redis-server/internal/store"

	"golang.org/x/time/rate"
)

// ReplicaHandle is a replica connection the master propagates mutations
// to and collects WAIT acknowledgements from. It is created on a
// successful PSYNC handshake and persists until its connection fails.
type ReplicaHandle struct {
	ID   string
	Conn *conn.Conn

	mu   sync.Mutex
	dead bool
}

func (h *ReplicaHandle) markDead() {
	h.mu.Lock()
	h.dead = true
	h.mu.Unlock()
}

func (h *ReplicaHandle) isDead() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dead
}

// Config bundles the master's startup knobs, sourced from CLI flags and
// the optional config file.
type Config struct {
	Port         int
	Dir          string
	DBFilename   string
	GetackRateHz float64
}

// Master holds its replication state (replID, replOffset, replicas)
// behind one mutex. Only the handlers that touch that state acquire it
// (SET's propagation, INFO replication, PSYNC, WAIT); the data handlers
// (PING, GET, XADD, XRANGE, XREAD and the rest) rely on the store's own
// mutexes and do not take it. It is never held across a read from a
// replica connection (WAIT's collector takes a snapshot of the replicas
// list and drops the lock before reading acks).
type Master struct {
	cfg Config

	mu          sync.Mutex
	replID      string
	replOffset  int64
	replicas    []*ReplicaHandle
	backlog     *Backlog

	store         *store.Store
	getackLimiter *rate.Limiter
	startedAt     time.Time
}

// New creates a master over an already-loaded store.
func New(s *store.Store, cfg Config) *Master {
	return &Master{
		cfg:           cfg,
		replID:        newReplicationID(),
		store:         s,
		backlog:       NewBacklog(1 << 20),
		getackLimiter: ratelimit.GetackBroadcaster(cfg.GetackRateHz),
		startedAt:     time.Now(),
	}
}

func newReplicationID() string {
	b := make([]byte, 20)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing is effectively impossible; fall back to a
		// fixed-but-valid-looking id rather than crash the server.
		return strings.Repeat("0", 40)
	}
	return hex.EncodeToString(b)
}

// Store exposes the master's store, e.g. for the RDB loader at startup.
func (m *Master) Store() *store.Store { return m.store }

// Serve accepts connections on ln until it errors or ctx is cancelled.
func (m *Master) Serve(ctx context.Context, ln net.Listener) error {
	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go m.HandleConnection(ctx, nc)
	}
}

// HandleConnection drives one client connection until it errors, closes,
// or is promoted to a replica via PSYNC (in which case this goroutine
// returns and the connection's future reads are driven solely by WAIT's
// ack collector, per spec.md §4.5).
func (m *Master) HandleConnection(ctx context.Context, nc net.Conn) {
	c := conn.New(nc)
	logger.Info("master: connection from %s", nc.RemoteAddr())
	defer func() {
		logger.Info("master: connection from %s closed", nc.RemoteAddr())
	}()

	for {
		v, _, err := c.ReadValueCounted()
		if err != nil {
			c.Close()
			return
		}
		args, err := v.StringSlice()
		if err != nil || len(args) == 0 {
			c.WriteValue(resp.ErrorValue("ERR Protocol error: expected array of bulk strings"))
			continue
		}

		name := strings.ToUpper(args[0])
		if name == "PSYNC" {
			m.handlePSYNC(c)
			return
		}

		reply := m.dispatch(ctx, c, name, args[1:])
		if err := c.WriteValue(reply); err != nil {
			return
		}
	}
}

func (m *Master) dispatch(ctx context.Context, c *conn.Conn, name string, args []string) resp.Value {
	switch name {
	case "PING":
		return command.Ping(args)
	case "ECHO":
		return command.Echo(args)
	case "GET":
		return command.Get(m.store, args)
	case "TYPE":
		return command.Type(m.store, args)
	case "KEYS":
		return command.Keys(m.store, args)
	case "DBSIZE":
		return command.DBSize(m.store, args)
	case "SET":
		return m.handleSet(args)
	case "XADD":
		return command.XAdd(m.store, args)
	case "XRANGE":
		return command.XRange(m.store, args)
	case "XREAD":
		req, err := command.ParseXRead(args)
		if err != nil {
			return resp.ErrorValue(err.Error())
		}
		return command.XRead(ctx, m.store, req)
	case "INFO":
		return m.handleInfo(args)
	case "CONFIG":
		return m.handleConfig(args)
	case "REPLCONF":
		return resp.SimpleStringValue("OK")
	case "WAIT":
		return m.handleWait(ctx, args)
	case "SAVE":
		return m.handleSave()
	case "BGSAVE":
		return m.handleBGSave()
	default:
		return resp.Errorf("ERR unknown command '%s'", strings.ToLower(name))
	}
}

func (m *Master) handleSet(args []string) resp.Value {
	key, value, ttl, err := command.ParseSet(args)
	if err != nil {
		return resp.ErrorValue(err.Error())
	}
	m.store.Set(key, value, ttl)
	m.propagate(append([]string{"SET"}, args...))
	return resp.SimpleStringValue("OK")
}

// propagate writes the original command array to every live replica and
// advances replOffset by its encoded byte length, per spec.md §4.5. The
// master's lock is held across the writes so propagation order to a
// given replica matches the order client commands were handled, per
// spec.md §5 — but never across socket reads, only the (already
// independently-mutexed) replica writes.
func (m *Master) propagate(args []string) {
	encoded := resp.Encode(resp.StringArray(args...))

	m.mu.Lock()
	m.replOffset += int64(len(encoded))
	for _, r := range m.replicas {
		if r.isDead() {
			continue
		}
		if err := r.Conn.WriteRaw(encoded); err != nil {
			logger.Warn("master: propagate to replica %s failed: %v", r.ID, err)
			r.markDead()
		}
	}
	m.mu.Unlock()
	m.backlog.Append(encoded)
}

func (m *Master) handleInfo(args []string) resp.Value {
	section := ""
	if len(args) > 0 {
		section = strings.ToLower(args[0])
	}
	var parts []string
	if section == "" || section == "replication" {
		parts = append(parts, m.infoReplication())
	}
	if section == "" || section == "server" {
		parts = append(parts, m.infoServer())
	}
	if section == "" || section == "memory" {
		parts = append(parts, m.infoMemory())
	}
	return resp.BulkStringFromString(strings.Join(parts, "\n\n"))
}

func (m *Master) infoReplication() string {
	m.mu.Lock()
	replCount := len(m.replicas)
	offset := m.replOffset
	backlogBytes := m.backlog.Len()
	m.mu.Unlock()
	return strings.Join([]string{
		"# Replication",
		"role:master",
		fmt.Sprintf("connected_slaves:%d", replCount),
		fmt.Sprintf("master_replid:%s", m.replID),
		fmt.Sprintf("master_repl_offset:%d", offset),
		fmt.Sprintf("repl_backlog_bytes:%d", backlogBytes),
	}, "\r\n")
}

func (m *Master) infoServer() string {
	return strings.Join([]string{
		"# Server",
		"redis_version:7.4.0",
		fmt.Sprintf("process_id:%d", os.Getpid()),
		fmt.Sprintf("tcp_port:%d", m.cfg.Port),
		fmt.Sprintf("run_id:%s", m.replID),
		fmt.Sprintf("uptime_in_seconds:%d", int64(time.Since(m.startedAt).Seconds())),
	}, "\r\n")
}

func (m *Master) infoMemory() string {
	rss, humanized := processMemory()
	return strings.Join([]string{
		"# Memory",
		fmt.Sprintf("used_memory:%d", rss),
		fmt.Sprintf("used_memory_human:%s", humanized),
	}, "\r\n")
}

func (m *Master) handleConfig(args []string) resp.Value {
	if len(args) != 2 || !strings.EqualFold(args[0], "GET") {
		return resp.ErrorValue("ERR wrong number of arguments for 'config|get' command")
	}
	switch strings.ToLower(args[1]) {
	case "dir":
		return resp.ArrayValue([]resp.Value{resp.BulkStringFromString("dir"), resp.BulkStringFromString(m.cfg.Dir)})
	case "dbfilename":
		return resp.ArrayValue([]resp.Value{resp.BulkStringFromString("dbfilename"), resp.BulkStringFromString(m.cfg.DBFilename)})
	default:
		return resp.ArrayValue(nil)
	}
}

func (m *Master) snapshotPath() string {
	if m.cfg.Dir == "" || m.cfg.DBFilename == "" {
		return ""
	}
	return m.cfg.Dir + string(os.PathSeparator) + m.cfg.DBFilename
}

func (m *Master) handleSave() resp.Value {
	path := m.snapshotPath()
	if path == "" {
		return resp.ErrorValue("ERR no dir/dbfilename configured")
	}
	if err := rdb.Save(path, m.store); err != nil {
		logger.Error("master: SAVE failed: %v", err)
		return resp.Errorf("ERR %s", err.Error())
	}
	return resp.SimpleStringValue("OK")
}

func (m *Master) handleBGSave() resp.Value {
	path := m.snapshotPath()
	if path == "" {
		return resp.ErrorValue("ERR no dir/dbfilename configured")
	}
	go func() {
		if err := rdb.Save(path, m.store); err != nil {
			logger.Error("master: BGSAVE failed: %v", err)
		}
	}()
	return resp.SimpleStringValue("Background saving started")
}

func (m *Master) handlePSYNC(c *conn.Conn) {
	m.mu.Lock()
	replID := m.replID
	m.mu.Unlock()

	// spec.md §4.5/§8 scenario 6: FULLRESYNC always reports offset 0 —
	// only full resync is implemented, so every PSYNC starts a replica
	// from scratch regardless of the master's current replOffset.
	reply := resp.SimpleStringValue(fmt.Sprintf("FULLRESYNC %s 0", replID))
	if err := c.WriteValue(reply); err != nil {
		return
	}

	payload, err := snapshotBytes(m.store)
	if err != nil {
		logger.Error("master: failed to build PSYNC snapshot: %v", err)
		return
	}
	if err := c.WriteRaw(resp.EncodeRDBFrame(payload)); err != nil {
		return
	}

	handle := &ReplicaHandle{ID: newReplicationID()[:8], Conn: c}
	m.mu.Lock()
	m.replicas = append(m.replicas, handle)
	m.mu.Unlock()
	logger.Info("master: replica %s promoted after PSYNC", handle.ID)
}

// handleWait implements WAIT n timeout_ms per spec.md §4.5.
func (m *Master) handleWait(ctx context.Context, args []string) resp.Value {
	if len(args) != 2 {
		return resp.ErrorValue("ERR wrong number of arguments for 'wait' command")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return resp.ErrorValue("ERR value is not an integer or out of range")
	}
	timeoutMs, err := strconv.Atoi(args[1])
	if err != nil {
		return resp.ErrorValue("ERR value is not an integer or out of range")
	}

	m.mu.Lock()
	capturedOffset := m.replOffset
	replicas := append([]*ReplicaHandle(nil), m.replicas...)
	m.mu.Unlock()

	if n == 0 || capturedOffset == 0 {
		return resp.IntegerValue(int64(len(replicas)))
	}

	if err := m.getackLimiter.Wait(ctx); err != nil {
		return resp.IntegerValue(0)
	}

	getack := resp.Encode(resp.StringArray("REPLCONF", "GETACK", "*"))
	for _, r := range replicas {
		if r.isDead() {
			continue
		}
		if err := r.Conn.WriteRaw(getack); err != nil {
			r.markDead()
		}
	}

	counter := &atomicCounter{}
	doneCh := make(chan struct{})
	go m.collectAcks(replicas, capturedOffset, n, counter, doneCh)

	var timeoutCh <-chan time.Time
	if timeoutMs > 0 {
		timer := time.NewTimer(time.Duration(timeoutMs) * time.Millisecond)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case <-doneCh:
	case <-timeoutCh:
	case <-ctx.Done():
	}

	m.mu.Lock()
	m.replOffset += int64(len(getack))
	m.mu.Unlock()

	return resp.IntegerValue(int64(counter.get()))
}

// atomicCounter is the shared counter the design note describes: the
// collector increments it as acks arrive, and the dispatcher reads
// whatever value it holds at timeout even if the collector is still
// mid-scan of a slow or dead replica.
type atomicCounter struct {
	mu sync.Mutex
	n  int
}

func (c *atomicCounter) inc() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *atomicCounter) get() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// collectAcks reads one REPLCONF ACK per replica, in stored order —
// sequential by design (see spec.md §4.5's design note): a per-replica
// parallel collector would deadlock, since each replica sends exactly
// one ACK per GETACK and multiple waiting readers would over-consume.
// It stops and closes doneCh as soon as the counter reaches target.
func (m *Master) collectAcks(replicas []*ReplicaHandle, capturedOffset int64, target int, counter *atomicCounter, doneCh chan<- struct{}) {
	defer close(doneCh)
	for _, r := range replicas {
		if r.isDead() {
			continue
		}
		v, err := r.Conn.ReadValue()
		if err != nil {
			r.markDead()
			continue
		}
		ackArgs, err := v.StringSlice()
		if err != nil || len(ackArgs) != 3 || !strings.EqualFold(ackArgs[0], "REPLCONF") || !strings.EqualFold(ackArgs[1], "ACK") {
			continue
		}
		offset, err := strconv.ParseInt(ackArgs[2], 10, 64)
		if err != nil {
			continue
		}
		if offset >= capturedOffset {
			counter.inc()
		}
		if counter.get() >= target {
			return
		}
	}
}

func snapshotBytes(s *store.Store) ([]byte, error) {
	var buf bytes.Buffer
	if err := rdb.WriteTo(&buf, s); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
