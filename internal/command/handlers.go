// Package command implements the command handlers shared by both server
// roles: PING/ECHO/GET/TYPE/KEYS/XADD/XRANGE/XREAD/DBSIZE read exactly the
// same way whether the connection belongs to a master or a replica. SET's
// propagation and the replication-only commands (PSYNC, REPLCONF, WAIT)
// live in internal/master and internal/replica, which call into here for
// the shared subset.
package command

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"redis-server/internal/resp"
	"redis-server/internal/store"
)

// ErrWrongArgs is returned (as a Go error, never sent raw) when a handler
// finds a malformed argument list; callers turn it into a `-ERR` reply.
type ErrWrongArgs struct{ Command string }

func (e *ErrWrongArgs) Error() string {
	return fmt.Sprintf("ERR wrong number of arguments for '%s' command", strings.ToLower(e.Command))
}

// Ping implements PING [message].
func Ping(args []string) resp.Value {
	if len(args) > 1 {
		return resp.ErrorValue((&ErrWrongArgs{"PING"}).Error())
	}
	if len(args) == 1 {
		return resp.BulkStringFromString(args[0])
	}
	return resp.SimpleStringValue("PONG")
}

// Echo implements ECHO message.
func Echo(args []string) resp.Value {
	if len(args) != 1 {
		return resp.ErrorValue((&ErrWrongArgs{"ECHO"}).Error())
	}
	return resp.BulkStringFromString(args[0])
}

// Get implements GET key.
func Get(s *store.Store, args []string) resp.Value {
	if len(args) != 1 {
		return resp.ErrorValue((&ErrWrongArgs{"GET"}).Error())
	}
	v, ok := s.Get(args[0])
	if !ok {
		return resp.NullBulkString()
	}
	return resp.BulkStringValue(v)
}

// Type implements TYPE key.
func Type(s *store.Store, args []string) resp.Value {
	if len(args) != 1 {
		return resp.ErrorValue((&ErrWrongArgs{"TYPE"}).Error())
	}
	return resp.SimpleStringValue(s.GetType(args[0]))
}

// Keys implements KEYS pattern. Only the literal "*" pattern (match
// everything) is required by spec.md; any other pattern is treated the
// same way for simplicity, since pattern globbing is out of scope.
func Keys(s *store.Store, args []string) resp.Value {
	if len(args) != 1 {
		return resp.ErrorValue((&ErrWrongArgs{"KEYS"}).Error())
	}
	keys := s.Keys()
	return resp.StringArray(keys...)
}

// DBSize implements DBSIZE, supplementing spec.md's distilled command set.
func DBSize(s *store.Store, args []string) resp.Value {
	if len(args) != 0 {
		return resp.ErrorValue((&ErrWrongArgs{"DBSIZE"}).Error())
	}
	return resp.IntegerValue(int64(len(s.Keys()) + len(s.StreamKeys())))
}

// ParseSet parses SET key value [PX ms] into its components. It does not
// itself mutate the store: callers (master and replica) both need to
// decide propagation/no-propagation around the same parse.
func ParseSet(args []string) (key string, value []byte, ttl time.Duration, err error) {
	if len(args) != 2 && len(args) != 4 {
		return "", nil, 0, &ErrWrongArgs{"SET"}
	}
	key = args[0]
	value = []byte(args[1])
	if len(args) == 4 {
		if !strings.EqualFold(args[2], "PX") {
			return "", nil, 0, fmt.Errorf("ERR syntax error")
		}
		ms, perr := strconv.ParseInt(args[3], 10, 64)
		if perr != nil || ms < 0 {
			return "", nil, 0, fmt.Errorf("ERR value is not an integer or out of range")
		}
		ttl = time.Duration(ms) * time.Millisecond
	}
	return key, value, ttl, nil
}

// XAdd implements XADD key id field value [field value ...].
func XAdd(s *store.Store, args []string) resp.Value {
	if len(args) < 4 || len(args)%2 != 0 {
		return resp.ErrorValue((&ErrWrongArgs{"XADD"}).Error())
	}
	key, idSpec := args[0], args[1]
	fieldArgs := args[2:]
	fields := make([]store.Field, 0, len(fieldArgs)/2)
	for i := 0; i < len(fieldArgs); i += 2 {
		fields = append(fields, store.Field{Field: fieldArgs[i], Value: fieldArgs[i+1]})
	}
	id, err := s.StreamAppend(key, idSpec, fields)
	if err != nil {
		return resp.ErrorValue(err.Error())
	}
	return resp.BulkStringFromString(id.String())
}

// XRange implements XRANGE key start end.
func XRange(s *store.Store, args []string) resp.Value {
	if len(args) != 3 {
		return resp.ErrorValue((&ErrWrongArgs{"XRANGE"}).Error())
	}
	start, err := store.ParseRangeStart(args[1])
	if err != nil {
		return resp.ErrorValue(err.Error())
	}
	end, err := store.ParseRangeEnd(args[2])
	if err != nil {
		return resp.ErrorValue(err.Error())
	}
	entries := s.StreamRange(args[0], start, end)
	return resp.ArrayValue(entriesToValues(entries))
}

func entriesToValues(entries []store.Entry) []resp.Value {
	out := make([]resp.Value, len(entries))
	for i, e := range entries {
		fieldStrs := make([]string, 0, len(e.Fields)*2)
		for _, f := range e.Fields {
			fieldStrs = append(fieldStrs, f.Field, f.Value)
		}
		out[i] = resp.ArrayValue([]resp.Value{
			resp.BulkStringFromString(e.ID.String()),
			resp.StringArray(fieldStrs...),
		})
	}
	return out
}

// XReadRequest is a parsed XREAD command.
type XReadRequest struct {
	Blocking bool
	BlockMs  int64 // 0 means indefinite when Blocking is true
	Keys     []string
	IDSpecs  []string // one per key, may include "$"
}

// ParseXRead parses XREAD [BLOCK ms] STREAMS k1 k2 ... id1 id2 ....
func ParseXRead(args []string) (*XReadRequest, error) {
	req := &XReadRequest{}
	i := 0
	for i < len(args) {
		switch strings.ToUpper(args[i]) {
		case "BLOCK":
			if i+1 >= len(args) {
				return nil, &ErrWrongArgs{"XREAD"}
			}
			ms, err := strconv.ParseInt(args[i+1], 10, 64)
			if err != nil || ms < 0 {
				return nil, fmt.Errorf("ERR timeout is not an integer or out of range")
			}
			req.Blocking = true
			req.BlockMs = ms
			i += 2
		case "STREAMS":
			rest := args[i+1:]
			if len(rest) == 0 || len(rest)%2 != 0 {
				return nil, fmt.Errorf("ERR Unbalanced XREAD list of streams: for each stream key an ID or '$' must be specified")
			}
			half := len(rest) / 2
			req.Keys = append([]string(nil), rest[:half]...)
			req.IDSpecs = append([]string(nil), rest[half:]...)
			i = len(args)
		default:
			return nil, fmt.Errorf("ERR syntax error")
		}
	}
	if req.Keys == nil {
		return nil, fmt.Errorf("ERR syntax error")
	}
	return req, nil
}

// resolveStartID turns one XREAD id-spec into the exclusive lower bound
// used for ranging, resolving "$" against the stream's current max id.
func resolveStartID(s *store.Store, key, idSpec string) (store.EntryID, error) {
	if idSpec == "$" {
		return s.StreamMaxID(key), nil
	}
	id, err := store.ParseRangeStart(idSpec)
	if err != nil {
		return store.EntryID{}, err
	}
	return id, nil
}

// XReadResult is one stream's worth of matched entries.
type XReadResult struct {
	Key     string
	Entries []store.Entry
}

func runXReadQuery(s *store.Store, keys, idSpecs []string) ([]XReadResult, error) {
	results := make([]XReadResult, 0, len(keys))
	for i, key := range keys {
		startInclusive, err := resolveStartID(s, key, idSpecs[i])
		if err != nil {
			return nil, err
		}
		entries := s.StreamRange(key, store.NextID(startInclusive), store.MaxID)
		if len(entries) > 0 {
			results = append(results, XReadResult{Key: key, Entries: entries})
		}
	}
	return results, nil
}

// XRead implements XREAD, including BLOCK semantics per spec.md §4.5.
// ctx is used only to unblock a blocking read early on server shutdown.
func XRead(ctx context.Context, s *store.Store, req *XReadRequest) resp.Value {
	if !req.Blocking {
		results, err := runXReadQuery(s, req.Keys, req.IDSpecs)
		if err != nil {
			return resp.ErrorValue(err.Error())
		}
		if len(results) == 0 {
			return resp.NullBulkString()
		}
		return xreadResultsToValue(results)
	}

	// Resolve "$" up front, before blocking, per spec.md §4.5.
	resolvedIDSpecs := make([]string, len(req.IDSpecs))
	for i, key := range req.Keys {
		if req.IDSpecs[i] == "$" {
			resolvedIDSpecs[i] = s.StreamMaxID(key).String()
		} else {
			resolvedIDSpecs[i] = req.IDSpecs[i]
		}
	}

	results, err := runXReadQuery(s, req.Keys, req.IDSpecs)
	if err != nil {
		return resp.ErrorValue(err.Error())
	}
	if len(results) > 0 {
		return xreadResultsToValue(results)
	}

	// Only the first stream is subscribed to (spec.md Open Question 3,
	// resolved as "not extended" in SPEC_FULL.md §9).
	startID, err := resolveStartID(s, req.Keys[0], resolvedIDSpecs[0])
	if err != nil {
		return resp.ErrorValue(err.Error())
	}
	sub := s.StreamSubscribe(req.Keys[0], startID)

	var timer *time.Timer
	var timeoutCh <-chan time.Time
	if req.BlockMs > 0 {
		timer = time.NewTimer(time.Duration(req.BlockMs) * time.Millisecond)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case <-sub.Ready:
	case <-timeoutCh:
		sub.Cancel()
		return resp.NullBulkString()
	case <-ctx.Done():
		sub.Cancel()
		return resp.NullBulkString()
	}

	results, err = runXReadQuery(s, req.Keys, resolvedIDSpecs)
	if err != nil {
		return resp.ErrorValue(err.Error())
	}
	if len(results) == 0 {
		return resp.NullBulkString()
	}
	return xreadResultsToValue(results)
}

func xreadResultsToValue(results []XReadResult) resp.Value {
	out := make([]resp.Value, len(results))
	for i, r := range results {
		out[i] = resp.ArrayValue([]resp.Value{
			resp.BulkStringFromString(r.Key),
			resp.ArrayValue(entriesToValues(r.Entries)),
		})
	}
	return resp.ArrayValue(out)
}
