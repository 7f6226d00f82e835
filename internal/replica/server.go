package replica

import (
	"context"
	"fmt"
	"net"
	"strings"

	"redis-server/internal/command"
	"redis-server/internal/conn"
	"redis-server/internal/logger"
	"redis-server/internal/resp"
)

// Serve accepts ordinary client connections on ln and answers the
// read-only subset documented in spec.md §4.6: PING, ECHO, GET, a
// locally-applied SET (never propagated further — this role has no
// sub-replicas), and INFO replication reporting role:slave.
func (r *Replica) Serve(ctx context.Context, ln net.Listener) error {
	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go r.handleClient(ctx, nc)
	}
}

func (r *Replica) handleClient(ctx context.Context, nc net.Conn) {
	c := conn.New(nc)
	logger.Info("replica: client connection from %s", nc.RemoteAddr())
	defer func() {
		c.Close()
		logger.Info("replica: client connection from %s closed", nc.RemoteAddr())
	}()

	for {
		v, _, err := c.ReadValueCounted()
		if err != nil {
			return
		}
		args, err := v.StringSlice()
		if err != nil || len(args) == 0 {
			c.WriteValue(resp.ErrorValue("ERR Protocol error: expected array of bulk strings"))
			continue
		}

		reply := r.dispatchClient(ctx, strings.ToUpper(args[0]), args[1:])
		if err := c.WriteValue(reply); err != nil {
			return
		}
	}
}

func (r *Replica) dispatchClient(ctx context.Context, name string, args []string) resp.Value {
	switch name {
	case "PING":
		return command.Ping(args)
	case "ECHO":
		return command.Echo(args)
	case "GET":
		return command.Get(r.store, args)
	case "TYPE":
		return command.Type(r.store, args)
	case "KEYS":
		return command.Keys(r.store, args)
	case "DBSIZE":
		return command.DBSize(r.store, args)
	case "XADD":
		return command.XAdd(r.store, args)
	case "XRANGE":
		return command.XRange(r.store, args)
	case "XREAD":
		req, err := command.ParseXRead(args)
		if err != nil {
			return resp.ErrorValue(err.Error())
		}
		return command.XRead(ctx, r.store, req)
	case "SET":
		// Accepted but not propagated: this role has no sub-replicas,
		// per spec.md §4.6's documented client-facing behavior.
		key, value, ttl, err := command.ParseSet(args)
		if err != nil {
			return resp.ErrorValue(err.Error())
		}
		r.store.Set(key, value, ttl)
		return resp.SimpleStringValue("OK")
	case "INFO":
		return r.handleInfo(args)
	case "REPLCONF":
		return resp.SimpleStringValue("OK")
	case "BGSAVE", "SAVE":
		return resp.ErrorValue(fmt.Sprintf("ERR %s not allowed on replica", name))
	default:
		return resp.Errorf("ERR unknown command '%s'", strings.ToLower(name))
	}
}

func (r *Replica) handleInfo(args []string) resp.Value {
	section := ""
	if len(args) > 0 {
		section = strings.ToLower(args[0])
	}
	if section != "" && section != "replication" {
		return resp.BulkStringFromString("")
	}
	lines := []string{
		"# Replication",
		"role:slave",
		fmt.Sprintf("master_replid:%s", r.masterReplID),
		fmt.Sprintf("master_repl_offset:%d", r.Offset()),
	}
	return resp.BulkStringFromString(strings.Join(lines, "\r\n"))
}
