// Package integration runs the server's master and replica roles
// in-process against real listeners and drives them with go-redis,
// the way the teacher's tests/integration/integration_test.go drives
// df2redis against a running source and target.
package integration

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"redis-server/internal/master"
	"redis-server/internal/replica"
	"redis-server/internal/store"
)

func listen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return ln
}

func startMaster(t *testing.T) (*master.Master, string) {
	t.Helper()
	ln := listen(t)
	m := master.New(store.New(), master.Config{GetackRateHz: 50})
	ctx, cancel := context.WithCancel(context.Background())
	go m.Serve(ctx, ln)
	t.Cleanup(func() {
		cancel()
		ln.Close()
	})
	return m, ln.Addr().String()
}

func startReplica(t *testing.T, masterAddr string) (*replica.Replica, string) {
	t.Helper()
	ln := listen(t)
	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port := 0
	for _, c := range portStr {
		port = port*10 + int(c-'0')
	}
	r := replica.New(store.New(), masterAddr, port, 50*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)
	go r.Serve(ctx, ln)
	t.Cleanup(func() {
		cancel()
		ln.Close()
	})
	return r, ln.Addr().String()
}

func TestPingSetGetAndTTL(t *testing.T) {
	_, addr := startMaster(t)
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("PING: %v", err)
	}
	if err := client.Set(ctx, "greeting", "hello", 0).Err(); err != nil {
		t.Fatalf("SET: %v", err)
	}
	got, err := client.Get(ctx, "greeting").Result()
	if err != nil || got != "hello" {
		t.Fatalf("GET: got %q, err %v", got, err)
	}

	if err := client.Set(ctx, "fleeting", "bye", 30*time.Millisecond).Err(); err != nil {
		t.Fatalf("SET PX: %v", err)
	}
	time.Sleep(80 * time.Millisecond)
	if _, err := client.Get(ctx, "fleeting").Result(); err != redis.Nil {
		t.Fatalf("expected key to have expired, got err %v", err)
	}
}

func TestStreamsXaddXrangeXread(t *testing.T) {
	_, addr := startMaster(t)
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	id1, err := client.XAdd(ctx, &redis.XAddArgs{
		Stream: "events", ID: "*", Values: map[string]interface{}{"kind": "login"},
	}).Result()
	if err != nil {
		t.Fatalf("XADD: %v", err)
	}

	entries, err := client.XRange(ctx, "events", "-", "+").Result()
	if err != nil {
		t.Fatalf("XRANGE: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != id1 {
		t.Fatalf("XRANGE: got %+v", entries)
	}

	// A blocking XREAD started before the next XADD must unblock once it arrives.
	blocked := make(chan []redis.XStream, 1)
	go func() {
		res, err := client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{"events", "$"},
			Block:   2 * time.Second,
		}).Result()
		if err != nil {
			blocked <- nil
			return
		}
		blocked <- res
	}()

	time.Sleep(50 * time.Millisecond)
	if _, err := client.XAdd(ctx, &redis.XAddArgs{
		Stream: "events", ID: "*", Values: map[string]interface{}{"kind": "logout"},
	}).Result(); err != nil {
		t.Fatalf("XADD #2: %v", err)
	}

	select {
	case res := <-blocked:
		if len(res) != 1 || len(res[0].Messages) != 1 {
			t.Fatalf("XREAD BLOCK: got %+v", res)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("XREAD BLOCK did not unblock after XADD")
	}
}

func TestReplicationAndWait(t *testing.T) {
	_, masterAddr := startMaster(t)
	_, replicaAddr := startReplica(t, masterAddr)

	masterClient := redis.NewClient(&redis.Options{Addr: masterAddr})
	defer masterClient.Close()
	replicaClient := redis.NewClient(&redis.Options{Addr: replicaAddr})
	defer replicaClient.Close()

	// Give the replica time to complete its handshake before we write.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if err := replicaClient.Ping(context.Background()).Err(); err == nil {
			info, err := masterClient.Info(context.Background(), "replication").Result()
			if err == nil && strings.Contains(info, "connected_slaves:1") {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatal("replica never came up")
		}
		time.Sleep(20 * time.Millisecond)
	}

	ctx := context.Background()
	if err := masterClient.Set(ctx, "synced", "yes", 0).Err(); err != nil {
		t.Fatalf("SET on master: %v", err)
	}

	acked, err := masterClient.Do(ctx, "WAIT", "1", "2000").Result()
	if err != nil {
		t.Fatalf("WAIT: %v", err)
	}
	if n, ok := acked.(int64); !ok || n < 1 {
		t.Fatalf("WAIT: expected at least one ack, got %v (%T)", acked, acked)
	}

	got, err := replicaClient.Get(ctx, "synced").Result()
	if err != nil || got != "yes" {
		t.Fatalf("GET on replica after WAIT: got %q, err %v", got, err)
	}
}
