package replica

import (
	"bytes"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"redis-server/internal/conn"
	"redis-server/internal/rdb"
	"redis-server/internal/resp"
	"redis-server/internal/store"
)

// fakeMaster accepts exactly one connection and runs through the
// handshake sequence documented in spec.md §4.6, then sends one PING
// and one SET the applyLoop should apply.
func fakeMaster(t *testing.T, ln net.Listener) {
	t.Helper()
	nc, err := ln.Accept()
	if err != nil {
		t.Errorf("accept: %v", err)
		return
	}
	c := conn.New(nc)

	expect := func(want ...string) {
		v, err := c.ReadValue()
		if err != nil {
			t.Errorf("read: %v", err)
			return
		}
		got, _ := v.StringSlice()
		if len(got) != len(want) {
			t.Errorf("got %v want %v", got, want)
			return
		}
		for i := range want {
			if !strings.EqualFold(got[i], want[i]) {
				t.Errorf("got %v want %v", got, want)
			}
		}
	}

	expect("PING")
	c.WriteValue(resp.SimpleStringValue("PONG"))

	expect("REPLCONF", "listening-port", "6380")
	c.WriteValue(resp.SimpleStringValue("OK"))

	expect("REPLCONF", "capa", "psync2")
	c.WriteValue(resp.SimpleStringValue("OK"))

	expect("PSYNC", "?", "-1")
	c.WriteValue(resp.SimpleStringValue("FULLRESYNC " + strings.Repeat("a", 40) + " 0"))

	emptyStore := store.New()
	var wbuf bytes.Buffer
	if err := rdb.WriteTo(&wbuf, emptyStore); err != nil {
		t.Fatal(err)
	}
	c.WriteRaw(resp.EncodeRDBFrame(wbuf.Bytes()))

	c.WriteValue(resp.StringArray("PING"))
	c.WriteValue(resp.StringArray("SET", "foo", "bar"))
}

func TestHandshakeAndApply(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	go fakeMaster(t, ln)

	r := New(store.New(), ln.Addr().String(), 6380, time.Second)
	c, payload, err := r.handshake()
	if err != nil {
		t.Fatalf("handshake: %v", err)
	}
	defer c.Close()
	if len(r.masterReplID) != 40 {
		t.Fatalf("got replid %q", r.masterReplID)
	}
	if payload == nil {
		t.Fatalf("expected non-nil rdb payload")
	}

	done := make(chan struct{})
	go func() {
		r.applyLoop(context.Background(), c)
		close(done)
	}()

	deadline := time.After(time.Second)
	for {
		if v, ok := r.store.Get("foo"); ok && string(v) == "bar" {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("SET never applied")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
