package conn

import (
	"net"
	"testing"
	"time"

	"redis-server/internal/resp"
)

func TestReadValueAcrossPartialWrites(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	c := New(server)
	encoded := resp.Encode(resp.StringArray("SET", "foo", "bar"))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < len(encoded); i++ {
			client.Write(encoded[i : i+1])
			time.Sleep(time.Millisecond)
		}
	}()

	v, err := c.ReadValue()
	if err != nil {
		t.Fatalf("ReadValue: %v", err)
	}
	strs, err := v.StringSlice()
	if err != nil || len(strs) != 3 || strs[0] != "SET" {
		t.Fatalf("got %v, %v", strs, err)
	}
	<-done
}

func TestReadValuePeerClosed(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	c := New(server)
	client.Close()

	_, err := c.ReadValue()
	if err != ErrPeerClosed {
		t.Fatalf("got %v, want ErrPeerClosed", err)
	}
}

func TestWriteValueRoundTrip(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	c := New(server)
	go c.WriteValue(resp.SimpleStringValue("PONG"))

	cc := New(client)
	v, err := cc.ReadValue()
	if err != nil {
		t.Fatalf("ReadValue: %v", err)
	}
	if v.Type != resp.SimpleString || v.Str != "PONG" {
		t.Fatalf("got %+v", v)
	}
}

func TestReadRDBFrame(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	payload := []byte("REDIS0011fake-snapshot")
	frame := resp.EncodeRDBFrame(payload)

	go client.Write(frame)

	c := New(server)
	got, err := c.ReadRDBFrame()
	if err != nil {
		t.Fatalf("ReadRDBFrame: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("got %q want %q", got, payload)
	}
}
