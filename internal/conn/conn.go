// Package conn wraps a net.Conn with the RESP codec, giving callers
// read_value/read_rdb_frame/write_value primitives that handle partial
// reads transparently.
package conn

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"redis-server/internal/resp"
)

// readChunk is how many bytes we ask the kernel for each time the codec
// reports NeedMoreBytes. Small and fixed, per spec.
const readChunk = 1024

// ErrPeerClosed is returned when the remote end closes the connection
// mid-read.
var ErrPeerClosed = errors.New("conn: peer closed connection")

// Conn is a framed RESP connection over a net.Conn. Reads and writes may
// be invoked concurrently from different goroutines: the read path and
// write path are guarded by independent mutexes.
type Conn struct {
	nc net.Conn

	readMu sync.Mutex
	buf    []byte

	writeMu sync.Mutex
}

// New wraps an established net.Conn.
func New(nc net.Conn) *Conn {
	return &Conn{nc: nc}
}

// Raw exposes the underlying net.Conn, e.g. for RemoteAddr() or deadlines.
func (c *Conn) Raw() net.Conn { return c.nc }

// Close closes the underlying socket.
func (c *Conn) Close() error { return c.nc.Close() }

// fill reads up to readChunk more bytes from the socket into c.buf.
// Caller must hold readMu.
func (c *Conn) fill() error {
	chunk := make([]byte, readChunk)
	n, err := c.nc.Read(chunk)
	if n > 0 {
		c.buf = append(c.buf, chunk[:n]...)
	}
	if err != nil {
		if err == io.EOF && n == 0 {
			return ErrPeerClosed
		}
		if n == 0 {
			return fmt.Errorf("conn: read: %w", err)
		}
	}
	if n == 0 && err == nil {
		return ErrPeerClosed
	}
	return nil
}

// ReadValue blocks until a complete RESP value has arrived and returns it.
func (c *Conn) ReadValue() (resp.Value, error) {
	v, _, err := c.ReadValueCounted()
	return v, err
}

// ReadValueCounted is ReadValue but also reports the exact wire byte
// length of the value just decoded — callers that track a replication
// offset need this count regardless of which command it was.
func (c *Conn) ReadValueCounted() (resp.Value, int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	for {
		v, n, err := resp.Decode(c.buf)
		if err == nil {
			c.buf = c.buf[n:]
			return v, n, nil
		}
		if !errors.Is(err, resp.ErrNeedMoreBytes) {
			return resp.Value{}, 0, err
		}
		if err := c.fill(); err != nil {
			return resp.Value{}, 0, err
		}
	}
}

// ReadRDBFrame blocks until a complete RDB frame has arrived and returns
// its payload bytes.
func (c *Conn) ReadRDBFrame() ([]byte, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	for {
		payload, n, err := resp.DecodeRDBFrame(c.buf)
		if err == nil {
			c.buf = c.buf[n:]
			return payload, nil
		}
		if !errors.Is(err, resp.ErrNeedMoreBytes) {
			return nil, err
		}
		if err := c.fill(); err != nil {
			return nil, err
		}
	}
}

// WriteValue encodes and writes v, serialized against other writers.
func (c *Conn) WriteValue(v resp.Value) error {
	return c.WriteRaw(resp.Encode(v))
}

// WriteRaw writes raw bytes to the socket, serialized against other
// writers (used e.g. to ship a pre-built RDB frame).
func (c *Conn) WriteRaw(b []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.nc.Write(b)
	return err
}
