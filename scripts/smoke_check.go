//go:build ignore

// Command smoke-check is a standalone operator script, grounded in the
// teacher's scripts/ convention: it dials a running server and exercises
// PING/SET/GET/XADD/XRANGE end to end, using radix instead of the
// go-redis client the automated test suite and compare-keys use.
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/mediocregopher/radix/v3"
)

var addr = flag.String("addr", "127.0.0.1:6379", "server address")

func main() {
	flag.Parse()
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	client, err := radix.NewPool("tcp", *addr, 1)
	if err != nil {
		log.Fatalf("connect to %s: %v", *addr, err)
	}
	defer client.Close()

	var pong string
	if err := client.Do(radix.Cmd(&pong, "PING")); err != nil {
		log.Fatalf("PING: %v", err)
	}
	if pong != "PONG" {
		log.Fatalf("PING: expected PONG, got %q", pong)
	}
	fmt.Println("PING ok")

	key := "smoke-check-key"
	val := "smoke-check-value"
	if err := client.Do(radix.Cmd(nil, "SET", key, val)); err != nil {
		log.Fatalf("SET: %v", err)
	}
	var got string
	if err := client.Do(radix.Cmd(&got, "GET", key)); err != nil {
		log.Fatalf("GET: %v", err)
	}
	if got != val {
		log.Fatalf("GET: expected %q, got %q", val, got)
	}
	fmt.Println("SET/GET ok")

	streamKey := "smoke-check-stream"
	var entryID string
	if err := client.Do(radix.Cmd(&entryID, "XADD", streamKey, "*", "field", "value")); err != nil {
		log.Fatalf("XADD: %v", err)
	}
	fmt.Printf("XADD ok, id=%s\n", entryID)

	var entries [][]interface{}
	if err := client.Do(radix.Cmd(&entries, "XRANGE", streamKey, "-", "+")); err != nil {
		log.Fatalf("XRANGE: %v", err)
	}
	if len(entries) == 0 {
		log.Fatalf("XRANGE: expected at least one entry")
	}
	fmt.Printf("XRANGE ok, %d entries\n", len(entries))

	fmt.Println("smoke check passed")
}
