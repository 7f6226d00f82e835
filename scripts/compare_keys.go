//go:build ignore

// Command compare-keys is a standalone operator script, grounded in the
// teacher's scripts/compare_keys.go: it connects to a running master and
// a running replica and reports which string keys differ, using
// go-redis the way the automated test suite does.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
)

var (
	masterAddr  = flag.String("master", "127.0.0.1:6379", "master address")
	replicaAddr = flag.String("replica", "127.0.0.1:6380", "replica address")
)

func main() {
	flag.Parse()
	log.SetFlags(log.Ltime | log.Lmicroseconds)
	ctx := context.Background()

	master := redis.NewClient(&redis.Options{Addr: *masterAddr})
	replica := redis.NewClient(&redis.Options{Addr: *replicaAddr})

	if _, err := master.Ping(ctx).Result(); err != nil {
		log.Fatalf("failed to connect to master %s: %v", *masterAddr, err)
	}
	if _, err := replica.Ping(ctx).Result(); err != nil {
		log.Fatalf("failed to connect to replica %s: %v", *replicaAddr, err)
	}

	masterKeys, err := master.Keys(ctx, "*").Result()
	if err != nil {
		log.Fatalf("KEYS * on master: %v", err)
	}
	replicaKeySet := make(map[string]struct{})
	replicaKeys, err := replica.Keys(ctx, "*").Result()
	if err != nil {
		log.Fatalf("KEYS * on replica: %v", err)
	}
	for _, k := range replicaKeys {
		replicaKeySet[k] = struct{}{}
	}

	var missing, mismatched int
	for _, k := range masterKeys {
		mv, err := master.Get(ctx, k).Result()
		if err != nil {
			continue
		}
		if _, ok := replicaKeySet[k]; !ok {
			fmt.Printf("missing on replica: %s\n", k)
			missing++
			continue
		}
		rv, err := replica.Get(ctx, k).Result()
		if err != nil || rv != mv {
			fmt.Printf("mismatch: %s master=%q replica=%q\n", k, mv, rv)
			mismatched++
		}
	}

	fmt.Printf("master keys: %d, replica keys: %d, missing: %d, mismatched: %d\n",
		len(masterKeys), len(replicaKeys), missing, mismatched)
	if missing > 0 || mismatched > 0 {
		log.Fatalf("replica is not caught up with master")
	}
}
