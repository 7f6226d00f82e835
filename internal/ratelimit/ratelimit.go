// Package ratelimit wraps golang.org/x/time/rate for the two places this
// server throttles itself: the master's REPLCONF GETACK broadcast (WAIT
// storms) and the replica's reconnect attempts after a dropped master
// connection. Both are plain *rate.Limiter; this package only documents
// the constructors so call sites read as intent rather than magic numbers.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// GetackBroadcaster bounds how often the master re-sends REPLCONF GETACK
// to its replicas when WAIT is called in a tight loop. hz is broadcasts
// per second; a single WAIT call is never itself delayed by this limiter
// — only repeated calls arriving faster than replicas can ACK are.
func GetackBroadcaster(hz float64) *rate.Limiter {
	if hz <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(hz), 1)
}

// minReconnectHz floors Reconnector's rate so a misconfigured (zero or
// negative) interval can't busy-spin reconnect attempts.
const minReconnectHz = 1

// Reconnector bounds how often a replica retries connecting to its
// master after a dropped connection.
func Reconnector(every float64) *rate.Limiter {
	if every <= 0 {
		every = minReconnectHz
	}
	return rate.NewLimiter(rate.Limit(every), 1)
}

// Wait is a small convenience so call sites don't need to import
// golang.org/x/time/rate themselves just to block on a limiter.
func Wait(ctx context.Context, l *rate.Limiter) error {
	return l.Wait(ctx)
}
