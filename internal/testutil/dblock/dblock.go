// Package dblock serialises Postgres integration tests across the test
// binaries of different packages, which share one database.
package dblock

import (
	"context"
	"net"
	"os"
	"time"
)

const (
	defaultAddr = "127.0.0.1:45432"
	addrEnv     = "LEDGER_TEST_DBLOCK_ADDR"
	pollDelay   = 50 * time.Millisecond
)

// Acquire blocks until the lock is held and returns its release func.
func Acquire() func() {
	release, _ := AcquireContext(context.Background())
	return release
}

// AcquireContext is Acquire bounded by ctx. The lock is a listening socket,
// so a crashed test binary releases it with its process.
func AcquireContext(ctx context.Context) (func(), error) {
	addr := os.Getenv(addrEnv)
	if addr == "" {
		addr = defaultAddr
	}
	for {
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			return func() { _ = ln.Close() }, nil
		}
		select {
		case <-ctx.Done():
			return func() {}, ctx.Err()
		case <-time.After(pollDelay):
		}
	}
}
