//go:build deadlock

// Package sync provides the mutex types used by the channel client and
// server. This build uses go-deadlock to report lock-order inversions and
// locks held past DeadlockTimeout.
package sync

import (
	"os"
	"sync"
	"time"

	"github.com/sasha-s/go-deadlock"
)

// Mutex reports potential deadlocks.
type Mutex = deadlock.Mutex

// RWMutex reports potential deadlocks.
type RWMutex = deadlock.RWMutex

// Once is the standard sync.Once.
type Once = sync.Once

func init() {
	// Reconnect backoff tops out at 10s, so a lock held for a minute is stuck.
	deadlock.Opts.DeadlockTimeout = time.Minute

	if os.Getenv("ATTENDANCE_NO_DEADLOCK_DETECT") != "" {
		deadlock.Opts.Disable = true
		return
	}

	deadlock.Opts.PrintAllCurrentGoroutines = true
	deadlock.Opts.LogBuf = os.Stderr
}
