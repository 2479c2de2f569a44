//go:build !deadlock

// Package sync provides the mutex types used by the channel client and
// server. Building with -tags deadlock swaps them for go-deadlock's
// detecting versions.
package sync

import "sync"

// Mutex is the standard sync.Mutex.
type Mutex = sync.Mutex

// RWMutex is the standard sync.RWMutex.
type RWMutex = sync.RWMutex

// Once is the standard sync.Once.
type Once = sync.Once
