//go:build !deadlock

// Package syncutil provides mutex types, deadlock detection with -tags=deadlock.
package syncutil

import "sync"

type Mutex struct {
	sync.Mutex
}

type RWMutex struct {
	sync.RWMutex
}
