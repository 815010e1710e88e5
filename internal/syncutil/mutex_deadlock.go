//go:build deadlock

// Package syncutil provides mutex types, deadlock detection with -tags=deadlock.
package syncutil

import deadlock "github.com/sasha-s/go-deadlock"

type Mutex struct {
	deadlock.Mutex
}

type RWMutex struct {
	deadlock.RWMutex
}
