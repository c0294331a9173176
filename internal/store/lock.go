package store

import (
	"context"
)

// Locker guards a read-modify-write cycle against every other writer of the same store.
// Unlock must be called exactly once.
type Locker interface {
	Lock(ctx context.Context) (unlock func(), err error)
}

// processLock is a context-aware mutex for stores only one process writes to.
type processLock struct {
	ch chan struct{}
}

func newProcessLock() processLock {
	return processLock{ch: make(chan struct{}, 1)}
}

func (l processLock) Lock(ctx context.Context) (func(), error) {
	select {
	case l.ch <- struct{}{}:
		return func() { <-l.ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
