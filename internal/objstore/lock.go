package objstore

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
)

// Locker serializes the list-then-write dedup check for a destination folder.
type Locker interface {
	Lock(ctx context.Context, name string) (unlock func(), err error)
}

// LocalLocker is an in-process keyed lock.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewLocalLocker creates an empty LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]chan struct{})}
}

// Lock blocks until the named lock is free or ctx is done.
func (l *LocalLocker) Lock(ctx context.Context, name string) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[name]
	if !ok {
		slot = make(chan struct{}, 1)
		l.slots[name] = slot
	}
	l.mu.Unlock()

	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, eris.Wrapf(ctx.Err(), "objstore: lock %s", name)
	}
}
