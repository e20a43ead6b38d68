// Package lock provides keyed mutual exclusion so only one worker advances a post at a time.
package lock

import (
	"context"
	"sync"
)

// Locker acquires an exclusive lock on a key until unlock is called
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// PostKey is the lock key serializing all writers of one post
func PostKey(id string) string {
	return "post:" + id
}

// CalendarKey is the lock key serializing slot bookings on one calendar.
// It is always taken after the post lock.
func CalendarKey(calendar string) string {
	return "calendar:" + calendar
}

// Keyed is an in-process Locker. Waiters honor context cancellation.
type Keyed struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	ch   chan struct{}
	refs int
}

// NewKeyed creates an in-process keyed locker
func NewKeyed() *Keyed {
	return &Keyed{locks: make(map[string]*entry)}
}

// Lock blocks until key is free or ctx is done
func (k *Keyed) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			k.release(key, e)
		})
	}, nil
}

func (k *Keyed) release(key string, e *entry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
}

var _ Locker = (*Keyed)(nil)
