// Package lock serializes pipeline runs and catalog loads by key, either
// within one process or across processes through Redis.
package lock

import (
	"context"
	"sync"
)

// Locker hands out exclusive holds on named keys. The returned release func
// is safe to call more than once.
type Locker interface {
	// Lock blocks until key is held or ctx is done.
	Lock(ctx context.Context, key string) (release func(), err error)
	// TryLock takes key only if it is free right now.
	TryLock(ctx context.Context, key string) (release func(), ok bool, err error)
}

// KeyedMutex is an in-process Locker with one mutex per key.
type KeyedMutex struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewKeyedMutex returns an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{slots: make(map[string]chan struct{})}
}

func (k *KeyedMutex) slot(key string) chan struct{} {
	k.mu.Lock()
	defer k.mu.Unlock()
	ch, ok := k.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		k.slots[key] = ch
	}
	return ch
}

// Lock implements Locker.
func (k *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	ch := k.slot(key)
	select {
	case ch <- struct{}{}:
		return releaser(ch), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryLock implements Locker.
func (k *KeyedMutex) TryLock(_ context.Context, key string) (func(), bool, error) {
	ch := k.slot(key)
	select {
	case ch <- struct{}{}:
		return releaser(ch), true, nil
	default:
		return nil, false, nil
	}
}

func releaser(ch chan struct{}) func() {
	var once sync.Once
	return func() {
		once.Do(func() { <-ch })
	}
}
