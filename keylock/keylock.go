// Package keylock serializes work per key (canonical identity id, cone subject id)
// without a single global lock. Each key owns a one-slot semaphore that is dropped
// from the table once nobody holds or waits on it.
package keylock

import (
	"context"
	"sort"
	"sync"
)

// Table is a set of per-key locks. The zero value is ready to use.
type Table struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func (t *Table) ref(key string) *slot {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.slots == nil {
		t.slots = make(map[string]*slot)
	}
	s, ok := t.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		t.slots[key] = s
	}
	s.refs++
	return s
}

func (t *Table) unref(key string, s *slot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(t.slots, key)
	}
}

// Lock blocks until key is free or ctx is done. The returned func releases the lock
// and must be called exactly once.
func (t *Table) Lock(ctx context.Context, key string) (func(), error) {
	s := t.ref(key)
	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		t.unref(key, s)
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			t.unref(key, s)
		})
	}, nil
}

// LockMany acquires every distinct key in sorted order so two callers locking
// overlapping sets cannot deadlock.
func (t *Table) LockMany(ctx context.Context, keys ...string) (func(), error) {
	uniq := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		uniq = append(uniq, k)
	}
	sort.Strings(uniq)

	unlocks := make([]func(), 0, len(uniq))
	release := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
	for _, k := range uniq {
		u, err := t.Lock(ctx, k)
		if err != nil {
			release()
			return nil, err
		}
		unlocks = append(unlocks, u)
	}
	return release, nil
}

// Held reports how many keys currently have holders or waiters.
func (t *Table) Held() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots)
}
