// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

// Package sessionlock serializes work per session id.
//
// Every ingest and every status transition for a session runs while holding the
// session's lock, so sequence assignment and status writes never interleave.
// Different sessions never contend. Entries are reference counted and dropped
// once nobody holds or waits on them, keeping memory proportional to the number
// of sessions with in-flight work.
package sessionlock

import (
	"context"
	"sync"
)

type entry struct {
	// ch has capacity 1; a value in the channel means the lock is held.
	ch   chan struct{}
	refs int
}

// Locks is a set of mutexes keyed by session id. The zero value is not usable;
// call New.
type Locks struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New returns an empty lock set.
func New() *Locks {
	return &Locks{entries: make(map[string]*entry)}
}

// Lock blocks until the lock for key is held or ctx is done. On success the
// returned function releases the lock and must be called exactly once.
func (l *Locks) Lock(ctx context.Context, key string) (func(), error) {
	e := l.acquireRef(key)

	select {
	case e.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-e.ch
				l.releaseRef(key, e)
			})
		}, nil
	case <-ctx.Done():
		l.releaseRef(key, e)
		return nil, ctx.Err()
	}
}

// Len reports how many keys currently have holders or waiters.
func (l *Locks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *Locks) acquireRef(key string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	return e
}

func (l *Locks) releaseRef(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}
