// Package locks provides the in-process per-collection exclusive lock the
// sync engine serializes operations through, per the single-threaded
// cooperative scheduling model: each logical operation on a collection runs
// to completion before another begins on the same collection, while
// different collections progress independently.
package locks

import (
	"context"
	"sync"

	apperrors "lerian-sync-engine/internal/errors"
)

// Manager hands out one exclusive lock per collection name, created lazily
// and dropped once no operation holds or waits for it.
type Manager struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu       sync.Mutex
	refCount int
}

// NewManager returns an empty lock manager.
func NewManager() *Manager {
	return &Manager{locks: make(map[string]*entry)}
}

// Release unlocks the collection previously locked with Acquire.
type Release func()

// Acquire blocks until the named collection's lock is held or ctx is
// cancelled. Cancellation is cooperative: it only applies to the wait for
// the lock itself, never to work already in progress under it.
func (m *Manager) Acquire(ctx context.Context, collection string) (Release, error) {
	e := m.ref(collection)

	acquired := make(chan struct{})
	go func() {
		e.mu.Lock()
		close(acquired)
	}()

	select {
	case <-acquired:
		return func() {
			e.mu.Unlock()
			m.unref(collection)
		}, nil
	case <-ctx.Done():
		// The goroutine above may still acquire the lock later; release it
		// immediately once it does so the entry isn't leaked locked forever.
		go func() {
			<-acquired
			e.mu.Unlock()
			m.unref(collection)
		}()
		return nil, apperrors.NewStandardError(apperrors.ErrOperationFailed,
			"timed out waiting for collection lock: "+collection, nil).
			WithSuggestions("retry once the in-flight operation on this collection completes")
	}
}

func (m *Manager) ref(collection string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.locks[collection]
	if !ok {
		e = &entry{}
		m.locks[collection] = e
	}
	e.refCount++
	return e
}

func (m *Manager) unref(collection string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.locks[collection]
	if !ok {
		return
	}
	e.refCount--
	if e.refCount <= 0 {
		delete(m.locks, collection)
	}
}
