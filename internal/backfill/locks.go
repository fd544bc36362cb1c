package backfill

import (
	"context"
	"sync"
)

// WorkspaceLocks serializes processor runs per workspace. A second run for
// the same workspace waits until the first reaches a terminal state; it is
// never an error and never a silent merge. Runs for different workspaces
// proceed concurrently.
type WorkspaceLocks struct {
	mu    sync.Mutex
	inUse map[string]chan struct{}
}

func NewWorkspaceLocks() *WorkspaceLocks {
	return &WorkspaceLocks{
		inUse: make(map[string]chan struct{}),
	}
}

// Acquire blocks until the workspace is free, then returns the release
// function. Release must be called exactly once.
func (l *WorkspaceLocks) Acquire(ctx context.Context, workspaceID string) (func(), error) {
	for {
		l.mu.Lock()
		wait, held := l.inUse[workspaceID]
		if !held {
			done := make(chan struct{})
			l.inUse[workspaceID] = done
			l.mu.Unlock()

			var once sync.Once
			release := func() {
				once.Do(func() {
					l.mu.Lock()
					delete(l.inUse, workspaceID)
					l.mu.Unlock()
					close(done)
				})
			}
			return release, nil
		}
		l.mu.Unlock()

		select {
		case <-wait:
			// Holder released; race the other waiters for the slot.
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
