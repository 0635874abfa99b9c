package services

import (
	"sync"

	"chat-realtime/internal/models"
)

// groupLocks serializes mutations per group so that persisted order and
// fanout order agree. Entries are dropped when nobody holds them.
type groupLocks struct {
	mu    sync.Mutex
	locks map[models.GroupKey]*groupLock
}

type groupLock struct {
	mu   sync.Mutex
	refs int
}

func newGroupLocks() *groupLocks {
	return &groupLocks{locks: make(map[models.GroupKey]*groupLock)}
}

func (g *groupLocks) lock(key models.GroupKey) func() {
	g.mu.Lock()
	l, ok := g.locks[key]
	if !ok {
		l = &groupLock{}
		g.locks[key] = l
	}
	l.refs++
	g.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		g.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(g.locks, key)
		}
		g.mu.Unlock()
	}
}

func (g *groupLocks) size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.locks)
}
