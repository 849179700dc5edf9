package engine

import "sync"

// parentLocks hands out one mutex per parent id so that reading a sequence
// and writing a key derived from it cannot interleave with another move.
type parentLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newParentLocks() *parentLocks {
	return &parentLocks{locks: map[string]*sync.Mutex{}}
}

func (p *parentLocks) lock(parentID string) func() {
	p.mu.Lock()
	m, ok := p.locks[parentID]
	if !ok {
		m = &sync.Mutex{}
		p.locks[parentID] = m
	}
	p.mu.Unlock()
	m.Lock()
	return m.Unlock
}
