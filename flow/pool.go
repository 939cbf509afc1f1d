package flow

import (
	"errors"
	"sync"
)

// DefaultMaxFlows is the pool capacity agents run with unless a test
// asks for a smaller arena.
const DefaultMaxFlows = 256

// ErrPoolExhausted is returned by Allocate when every slot is taken.
var ErrPoolExhausted = errors.New("flow pool at capacity")

// Pool is a fixed-capacity arena of flows. A flow's identity is its
// slot index: the lowest free slot is assigned at allocation, never
// collides with a live flow, and may be reused once released. Allocate
// and Release serialize on the pool's lock per the agent's
// one-add-flow-at-a-time contract.
type Pool struct {
	mu    sync.Mutex
	slots []*Flow
}

// NewPool creates a pool with the given capacity, or DefaultMaxFlows
// when capacity is not positive.
func NewPool(capacity int) *Pool {
	if capacity <= 0 {
		capacity = DefaultMaxFlows
	}
	return &Pool{slots: make([]*Flow, capacity)}
}

// Cap returns the pool's fixed capacity.
func (p *Pool) Cap() int {
	return len(p.slots)
}

// Allocate reserves the lowest free slot and returns a fresh flow
// carrying that identity. It fails with ErrPoolExhausted at capacity,
// leaving the pool untouched.
func (p *Pool) Allocate() (*Flow, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, fl := range p.slots {
		if fl == nil {
			fresh := &Flow{ID: id}
			p.slots[id] = fresh
			return fresh, nil
		}
	}
	return nil, ErrPoolExhausted
}

// Release tears down the flow with the given identity and returns its
// slot to the free state. Releasing an unknown or already-free identity
// is a no-op so that failure paths may release unconditionally.
func (p *Pool) Release(id int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if id < 0 || id >= len(p.slots) || p.slots[id] == nil {
		return
	}
	p.slots[id].teardown()
	p.slots[id] = nil
}

// Get returns the live flow with the given identity, or nil.
func (p *Pool) Get(id int) *Flow {
	p.mu.Lock()
	defer p.mu.Unlock()
	if id < 0 || id >= len(p.slots) {
		return nil
	}
	return p.slots[id]
}

// Len returns the number of occupied slots.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	count := 0
	for _, fl := range p.slots {
		if fl != nil {
			count++
		}
	}
	return count
}
