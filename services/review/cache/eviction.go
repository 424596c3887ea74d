// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"container/list"
	"sync"
)

// EvictionPolicy decides which entries leave the cache.
//
// The Cache calls Admitted after every successful store and deletes the
// keys it returns. Accessed is called on every hit. Policies track only
// keys seen in this process; entries persisted by earlier runs are never
// chosen as victims.
type EvictionPolicy interface {
	Admitted(key Key) (victims []Key)
	Accessed(key Key)
	Removed(key Key)
}

// Unbounded never evicts.
type Unbounded struct{}

func (Unbounded) Admitted(Key) []Key { return nil }
func (Unbounded) Accessed(Key)       {}
func (Unbounded) Removed(Key)        {}

// LRUPolicy keeps at most a fixed number of entries and evicts the
// least recently used one first.
//
// Thread Safety: Safe for concurrent use.
type LRUPolicy struct {
	mu    sync.Mutex
	max   int
	order *list.List
	index map[Key]*list.Element
}

// NewLRUPolicy returns a policy bounded to max entries. A max below one
// is treated as one.
func NewLRUPolicy(max int) *LRUPolicy {
	if max < 1 {
		max = 1
	}
	return &LRUPolicy{
		max:   max,
		order: list.New(),
		index: make(map[Key]*list.Element),
	}
}

func (p *LRUPolicy) Admitted(key Key) []Key {
	p.mu.Lock()
	defer p.mu.Unlock()
	if el, ok := p.index[key]; ok {
		p.order.MoveToFront(el)
		return nil
	}
	p.index[key] = p.order.PushFront(key)

	var victims []Key
	for p.order.Len() > p.max {
		oldest := p.order.Back()
		k := oldest.Value.(Key)
		p.order.Remove(oldest)
		delete(p.index, k)
		victims = append(victims, k)
	}
	return victims
}

func (p *LRUPolicy) Accessed(key Key) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if el, ok := p.index[key]; ok {
		p.order.MoveToFront(el)
	}
}

func (p *LRUPolicy) Removed(key Key) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if el, ok := p.index[key]; ok {
		p.order.Remove(el)
		delete(p.index, key)
	}
}

// Len returns the number of tracked keys.
func (p *LRUPolicy) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.order.Len()
}
