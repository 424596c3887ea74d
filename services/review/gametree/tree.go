// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gametree

import (
	"errors"
	"sync"
)

var (
	// ErrNilRoot is returned when a nil root is installed.
	ErrNilRoot = errors.New("root must not be nil")

	// ErrForeignNode is returned when a node outside the active tree is
	// selected as the display node. This is the usual symptom of holding
	// a reference across a root replacement.
	ErrForeignNode = errors.New("node does not belong to the active tree")
)

// StartPolicy decides which node a fresh view focuses on.
type StartPolicy int

const (
	// StartAtRoot focuses the root itself.
	StartAtRoot StartPolicy = iota

	// StartAtFirstMove focuses the first main-line move when there is one.
	StartAtFirstMove
)

// ParseStartPolicy maps a config string to a StartPolicy.
func ParseStartPolicy(s string) (StartPolicy, error) {
	switch s {
	case "", "root":
		return StartAtRoot, nil
	case "first_move":
		return StartAtFirstMove, nil
	default:
		return StartAtRoot, errors.New("unknown start policy: " + s)
	}
}

// InitialDisplayNode returns the node a fresh view should focus on.
// Callers must not assume any traversal beyond the returned node.
func InitialDisplayNode(root *RootNode, policy StartPolicy) Node {
	if root == nil {
		return nil
	}
	if policy == StartAtFirstMove && len(root.children) > 0 {
		return root.children[0]
	}
	return root
}

// DepthPolicy is notified of display node changes and picks the display
// node after a root replacement.
type DepthPolicy interface {
	// Observe is called with every new display node.
	Observe(n Node)

	// Restore returns the display node to use on a replacement root.
	Restore(root *RootNode) Node
}

// Tree owns the active record and the user's display node.
//
// # Description
//
// Tree is the single shared state cell of the review core. Every path
// that changes the root or the display node (record import, depth sync,
// analysis results) goes through ReplaceRoot, Load or SetCurrentNode, so
// the (root, display node) pair is always observed consistently.
//
// # Thread Safety
//
// Safe for concurrent use. Mutations are serialised by an internal lock.
type Tree struct {
	mu         sync.RWMutex
	root       *RootNode
	current    Node
	generation uint64
	depth      DepthPolicy
	start      StartPolicy
}

// Option configures a Tree.
type Option func(*Tree)

// WithDepthPolicy attaches a policy that preserves the display depth
// across root replacements.
func WithDepthPolicy(p DepthPolicy) Option {
	return func(t *Tree) {
		t.depth = p
	}
}

// WithStartPolicy sets the policy used for freshly loaded records.
func WithStartPolicy(p StartPolicy) Option {
	return func(t *Tree) {
		t.start = p
	}
}

// NewTree creates an empty Tree.
func NewTree(opts ...Option) *Tree {
	t := &Tree{}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Root returns the active root, or nil before the first record.
func (t *Tree) Root() *RootNode {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.root
}

// Current returns the display node.
func (t *Tree) Current() Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

// Snapshot returns the root, display node and generation as one
// consistent triple.
func (t *Tree) Snapshot() (*RootNode, Node, uint64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.root, t.current, t.generation
}

// Generation increments on every root change.
func (t *Tree) Generation() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.generation
}

// Load installs a fresh record and focuses it using the start policy.
// Use it for imports of a different record; use ReplaceRoot when the new
// root is a re-analysed version of the current one.
func (t *Tree) Load(root *RootNode) (Node, error) {
	if root == nil {
		return nil, ErrNilRoot
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.install(root, InitialDisplayNode(root, t.start))
	return t.current, nil
}

// ReplaceRoot atomically swaps the active root.
//
// # Description
//
// All references into the previous tree become stale. The new display
// node is chosen by the depth policy when one is attached and a previous
// root existed, otherwise by the start policy.
//
// # Outputs
//
//   - Node: the new display node.
//   - error: ErrNilRoot if root is nil.
func (t *Tree) ReplaceRoot(root *RootNode) (Node, error) {
	if root == nil {
		return nil, ErrNilRoot
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	display := InitialDisplayNode(root, t.start)
	if t.depth != nil && t.root != nil {
		display = t.depth.Restore(root)
	}
	t.install(root, display)
	return t.current, nil
}

func (t *Tree) install(root *RootNode, display Node) {
	t.root = root
	t.current = display
	t.generation++
	if t.depth != nil {
		t.depth.Observe(display)
	}
}

// SetCurrentNode moves the display node. The node must belong to the
// active tree.
func (t *Tree) SetCurrentNode(n Node) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n == nil || t.root == nil || RootOf(n) != t.root {
		return ErrForeignNode
	}
	t.current = n
	if t.depth != nil {
		t.depth.Observe(n)
	}
	return nil
}

// Contains reports whether n belongs to the active tree.
func (t *Tree) Contains(n Node) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return n != nil && t.root != nil && RootOf(n) == t.root
}

// Do runs fn with exclusive access to the active root. Structural edits
// to an installed tree must go through Do.
func (t *Tree) Do(fn func(root *RootNode) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return fn(t.root)
}
