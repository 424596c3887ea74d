// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package navigation tracks the user's position in a game tree.
//
// DepthTracker keeps the displayed position stable when the whole tree is
// replaced, for example when an analysis result arrives. It remembers only
// a depth, not a branch: after replacement it follows the main line of the
// new tree for the remembered number of moves.
//
//	before                      after ReplaceRoot
//	root ─ B ─ W ─ [B]          root ─ B' ─ W' ─ [B'] ─ W'
//	           depth 3                       depth 3
//
// If the new tree is shallower the walk stops at its deepest main-line
// node. This is graceful degradation, never an error.
package navigation

import (
	"sync"

	"github.com/AleutianAI/KataReview/services/review/gametree"
)

// DepthTracker implements gametree.DepthPolicy.
//
// Thread Safety: Safe for concurrent use.
type DepthTracker struct {
	mu    sync.Mutex
	depth int
}

// NewDepthTracker creates a tracker at depth 0.
func NewDepthTracker() *DepthTracker {
	return &DepthTracker{}
}

// Observe records the depth of the new display node. Cost is O(depth).
func (d *DepthTracker) Observe(n gametree.Node) {
	depth := gametree.Depth(n)
	d.mu.Lock()
	d.depth = depth
	d.mu.Unlock()
}

// Restore walks the first child of each level from root for the stored
// depth and returns the node reached.
func (d *DepthTracker) Restore(root *gametree.RootNode) gametree.Node {
	d.mu.Lock()
	want := d.depth
	d.mu.Unlock()
	return WalkMainLine(root, want)
}

// Depth returns the last observed depth.
func (d *DepthTracker) Depth() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.depth
}

// WalkMainLine follows first children from root for at most steps moves.
func WalkMainLine(root *gametree.RootNode, steps int) gametree.Node {
	if root == nil {
		return nil
	}
	var node gametree.Node = root
	for i := 0; i < steps; i++ {
		children := node.Children()
		if len(children) == 0 {
			break
		}
		node = children[0]
	}
	return node
}
