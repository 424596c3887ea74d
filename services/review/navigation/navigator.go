// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package navigation

import (
	"errors"

	"github.com/AleutianAI/KataReview/services/review/gametree"
)

var (
	// ErrNoRecord is returned when navigating before any record is loaded.
	ErrNoRecord = errors.New("no record loaded")

	// ErrAtBoundary is returned when a move would leave the tree.
	ErrAtBoundary = errors.New("no node in that direction")
)

// Navigator moves the display node of a Tree.
//
// Every move goes through Tree.SetCurrentNode, so an attached
// DepthTracker observes each step.
type Navigator struct {
	tree *gametree.Tree
}

// NewNavigator wraps tree.
func NewNavigator(tree *gametree.Tree) *Navigator {
	return &Navigator{tree: tree}
}

// Tree returns the wrapped tree.
func (n *Navigator) Tree() *gametree.Tree {
	return n.tree
}

// Current returns the display node.
func (n *Navigator) Current() gametree.Node {
	return n.tree.Current()
}

// Depth returns the depth of the display node.
func (n *Navigator) Depth() int {
	return gametree.Depth(n.tree.Current())
}

// Forward moves to the first child.
func (n *Navigator) Forward() (gametree.Node, error) {
	cur, err := n.current()
	if err != nil {
		return nil, err
	}
	children := cur.Children()
	if len(children) == 0 {
		return cur, ErrAtBoundary
	}
	return n.set(children[0])
}

// Back moves to the parent.
func (n *Navigator) Back() (gametree.Node, error) {
	cur, err := n.current()
	if err != nil {
		return nil, err
	}
	parent := cur.Parent()
	if parent == nil {
		return cur, ErrAtBoundary
	}
	return n.set(parent)
}

// NextVariation moves to the next sibling.
func (n *Navigator) NextVariation() (gametree.Node, error) {
	return n.sibling(1)
}

// PrevVariation moves to the previous sibling.
func (n *Navigator) PrevVariation() (gametree.Node, error) {
	return n.sibling(-1)
}

// ToStart moves to the root.
func (n *Navigator) ToStart() (gametree.Node, error) {
	root := n.tree.Root()
	if root == nil {
		return nil, ErrNoRecord
	}
	return n.set(root)
}

// ToEnd follows the first child from the display node to a leaf.
func (n *Navigator) ToEnd() (gametree.Node, error) {
	cur, err := n.current()
	if err != nil {
		return nil, err
	}
	for len(cur.Children()) > 0 {
		cur = cur.Children()[0]
	}
	return n.set(cur)
}

// SiblingIndex returns the position of the display node among its
// siblings and the sibling count. The root reports (0, 1).
func (n *Navigator) SiblingIndex() (int, int) {
	cur := n.tree.Current()
	if cur == nil || cur.Parent() == nil {
		return 0, 1
	}
	siblings := cur.Parent().Children()
	for i, s := range siblings {
		if gametree.Node(s) == cur {
			return i, len(siblings)
		}
	}
	return 0, len(siblings)
}

func (n *Navigator) sibling(delta int) (gametree.Node, error) {
	cur, err := n.current()
	if err != nil {
		return nil, err
	}
	if cur.Parent() == nil {
		return cur, ErrAtBoundary
	}
	idx, count := n.SiblingIndex()
	next := idx + delta
	if next < 0 || next >= count {
		return cur, ErrAtBoundary
	}
	return n.set(cur.Parent().Children()[next])
}

func (n *Navigator) current() (gametree.Node, error) {
	cur := n.tree.Current()
	if cur == nil {
		return nil, ErrNoRecord
	}
	return cur, nil
}

func (n *Navigator) set(node gametree.Node) (gametree.Node, error) {
	if err := n.tree.SetCurrentNode(node); err != nil {
		return nil, err
	}
	return node, nil
}
