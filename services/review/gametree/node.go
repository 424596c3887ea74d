// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gametree holds the parsed move graph of a game record.
//
// A record is a single RootNode owning an ordered list of MoveNode
// children. Each MoveNode is one ply and may itself have several
// children, which represent variations. The first child at every level
// is the main line.
//
//	RootNode (SZ, KM, RU, PB, PW, ...)
//	   │
//	   ├─► MoveNode B[pd]          ← main line
//	   │      ├─► MoveNode W[dd]   ← main line
//	   │      └─► MoveNode W[dp]   ← variation
//	   └─► MoveNode B[dd]          ← variation
//
// Parent pointers are back-references used only for upward traversal.
// Ownership always flows downward from the root.
//
// # Thread Safety
//
// Nodes are not synchronised. Once a RootNode is installed in a Tree,
// readers go through the Tree and writers through Tree.Do.
package gametree

import (
	"errors"
	"fmt"
	"strconv"
)

var (
	// ErrAlreadyAttached is returned when a node that already has a
	// parent is added as a child somewhere else.
	ErrAlreadyAttached = errors.New("node already belongs to a tree")

	// ErrCycle is returned by Validate when a node is reachable twice.
	ErrCycle = errors.New("tree contains a cycle or shared node")
)

// DefaultBoardSize is used when a record carries no SZ property.
const DefaultBoardSize = 19

// Color identifies the player of a move.
type Color byte

const (
	Black Color = 'B'
	White Color = 'W'
)

// String returns "B" or "W".
func (c Color) String() string {
	return string(rune(c))
}

// Opponent returns the other color.
func (c Color) Opponent() Color {
	if c == Black {
		return White
	}
	return Black
}

// Point is a zero-based board intersection. X counts columns from the
// left, Y counts rows from the top, matching SGF coordinate order.
type Point struct {
	X int
	Y int
}

// Move is a single stone placement or a pass.
type Move struct {
	Color Color
	Point Point
	Pass  bool
}

// GTP returns the move in GTP notation for the given board size,
// for example "Q16" or "pass".
func (m Move) GTP(boardSize int) string {
	if m.Pass {
		return "pass"
	}
	const columns = "ABCDEFGHJKLMNOPQRSTUVWXYZ"
	if m.Point.X < 0 || m.Point.X >= len(columns) {
		return fmt.Sprintf("%d-%d", m.Point.X, m.Point.Y)
	}
	return string(columns[m.Point.X]) + strconv.Itoa(boardSize-m.Point.Y)
}

// Property is a raw record property kept verbatim so that properties the
// core does not interpret survive a round trip.
type Property struct {
	ID     string
	Values []string
}

// Candidate is an alternative move suggested by the analysis engine.
type Candidate struct {
	Move      Move
	WinRate   float64
	ScoreLead float64
}

// Annotation carries analysis results attached to a position.
type Annotation struct {
	// WinRate is the win probability in percent for the player to move.
	WinRate float64

	// ScoreLead is the expected score lead in points.
	ScoreLead float64

	// Candidates are the engine's alternative moves, in engine order.
	Candidates []Candidate
}

// Node is implemented by RootNode and MoveNode.
type Node interface {
	// Parent returns the parent node, or nil for the root.
	Parent() Node

	// Children returns the ordered child list. Callers must not modify it.
	Children() []*MoveNode

	// IsRoot reports whether this node is the record root.
	IsRoot() bool
}

// RootNode is the single entry point of a parsed record.
type RootNode struct {
	// Properties holds the root properties in record order. The root's
	// comment stays here as C.
	Properties []Property

	// Annotation is the evaluation of the starting position, nil until
	// analysed. Its candidates are root children.
	Annotation *Annotation

	children []*MoveNode
}

// NewRoot creates an empty root with the given board size.
func NewRoot(boardSize int) *RootNode {
	r := &RootNode{}
	r.SetProperty("SZ", strconv.Itoa(boardSize))
	return r
}

// Parent always returns nil for a root.
func (r *RootNode) Parent() Node { return nil }

// Children returns the first-level moves.
func (r *RootNode) Children() []*MoveNode { return r.children }

// IsRoot returns true.
func (r *RootNode) IsRoot() bool { return true }

// AddChild appends child to the root's child list.
func (r *RootNode) AddChild(child *MoveNode) error {
	return attach(r, &r.children, child)
}

// BoardSize returns the SZ property, or DefaultBoardSize when absent or
// unreadable. Rectangular sizes ("19:13") report their width.
func (r *RootNode) BoardSize() int {
	v, ok := r.Property("SZ")
	if !ok {
		return DefaultBoardSize
	}
	for i := 0; i < len(v); i++ {
		if v[i] == ':' {
			v = v[:i]
			break
		}
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return DefaultBoardSize
	}
	return n
}

// Property returns the first value of a root property.
func (r *RootNode) Property(id string) (string, bool) {
	for _, p := range r.Properties {
		if p.ID == id && len(p.Values) > 0 {
			return p.Values[0], true
		}
	}
	return "", false
}

// SetProperty replaces a root property, keeping its original position
// when it already exists.
func (r *RootNode) SetProperty(id string, values ...string) {
	for i := range r.Properties {
		if r.Properties[i].ID == id {
			r.Properties[i].Values = values
			return
		}
	}
	r.Properties = append(r.Properties, Property{ID: id, Values: values})
}

// MoveNode is one ply of the record.
type MoveNode struct {
	// Move is nil for nodes that carry no B or W property.
	Move *Move

	// Comment is the C property text, unescaped.
	Comment string

	// Annotation is nil until the record has been analysed.
	Annotation *Annotation

	// Extra holds the remaining properties in record order.
	Extra []Property

	parent   Node
	children []*MoveNode
}

// NewMove creates a detached node for the given move.
func NewMove(m Move) *MoveNode {
	return &MoveNode{Move: &m}
}

// Parent returns the owning node.
func (n *MoveNode) Parent() Node { return n.parent }

// Children returns the variations that follow this move.
func (n *MoveNode) Children() []*MoveNode { return n.children }

// IsRoot returns false.
func (n *MoveNode) IsRoot() bool { return false }

// AddChild appends child as the last variation after this move.
func (n *MoveNode) AddChild(child *MoveNode) error {
	return attach(n, &n.children, child)
}

// FirstChild returns the main-line continuation, or nil at a leaf.
func (n *MoveNode) FirstChild() *MoveNode {
	if len(n.children) == 0 {
		return nil
	}
	return n.children[0]
}

func attach(parent Node, list *[]*MoveNode, child *MoveNode) error {
	if child == nil {
		return errors.New("child must not be nil")
	}
	if child.parent != nil {
		return ErrAlreadyAttached
	}
	child.parent = parent
	*list = append(*list, child)
	return nil
}

// Depth counts parent hops from n up to the root. The root is depth 0.
func Depth(n Node) int {
	d := 0
	for n != nil && !n.IsRoot() {
		n = n.Parent()
		d++
	}
	return d
}

// AnnotationOf returns the analysis attached to n, or nil.
func AnnotationOf(n Node) *Annotation {
	switch n := n.(type) {
	case *RootNode:
		return n.Annotation
	case *MoveNode:
		return n.Annotation
	}
	return nil
}

// RootOf returns the root that owns n, or nil for a detached subtree.
func RootOf(n Node) *RootNode {
	for n != nil {
		if r, ok := n.(*RootNode); ok {
			return r
		}
		n = n.Parent()
	}
	return nil
}

// MainLine returns the moves reached by always following the first child.
func MainLine(root *RootNode) []*MoveNode {
	if root == nil || len(root.children) == 0 {
		return nil
	}
	var line []*MoveNode
	for n := root.children[0]; n != nil; n = n.FirstChild() {
		line = append(line, n)
	}
	return line
}

// Validate checks that every node is reachable exactly once and that
// each parent pointer names the node whose child list contains it.
func Validate(root *RootNode) error {
	if root == nil {
		return errors.New("root must not be nil")
	}
	seen := make(map[*MoveNode]struct{})
	type frame struct {
		parent Node
		nodes  []*MoveNode
	}
	stack := []frame{{parent: root, nodes: root.children}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, c := range f.nodes {
			if c == nil {
				return errors.New("nil child in tree")
			}
			if _, dup := seen[c]; dup {
				return ErrCycle
			}
			seen[c] = struct{}{}
			if c.parent != f.parent {
				return fmt.Errorf("parent pointer mismatch at depth %d", Depth(f.parent)+1)
			}
			stack = append(stack, frame{parent: c, nodes: c.children})
		}
	}
	return nil
}

// CountNodes returns the number of move nodes in the tree.
func CountNodes(root *RootNode) int {
	if root == nil {
		return 0
	}
	count := 0
	stack := append([]*MoveNode(nil), root.children...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		count++
		stack = append(stack, n.children...)
	}
	return count
}
