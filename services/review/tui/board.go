// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tui

import (
	"strconv"
	"strings"

	"github.com/AleutianAI/KataReview/services/review/gametree"
)

const columns = "ABCDEFGHJKLMNOPQRSTUVWXYZ"

// Board is the stone layout at one node.
type Board struct {
	Size  int
	cells []gametree.Color
	Last  *gametree.Move
}

// Position replays the path from the root to n, applying setup stones
// and captures.
func Position(n gametree.Node) *Board {
	root := gametree.RootOf(n)
	size := gametree.DefaultBoardSize
	if root != nil {
		size = root.BoardSize()
	}
	b := &Board{Size: size, cells: make([]gametree.Color, size*size)}
	if root != nil {
		b.setup(root)
	}

	var path []*gametree.MoveNode
	for cur := n; cur != nil && !cur.IsRoot(); cur = cur.Parent() {
		if m, ok := cur.(*gametree.MoveNode); ok {
			path = append(path, m)
		}
	}
	for i := len(path) - 1; i >= 0; i-- {
		if m := path[i].Move; m != nil {
			b.play(*m)
			b.Last = m
		}
	}
	return b
}

// At returns the stone at p, or zero when empty or off the board.
func (b *Board) At(p gametree.Point) gametree.Color {
	if !b.inside(p) {
		return 0
	}
	return b.cells[p.Y*b.Size+p.X]
}

func (b *Board) setAt(p gametree.Point, c gametree.Color) {
	b.cells[p.Y*b.Size+p.X] = c
}

func (b *Board) inside(p gametree.Point) bool {
	return p.X >= 0 && p.Y >= 0 && p.X < b.Size && p.Y < b.Size
}

func (b *Board) setup(root *gametree.RootNode) {
	for _, prop := range root.Properties {
		var c gametree.Color
		switch prop.ID {
		case "AB":
			c = gametree.Black
		case "AW":
			c = gametree.White
		default:
			continue
		}
		for _, v := range prop.Values {
			if len(v) == 2 {
				p := gametree.Point{X: int(v[0] - 'a'), Y: int(v[1] - 'a')}
				if b.inside(p) {
					b.setAt(p, c)
				}
			}
		}
	}
}

func (b *Board) play(m gametree.Move) {
	if m.Pass || !b.inside(m.Point) {
		return
	}
	b.setAt(m.Point, m.Color)
	for _, nb := range b.neighbors(m.Point) {
		if b.At(nb) == m.Color.Opponent() {
			if group, libs := b.group(nb); libs == 0 {
				b.remove(group)
			}
		}
	}
	if group, libs := b.group(m.Point); libs == 0 {
		b.remove(group)
	}
}

func (b *Board) neighbors(p gametree.Point) []gametree.Point {
	out := make([]gametree.Point, 0, 4)
	for _, d := range [4][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}} {
		q := gametree.Point{X: p.X + d[0], Y: p.Y + d[1]}
		if b.inside(q) {
			out = append(out, q)
		}
	}
	return out
}

// group returns the chain containing p and its liberty count.
func (b *Board) group(p gametree.Point) ([]gametree.Point, int) {
	color := b.At(p)
	seen := map[gametree.Point]bool{p: true}
	libs := map[gametree.Point]bool{}
	stack := []gametree.Point{p}
	var chain []gametree.Point
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		chain = append(chain, cur)
		for _, nb := range b.neighbors(cur) {
			switch b.At(nb) {
			case 0:
				libs[nb] = true
			case color:
				if !seen[nb] {
					seen[nb] = true
					stack = append(stack, nb)
				}
			}
		}
	}
	return chain, len(libs)
}

func (b *Board) remove(points []gametree.Point) {
	for _, p := range points {
		b.setAt(p, 0)
	}
}

// Render draws the board with coordinates. Stones and the last move are
// styled by st.
func (b *Board) Render(st styles) string {
	var sb strings.Builder
	header := func() {
		sb.WriteString("   ")
		for x := 0; x < b.Size && x < len(columns); x++ {
			sb.WriteString(" " + string(columns[x]))
		}
		sb.WriteByte('\n')
	}
	header()
	for y := 0; y < b.Size; y++ {
		label := strconv.Itoa(b.Size - y)
		sb.WriteString(strings.Repeat(" ", 3-len(label)) + label)
		for x := 0; x < b.Size; x++ {
			p := gametree.Point{X: x, Y: y}
			last := b.Last != nil && !b.Last.Pass && b.Last.Point == p
			sb.WriteByte(' ')
			switch b.At(p) {
			case gametree.Black:
				if last {
					sb.WriteString(st.lastMove.Render("●"))
				} else {
					sb.WriteString(st.black.Render("●"))
				}
			case gametree.White:
				if last {
					sb.WriteString(st.lastMove.Render("○"))
				} else {
					sb.WriteString(st.white.Render("○"))
				}
			default:
				sb.WriteString(st.empty.Render("·"))
			}
		}
		sb.WriteString(" " + label + "\n")
	}
	header()
	return sb.String()
}
