// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sgf

import (
	"strings"

	"github.com/AleutianAI/KataReview/services/review/gametree"
)

// Serialize writes root as a single game tree.
//
// Move nodes emit their move first, then the comment, then any extra
// properties in their original order. Properties without values are
// omitted. The output is the canonical form used for cache fingerprints:
// Serialize(Parse(Serialize(t))) == Serialize(t).
func Serialize(root *gametree.RootNode) string {
	if root == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString("(;")
	writeProps(&b, root.Properties)
	writeChildren(&b, root.Children(), len(root.Properties) == 0)
	b.WriteByte(')')
	return b.String()
}

// writeChildren emits a main-line run inline and opens branches where a
// node has several children. Children of a node that wrote no properties
// are always branched, otherwise the reader would fold them into it.
func writeChildren(b *strings.Builder, children []*gametree.MoveNode, parentEmpty bool) {
	children = visible(children)
	for len(children) == 1 && !parentEmpty {
		n := children[0]
		parentEmpty = !writeMoveNode(b, n)
		children = visible(n.Children())
	}
	if len(children) == 0 {
		return
	}
	for _, n := range children {
		b.WriteByte('(')
		empty := !writeMoveNode(b, n)
		writeChildren(b, n.Children(), empty)
		b.WriteByte(')')
	}
}

// visible filters out subtrees that hold no properties at all. Parse
// drops them, so writing them would break the round trip.
func visible(children []*gametree.MoveNode) []*gametree.MoveNode {
	out := children
	for i, n := range children {
		if blank(n) {
			out = make([]*gametree.MoveNode, 0, len(children)-1)
			out = append(out, children[:i]...)
			for _, rest := range children[i+1:] {
				if !blank(rest) {
					out = append(out, rest)
				}
			}
			break
		}
	}
	return out
}

func blank(n *gametree.MoveNode) bool {
	if n.Move != nil || n.Comment != "" {
		return false
	}
	for _, p := range n.Extra {
		if len(p.Values) > 0 {
			return false
		}
	}
	for _, c := range n.Children() {
		if !blank(c) {
			return false
		}
	}
	return true
}

// writeMoveNode reports whether any property was written.
func writeMoveNode(b *strings.Builder, n *gametree.MoveNode) bool {
	b.WriteByte(';')
	wrote := false
	if n.Move != nil {
		b.WriteString(n.Move.Color.String())
		writeValue(b, encodeMove(*n.Move))
		wrote = true
	}
	if n.Comment != "" {
		b.WriteByte('C')
		writeValue(b, n.Comment)
		wrote = true
	}
	if writeProps(b, n.Extra) {
		wrote = true
	}
	return wrote
}

func writeProps(b *strings.Builder, props []gametree.Property) bool {
	wrote := false
	for _, p := range props {
		if len(p.Values) == 0 {
			continue
		}
		b.WriteString(p.ID)
		for _, v := range p.Values {
			writeValue(b, v)
		}
		wrote = true
	}
	return wrote
}

func writeValue(b *strings.Builder, v string) {
	b.WriteByte('[')
	for i := 0; i < len(v); i++ {
		if c := v[i]; c == ']' || c == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(v[i])
	}
	b.WriteByte(']')
}
