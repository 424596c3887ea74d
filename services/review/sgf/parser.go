// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sgf reads and writes game records in the Smart Game Format.
//
// Parse accepts the first game tree of a collection. Property identifiers
// are normalised by dropping lower-case letters (SiZe becomes SZ), empty
// nodes produced by stray semicolons are skipped, and [tt] is read as a
// pass on boards up to 19x19. Serialize writes the same shape back,
// opening a parenthesised branch only where a node has more than one
// child.
//
// A B or W property on the root node is moved into a first move node of
// its own, so every move sits on the main line.
//
// Analysis annotations written by the analysis server are recognised in
// comments and exposed as gametree.Annotation values, on the root for
// the starting position as well as on moves.
package sgf

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/AleutianAI/KataReview/services/review/gametree"
)

// rawNode is a node before move interpretation. Properties keep their
// first-seen order; repeated identifiers merge their values.
type rawNode struct {
	props    []gametree.Property
	children []*rawNode
}

func (n *rawNode) empty() bool {
	return len(n.props) == 0 && len(n.children) == 0
}

func (n *rawNode) add(id string, values []string) {
	for i := range n.props {
		if n.props[i].ID == id {
			n.props[i].Values = append(n.props[i].Values, values...)
			return
		}
	}
	n.props = append(n.props, gametree.Property{ID: id, Values: values})
}

// prune drops empty nodes that have no children. Serialize writes such
// a node as a bare ";" which reads back as nothing.
func (n *rawNode) prune() {
	kept := n.children[:0]
	for _, c := range n.children {
		c.prune()
		if !c.empty() {
			kept = append(kept, c)
		}
	}
	n.children = kept
}

type parser struct {
	src string
	pos int
}

// Parse reads the first game tree in text.
//
// # Outputs
//
//   - *gametree.RootNode: the root of the parsed tree. Never nil on success.
//   - error: *ParseError when the text is not a readable record.
func Parse(text string) (*gametree.RootNode, error) {
	start := strings.IndexByte(text, '(')
	if start < 0 {
		return nil, &ParseError{Offset: 0, Reason: "expected '(' at start of record"}
	}
	p := &parser{src: text, pos: start + 1}
	raw := &rawNode{}
	if err := p.branch(raw); err != nil {
		return nil, err
	}
	raw.prune()
	return build(raw)
}

func (p *parser) branch(current *rawNode) error {
	for {
		p.skipSpace()
		if p.pos >= len(p.src) {
			return &ParseError{Offset: p.pos, Reason: "expected ')' at end of input"}
		}
		c := p.src[p.pos]
		switch {
		case c == ')':
			p.pos++
			return nil
		case c == '(':
			p.pos++
			child := &rawNode{}
			current.children = append(current.children, child)
			if err := p.branch(child); err != nil {
				return err
			}
		case c == ';':
			p.pos++
			// A semicolon only opens a node once the current one holds
			// something, and a trailing ";)" opens nothing.
			if !current.empty() && !p.onlyCloseRemains() {
				next := &rawNode{}
				current.children = append(current.children, next)
				current = next
			}
		case isIdentByte(c):
			id, values, err := p.property()
			if err != nil {
				return err
			}
			current.add(id, values)
		default:
			return &ParseError{Offset: p.pos, Reason: fmt.Sprintf("unexpected character %q", c)}
		}
	}
}

func (p *parser) property() (string, []string, error) {
	start := p.pos
	for p.pos < len(p.src) && isIdentByte(p.src[p.pos]) {
		p.pos++
	}
	id := normaliseIdent(p.src[start:p.pos])
	if id == "" {
		return "", nil, &ParseError{Offset: start, Reason: "property identifier has no upper-case letters"}
	}

	var values []string
	for {
		p.skipSpace()
		if p.pos >= len(p.src) || p.src[p.pos] != '[' {
			break
		}
		v, err := p.value()
		if err != nil {
			return "", nil, err
		}
		values = append(values, v)
	}
	if len(values) == 0 {
		return "", nil, &ParseError{Offset: p.pos, Reason: fmt.Sprintf("property %s has no value", id)}
	}
	return id, values, nil
}

func (p *parser) value() (string, error) {
	open := p.pos
	p.pos++ // '['
	var b strings.Builder
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch c {
		case '\\':
			if p.pos+1 >= len(p.src) {
				return "", &ParseError{Offset: p.pos, Reason: "dangling escape"}
			}
			next := p.src[p.pos+1]
			if next != ']' && next != '\\' {
				b.WriteByte('\\')
			}
			b.WriteByte(next)
			p.pos += 2
		case ']':
			p.pos++
			return b.String(), nil
		default:
			b.WriteByte(c)
			p.pos++
		}
	}
	return "", &ParseError{Offset: open, Reason: "unterminated property value"}
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) {
		switch p.src[p.pos] {
		case ' ', '\t', '\n', '\r', '\f', '\v':
			p.pos++
		default:
			return
		}
	}
}

func (p *parser) onlyCloseRemains() bool {
	return strings.TrimSpace(p.src[p.pos:]) == ")"
}

func isIdentByte(c byte) bool {
	return c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '_'
}

func normaliseIdent(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if c := s[i]; c < 'a' || c > 'z' {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// ----------------------------------------------------------------------------
// Tree construction
// ----------------------------------------------------------------------------

func build(raw *rawNode) (*gametree.RootNode, error) {
	hoistRootMove(raw)
	root := &gametree.RootNode{Properties: raw.props}
	width, height := boardDims(root)
	for _, c := range raw.children {
		child, err := buildMove(c, width, height)
		if err != nil {
			return nil, err
		}
		if err := root.AddChild(child); err != nil {
			return nil, err
		}
	}
	if c := propText(root.Properties, "C"); c != "" {
		root.Annotation = parseWinrate(c)
		collectCandidates(root.Annotation, root.Children())
	}
	return root, nil
}

// hoistRootMove moves B and W properties off the root into a new node
// that adopts the root's children.
func hoistRootMove(raw *rawNode) {
	var moves, rest []gametree.Property
	for _, p := range raw.props {
		if p.ID == "B" || p.ID == "W" {
			moves = append(moves, p)
		} else {
			rest = append(rest, p)
		}
	}
	if len(moves) == 0 {
		return
	}
	raw.props = rest
	raw.children = []*rawNode{{props: moves, children: raw.children}}
}

func propText(props []gametree.Property, id string) string {
	for _, p := range props {
		if p.ID == id {
			return strings.Join(p.Values, "")
		}
	}
	return ""
}

func buildMove(raw *rawNode, width, height int) (*gametree.MoveNode, error) {
	node := &gametree.MoveNode{}
	for _, prop := range raw.props {
		switch {
		case (prop.ID == "B" || prop.ID == "W") && node.Move == nil:
			m, err := decodeMove(gametree.Color(prop.ID[0]), prop.Values[0], width, height)
			if err != nil {
				return nil, err
			}
			node.Move = &m
		case prop.ID == "C" && node.Comment == "":
			node.Comment = strings.Join(prop.Values, "")
		default:
			node.Extra = append(node.Extra, prop)
		}
	}
	node.Annotation = parseWinrate(node.Comment)

	for _, c := range raw.children {
		child, err := buildMove(c, width, height)
		if err != nil {
			return nil, err
		}
		if err := node.AddChild(child); err != nil {
			return nil, err
		}
	}
	collectCandidates(node.Annotation, node.Children())
	return node, nil
}

// boardDims reads SZ as "n" or "w:h". Missing or unreadable sizes fall
// back to the default square board.
func boardDims(root *gametree.RootNode) (int, int) {
	v, ok := root.Property("SZ")
	if !ok {
		return gametree.DefaultBoardSize, gametree.DefaultBoardSize
	}
	w, h, found := strings.Cut(v, ":")
	width, err := strconv.Atoi(strings.TrimSpace(w))
	if err != nil || width <= 0 {
		return gametree.DefaultBoardSize, gametree.DefaultBoardSize
	}
	if !found {
		return width, width
	}
	height, err := strconv.Atoi(strings.TrimSpace(h))
	if err != nil || height <= 0 {
		return width, width
	}
	return width, height
}

const coordLetters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

func decodeMove(color gametree.Color, v string, width, height int) (gametree.Move, error) {
	if v == "" || (v == "tt" && width <= 19 && height <= 19) {
		return gametree.Move{Color: color, Pass: true}, nil
	}
	if len(v) != 2 {
		return gametree.Move{}, semanticError("malformed move %s[%s]", color, v)
	}
	x := strings.IndexByte(coordLetters, v[0])
	y := strings.IndexByte(coordLetters, v[1])
	if x < 0 || y < 0 {
		return gametree.Move{}, semanticError("malformed move %s[%s]", color, v)
	}
	if x >= width || y >= height {
		return gametree.Move{}, semanticError("move %s[%s] is outside the %dx%d board", color, v, width, height)
	}
	return gametree.Move{Color: color, Point: gametree.Point{X: x, Y: y}}, nil
}

func encodeMove(m gametree.Move) string {
	if m.Pass {
		return ""
	}
	if m.Point.X < 0 || m.Point.X >= len(coordLetters) || m.Point.Y < 0 || m.Point.Y >= len(coordLetters) {
		return ""
	}
	return string([]byte{coordLetters[m.Point.X], coordLetters[m.Point.Y]})
}
