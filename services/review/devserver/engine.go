// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package devserver

import (
	"context"
	"encoding/binary"
	"math"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/AleutianAI/KataReview/services/review/backend"
	"github.com/AleutianAI/KataReview/services/review/gametree"
	"github.com/AleutianAI/KataReview/services/review/sgf"
)

// Job is one validated analysis request.
type Job struct {
	Record    string
	Visits    int
	StartTurn *int
	EndTurn   *int
}

// Frame is one streaming progress payload.
type Frame struct {
	Turn          int               `json:"turn"`
	TotalTurns    int               `json:"totalTurns"`
	WinRate       float64           `json:"winrate"`
	Score         float64           `json:"score"`
	CurrentPlayer string            `json:"currentPlayer"`
	TopMoves      []backend.TopMove `json:"topMoves"`
	IsDone        bool              `json:"isDone"`
}

// Engine produces analyses. Errors of type *sgf.ParseError are reported
// to the client as 400.
type Engine interface {
	Analyze(ctx context.Context, job Job) (string, error)
	Stream(ctx context.Context, job Job, fn func(Frame) error) error
}

// StubEngine is a deterministic stand-in for a real engine. Every
// number it reports is a hash of the position, the turn, and the visit
// count, so equal jobs always produce equal records.
type StubEngine struct {
	// Delay is slept before each turn. Zero is instant.
	Delay time.Duration
}

type evaluation struct {
	turn       int
	node       gametree.Node
	winRate    float64
	score      float64
	toPlay     gametree.Color
	candidates []gametree.Candidate
	replies    []gametree.Move
}

// Analyze annotates every main-line position in the job's range and adds
// up to sgf.MaxCandidates variations under each. Turn 0 is the starting
// position and is written on the root. Nodes that already carry an
// annotation are left as they are.
func (e StubEngine) Analyze(ctx context.Context, job Job) (string, error) {
	root, evals, err := e.evaluate(ctx, job, nil)
	if err != nil {
		return "", err
	}
	for _, ev := range evals {
		if gametree.AnnotationOf(ev.node) != nil {
			continue
		}
		sgf.Annotate(ev.node, ev.winRate, ev.score)
		for i, c := range ev.candidates {
			v, err := sgf.AddCandidate(ev.node, c)
			if err != nil {
				return "", err
			}
			if err := v.AddChild(gametree.NewMove(ev.replies[i])); err != nil {
				return "", err
			}
		}
	}
	return sgf.Serialize(root), nil
}

// Stream reports one frame per analysed turn. The last frame has IsDone
// set; the HTTP layer appends the terminal done event.
func (e StubEngine) Stream(ctx context.Context, job Job, fn func(Frame) error) error {
	_, _, err := e.evaluate(ctx, job, func(ev evaluation, size, total int, last bool) error {
		f := Frame{
			Turn:          ev.turn,
			TotalTurns:    total,
			WinRate:       ev.winRate,
			Score:         ev.score,
			CurrentPlayer: ev.toPlay.String(),
			IsDone:        last,
		}
		for i, c := range ev.candidates {
			f.TopMoves = append(f.TopMoves, backend.TopMove{
				Move:      c.Move.GTP(size),
				WinRate:   c.WinRate,
				ScoreLead: c.ScoreLead,
				Visits:    job.Visits / (i + 2),
				PV:        []string{c.Move.GTP(size), ev.replies[i].GTP(size)},
			})
		}
		return fn(f)
	})
	return err
}

// evaluate parses the job and scores each turn in range, calling each
// (when non-nil) as it goes.
func (e StubEngine) evaluate(ctx context.Context, job Job, each func(ev evaluation, size, total int, last bool) error) (*gametree.RootNode, []evaluation, error) {
	root, err := sgf.Parse(job.Record)
	if err != nil {
		return nil, nil, err
	}
	size := root.BoardSize()
	main := gametree.MainLine(root)
	first, last := turnBounds(len(main), job.StartTurn, job.EndTurn)

	var evals []evaluation
	count := last - first + 1
	for turn := first; turn <= last; turn++ {
		if err := e.pause(ctx); err != nil {
			return nil, nil, err
		}
		var node gametree.Node = root
		if turn > 0 {
			node = main[turn-1]
		}
		var played *gametree.Move
		if turn < len(main) {
			played = main[turn].Move
		}
		ev := score(node, played, turn, size, job.Visits)
		evals = append(evals, ev)
		if each != nil {
			if err := each(ev, size, count, turn == last); err != nil {
				return nil, nil, err
			}
		}
	}
	return root, evals, nil
}

func (e StubEngine) pause(ctx context.Context) error {
	if e.Delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(e.Delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// turnBounds clamps the requested range to 0..moves. Turn n is the
// position after the n-th move; turn 0 is the starting position.
func turnBounds(moves int, start, end *int) (int, int) {
	first, last := 0, moves
	if start != nil {
		first = *start
	}
	if end != nil {
		last = *end
	}
	first = max(0, min(first, moves))
	last = max(first, min(last, moves))
	return first, last
}

// score evaluates the position at n. Candidates never repeat the move
// actually played next.
func score(n gametree.Node, played *gametree.Move, turn, size, visits int) evaluation {
	var buf [32]byte
	pt := gametree.Point{X: -1, Y: -1}
	mover := gametree.White
	switch n := n.(type) {
	case *gametree.RootNode:
		if pl, ok := n.Property("PL"); ok && pl == "W" {
			mover = gametree.Black
		}
	case *gametree.MoveNode:
		if n.Move != nil {
			mover = n.Move.Color
			if !n.Move.Pass {
				pt = n.Move.Point
			}
		}
	}
	binary.LittleEndian.PutUint64(buf[0:], uint64(int64(pt.X)))
	binary.LittleEndian.PutUint64(buf[8:], uint64(int64(pt.Y)))
	binary.LittleEndian.PutUint64(buf[16:], uint64(turn))
	binary.LittleEndian.PutUint64(buf[24:], uint64(visits))
	h := xxhash.Sum64(buf[:])

	ev := evaluation{
		turn:    turn,
		node:    n,
		winRate: round1(30 + float64(h%4001)/100),
		score:   round1((float64((h>>20)%401) - 200) / 10),
		toPlay:  mover.Opponent(),
	}
	for k := 1; len(ev.candidates) < sgf.MaxCandidates; k++ {
		p := gametree.Point{X: (pt.X + size + 2*k) % size, Y: (pt.Y + size + 3*k) % size}
		if played != nil && !played.Pass && played.Point == p {
			continue
		}
		ev.candidates = append(ev.candidates, gametree.Candidate{
			Move:      gametree.Move{Color: ev.toPlay, Point: p},
			WinRate:   round1(ev.winRate - 1.5*float64(k)),
			ScoreLead: round1(ev.score - 0.5*float64(k)),
		})
		ev.replies = append(ev.replies, gametree.Move{
			Color: mover,
			Point: gametree.Point{X: size - 1 - p.X, Y: size - 1 - p.Y},
		})
	}
	return ev
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
