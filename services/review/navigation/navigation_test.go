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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/KataReview/services/review/gametree"
	"github.com/AleutianAI/KataReview/services/review/sgf"
)

func newTracked(t *testing.T, record string) (*gametree.Tree, *DepthTracker, *Navigator) {
	t.Helper()
	tracker := NewDepthTracker()
	tree := gametree.NewTree(gametree.WithDepthPolicy(tracker))
	root, err := sgf.Parse(record)
	require.NoError(t, err)
	_, err = tree.Load(root)
	require.NoError(t, err)
	return tree, tracker, NewNavigator(tree)
}

func TestImportScenario(t *testing.T) {
	tree, _, nav := newTracked(t, "(;SZ[19];B[pd];W[dd])")

	assert.Equal(t, 2, gametree.CountNodes(tree.Root()))
	assert.True(t, nav.Current().IsRoot())

	_, err := nav.Forward()
	require.NoError(t, err)
	node, err := nav.Forward()
	require.NoError(t, err)

	mv := node.(*gametree.MoveNode).Move
	require.NotNil(t, mv)
	assert.Equal(t, gametree.White, mv.Color)
	assert.Equal(t, gametree.Point{X: 3, Y: 3}, mv.Point)
	assert.Equal(t, 2, nav.Depth())

	_, err = nav.Forward()
	assert.ErrorIs(t, err, ErrAtBoundary)
}

func TestDepthPreservedAcrossReplacement(t *testing.T) {
	tree, tracker, nav := newTracked(t, "(;SZ[19];B[pd];W[dd];B[pp];W[dp])")
	for i := 0; i < 3; i++ {
		_, err := nav.Forward()
		require.NoError(t, err)
	}
	assert.Equal(t, 3, tracker.Depth())

	replacement, err := sgf.Parse("(;SZ[19];B[pd]C[Winrate: 50.0%, Score: 0.5];W[dd];B[pp];W[dp];B[qc])")
	require.NoError(t, err)
	display, err := tree.ReplaceRoot(replacement)
	require.NoError(t, err)

	assert.Equal(t, 3, gametree.Depth(display))
	assert.Same(t, replacement, gametree.RootOf(display))
	assert.Equal(t, gametree.Point{X: 15, Y: 15}, display.(*gametree.MoveNode).Move.Point)
}

func TestDepthDegradesOnShallowerTree(t *testing.T) {
	tree, _, nav := newTracked(t, "(;SZ[19];B[pd];W[dd];B[pp])")
	_, err := nav.ToEnd()
	require.NoError(t, err)
	require.Equal(t, 3, nav.Depth())

	shallow, err := sgf.Parse("(;SZ[19];B[pd])")
	require.NoError(t, err)
	display, err := tree.ReplaceRoot(shallow)
	require.NoError(t, err)

	assert.Equal(t, 1, gametree.Depth(display))
	assert.Equal(t, 1, nav.Depth())
}

func TestDepthOnEmptyReplacement(t *testing.T) {
	tree, _, nav := newTracked(t, "(;SZ[19];B[pd])")
	_, err := nav.Forward()
	require.NoError(t, err)

	display, err := tree.ReplaceRoot(gametree.NewRoot(19))
	require.NoError(t, err)
	assert.True(t, display.IsRoot())
}

func TestNavigator_Variations(t *testing.T) {
	_, _, nav := newTracked(t, "(;SZ[19];B[pd](;W[dd])(;W[dp])(;W[pp]))")
	_, err := nav.Forward()
	require.NoError(t, err)
	_, err = nav.Forward()
	require.NoError(t, err)

	idx, count := nav.SiblingIndex()
	assert.Equal(t, 0, idx)
	assert.Equal(t, 3, count)

	_, err = nav.PrevVariation()
	assert.ErrorIs(t, err, ErrAtBoundary)

	node, err := nav.NextVariation()
	require.NoError(t, err)
	assert.Equal(t, gametree.Point{X: 3, Y: 15}, node.(*gametree.MoveNode).Move.Point)

	_, err = nav.NextVariation()
	require.NoError(t, err)
	_, err = nav.NextVariation()
	assert.ErrorIs(t, err, ErrAtBoundary)

	node, err = nav.PrevVariation()
	require.NoError(t, err)
	idx, _ = nav.SiblingIndex()
	assert.Equal(t, 1, idx)
	assert.Equal(t, 2, gametree.Depth(node))
}

func TestNavigator_StartAndBack(t *testing.T) {
	_, _, nav := newTracked(t, "(;SZ[19];B[pd];W[dd])")

	_, err := nav.Back()
	assert.ErrorIs(t, err, ErrAtBoundary)

	_, err = nav.ToEnd()
	require.NoError(t, err)
	assert.Equal(t, 2, nav.Depth())

	_, err = nav.Back()
	require.NoError(t, err)
	assert.Equal(t, 1, nav.Depth())

	node, err := nav.ToStart()
	require.NoError(t, err)
	assert.True(t, node.IsRoot())
}

func TestNavigator_NoRecord(t *testing.T) {
	nav := NewNavigator(gametree.NewTree())
	_, err := nav.Forward()
	assert.ErrorIs(t, err, ErrNoRecord)
	_, err = nav.ToStart()
	assert.ErrorIs(t, err, ErrNoRecord)
}

func TestWalkMainLine(t *testing.T) {
	root, err := sgf.Parse("(;SZ[19];B[pd];W[dd])")
	require.NoError(t, err)

	assert.True(t, WalkMainLine(root, 0).IsRoot())
	assert.Equal(t, 2, gametree.Depth(WalkMainLine(root, 10)))
	assert.Nil(t, WalkMainLine(nil, 3))
}
