// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package importer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/KataReview/services/review/gametree"
	"github.com/AleutianAI/KataReview/services/review/sgf"
)

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "game.SGF")
	require.NoError(t, os.WriteFile(path, []byte("  (;SZ[19];B[pd];W[dd])\n"), 0o644))

	root, text, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "(;SZ[19];B[pd];W[dd])", text)
	assert.Equal(t, 2, gametree.CountNodes(root))
}

func TestReadFile_Rejects(t *testing.T) {
	dir := t.TempDir()

	txt := filepath.Join(dir, "game.txt")
	require.NoError(t, os.WriteFile(txt, []byte("(;SZ[19])"), 0o644))
	_, err := ReadFile(txt)
	assert.ErrorIs(t, err, ErrNotRecord)

	big := filepath.Join(dir, "big.sgf")
	body := "(;SZ[19]C[" + strings.Repeat("x", sgf.MaxRecordBytes) + "])"
	require.NoError(t, os.WriteFile(big, []byte(body), 0o644))
	_, err = ReadFile(big)
	var pe *sgf.ParseError
	assert.ErrorAs(t, err, &pe)

	bad := filepath.Join(dir, "bad.sgf")
	require.NoError(t, os.WriteFile(bad, []byte("(;SZ[19];B[pd]"), 0o644))
	_, _, err = LoadFile(bad)
	assert.ErrorAs(t, err, &pe)

	_, err = ReadFile(filepath.Join(dir, "missing.sgf"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWriteFileAndAnalysedPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "game.sgf")
	assert.Equal(t, filepath.Join(filepath.Dir(path), "game.analysed.sgf"), AnalysedPath(path))

	require.NoError(t, WriteFile(AnalysedPath(path), "(;SZ[9])"))
	text, err := ReadFile(AnalysedPath(path))
	require.NoError(t, err)
	assert.Equal(t, "(;SZ[9])", text)
}

type batches struct {
	mu  sync.Mutex
	got [][]string
}

func (b *batches) handle(paths []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.got = append(b.got, paths)
}

func (b *batches) all() [][]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]string(nil), b.got...)
}

func TestWatcher_DebouncesRecordWrites(t *testing.T) {
	dir := t.TempDir()
	var b batches
	w, err := NewWatcher(dir, b.handle, &WatcherOptions{Debounce: 100 * time.Millisecond})
	require.NoError(t, err)
	w.Start(context.Background())
	t.Cleanup(w.Stop)

	game := filepath.Join(dir, "game.sgf")
	require.NoError(t, os.WriteFile(game, []byte("(;SZ[19]"), 0o644))
	require.NoError(t, os.WriteFile(game, []byte("(;SZ[19];B[pd])"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "game.analysed.sgf"), []byte("(;SZ[19])"), 0o644))

	require.Eventually(t, func() bool { return len(b.all()) > 0 }, 3*time.Second, 20*time.Millisecond)
	time.Sleep(200 * time.Millisecond)

	got := b.all()
	require.Len(t, got, 1, "writes within the window form one batch")
	assert.Equal(t, []string{game}, got[0])
}

func TestWatcher_FlushesOnStop(t *testing.T) {
	dir := t.TempDir()
	var b batches
	w, err := NewWatcher(dir, b.handle, &WatcherOptions{Debounce: time.Hour})
	require.NoError(t, err)
	w.Start(context.Background())

	game := filepath.Join(dir, "late.sgf")
	require.NoError(t, os.WriteFile(game, []byte("(;SZ[19])"), 0o644))
	// Give the event loop a moment to queue the event.
	time.Sleep(200 * time.Millisecond)

	w.Stop()
	got := b.all()
	require.Len(t, got, 1)
	assert.Equal(t, []string{game}, got[0])
}

func TestNewWatcher_RequiresDirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "game.sgf")
	require.NoError(t, os.WriteFile(file, []byte("(;)"), 0o644))

	_, err := NewWatcher(file, nil, nil)
	assert.Error(t, err)

	_, err = NewWatcher(filepath.Join(t.TempDir(), "missing"), nil, nil)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
