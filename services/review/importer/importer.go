// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package importer reads game records from disk and watches directories
// for new ones.
package importer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/KataReview/services/review/gametree"
	"github.com/AleutianAI/KataReview/services/review/sgf"
)

// Extension is the record file suffix, compared case-insensitively.
const Extension = ".sgf"

// ErrNotRecord is returned for paths without the record extension.
var ErrNotRecord = errors.New("not an .sgf file")

// IsRecord reports whether path names a record file.
func IsRecord(path string) bool {
	return strings.EqualFold(filepath.Ext(path), Extension)
}

// ReadFile returns the validated text of the record at path. Files larger
// than sgf.MaxRecordBytes are rejected without being read in full.
func ReadFile(path string) (string, error) {
	if !IsRecord(path) {
		return "", fmt.Errorf("%s: %w", path, ErrNotRecord)
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, sgf.MaxRecordBytes+1))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	text, err := sgf.Validate(string(data))
	if err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}
	return text, nil
}

// LoadFile reads and parses the record at path.
func LoadFile(path string) (*gametree.RootNode, string, error) {
	text, err := ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	root, err := sgf.Parse(text)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", path, err)
	}
	return root, text, nil
}

// WriteFile stores a record at path, creating parent directories.
func WriteFile(path, text string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(text), 0o644)
}

// AnalysedPath names the output file for an analysed copy of path:
// game.sgf becomes game.analysed.sgf.
func AnalysedPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + ".analysed" + ext
}
