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
)

// Limits accepted by the analysis server for an incoming record.
const (
	MaxRecordBytes = 500_000
	MaxMoves       = 1000
	MaxVariations  = 100
)

// Validate performs the cheap checks the server applies before parsing:
// size, balanced parentheses, and move and variation counts. It returns
// the trimmed content.
func Validate(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", semanticError("empty record")
	}
	if len(content) > MaxRecordBytes {
		return "", semanticError("record too large: %d bytes (max %d)", len(content), MaxRecordBytes)
	}
	if content[0] != '(' {
		return "", &ParseError{Offset: 0, Reason: "record must start with '('"}
	}

	depth, branches, moves := 0, 0, 0
	inValue, escaped := false, false
	for i := 0; i < len(content); i++ {
		c := content[i]
		if inValue {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == ']':
				inValue = false
			}
			continue
		}
		switch c {
		case '[':
			if isMoveIdent(content, i) {
				moves++
			}
			inValue = true
		case '(':
			depth++
			branches++
		case ')':
			depth--
			if depth < 0 {
				return "", &ParseError{Offset: i, Reason: "unbalanced parentheses"}
			}
		}
	}
	if inValue {
		return "", semanticError("unterminated property value")
	}
	if depth != 0 {
		return "", semanticError("unbalanced parentheses")
	}
	if moves > MaxMoves {
		return "", semanticError("too many moves: %d (max %d)", moves, MaxMoves)
	}
	if branches-1 > MaxVariations {
		return "", semanticError("too many variations: %d (max %d)", branches-1, MaxVariations)
	}
	return content, nil
}

// isMoveIdent reports whether the '[' at i opens the first value of a B
// or W property. Only text outside values reaches here.
func isMoveIdent(content string, i int) bool {
	j := i - 1
	for j >= 0 && isSpace(content[j]) {
		j--
	}
	if j < 0 || (content[j] != 'B' && content[j] != 'W') {
		return false
	}
	return j == 0 || !isIdentByte(content[j-1])
}

func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '\f', '\v':
		return true
	}
	return false
}
