// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// KeyPrefix starts every cache key.
const KeyPrefix = "analysis_"

// Key identifies one analysis request: the canonical record text, the
// step count and the optional turn range.
type Key string

// Valid reports whether k has the analysis_<16 hex> shape.
func (k Key) Valid() bool {
	s := string(k)
	if !strings.HasPrefix(s, KeyPrefix) || len(s) != len(KeyPrefix)+16 {
		return false
	}
	for _, c := range s[len(KeyPrefix):] {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

// Range bounds the turns to analyse. Nil fields are open ends.
type Range struct {
	Start *int
	End   *int
}

// NewRange builds a Range from optional bounds.
func NewRange(start, end *int) *Range {
	if start == nil && end == nil {
		return nil
	}
	return &Range{Start: start, End: end}
}

// Fingerprint derives the cache key for an analysis request.
//
// # Description
//
// Hashes a length-delimited encoding of the inputs with xxhash64, so
// "ab"+1 and "a"+"b1" never share an encoding. A nil range and an empty
// range hash identically. Collisions are possible and accepted: two
// different requests with the same 64-bit digest would share an entry.
//
// # Inputs
//
//   - record: canonical record text as produced by sgf.Serialize.
//   - steps: engine visits per position.
//   - rng: optional turn bounds.
//
// # Outputs
//
//   - Key: "analysis_" followed by 16 lower-case hex digits.
func Fingerprint(record string, steps int, rng *Range) Key {
	h := xxhash.New()
	var buf [8]byte

	binary.LittleEndian.PutUint64(buf[:], uint64(len(record)))
	_, _ = h.Write(buf[:])
	_, _ = h.WriteString(record)

	binary.LittleEndian.PutUint64(buf[:], uint64(int64(steps)))
	_, _ = h.Write(buf[:])

	var start, end *int
	if rng != nil {
		start, end = rng.Start, rng.End
	}
	for _, bound := range []*int{start, end} {
		if bound == nil {
			_, _ = h.Write([]byte{0})
			continue
		}
		_, _ = h.Write([]byte{1})
		binary.LittleEndian.PutUint64(buf[:], uint64(int64(*bound)))
		_, _ = h.Write(buf[:])
	}
	return Key(fmt.Sprintf("%s%016x", KeyPrefix, h.Sum64()))
}
