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

import "fmt"

// ParseError reports a record that could not be read.
//
// # Description
//
// Returned by Parse for grammar violations and malformed moves, and by
// Validate for records that exceed the accepted limits. Offset is the
// byte position in the input where the problem was detected, or -1 when
// the problem is semantic rather than positional.
//
// # Example
//
//	root, err := sgf.Parse(text)
//	var perr *sgf.ParseError
//	if errors.As(err, &perr) {
//	    log.Printf("bad record at %d: %s", perr.Offset, perr.Reason)
//	}
type ParseError struct {
	Offset int
	Reason string
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e.Offset < 0 {
		return "sgf: " + e.Reason
	}
	return fmt.Sprintf("sgf: %s at offset %d", e.Reason, e.Offset)
}

func semanticError(format string, args ...any) *ParseError {
	return &ParseError{Offset: -1, Reason: fmt.Sprintf(format, args...)}
}
