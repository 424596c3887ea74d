// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package backend

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
)

// errorBody is the service error object. Code is numeric on the v1 API;
// some workers send only a message string in place of the object.
type errorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type analysisEnvelope struct {
	Data *struct {
		SGF        string `json:"sgf"`
		VisitsUsed int    `json:"visits_used"`
	} `json:"data"`
	AnalyzedSGF string `json:"analyzed_sgf"`
	SGF         string `json:"sgf"`
	Output      *struct {
		AnalyzedSGF string          `json:"analyzed_sgf"`
		Error       json.RawMessage `json:"error"`
	} `json:"output"`
	Error  json.RawMessage `json:"error"`
	Detail json.RawMessage `json:"detail"`
}

// decodeAnalysis extracts the analysed record from a 2xx body.
//
// Accepted shapes, in order: {"data":{"sgf"}}, {"analyzed_sgf"},
// {"output":{"analyzed_sgf"}}, {"sgf"}, and a raw record. An error
// object anywhere in the envelope wins over a record.
func decodeAnalysis(body []byte) (string, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return "", &BackendError{Code: http.StatusBadGateway, Message: "empty response"}
	}
	if trimmed[0] != '{' {
		return string(trimmed), nil
	}
	var env analysisEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		// Not JSON after all; let the record parser decide.
		return string(trimmed), nil
	}

	if be := parseErrorField(env.Error, 0); be != nil {
		return "", be
	}
	if env.Output != nil {
		if be := parseErrorField(env.Output.Error, 0); be != nil {
			return "", be
		}
	}

	switch {
	case env.Data != nil && env.Data.SGF != "":
		return env.Data.SGF, nil
	case env.AnalyzedSGF != "":
		return env.AnalyzedSGF, nil
	case env.Output != nil && env.Output.AnalyzedSGF != "":
		return env.Output.AnalyzedSGF, nil
	case env.SGF != "":
		return env.SGF, nil
	}
	return "", &BackendError{Code: http.StatusBadGateway, Message: "response contained no analysed record"}
}

// statusError builds the BackendError for a non-2xx response, preferring
// the message carried in the body.
func statusError(status int, body []byte) *BackendError {
	be := &BackendError{Code: status}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var env analysisEnvelope
		if json.Unmarshal(trimmed, &env) == nil {
			if parsed := parseErrorField(env.Error, status); parsed != nil {
				// The HTTP status is authoritative for classification.
				be.Message = parsed.Message
				return be
			}
			if msg := detailMessage(env.Detail); msg != "" {
				be.Message = msg
				return be
			}
		}
	}
	if be.Message == "" && len(trimmed) > 0 && len(trimmed) <= 512 {
		be.Message = string(trimmed)
	}
	if be.Message == "" {
		be.Message = http.StatusText(status)
	}
	return be
}

// parseErrorField decodes an "error" value. fallbackCode is used when the
// object carries no code; zero means 500.
func parseErrorField(raw json.RawMessage, fallbackCode int) *BackendError {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	code := fallbackCode
	if code == 0 {
		code = http.StatusInternalServerError
	}
	var obj errorBody
	if json.Unmarshal(raw, &obj) == nil {
		if obj.Code != 0 {
			code = obj.Code
		}
		return &BackendError{Code: code, Message: obj.Message}
	}
	var msg string
	if json.Unmarshal(raw, &msg) == nil && msg != "" {
		return &BackendError{Code: code, Message: msg}
	}
	return nil
}

// detailMessage reads the "detail" field of an authentication error,
// which is a string, or a list of validation errors.
func detailMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var items []struct {
		Msg string `json:"msg"`
	}
	if json.Unmarshal(raw, &items) == nil {
		msgs := make([]string, 0, len(items))
		for _, it := range items {
			if it.Msg != "" {
				msgs = append(msgs, it.Msg)
			}
		}
		return strings.Join(msgs, "; ")
	}
	return ""
}
