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
	"net/url"
	"strings"
	"time"
)

// Mode selects how the analysis service is reached.
type Mode string

const (
	// ModeDomain talks to a self-hosted server behind a base URL.
	ModeDomain Mode = "domain"

	// ModeRunPod talks to a serverless worker endpoint.
	ModeRunPod Mode = "runpod"
)

// DefaultTimeout bounds a single analysis request.
const DefaultTimeout = 120 * time.Second

// DomainConfig holds the settings read in ModeDomain.
type DomainConfig struct {
	// BaseURL is the server root, e.g. https://analysis.example.com.
	BaseURL string

	// APIKey is sent as X-API-Key when set.
	APIKey string
}

// RunPodConfig holds the settings read in ModeRunPod.
type RunPodConfig struct {
	// Endpoint is the worker root URL.
	Endpoint string

	// BearerToken is sent as Authorization: Bearer when set.
	BearerToken string

	// WorkerKey is sent as X-Worker-Key when set.
	WorkerKey string
}

// Config selects exactly one mode. Fields of the inactive mode are
// never read.
type Config struct {
	Mode   Mode
	Domain DomainConfig
	RunPod RunPodConfig

	// Timeout bounds each request. Zero means DefaultTimeout.
	Timeout time.Duration

	// RequestsPerMinute throttles outgoing requests. Zero disables it.
	RequestsPerMinute int
}

// parseBase validates a configured root URL and strips any trailing
// slash so paths can be appended directly.
func parseBase(mode Mode, field, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", &ConfigError{Mode: mode, Field: field, Reason: "not set"}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", &ConfigError{Mode: mode, Field: field, Reason: "malformed URL: " + err.Error()}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", &ConfigError{Mode: mode, Field: field, Reason: "scheme must be http or https"}
	}
	if u.Host == "" {
		return "", &ConfigError{Mode: mode, Field: field, Reason: "missing host"}
	}
	return strings.TrimRight(raw, "/"), nil
}
