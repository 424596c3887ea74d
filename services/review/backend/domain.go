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
	"context"
	"net/http"
	"time"
)

// DomainClient reaches a self-hosted analysis server.
//
// Thread Safety: Safe for concurrent use.
type DomainClient struct {
	*transport
	apiKey *secret
}

// NewDomainClient validates cfg and builds a client. It returns a
// *ConfigError when the base URL is missing or malformed.
func NewDomainClient(cfg DomainConfig, timeout time.Duration, requestsPerMinute int, opts ...Option) (*DomainClient, error) {
	base, err := parseBase(ModeDomain, "domain.base_url", cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	c := &DomainClient{apiKey: seal(cfg.APIKey)}
	c.transport = newTransport(ModeDomain, base, timeout, requestsPerMinute, c.authenticate, opts)
	return c, nil
}

func (c *DomainClient) authenticate(h http.Header) error {
	if c.apiKey == nil {
		return nil
	}
	key, err := c.apiKey.reveal()
	if err != nil {
		return err
	}
	h.Set("X-API-Key", key)
	return nil
}

// Mode returns ModeDomain.
func (c *DomainClient) Mode() Mode { return ModeDomain }

// Analyze implements Client.
func (c *DomainClient) Analyze(ctx context.Context, req Request) (string, error) {
	return c.analyze(ctx, req)
}

// AnalyzeStream implements Client.
func (c *DomainClient) AnalyzeStream(ctx context.Context, req Request, fn func(Progress) error) error {
	return c.stream(ctx, req, fn)
}
