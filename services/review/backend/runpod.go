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

// RunPodClient reaches a serverless worker.
//
// Thread Safety: Safe for concurrent use.
type RunPodClient struct {
	*transport
	bearer    *secret
	workerKey *secret
}

// NewRunPodClient validates cfg and builds a client. It returns a
// *ConfigError when the endpoint is missing or malformed.
func NewRunPodClient(cfg RunPodConfig, timeout time.Duration, requestsPerMinute int, opts ...Option) (*RunPodClient, error) {
	base, err := parseBase(ModeRunPod, "runpod.endpoint", cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	c := &RunPodClient{
		bearer:    seal(cfg.BearerToken),
		workerKey: seal(cfg.WorkerKey),
	}
	c.transport = newTransport(ModeRunPod, base, timeout, requestsPerMinute, c.authenticate, opts)
	return c, nil
}

func (c *RunPodClient) authenticate(h http.Header) error {
	if c.workerKey != nil {
		key, err := c.workerKey.reveal()
		if err != nil {
			return err
		}
		h.Set("X-Worker-Key", key)
	}
	if c.bearer != nil {
		token, err := c.bearer.reveal()
		if err != nil {
			return err
		}
		h.Set("Authorization", "Bearer "+token)
	}
	return nil
}

// Mode returns ModeRunPod.
func (c *RunPodClient) Mode() Mode { return ModeRunPod }

// Analyze implements Client.
func (c *RunPodClient) Analyze(ctx context.Context, req Request) (string, error) {
	return c.analyze(ctx, req)
}

// AnalyzeStream implements Client.
func (c *RunPodClient) AnalyzeStream(ctx context.Context, req Request, fn func(Progress) error) error {
	return c.stream(ctx, req, fn)
}
