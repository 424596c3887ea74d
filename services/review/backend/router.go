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

// NewClient constructs the client for cfg.Mode.
//
// # Description
//
// A pure factory: it holds no state and hands each variant only its own
// sub-config, so a domain client never sees RunPod credentials and the
// reverse.
//
// # Outputs
//
//   - Client: a *DomainClient or *RunPodClient.
//   - error: *ConfigError for an unknown mode or an unusable endpoint.
func NewClient(cfg Config, opts ...Option) (Client, error) {
	switch cfg.Mode {
	case ModeDomain:
		return NewDomainClient(cfg.Domain, cfg.Timeout, cfg.RequestsPerMinute, opts...)
	case ModeRunPod:
		return NewRunPodClient(cfg.RunPod, cfg.Timeout, cfg.RequestsPerMinute, opts...)
	case "":
		return nil, &ConfigError{Mode: cfg.Mode, Field: "mode", Reason: "not set"}
	default:
		return nil, &ConfigError{Mode: cfg.Mode, Field: "mode", Reason: "must be domain or runpod"}
	}
}
