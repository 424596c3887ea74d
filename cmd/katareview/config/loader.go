// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// DefaultPath is ~/.katareview/config.yaml.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// Load reads the config at path, creating it with defaults on first
// run, then applies KATAREVIEW_* environment overrides and validates.
// Keys missing from the file keep their default values.
func Load(path string) (KataReviewConfig, bool, error) {
	created := false
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := CreateDefault(path); err != nil {
			return KataReviewConfig{}, false, err
		}
		created = true
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return KataReviewConfig{}, created, fmt.Errorf("failed to read the config file: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return KataReviewConfig{}, created, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return KataReviewConfig{}, created, err
	}
	if err := Validate(cfg); err != nil {
		return KataReviewConfig{}, created, err
	}
	return cfg, created, nil
}

// CreateDefault writes the default config to path, creating parent
// directories. An existing file is overwritten.
func CreateDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate checks field constraints.
func Validate(cfg KataReviewConfig) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			first := verrs[0]
			return fmt.Errorf("invalid config: %s fails %q (value %v)", first.Namespace(), first.Tag(), first.Value())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

type lookupFunc func(string) (string, bool)

// Environment overrides. Secrets are usually supplied this way rather
// than written to the file.
const (
	EnvMode          = "KATAREVIEW_BACKEND_MODE"
	EnvDomainURL     = "KATAREVIEW_DOMAIN_URL"
	EnvAPIKey        = "KATAREVIEW_API_KEY"
	EnvRunPodURL     = "KATAREVIEW_RUNPOD_ENDPOINT"
	EnvRunPodToken   = "KATAREVIEW_RUNPOD_TOKEN"
	EnvWorkerKey     = "KATAREVIEW_WORKER_KEY"
	EnvSteps         = "KATAREVIEW_STEPS"
	EnvCacheBackend  = "KATAREVIEW_CACHE_BACKEND"
	EnvCachePath     = "KATAREVIEW_CACHE_PATH"
	EnvLogLevel      = "KATAREVIEW_LOG_LEVEL"
	EnvTraceExporter = "KATAREVIEW_TRACES"
)

func applyEnv(cfg *KataReviewConfig, lookup lookupFunc) error {
	strs := map[string]*string{
		EnvMode:          &cfg.Backend.Mode,
		EnvDomainURL:     &cfg.Backend.Domain.BaseURL,
		EnvAPIKey:        &cfg.Backend.Domain.APIKey,
		EnvRunPodURL:     &cfg.Backend.RunPod.Endpoint,
		EnvRunPodToken:   &cfg.Backend.RunPod.BearerToken,
		EnvWorkerKey:     &cfg.Backend.RunPod.WorkerKey,
		EnvCacheBackend:  &cfg.Cache.Backend,
		EnvCachePath:     &cfg.Cache.Path,
		EnvLogLevel:      &cfg.Log.Level,
		EnvTraceExporter: &cfg.Telemetry.Traces,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	if v, ok := lookup(EnvSteps); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvSteps, err)
		}
		cfg.Analysis.Steps = n
	}
	return nil
}
