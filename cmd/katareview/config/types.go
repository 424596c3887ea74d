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
	"os"
	"path/filepath"
	"time"

	"github.com/AleutianAI/KataReview/services/review/backend"
	"github.com/AleutianAI/KataReview/services/review/telemetry"
)

type KataReviewConfig struct {
	// Backend: how the analysis service is reached
	Backend BackendConfig `yaml:"backend"`

	// Analysis: defaults for analyze requests
	Analysis AnalysisConfig `yaml:"analysis"`

	// Cache: where analysed records are kept
	Cache CacheConfig `yaml:"cache"`

	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`

	// DevServer: the local stand-in for the analysis service
	DevServer DevServerConfig `yaml:"devserver"`
}

// BackendConfig mirrors backend.Config. The mode is checked when a
// client is built, not here, so a bad mode still lets the other commands
// run.
type BackendConfig struct {
	Mode              string       `yaml:"mode"`
	Domain            DomainConfig `yaml:"domain"`
	RunPod            RunPodConfig `yaml:"runpod"`
	TimeoutSeconds    int          `yaml:"timeout_seconds" validate:"gte=0,lte=3600"`
	RequestsPerMinute int          `yaml:"requests_per_minute" validate:"gte=0"`
}

type DomainConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key,omitempty"`
}

type RunPodConfig struct {
	Endpoint    string `yaml:"endpoint"`
	BearerToken string `yaml:"bearer_token,omitempty"`
	WorkerKey   string `yaml:"worker_key,omitempty"`
}

type AnalysisConfig struct {
	// Steps is the engine visit count, e.g. 1000
	Steps int `yaml:"steps" validate:"gte=100,lte=100000"`

	// StartPolicy is "root" or "first_move"
	StartPolicy string `yaml:"start_policy" validate:"oneof=root first_move"`
}

type CacheConfig struct {
	// Backend is "memory", "badger", or "sqlite"
	Backend    string `yaml:"backend" validate:"oneof=memory badger sqlite"`
	Path       string `yaml:"path" validate:"required_unless=Backend memory"`
	Compress   bool   `yaml:"compress"`
	MaxEntries int    `yaml:"max_entries" validate:"gte=0"`
}

type TelemetryConfig struct {
	Traces       string `yaml:"traces" validate:"oneof=none stdout otlp"`
	Metrics      string `yaml:"metrics" validate:"oneof=none stdout prometheus"`
	OTLPEndpoint string `yaml:"otlp_endpoint" validate:"required_if=Traces otlp"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

type DevServerConfig struct {
	Addr        string `yaml:"addr" validate:"required"`
	APIKey      string `yaml:"api_key,omitempty"`
	WorkerKey   string `yaml:"worker_key,omitempty"`
	BearerToken string `yaml:"bearer_token,omitempty"`

	// RateLimit requests per RateWindowSeconds per client, 0 disables
	RateLimit         int `yaml:"rate_limit" validate:"gte=0"`
	RateWindowSeconds int `yaml:"rate_window_seconds" validate:"gte=1"`
}

// Dir returns ~/.katareview, falling back to the working directory when
// the home directory is unknown.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".katareview"
	}
	return filepath.Join(home, ".katareview")
}

func DefaultConfig() KataReviewConfig {
	return KataReviewConfig{
		Backend: BackendConfig{
			Mode:           string(backend.ModeDomain),
			Domain:         DomainConfig{BaseURL: "http://localhost:8080"},
			TimeoutSeconds: int(backend.DefaultTimeout / time.Second),
		},
		Analysis: AnalysisConfig{
			Steps:       1000,
			StartPolicy: "root",
		},
		Cache: CacheConfig{
			Backend:  "badger",
			Path:     filepath.Join(Dir(), "cache"),
			Compress: true,
		},
		Telemetry: TelemetryConfig{
			Traces:       telemetry.ExporterNone,
			Metrics:      telemetry.ExporterNone,
			OTLPEndpoint: "localhost:4317",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		DevServer: DevServerConfig{
			Addr:              "127.0.0.1:8080",
			RateLimit:         30,
			RateWindowSeconds: 60,
		},
	}
}

// BackendSettings converts the backend section for backend.NewClient.
func (c KataReviewConfig) BackendSettings() backend.Config {
	return backend.Config{
		Mode: backend.Mode(c.Backend.Mode),
		Domain: backend.DomainConfig{
			BaseURL: c.Backend.Domain.BaseURL,
			APIKey:  c.Backend.Domain.APIKey,
		},
		RunPod: backend.RunPodConfig{
			Endpoint:    c.Backend.RunPod.Endpoint,
			BearerToken: c.Backend.RunPod.BearerToken,
			WorkerKey:   c.Backend.RunPod.WorkerKey,
		},
		Timeout:           time.Duration(c.Backend.TimeoutSeconds) * time.Second,
		RequestsPerMinute: c.Backend.RequestsPerMinute,
	}
}

// TelemetrySettings converts the telemetry section for telemetry.Init.
func (c KataReviewConfig) TelemetrySettings() telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.TraceExporter = c.Telemetry.Traces
	cfg.MetricExporter = c.Telemetry.Metrics
	cfg.OTLPEndpoint = c.Telemetry.OTLPEndpoint
	return cfg
}

// Redacted returns a copy with every credential masked, for display.
func (c KataReviewConfig) Redacted() KataReviewConfig {
	mask := func(s *string) {
		if *s != "" {
			*s = "********"
		}
	}
	mask(&c.Backend.Domain.APIKey)
	mask(&c.Backend.RunPod.BearerToken)
	mask(&c.Backend.RunPod.WorkerKey)
	mask(&c.DevServer.APIKey)
	mask(&c.DevServer.WorkerKey)
	mask(&c.DevServer.BearerToken)
	return c
}
