// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads swiftvector runtime configuration.
//
// Priority is env > file > defaults. Environment variables use the
// SWIFTVECTOR_ prefix, e.g. SWIFTVECTOR_STORAGE_BACKEND=sqlite.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "SWIFTVECTOR_"

// Storage backends.
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
)

// Exporter names.
const (
	ExporterNone       = "none"
	ExporterStdout     = "stdout"
	ExporterOTLP       = "otlp"
	ExporterPrometheus = "prometheus"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config is the full swiftvector configuration.
type Config struct {
	Session    SessionConfig    `json:"session" yaml:"session" envPrefix:"SESSION_"`
	Logging    LoggingConfig    `json:"logging" yaml:"logging" envPrefix:"LOG_"`
	Storage    StorageConfig    `json:"storage" yaml:"storage" envPrefix:"STORAGE_"`
	Governance GovernanceConfig `json:"governance" yaml:"governance" envPrefix:"GOVERNANCE_"`
	Telemetry  TelemetryConfig  `json:"telemetry" yaml:"telemetry" envPrefix:"TELEMETRY_"`
	Simulation SimulationConfig `json:"simulation" yaml:"simulation" envPrefix:"SIM_"`
}

// SessionConfig identifies the container's log.
type SessionConfig struct {
	ID        string `json:"id" yaml:"id" env:"ID" validate:"required,max=128"`
	QueueSize int    `json:"queue_size" yaml:"queue_size" env:"QUEUE_SIZE" validate:"gte=1,lte=65536"`
}

type LoggingConfig struct {
	Level string `json:"level" yaml:"level" env:"LEVEL" validate:"oneof=debug info warn warning error DEBUG INFO WARN ERROR"`
	Dir   string `json:"dir" yaml:"dir" env:"DIR"`
	JSON  bool   `json:"json" yaml:"json" env:"JSON"`
}

// StorageConfig selects where audit entries are persisted. The memory
// backend keeps nothing after the process exits.
type StorageConfig struct {
	Backend    string        `json:"backend" yaml:"backend" env:"BACKEND" validate:"oneof=memory badger sqlite"`
	Path       string        `json:"path" yaml:"path" env:"PATH" validate:"required_unless=Backend memory"`
	SyncWrites bool          `json:"sync_writes" yaml:"sync_writes" env:"SYNC_WRITES"`
	GCInterval time.Duration `json:"gc_interval" yaml:"gc_interval" env:"GC_INTERVAL" validate:"gte=0"`
}

type GovernanceConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled" env:"ENABLED"`

	// PolicyPath is a YAML policy file. Empty uses the embedded default.
	PolicyPath string `json:"policy_path" yaml:"policy_path" env:"POLICY_PATH"`
}

type TelemetryConfig struct {
	ServiceName    string  `json:"service_name" yaml:"service_name" env:"SERVICE_NAME" validate:"required"`
	TraceExporter  string  `json:"trace_exporter" yaml:"trace_exporter" env:"TRACE_EXPORTER" validate:"oneof=none stdout otlp"`
	MetricExporter string  `json:"metric_exporter" yaml:"metric_exporter" env:"METRIC_EXPORTER" validate:"oneof=none stdout prometheus"`
	OTLPEndpoint   string  `json:"otlp_endpoint" yaml:"otlp_endpoint" env:"OTLP_ENDPOINT" validate:"required_if=TraceExporter otlp"`
	SampleRate     float64 `json:"sample_rate" yaml:"sample_rate" env:"SAMPLE_RATE" validate:"gte=0,lte=1"`

	// MetricsAddr serves /metrics when non-empty, e.g. ":9464".
	MetricsAddr string `json:"metrics_addr" yaml:"metrics_addr" env:"METRICS_ADDR" validate:"omitempty,hostname_port"`
}

// SimulationConfig drives the simulate command.
type SimulationConfig struct {
	Agents        int     `json:"agents" yaml:"agents" env:"AGENTS" validate:"gte=1,lte=256"`
	Steps         int     `json:"steps" yaml:"steps" env:"STEPS" validate:"gte=1"`
	Seed          uint64  `json:"seed" yaml:"seed" env:"SEED"`
	RatePerSecond float64 `json:"rate_per_second" yaml:"rate_per_second" env:"RATE" validate:"gte=0"`
	Burst         int     `json:"burst" yaml:"burst" env:"BURST" validate:"gte=1"`

	// Deterministic switches to seeded sources and a manual clock so that
	// a simulation with the same seed and one agent is reproducible.
	Deterministic bool `json:"deterministic" yaml:"deterministic" env:"DETERMINISTIC"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Session: SessionConfig{
			ID:        "default",
			QueueSize: 64,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Storage: StorageConfig{
			Backend:    BackendMemory,
			SyncWrites: true,
			GCInterval: 10 * time.Minute,
		},
		Governance: GovernanceConfig{
			Enabled: false,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "swiftvector",
			TraceExporter:  ExporterNone,
			MetricExporter: ExporterNone,
			SampleRate:     1.0,
		},
		Simulation: SimulationConfig{
			Agents:        3,
			Steps:         20,
			Seed:          42,
			RatePerSecond: 50,
			Burst:         1,
		},
	}
}

// Load builds a Config from defaults, then the file at path, then
// SWIFTVECTOR_* environment variables, and validates the result.
//
// Inputs:
//   - path: YAML or JSON file. Empty or missing means defaults.
//
// Outputs:
//   - Config: The merged configuration.
//   - error: Non-nil if the file is unreadable or invalid, an env var fails
//     to parse, or validation fails.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return fmt.Errorf("parse config (tried YAML and JSON): YAML error: %v, JSON error: %w", err, jsonErr)
		}
	}
	return nil
}

// Validate checks field constraints.
func (c Config) Validate() error {
	return validate.Struct(c)
}
