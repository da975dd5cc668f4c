// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the engine configuration one run operates under.
type Config struct {
	// DatasetVersion identifies the case set being evaluated.
	DatasetVersion string `yaml:"dataset_version" validate:"required"`

	// Model names the candidate model under evaluation.
	Model string `yaml:"model" validate:"required"`

	// ModelCutoff is the model's training cutoff, used to partition
	// cases into SAFE and FLAGGED.
	ModelCutoff time.Time `yaml:"model_cutoff" validate:"required"`

	// BaselineMode labels the harness configuration (e.g. "agentic").
	BaselineMode string `yaml:"baseline_mode,omitempty"`

	// Workdir hosts per-case repository clones.
	Workdir string `yaml:"workdir" validate:"required"`

	// StoreDir is the embedded run store location.
	StoreDir string `yaml:"store_dir" validate:"required"`

	// LogRoot is the run-artifact root. Defaults to <workdir>/logs.
	LogRoot string `yaml:"log_root,omitempty"`

	// Workers bounds concurrent case evaluations. Defaults to 4.
	Workers int `yaml:"workers,omitempty" validate:"omitempty,gt=0"`

	// FrozenTime pins the in-sandbox clock for reproducibility.
	FrozenTime time.Time `yaml:"frozen_time,omitempty"`
}

var (
	cfgOnce sync.Once
	cfg     *Config
	cfgErr  error
)

// engineConfig loads the --config file once per process.
func engineConfig() (*Config, error) {
	cfgOnce.Do(func() {
		cfg, cfgErr = loadConfig(configPath)
	})
	return cfg, cfgErr
}

// loadConfig reads, parses, validates, and defaults the config file.
func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	if cfg.BaselineMode == "" {
		cfg.BaselineMode = "agentic"
	}
	if cfg.LogRoot == "" {
		cfg.LogRoot = filepath.Join(cfg.Workdir, "logs")
	}
	if cfg.Workers == 0 {
		cfg.Workers = 4
	}
	return &cfg, nil
}
