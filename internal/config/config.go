// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package config loads downloader settings from the environment. Every
// variable is optional; flags and config files override what is loaded here.
package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/kelseyhightower/envconfig"

	"github.com/hfxget/hfxget/pkg/hfxget"
)

// Env holds the environment-variable configuration, prefixed with HFX_
// (e.g. HFX_OUTPUT_DIR). The hub token additionally falls back to the
// conventional HF_TOKEN.
type Env struct {
	Token          string `envconfig:"TOKEN"`
	OutputDir      string `envconfig:"OUTPUT_DIR"`
	MaxWorkers     int    `envconfig:"MAX_WORKERS"`
	MirrorURL      string `envconfig:"MIRROR_URL"`
	AcceleratorURL string `envconfig:"ACCELERATOR_URL"`
	HubAPIURL      string `envconfig:"HUB_API_URL"`
	Retries        int    `envconfig:"RETRIES"`
	BackoffInitial string `envconfig:"BACKOFF_INITIAL"`
	BackoffMax     string `envconfig:"BACKOFF_MAX"`
	LogLevel       string `envconfig:"LOG_LEVEL" default:"INFO"`
}

// Load reads HFX_-prefixed environment variables.
func Load() (*Env, error) {
	var e Env
	if err := envconfig.Process("HFX", &e); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}
	return &e, nil
}

// Apply copies every value set in the environment into cfg, leaving unset
// fields alone so DefaultSettings and flags keep their say.
func (e *Env) Apply(cfg *hfxget.Settings) {
	if e.Token != "" {
		cfg.Token = e.Token
	}
	if e.OutputDir != "" {
		cfg.OutputDir = e.OutputDir
	}
	if e.MaxWorkers > 0 {
		cfg.MaxWorkers = e.MaxWorkers
	}
	if e.MirrorURL != "" {
		cfg.MirrorBaseURL = e.MirrorURL
	}
	if e.AcceleratorURL != "" {
		cfg.AcceleratorBaseURL = e.AcceleratorURL
	}
	if e.HubAPIURL != "" {
		cfg.HubAPIBaseURL = e.HubAPIURL
	}
	if e.Retries > 0 {
		cfg.Retries = e.Retries
	}
	if e.BackoffInitial != "" {
		cfg.BackoffInitial = e.BackoffInitial
	}
	if e.BackoffMax != "" {
		cfg.BackoffMax = e.BackoffMax
	}
}

// SlogLevel maps the LOG_LEVEL value to a slog level, defaulting to info.
func (e *Env) SlogLevel() slog.Level {
	switch strings.ToUpper(e.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
