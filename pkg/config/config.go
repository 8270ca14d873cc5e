// roomstore - Session state helpers for a Matrix chat client.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package config

import (
	_ "embed"
	"fmt"
	"time"

	up "go.mau.fi/util/configupgrade"
	"go.mau.fi/zeroconfig"
	"gopkg.in/yaml.v3"

	"github.com/lrhodin/roomstore/pkg/coalesce"
	"github.com/lrhodin/roomstore/pkg/feedapi"
)

//go:embed example-config.yaml
var ExampleConfig string

type Config struct {
	Backend    BackendConfig     `yaml:"backend"`
	Coalescing CoalescingConfig  `yaml:"coalescing"`
	Edits      EditsConfig       `yaml:"edits"`
	Database   DatabaseConfig    `yaml:"database"`
	Logging    zeroconfig.Config `yaml:"logging"`
}

type BackendConfig struct {
	BaseURL           string  `yaml:"base_url"`
	Timeout           string  `yaml:"timeout"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	UserAgent         string  `yaml:"user_agent"`

	timeout time.Duration
}

type CoalescingConfig struct {
	Delay        string      `yaml:"delay"`
	FetchTimeout string      `yaml:"fetch_timeout"`
	Retry        RetryConfig `yaml:"retry"`

	delay        time.Duration
	fetchTimeout time.Duration
}

type RetryConfig struct {
	Enabled         bool   `yaml:"enabled"`
	InitialInterval string `yaml:"initial_interval"`
	MaxInterval     string `yaml:"max_interval"`
	MaxElapsed      string `yaml:"max_elapsed"`

	initialInterval time.Duration
	maxInterval     time.Duration
	maxElapsed      time.Duration
}

type EditsConfig struct {
	RequireSameSender bool `yaml:"require_same_sender"`
}

type DatabaseConfig struct {
	URI string `yaml:"uri"`
}

type umConfig Config

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	err := node.Decode((*umConfig)(c))
	if err != nil {
		return err
	}
	return c.PostProcess()
}

// PostProcess parses the duration strings. Empty durations mean zero.
func (c *Config) PostProcess() error {
	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"backend.timeout", c.Backend.Timeout, &c.Backend.timeout},
		{"coalescing.delay", c.Coalescing.Delay, &c.Coalescing.delay},
		{"coalescing.fetch_timeout", c.Coalescing.FetchTimeout, &c.Coalescing.fetchTimeout},
		{"coalescing.retry.initial_interval", c.Coalescing.Retry.InitialInterval, &c.Coalescing.Retry.initialInterval},
		{"coalescing.retry.max_interval", c.Coalescing.Retry.MaxInterval, &c.Coalescing.Retry.maxInterval},
		{"coalescing.retry.max_elapsed", c.Coalescing.Retry.MaxElapsed, &c.Coalescing.Retry.maxElapsed},
	}
	for _, d := range durations {
		if d.raw == "" {
			*d.dst = 0
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("invalid duration for %s: %w", d.key, err)
		}
		if parsed < 0 {
			return fmt.Errorf("invalid duration for %s: must not be negative", d.key)
		}
		*d.dst = parsed
	}
	return nil
}

// FeedAPI returns the backend client settings.
func (c *Config) FeedAPI() feedapi.Config {
	return feedapi.Config{
		BaseURL:           c.Backend.BaseURL,
		Timeout:           c.Backend.timeout,
		RequestsPerSecond: c.Backend.RequestsPerSecond,
		Burst:             c.Backend.Burst,
		UserAgent:         c.Backend.UserAgent,
	}
}

// Coalescer returns the batching settings shared by every coalescer. Name,
// Clock and Metrics are left for the caller.
func (c *Config) Coalescer() coalesce.Config {
	return coalesce.Config{
		Delay:        c.Coalescing.delay,
		FetchTimeout: c.Coalescing.fetchTimeout,
		Retry: coalesce.RetryConfig{
			Enabled:             c.Coalescing.Retry.Enabled,
			InitialInterval:     c.Coalescing.Retry.initialInterval,
			MaxInterval:         c.Coalescing.Retry.maxInterval,
			MaxElapsedTime:      c.Coalescing.Retry.maxElapsed,
			RandomizationFactor: 0.5,
		},
	}
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Str, "backend", "base_url")
	helper.Copy(up.Str, "backend", "timeout")
	helper.Copy(up.Float|up.Int, "backend", "requests_per_second")
	helper.Copy(up.Int, "backend", "burst")
	helper.Copy(up.Str, "backend", "user_agent")
	helper.Copy(up.Str, "coalescing", "delay")
	helper.Copy(up.Str|up.Null, "coalescing", "fetch_timeout")
	helper.Copy(up.Bool, "coalescing", "retry", "enabled")
	helper.Copy(up.Str, "coalescing", "retry", "initial_interval")
	helper.Copy(up.Str, "coalescing", "retry", "max_interval")
	helper.Copy(up.Str|up.Null, "coalescing", "retry", "max_elapsed")
	helper.Copy(up.Bool, "edits", "require_same_sender")
	helper.Copy(up.Str, "database", "uri")
	helper.Copy(up.Map, "logging")
}

var Upgrader = &up.StructUpgrader{
	SimpleUpgrader: up.SimpleUpgrader(upgradeConfig),
	Blocks: [][]string{
		{"backend"},
		{"coalescing"},
		{"edits"},
		{"database"},
		{"logging"},
	},
	Base: ExampleConfig,
}

// Load merges the config file at path onto the example config and parses
// the result. upgraded reports whether the file was missing any keys; with
// save set, the merged file is written back.
func Load(path string, save bool) (cfg *Config, upgraded bool, err error) {
	var data []byte
	data, upgraded, err = up.Do(path, save, Upgrader)
	if err != nil {
		return nil, false, fmt.Errorf("failed to upgrade config at %s: %w", path, err)
	}
	cfg, err = Parse(data)
	if err != nil {
		return nil, false, fmt.Errorf("failed to parse config at %s: %w", path, err)
	}
	return cfg, upgraded, nil
}

// Parse decodes config YAML without merging defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the parsed example config.
func Default() *Config {
	cfg, err := Parse([]byte(ExampleConfig))
	if err != nil {
		panic(fmt.Errorf("example config is invalid: %w", err))
	}
	return cfg
}
