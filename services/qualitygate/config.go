// Copyright (C) 2025 GradeGate Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package qualitygate

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the service configuration, loaded from YAML with environment
// overrides for secrets.
type Config struct {
	Server struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"server"`

	Log struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
		JSON  bool   `yaml:"json"`
	} `yaml:"log"`

	Storage struct {
		// Path is the BadgerDB directory. Empty with InMemory false is
		// rejected at startup.
		Path     string `yaml:"path"`
		InMemory bool   `yaml:"in_memory"`
	} `yaml:"storage"`

	Validator struct {
		PassThreshold int `yaml:"pass_threshold"`
	} `yaml:"validator"`

	Repair struct {
		MaxIterations     int           `yaml:"max_iterations"`
		SuggestionTimeout time.Duration `yaml:"suggestion_timeout"`

		AI struct {
			Enabled bool    `yaml:"enabled"`
			Model   string  `yaml:"model"`
			RPS     float64 `yaml:"rps"`
			// APIKey comes from GRADEGATE_OPENAI_API_KEY, never from the
			// config file.
			APIKey string `yaml:"-"`
		} `yaml:"ai"`
	} `yaml:"repair"`

	Notify struct {
		WebhookURL string `yaml:"webhook_url"`
	} `yaml:"notify"`
}

// DefaultConfig returns the standard configuration: in-memory storage,
// heuristic-only repair, port 8089.
func DefaultConfig() Config {
	var cfg Config
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 8089
	cfg.Log.Level = "info"
	cfg.Storage.InMemory = true
	cfg.Validator.PassThreshold = 70
	cfg.Repair.MaxIterations = 3
	cfg.Repair.SuggestionTimeout = 30 * time.Second
	cfg.Repair.AI.Model = ""
	cfg.Repair.AI.RPS = 1
	return cfg
}

// LoadConfig reads a YAML config file over the defaults. An empty path
// returns the defaults. Environment overrides are applied last.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if key := os.Getenv("GRADEGATE_OPENAI_API_KEY"); key != "" {
		c.Repair.AI.APIKey = key
	}
	if url := os.Getenv("GRADEGATE_NOTIFY_WEBHOOK"); url != "" {
		c.Notify.WebhookURL = url
	}
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if !c.Storage.InMemory && c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required when storage is persistent")
	}
	if c.Repair.AI.Enabled && c.Repair.AI.APIKey == "" {
		return fmt.Errorf("repair.ai.enabled requires GRADEGATE_OPENAI_API_KEY")
	}
	if c.Validator.PassThreshold < 0 || c.Validator.PassThreshold > 100 {
		return fmt.Errorf("validator.pass_threshold %d outside [0, 100]", c.Validator.PassThreshold)
	}
	return nil
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
