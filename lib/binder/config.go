// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package binder

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the operational settings for one Session, loadable from a
// YAML file so a deployment can tune them without a rebuild (spec §1
// ambient configuration).
type Config struct {
	// DevicePath is the binder character device to open. Defaults to
	// /dev/binder.
	DevicePath string `yaml:"device_path"`

	// MaxThreads is the ceiling passed via BINDER_SET_MAX_THREADS: how
	// many additional threads beyond the one that opened the device the
	// kernel may ask this process to spawn via BR_SPAWN_LOOPER. Zero
	// means the kernel default (spec §6 Open Questions: kept as-is, the
	// Command Loop's own semaphore is the real enforcement point).
	MaxThreads int `yaml:"max_threads"`

	// Logger, when set, receives this Session's structured log output.
	// Not populated from YAML; set by the embedding program.
	Logger *slog.Logger `yaml:"-"`
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("binder: read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("binder: parse config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) devicePath() string {
	if c.DevicePath == "" {
		return defaultDevicePath
	}
	return c.DevicePath
}

func (c Config) maxThreads() int {
	return c.MaxThreads
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
