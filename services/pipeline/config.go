// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/rasterflow/pkg/region"
)

// MaxConfigFileSize caps the size of a YAML config file.
const MaxConfigFileSize = 1 << 20

// configValidate is the validator instance for Config.
var configValidate = validator.New()

// Config configures an Executive.
type Config struct {
	// NumThreads is the default worker count per node. 0 means
	// runtime.GOMAXPROCS(0). Nodes may override it.
	NumThreads int `yaml:"num_threads" validate:"gte=0,lte=4096"`

	// ProgressInterval is the minimum time between progress notifications
	// for one node. Default: 100ms.
	ProgressInterval time.Duration `yaml:"progress_interval" validate:"gte=0"`

	// ProgressBurst is the number of notifications allowed back to back.
	// Default: 1.
	ProgressBurst int `yaml:"progress_burst" validate:"gte=0,lte=1000"`

	// MaxBufferBytes caps a single output buffer. Growing past it is an
	// allocation failure. 0 means unlimited.
	MaxBufferBytes int64 `yaml:"max_buffer_bytes" validate:"gte=0"`

	// ReleaseDataDefault treats every intermediate output as if its
	// release-data flag were set.
	ReleaseDataDefault bool `yaml:"release_data_default"`

	// Splitter partitions node regions. Default: region.SlabSplitter.
	Splitter region.Splitter `yaml:"-"`
}

// DefaultConfig returns a Config with defaults applied.
func DefaultConfig() Config {
	var c Config
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills in zero values with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.ProgressInterval == 0 {
		c.ProgressInterval = 100 * time.Millisecond
	}
	if c.ProgressBurst == 0 {
		c.ProgressBurst = 1
	}
	if c.Splitter == nil {
		c.Splitter = region.SlabSplitter{}
	}
}

// Validate checks the configuration.
//
// Outputs:
//
//	error - Wraps ErrInvalidConfig on failure.
func (c *Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Threads resolves the worker count for a node.
func (c *Config) Threads(node *BaseNode) int {
	if node != nil && node.NumberOfThreads() > 0 {
		return node.NumberOfThreads()
	}
	if c.NumThreads > 0 {
		return c.NumThreads
	}
	return runtime.GOMAXPROCS(0)
}

// LoadConfig reads a Config from a YAML file, applies defaults and
// validates it.
//
// Inputs:
//
//	path - YAML file, at most MaxConfigFileSize bytes. Unknown keys are errors.
//
// Outputs:
//
//	Config - The loaded config.
//	error - Non-nil on read, parse or validation failure.
func LoadConfig(path string) (Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Config{}, fmt.Errorf("stat config: %w", err)
	}
	if info.Size() > MaxConfigFileSize {
		return Config{}, fmt.Errorf("%w: config file too large: %d bytes (max %d)", ErrInvalidConfig, info.Size(), MaxConfigFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes a Config from YAML, applies defaults and validates it.
func ParseConfig(data []byte) (Config, error) {
	var c Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("%w: unmarshaling YAML: %v", ErrInvalidConfig, err)
	}
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}
