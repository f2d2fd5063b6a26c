// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/rasterflow/pkg/logging"
	"github.com/AleutianAI/rasterflow/pkg/region"
	"github.com/AleutianAI/rasterflow/services/pipeline"
	"github.com/AleutianAI/rasterflow/services/pipeline/registry"
	"github.com/AleutianAI/rasterflow/services/pipeline/telemetry"
)

// ErrInvalidDescription is returned for a malformed pipeline description.
var ErrInvalidDescription = errors.New("invalid pipeline description")

var descriptionValidate = validator.New()

// Description is a pipeline description file.
type Description struct {
	// Name labels the graph in logs and spans.
	Name string `yaml:"name"`

	// Config configures the executive.
	Config pipeline.Config `yaml:"config"`

	// Nodes lists the nodes in any order.
	Nodes []registry.NodeSpec `yaml:"nodes" validate:"required,min=1"`

	// Terminal names the node to update. Default: the first terminal node
	// in name order.
	Terminal string `yaml:"terminal"`

	// Region is the terminal request as "x,y:w,h". Default: the whole image.
	Region string `yaml:"region"`

	// Telemetry configures exporters.
	Telemetry telemetry.Config `yaml:"telemetry"`

	// Logging configures the logger.
	Logging LoggingSpec `yaml:"logging"`
}

// LoggingSpec is the logging section of a description.
type LoggingSpec struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	JSON   bool   `yaml:"json"`
	LogDir string `yaml:"log_dir"`
}

// LoadDescription reads and validates a description file.
func LoadDescription(path string) (*Description, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat description: %w", err)
	}
	if info.Size() > pipeline.MaxConfigFileSize {
		return nil, fmt.Errorf("%w: file too large: %d bytes (max %d)",
			ErrInvalidDescription, info.Size(), pipeline.MaxConfigFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading description: %w", err)
	}
	return ParseDescription(data)
}

// ParseDescription decodes a description, applies defaults and validates
// everything that can be checked without building nodes.
func ParseDescription(data []byte) (*Description, error) {
	var d Description
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&d); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty file", ErrInvalidDescription)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidDescription, err)
	}
	if d.Name == "" {
		d.Name = "pipeline"
	}
	d.Config.ApplyDefaults()
	d.Telemetry.ApplyDefaults()

	if err := descriptionValidate.Struct(&d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDescription, err)
	}
	if err := d.Config.Validate(); err != nil {
		return nil, err
	}
	for _, n := range d.Nodes {
		if err := n.Validate(); err != nil {
			return nil, err
		}
	}
	if d.Terminal != "" && !d.hasNode(d.Terminal) {
		return nil, fmt.Errorf("%w: terminal %q is not a node", ErrInvalidDescription, d.Terminal)
	}
	if d.Region != "" {
		if _, err := region.Parse(d.Region); err != nil {
			return nil, fmt.Errorf("%w: region: %v", ErrInvalidDescription, err)
		}
	}
	return &d, nil
}

func (d *Description) hasNode(name string) bool {
	for _, n := range d.Nodes {
		if n.Name == name {
			return true
		}
	}
	return false
}

// LoggerConfig converts the logging section. level, when set, overrides it.
func (d *Description) LoggerConfig(level string) (logging.Config, error) {
	if level == "" {
		level = d.Logging.Level
	}
	cfg := logging.Config{
		Service: "rasterflow",
		JSON:    d.Logging.JSON,
		LogDir:  d.Logging.LogDir,
	}
	if level != "" {
		l, err := logging.ParseLevel(level)
		if err != nil {
			return logging.Config{}, err
		}
		cfg.Level = l
	}
	return cfg, nil
}

// Build creates the graph and applies the terminal request.
//
// Inputs:
//
//	reg - Node registry.
//	env - Shared resources. The caller closes it.
//	regionOverride - Replaces the description's region when non-empty.
//
// Outputs:
//
//	*pipeline.Graph - The graph.
//	pipeline.Node - The terminal node.
//	error - Non-nil if a node cannot be built or wired.
func (d *Description) Build(reg *registry.Registry, env *registry.Env, regionOverride string) (*pipeline.Graph, pipeline.Node, error) {
	g, err := registry.BuildGraph(d.Name, d.Nodes, reg, env)
	if err != nil {
		return nil, nil, err
	}
	terminal := g.Terminal()
	if d.Terminal != "" {
		terminal, _ = g.Node(d.Terminal)
	}
	if terminal == nil {
		return nil, nil, pipeline.ErrEmptyGraph
	}

	spec := d.Region
	if regionOverride != "" {
		spec = regionOverride
	}
	if spec != "" {
		r, err := region.Parse(spec)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: region: %v", ErrInvalidDescription, err)
		}
		for port := range terminal.Base().NumberOfOutputs() {
			terminal.Base().Output(port).SetRequestedRegion(r)
		}
	}
	return g, terminal, nil
}

// readerPaths returns the files read by file-based source nodes.
func (d *Description) readerPaths() []string {
	var paths []string
	for _, n := range d.Nodes {
		if n.Type != "tiff-reader" {
			continue
		}
		if p, err := n.Params.String("path", ""); err == nil && p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}
