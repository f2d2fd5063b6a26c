// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package registry

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/rasterflow/pkg/region"
	"github.com/AleutianAI/rasterflow/services/pipeline"
)

var specValidate = validator.New()

// NodeSpec describes one node of a pipeline.
type NodeSpec struct {
	// Name is the unique node name.
	Name string `yaml:"name" json:"name" validate:"required,excludesall=:/"`

	// Type is the registered tag.
	Type string `yaml:"type" json:"type" validate:"required"`

	// Pixel is the pixel type. Default: float64.
	Pixel string `yaml:"pixel" json:"pixel,omitempty" validate:"omitempty,oneof=uint8 uint16 int16 int32 float32 float64"`

	// Inputs names the producer of each input port, in port order, as
	// "node" or "node:output".
	Inputs []string `yaml:"inputs" json:"inputs,omitempty" validate:"dive,required"`

	// Threads overrides the executive's worker count for this node.
	Threads int `yaml:"threads" json:"threads,omitempty" validate:"gte=0,lte=4096"`

	// ReleaseData releases the node's outputs once consumed.
	ReleaseData bool `yaml:"release_data" json:"release_data,omitempty"`

	// Params holds type-specific parameters.
	Params Params `yaml:"params" json:"params,omitempty"`
}

// Validate checks the struct tags.
func (s NodeSpec) Validate() error {
	if err := specValidate.Struct(s); err != nil {
		return fmt.Errorf("%w: node %q: %v", ErrInvalidSpec, s.Name, err)
	}
	return nil
}

// PixelType returns Pixel or its default.
func (s NodeSpec) PixelType() string {
	if s.Pixel == "" {
		return "float64"
	}
	return s.Pixel
}

// Params holds decoded YAML parameters.
type Params map[string]any

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}

// Float returns a numeric parameter, or def when absent.
func (p Params) Float(key string, def float64) (float64, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	f, ok := toFloat(v)
	if !ok {
		return 0, fmt.Errorf("%w: param %q: want a number, got %T", ErrInvalidSpec, key, v)
	}
	return f, nil
}

// Int returns an integer parameter, or def when absent.
func (p Params) Int(key string, def int) (int, error) {
	f, err := p.Float(key, float64(def))
	if err != nil {
		return 0, err
	}
	if f != float64(int(f)) {
		return 0, fmt.Errorf("%w: param %q: want an integer, got %g", ErrInvalidSpec, key, f)
	}
	return int(f), nil
}

// String returns a string parameter, or def when absent.
func (p Params) String(key, def string) (string, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: param %q: want a string, got %T", ErrInvalidSpec, key, v)
	}
	return s, nil
}

// RequiredString returns a non-empty string parameter.
func (p Params) RequiredString(key string) (string, error) {
	s, err := p.String(key, "")
	if err != nil {
		return "", err
	}
	if s == "" {
		return "", fmt.Errorf("%w: param %q is required", ErrInvalidSpec, key)
	}
	return s, nil
}

// Floats returns a list parameter. A single number is a one-element list.
func (p Params) Floats(key string) ([]float64, error) {
	v, ok := p[key]
	if !ok {
		return nil, nil
	}
	if f, ok := toFloat(v); ok {
		return []float64{f}, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: param %q: want a list of numbers, got %T", ErrInvalidSpec, key, v)
	}
	out := make([]float64, len(list))
	for i, item := range list {
		f, ok := toFloat(item)
		if !ok {
			return nil, fmt.Errorf("%w: param %q[%d]: want a number, got %T", ErrInvalidSpec, key, i, item)
		}
		out[i] = f
	}
	return out, nil
}

// Uints returns a list of non-negative integers, or def when absent.
func (p Params) Uints(key string, def ...uint64) ([]uint64, error) {
	fs, err := p.Floats(key)
	if err != nil {
		return nil, err
	}
	if fs == nil {
		return def, nil
	}
	out := make([]uint64, len(fs))
	for i, f := range fs {
		if f < 0 || f != float64(uint64(f)) {
			return nil, fmt.Errorf("%w: param %q[%d]: want a non-negative integer, got %g", ErrInvalidSpec, key, i, f)
		}
		out[i] = uint64(f)
	}
	return out, nil
}

// Region returns a region parameter written as "x,y:w,h".
func (p Params) Region(key string) (region.Region, error) {
	s, err := p.RequiredString(key)
	if err != nil {
		return region.Region{}, err
	}
	r, err := region.Parse(s)
	if err != nil {
		return region.Region{}, fmt.Errorf("%w: param %q: %v", ErrInvalidSpec, key, err)
	}
	return r, nil
}

// parseInputRef splits "node" or "node:output".
func parseInputRef(ref string) (string, int, error) {
	name, port, found := strings.Cut(ref, ":")
	if !found {
		return name, 0, nil
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 0 {
		return "", 0, fmt.Errorf("%w: input %q: bad output index", ErrInvalidSpec, ref)
	}
	return name, n, nil
}

// BuildGraph creates, wires and validates the nodes of a pipeline.
//
// Description:
//
//	Nodes are created in order with reg. Each input reference is then bound
//	to the named producer's output, and the result is validated by
//	pipeline.Builder.
//
// Inputs:
//
//	name - Graph name.
//	specs - Node descriptions. Names must be unique.
//	reg - Registry used to create nodes.
//	env - Shared resources. Caller closes it after the graph is done.
//
// Outputs:
//
//	*pipeline.Graph - The validated graph.
//	error - ErrInvalidSpec, ErrUnknownType or a pipeline configuration error.
func BuildGraph(name string, specs []NodeSpec, reg *Registry, env *Env) (*pipeline.Graph, error) {
	if reg == nil {
		return nil, fmt.Errorf("%w: nil registry", ErrInvalidSpec)
	}
	nodes := make(map[string]pipeline.Node, len(specs))
	b := pipeline.NewBuilder(name)
	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		n, err := reg.New(spec, env)
		if err != nil {
			return nil, err
		}
		nodes[spec.Name] = n
		b.AddNode(n)
	}

	for _, spec := range specs {
		n := nodes[spec.Name]
		if len(spec.Inputs) > n.Base().NumberOfInputs() {
			return nil, fmt.Errorf("%w: node %q has %d inputs, %d given",
				ErrInvalidSpec, spec.Name, n.Base().NumberOfInputs(), len(spec.Inputs))
		}
		for port, ref := range spec.Inputs {
			srcName, srcPort, err := parseInputRef(ref)
			if err != nil {
				return nil, err
			}
			src, ok := nodes[srcName]
			if !ok {
				return nil, fmt.Errorf("%w: node %q input %d: no node %q", ErrInvalidSpec, spec.Name, port, srcName)
			}
			if err := pipeline.Connect(src, srcPort, n, port); err != nil {
				return nil, fmt.Errorf("node %q input %d: %w", spec.Name, port, err)
			}
		}
		if spec.ReleaseData {
			for port := range n.Base().NumberOfOutputs() {
				n.Base().Output(port).SetReleaseDataFlag(true)
			}
		}
	}
	return b.Build()
}
