// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package filters

import (
	"context"
	"fmt"

	"github.com/AleutianAI/rasterflow/pkg/buffer"
	"github.com/AleutianAI/rasterflow/pkg/region"
	"github.com/AleutianAI/rasterflow/services/pipeline"
)

// ConstantSource produces an image where every pixel has the same value.
//
// Thread Safety:
//
//	Setters must not be called during an Update that includes the node.
type ConstantSource[T Pixel] struct {
	pipeline.BaseNode
	largest region.Region
	value   T
	spacing []float64
	origin  []float64
	out     *pipeline.DataObject
}

// NewConstantSource creates a source covering largest filled with value.
func NewConstantSource[T Pixel](name string, largest region.Region, value T) *ConstantSource[T] {
	s := &ConstantSource[T]{largest: largest.Clone(), value: value}
	s.Init(s, name)
	s.out = s.AddOutput("output", buffer.New[T]())
	return s
}

// SetValue changes the fill value.
func (s *ConstantSource[T]) SetValue(v T) {
	s.value = v
	s.Modified()
}

// SetLargestPossibleRegion changes the image domain.
func (s *ConstantSource[T]) SetLargestPossibleRegion(r region.Region) {
	s.largest = r.Clone()
	s.Modified()
}

// SetGeometry sets the physical spacing and origin reported downstream.
func (s *ConstantSource[T]) SetGeometry(spacing, origin []float64) {
	s.spacing, s.origin = spacing, origin
	s.Modified()
}

// UpdateOutputInformation publishes the domain and geometry.
func (s *ConstantSource[T]) UpdateOutputInformation(_ context.Context) error {
	if s.largest.IsEmpty() {
		return fmt.Errorf("%w: empty domain", ErrInvalidParameter)
	}
	s.out.SetLargestPossibleRegion(s.largest)
	s.out.SetSpacing(s.spacing)
	s.out.SetOrigin(s.origin)
	return nil
}

// ComputeRegion fills the partition.
func (s *ConstantSource[T]) ComputeRegion(w *pipeline.Work) error {
	buf, err := pipeline.ImageBuffer[T](s.out)
	if err != nil {
		return err
	}
	return w.ForEachLine(func(line region.Region) error {
		px := buf.Line(line)
		for i := range px {
			px[i] = s.value
		}
		return nil
	})
}

// RampSource produces offset + sum(slope[axis] * index[axis]) at every pixel.
type RampSource[T Pixel] struct {
	pipeline.BaseNode
	largest region.Region
	slopes  []float64
	offset  float64
	out     *pipeline.DataObject
}

// NewRampSource creates a ramp over largest. slopes has one entry per axis;
// missing entries are zero.
func NewRampSource[T Pixel](name string, largest region.Region, offset float64, slopes ...float64) *RampSource[T] {
	s := &RampSource[T]{largest: largest.Clone(), offset: offset, slopes: slopes}
	s.Init(s, name)
	s.out = s.AddOutput("output", buffer.New[T]())
	return s
}

// SetSlopes changes the per-axis slopes.
func (s *RampSource[T]) SetSlopes(offset float64, slopes ...float64) {
	s.offset, s.slopes = offset, slopes
	s.Modified()
}

// UpdateOutputInformation publishes the domain.
func (s *RampSource[T]) UpdateOutputInformation(_ context.Context) error {
	if s.largest.IsEmpty() {
		return fmt.Errorf("%w: empty domain", ErrInvalidParameter)
	}
	if len(s.slopes) > s.largest.Dimension() {
		return fmt.Errorf("%w: %d slopes for a %d-D domain", ErrInvalidParameter, len(s.slopes), s.largest.Dimension())
	}
	s.out.SetLargestPossibleRegion(s.largest)
	return nil
}

// ComputeRegion evaluates the ramp over the partition.
func (s *RampSource[T]) ComputeRegion(w *pipeline.Work) error {
	buf, err := pipeline.ImageBuffer[T](s.out)
	if err != nil {
		return err
	}
	var fast float64
	if len(s.slopes) > 0 {
		fast = s.slopes[0]
	}
	return w.ForEachLine(func(line region.Region) error {
		base := s.offset
		for axis, slope := range s.slopes {
			base += slope * float64(line.Index[axis])
		}
		px := buf.Line(line)
		for i := range px {
			px[i] = FromFloat[T](base + fast*float64(i))
		}
		return nil
	})
}
