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
	"math"

	"github.com/AleutianAI/rasterflow/pkg/buffer"
	"github.com/AleutianAI/rasterflow/pkg/region"
	"github.com/AleutianAI/rasterflow/services/pipeline"
)

// BoxMean replaces each pixel by the mean of its neighborhood.
//
// Description:
//
//	The neighborhood is the box of half-width Radius[axis] around the pixel,
//	cropped to the input's largest possible region. The input request is the
//	output request padded by the radius; the executive clamps it at the
//	image border.
type BoxMean[In, Out Pixel] struct {
	pipeline.BaseNode
	radius region.Size
	out    *pipeline.DataObject
}

// NewBoxMean creates a mean filter with a per-axis radius.
func NewBoxMean[In, Out Pixel](name string, radius ...uint64) *BoxMean[In, Out] {
	m := &BoxMean[In, Out]{radius: region.Size(radius)}
	m.Init(m, name)
	m.AddInput("input", true)
	m.out = m.AddOutput("output", buffer.New[Out]())
	return m
}

// SetRadius changes the neighborhood radius.
func (m *BoxMean[In, Out]) SetRadius(radius ...uint64) {
	m.radius = region.Size(radius)
	m.Modified()
}

// Radius returns the radius expanded to dim axes.
func (m *BoxMean[In, Out]) Radius(dim int) region.Size {
	r := make(region.Size, dim)
	for d := range dim {
		switch {
		case d < len(m.radius):
			r[d] = m.radius[d]
		case len(m.radius) == 1:
			r[d] = m.radius[0]
		}
	}
	return r
}

// UpdateOutputInformation validates the radius against the input domain.
func (m *BoxMean[In, Out]) UpdateOutputInformation(_ context.Context) error {
	in := m.Input(0)
	dim := in.LargestPossibleRegion().Dimension()
	if len(m.radius) > 1 && len(m.radius) != dim {
		return fmt.Errorf("%w: %d radii for a %d-D image", ErrInvalidParameter, len(m.radius), dim)
	}
	m.out.CopyInformation(in)
	return nil
}

// GenerateInputRequestedRegion pads the request by the radius.
func (m *BoxMean[In, Out]) GenerateInputRequestedRegion(_ int, requested region.Region) ([]region.Region, error) {
	padded, err := requested.Pad(m.Radius(requested.Dimension()))
	if err != nil {
		return nil, err
	}
	return []region.Region{padded}, nil
}

// ComputeRegion averages the neighborhood of every pixel in the partition.
func (m *BoxMean[In, Out]) ComputeRegion(w *pipeline.Work) error {
	input := m.Input(0)
	in, err := pipeline.ImageBuffer[In](input)
	if err != nil {
		return err
	}
	out, err := pipeline.ImageBuffer[Out](m.out)
	if err != nil {
		return err
	}
	largest := input.LargestPossibleRegion()
	radius := m.Radius(w.Region.Dimension())
	size := make(region.Size, len(radius))
	for d, r := range radius {
		size[d] = 2*r + 1
	}

	return w.ForEachLine(func(line region.Region) error {
		dst := out.Line(line)
		for i := range dst {
			corner := line.Index.Clone()
			corner[0] += int64(i)
			for d, r := range radius {
				corner[d] -= int64(r)
			}
			window, ok := region.Must(corner, size).Crop(largest)
			if !ok {
				dst[i] = 0
				continue
			}
			var sum float64
			for idx := range window.Indices() {
				sum += float64(in.At(idx))
			}
			dst[i] = FromFloat[Out](sum / float64(window.Volume()))
		}
		return nil
	})
}

// Rescale linearly maps the global range of its input onto [outMin, outMax].
//
// Description:
//
//	The input minimum and maximum are taken over the whole image, so the
//	node always requests the input's largest possible region. BeforeExecute
//	scans the input once; partitions then apply the mapping in parallel.
type Rescale[In, Out Pixel] struct {
	pipeline.BaseNode
	outMin, outMax float64

	inMin, inMax float64
	out          *pipeline.DataObject
}

// NewRescale creates a rescale filter onto [outMin, outMax].
func NewRescale[In, Out Pixel](name string, outMin, outMax float64) *Rescale[In, Out] {
	r := &Rescale[In, Out]{outMin: outMin, outMax: outMax}
	r.Init(r, name)
	r.AddInput("input", true)
	r.out = r.AddOutput("output", buffer.New[Out]())
	return r
}

// SetRange changes the output range.
func (r *Rescale[In, Out]) SetRange(outMin, outMax float64) {
	r.outMin, r.outMax = outMin, outMax
	r.Modified()
}

// InputRange returns the input range found by the last execution.
func (r *Rescale[In, Out]) InputRange() (float64, float64) {
	return r.inMin, r.inMax
}

// UpdateOutputInformation validates the output range.
func (r *Rescale[In, Out]) UpdateOutputInformation(_ context.Context) error {
	if r.outMax < r.outMin || math.IsNaN(r.outMin) || math.IsNaN(r.outMax) {
		return fmt.Errorf("%w: range [%g, %g]", ErrInvalidParameter, r.outMin, r.outMax)
	}
	r.out.CopyInformation(r.Input(0))
	return nil
}

// GenerateInputRequestedRegion requests the whole input.
func (r *Rescale[In, Out]) GenerateInputRequestedRegion(_ int, _ region.Region) ([]region.Region, error) {
	return []region.Region{r.Input(0).LargestPossibleRegion()}, nil
}

// BeforeExecute computes the input range over the buffered input. An empty
// request leaves the input unbuffered and the previous range in place.
func (r *Rescale[In, Out]) BeforeExecute(_ context.Context) error {
	input := r.Input(0)
	buffered := input.BufferedRegion()
	if buffered.IsEmpty() {
		return nil
	}
	in, err := pipeline.ImageBuffer[In](input)
	if err != nil {
		return err
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for line := range buffered.Lines() {
		for _, v := range in.Line(line) {
			f := float64(v)
			lo, hi = min(lo, f), max(hi, f)
		}
	}
	r.inMin, r.inMax = lo, hi
	return nil
}

// ComputeRegion applies the linear mapping.
func (r *Rescale[In, Out]) ComputeRegion(w *pipeline.Work) error {
	in, err := pipeline.ImageBuffer[In](r.Input(0))
	if err != nil {
		return err
	}
	out, err := pipeline.ImageBuffer[Out](r.out)
	if err != nil {
		return err
	}
	scale := 0.0
	if r.inMax > r.inMin {
		scale = (r.outMax - r.outMin) / (r.inMax - r.inMin)
	}
	return w.ForEachLine(func(line region.Region) error {
		src, dst := in.Line(line), out.Line(line)
		for i := range dst {
			dst[i] = FromFloat[Out](r.outMin + (float64(src[i])-r.inMin)*scale)
		}
		return nil
	})
}
