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

// UnaryFunctor applies fn to every pixel of its input.
//
// Description:
//
//	The output has the input's domain and geometry. Each output pixel depends
//	only on the input pixel at the same index, so the input request equals
//	the output request.
//
// Thread Safety:
//
//	fn is called concurrently from several workers and must be pure.
type UnaryFunctor[In, Out Pixel] struct {
	pipeline.BaseNode
	fn  func(In) Out
	out *pipeline.DataObject
}

// NewUnaryFunctor creates a pointwise filter.
func NewUnaryFunctor[In, Out Pixel](name string, fn func(In) Out) *UnaryFunctor[In, Out] {
	f := &UnaryFunctor[In, Out]{fn: fn}
	f.Init(f, name)
	f.AddInput("input", true)
	f.out = f.AddOutput("output", buffer.New[Out]())
	return f
}

// NewAdd creates a filter adding k to every pixel.
func NewAdd[T Pixel](name string, k float64) *UnaryFunctor[T, T] {
	return NewUnaryFunctor(name, func(v T) T { return FromFloat[T](float64(v) + k) })
}

// NewScale creates a filter computing v*factor + offset.
func NewScale[In, Out Pixel](name string, factor, offset float64) *UnaryFunctor[In, Out] {
	return NewUnaryFunctor(name, func(v In) Out { return FromFloat[Out](float64(v)*factor + offset) })
}

// SetFunc replaces the pixel function.
func (f *UnaryFunctor[In, Out]) SetFunc(fn func(In) Out) {
	f.fn = fn
	f.Modified()
}

// ComputeRegion applies the function over the partition.
func (f *UnaryFunctor[In, Out]) ComputeRegion(w *pipeline.Work) error {
	if f.fn == nil {
		return fmt.Errorf("%w: nil function", ErrInvalidParameter)
	}
	in, err := pipeline.ImageBuffer[In](f.Input(0))
	if err != nil {
		return err
	}
	out, err := pipeline.ImageBuffer[Out](f.out)
	if err != nil {
		return err
	}
	return w.ForEachLine(func(line region.Region) error {
		src, dst := in.Line(line), out.Line(line)
		for i := range dst {
			dst[i] = f.fn(src[i])
		}
		return nil
	})
}

// BinaryFunctor combines two inputs pixel by pixel.
//
// Description:
//
//	The output domain is the intersection of the two input domains.
//	Geometry is copied from the first input.
type BinaryFunctor[A, B, Out Pixel] struct {
	pipeline.BaseNode
	fn  func(A, B) Out
	out *pipeline.DataObject
}

// NewBinaryFunctor creates a two-input pointwise filter.
func NewBinaryFunctor[A, B, Out Pixel](name string, fn func(A, B) Out) *BinaryFunctor[A, B, Out] {
	f := &BinaryFunctor[A, B, Out]{fn: fn}
	f.Init(f, name)
	f.AddInput("a", true)
	f.AddInput("b", true)
	f.out = f.AddOutput("output", buffer.New[Out]())
	return f
}

// NewSum creates a filter adding its two inputs.
func NewSum[T Pixel](name string) *BinaryFunctor[T, T, T] {
	return NewBinaryFunctor(name, func(a, b T) T { return FromFloat[T](float64(a) + float64(b)) })
}

// UpdateOutputInformation intersects the input domains.
func (f *BinaryFunctor[A, B, Out]) UpdateOutputInformation(_ context.Context) error {
	a, b := f.Input(0), f.Input(1)
	la, lb := a.LargestPossibleRegion(), b.LargestPossibleRegion()
	if la.Dimension() != lb.Dimension() {
		return fmt.Errorf("%w: %d-D and %d-D", ErrRegionMismatch, la.Dimension(), lb.Dimension())
	}
	common, ok := la.Intersect(lb)
	if !ok {
		return fmt.Errorf("%w: %v and %v do not overlap", ErrRegionMismatch, la, lb)
	}
	f.out.CopyInformation(a)
	f.out.SetLargestPossibleRegion(common)
	return nil
}

// ComputeRegion combines the inputs over the partition.
func (f *BinaryFunctor[A, B, Out]) ComputeRegion(w *pipeline.Work) error {
	a, err := pipeline.ImageBuffer[A](f.Input(0))
	if err != nil {
		return err
	}
	b, err := pipeline.ImageBuffer[B](f.Input(1))
	if err != nil {
		return err
	}
	out, err := pipeline.ImageBuffer[Out](f.out)
	if err != nil {
		return err
	}
	return w.ForEachLine(func(line region.Region) error {
		pa, pb, dst := a.Line(line), b.Line(line), out.Line(line)
		for i := range dst {
			dst[i] = f.fn(pa[i], pb[i])
		}
		return nil
	})
}
