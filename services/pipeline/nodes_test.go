// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/AleutianAI/rasterflow/pkg/buffer"
	"github.com/AleutianAI/rasterflow/pkg/region"
)

// callRecorder counts ComputeRegion calls and remembers their regions.
type callRecorder struct {
	calls   atomic.Int64
	mu      sync.Mutex
	regions []region.Region
}

func (c *callRecorder) record(r region.Region) {
	c.calls.Add(1)
	c.mu.Lock()
	c.regions = append(c.regions, r.Clone())
	c.mu.Unlock()
}

func (c *callRecorder) reset() {
	c.calls.Store(0)
	c.mu.Lock()
	c.regions = nil
	c.mu.Unlock()
}

func (c *callRecorder) covered() region.Region {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out region.Region
	for i, r := range c.regions {
		if i == 0 {
			out = r
			continue
		}
		out = out.BoundingUnion(r)
	}
	return out
}

// testSource fills its output with value, or with x + 1000*y when ramp is set.
type testSource struct {
	BaseNode
	callRecorder
	largest region.Region
	value   float64
	ramp    bool
	out     *DataObject
}

func newTestSource(name string, largest region.Region, value float64) *testSource {
	s := &testSource{largest: largest, value: value}
	s.Init(s, name)
	s.out = s.AddOutput("output", buffer.New[float64]())
	return s
}

func (s *testSource) UpdateOutputInformation(_ context.Context) error {
	s.out.SetLargestPossibleRegion(s.largest)
	return nil
}

func (s *testSource) ComputeRegion(w *Work) error {
	s.record(w.Region)
	buf, err := ImageBuffer[float64](s.out)
	if err != nil {
		return err
	}
	if !s.ramp {
		buf.Fill(w.Region, s.value)
		return nil
	}
	return w.ForEachLine(func(line region.Region) error {
		px := buf.Line(line)
		for i := range px {
			px[i] = float64(line.Index[0]+int64(i)) + 1000*float64(line.Index[1])
		}
		return nil
	})
}

// testAdd adds k to its input. hook runs before the pixels of a partition.
type testAdd struct {
	BaseNode
	callRecorder
	k    float64
	hook func(w *Work) error
	out  *DataObject
}

func newTestAdd(name string, k float64) *testAdd {
	a := &testAdd{k: k}
	a.Init(a, name)
	a.AddInput("input", true)
	a.out = a.AddOutput("output", buffer.New[float64]())
	return a
}

func (a *testAdd) SetConstant(k float64) {
	a.k = k
	a.Modified()
}

func (a *testAdd) ComputeRegion(w *Work) error {
	a.record(w.Region)
	if a.hook != nil {
		if err := a.hook(w); err != nil {
			return err
		}
	}
	in, err := ImageBuffer[float64](a.Input(0))
	if err != nil {
		return err
	}
	out, err := ImageBuffer[float64](a.out)
	if err != nil {
		return err
	}
	return w.ForEachLine(func(line region.Region) error {
		src, dst := in.Line(line), out.Line(line)
		for i := range dst {
			dst[i] = src[i] + a.k
		}
		return nil
	})
}

// testPad needs a one-pixel halo and copies the center pixel.
type testPad struct {
	BaseNode
	callRecorder
	out *DataObject
}

func newTestPad(name string) *testPad {
	p := &testPad{}
	p.Init(p, name)
	p.AddInput("input", true)
	p.out = p.AddOutput("output", buffer.New[float64]())
	return p
}

func (p *testPad) GenerateInputRequestedRegion(_ int, requested region.Region) ([]region.Region, error) {
	return []region.Region{requested.PadUniform(1)}, nil
}

func (p *testPad) ComputeRegion(w *Work) error {
	p.record(w.Region)
	in, err := ImageBuffer[float64](p.Input(0))
	if err != nil {
		return err
	}
	out, err := ImageBuffer[float64](p.out)
	if err != nil {
		return err
	}
	for idx := range w.Region.Indices() {
		out.Set(idx, in.At(idx))
	}
	return nil
}

// testSum adds two inputs pixel by pixel.
type testSum struct {
	BaseNode
	callRecorder
	out *DataObject
}

func newTestSum(name string) *testSum {
	s := &testSum{}
	s.Init(s, name)
	s.AddInput("a", true)
	s.AddInput("b", true)
	s.out = s.AddOutput("output", buffer.New[float64]())
	return s
}

func (s *testSum) ComputeRegion(w *Work) error {
	s.record(w.Region)
	a, err := ImageBuffer[float64](s.Input(0))
	if err != nil {
		return err
	}
	b, err := ImageBuffer[float64](s.Input(1))
	if err != nil {
		return err
	}
	out, err := ImageBuffer[float64](s.out)
	if err != nil {
		return err
	}
	return w.ForEachLine(func(line region.Region) error {
		pa, pb, dst := a.Line(line), b.Line(line), out.Line(line)
		for i := range dst {
			dst[i] = pa[i] + pb[i]
		}
		return nil
	})
}

// testWholeImage always computes its whole output.
type testWholeImage struct {
	testAdd
}

func newTestWholeImage(name string) *testWholeImage {
	n := &testWholeImage{}
	n.Init(n, name)
	n.AddInput("input", true)
	n.out = n.AddOutput("output", buffer.New[float64]())
	return n
}

func (n *testWholeImage) EnlargeOutputRequestedRegion(_, largest region.Region) region.Region {
	return largest
}

// testHooked is an add filter whose execution hooks call before and after
// with the context they receive.
type testHooked struct {
	testAdd
	before func(ctx context.Context)
	after  func(ctx context.Context)
	info   func(ctx context.Context)
}

func newTestHooked(name string) *testHooked {
	n := &testHooked{}
	n.Init(n, name)
	n.AddInput("input", true)
	n.out = n.AddOutput("output", buffer.New[float64]())
	return n
}

func (n *testHooked) UpdateOutputInformation(ctx context.Context) error {
	if n.info != nil {
		n.info(ctx)
	}
	return n.BaseNode.UpdateOutputInformation(ctx)
}

func (n *testHooked) BeforeExecute(ctx context.Context) error {
	if n.before != nil {
		n.before(ctx)
	}
	return nil
}

func (n *testHooked) AfterExecute(ctx context.Context) error {
	if n.after != nil {
		n.after(ctx)
	}
	return nil
}
