// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package region provides axis-aligned index/size boxes over N-dimensional
// integer grids.
//
// A Region is the currency of the streaming pipeline: requested, buffered
// and largest-possible extents of every DataObject are Regions, and the
// threaded dispatcher hands each worker one Region to compute.
//
// # Conventions
//
// Axis 0 is the fastest-varying axis (a scanline runs along axis 0). A
// Region whose size has any zero component is empty; empty regions are
// valid "no-op" values and never an error.
//
// # Thread Safety
//
// Region values are immutable by convention. Every operation returns a new
// Region with freshly allocated Index and Size slices, so Regions may be
// shared freely between goroutines as long as callers do not mutate the
// slices in place.
package region

import (
	"errors"
	"fmt"
	"iter"
	"math"
	"math/bits"
	"strconv"
	"strings"
)

var (
	// ErrDimensionMismatch is returned when two regions, or an index and a
	// size, disagree on the number of axes.
	ErrDimensionMismatch = errors.New("region dimension mismatch")

	// ErrInvalidRegion is returned when a region string cannot be parsed.
	ErrInvalidRegion = errors.New("invalid region")
)

// Index is an N-dimensional integer origin.
type Index []int64

// Size is an N-dimensional extent. Components are never negative.
type Size []uint64

// Clone returns a copy of the index.
func (i Index) Clone() Index {
	if i == nil {
		return nil
	}
	out := make(Index, len(i))
	copy(out, i)
	return out
}

// Clone returns a copy of the size.
func (s Size) Clone() Size {
	if s == nil {
		return nil
	}
	out := make(Size, len(s))
	copy(out, s)
	return out
}

// Region is an axis-aligned box: the half-open interval
// [Index[d], Index[d]+Size[d]) on every axis d.
type Region struct {
	Index Index
	Size  Size
}

// New creates a Region, validating that index and size have the same
// number of axes.
//
// Inputs:
//
//	index - Origin of the region.
//	size - Extent of the region.
//
// Outputs:
//
//	Region - The region, holding copies of index and size.
//	error - ErrDimensionMismatch if the lengths differ.
func New(index Index, size Size) (Region, error) {
	if len(index) != len(size) {
		return Region{}, fmt.Errorf("%w: index has %d axes, size has %d",
			ErrDimensionMismatch, len(index), len(size))
	}
	return Region{Index: index.Clone(), Size: size.Clone()}, nil
}

// Must is like New but panics on error. Intended for literals in tests and
// package-level variables.
func Must(index Index, size Size) Region {
	r, err := New(index, size)
	if err != nil {
		panic(err)
	}
	return r
}

// Rect is shorthand for a two-dimensional region.
func Rect(x, y int64, w, h uint64) Region {
	return Region{Index: Index{x, y}, Size: Size{w, h}}
}

// Empty returns an empty region with the given number of axes.
func Empty(dim int) Region {
	return Region{Index: make(Index, dim), Size: make(Size, dim)}
}

// Dimension returns the number of axes.
func (r Region) Dimension() int {
	return len(r.Size)
}

// IsEmpty reports whether the region covers no grid points.
func (r Region) IsEmpty() bool {
	if len(r.Size) == 0 {
		return true
	}
	for _, s := range r.Size {
		if s == 0 {
			return true
		}
	}
	return false
}

// Volume returns the number of grid points covered by the region.
// Saturates at math.MaxUint64 on overflow; use CheckedVolume to detect it.
func (r Region) Volume() uint64 {
	v, ok := r.CheckedVolume()
	if !ok {
		return math.MaxUint64
	}
	return v
}

// CheckedVolume returns the volume and false if it overflows uint64.
func (r Region) CheckedVolume() (uint64, bool) {
	if r.IsEmpty() {
		return 0, true
	}
	v := uint64(1)
	for _, s := range r.Size {
		hi, lo := bits.Mul64(v, s)
		if hi != 0 {
			return 0, false
		}
		v = lo
	}
	return v, true
}

// Upper returns the exclusive upper corner Index+Size.
func (r Region) Upper() Index {
	out := make(Index, len(r.Index))
	for d := range r.Index {
		out[d] = r.Index[d] + int64(r.Size[d])
	}
	return out
}

// Clone returns a deep copy.
func (r Region) Clone() Region {
	return Region{Index: r.Index.Clone(), Size: r.Size.Clone()}
}

// Equal reports whether two regions have identical index and size.
// Two empty regions of the same dimension compare equal only if their
// index and size match exactly.
func (r Region) Equal(o Region) bool {
	if len(r.Index) != len(o.Index) || len(r.Size) != len(o.Size) {
		return false
	}
	for d := range r.Index {
		if r.Index[d] != o.Index[d] || r.Size[d] != o.Size[d] {
			return false
		}
	}
	return true
}

// ContainsIndex reports whether idx lies inside the region.
func (r Region) ContainsIndex(idx Index) bool {
	if len(idx) != len(r.Index) || r.IsEmpty() {
		return false
	}
	for d := range idx {
		if idx[d] < r.Index[d] || idx[d] >= r.Index[d]+int64(r.Size[d]) {
			return false
		}
	}
	return true
}

// Contains reports whether o lies entirely inside r.
//
// An empty o is contained in any region of the same dimension, which lets
// an empty requested region be "satisfied" by any buffer.
func (r Region) Contains(o Region) bool {
	if o.Dimension() != r.Dimension() {
		return false
	}
	if o.IsEmpty() {
		return true
	}
	if r.IsEmpty() {
		return false
	}
	for d := range r.Index {
		if o.Index[d] < r.Index[d] {
			return false
		}
		if o.Index[d]+int64(o.Size[d]) > r.Index[d]+int64(r.Size[d]) {
			return false
		}
	}
	return true
}

// IsInside reports whether r lies entirely inside outer.
func (r Region) IsInside(outer Region) bool {
	return outer.Contains(r)
}

// Intersect returns the overlap of r and o.
//
// Outputs:
//
//	Region - The overlap. When there is no overlap the result is an empty
//	         region of r's dimension.
//	bool - True if the overlap is non-empty.
func (r Region) Intersect(o Region) (Region, bool) {
	if r.Dimension() != o.Dimension() {
		return Empty(r.Dimension()), false
	}
	out := Empty(r.Dimension())
	if r.IsEmpty() || o.IsEmpty() {
		return out, false
	}
	for d := range r.Index {
		lo := max(r.Index[d], o.Index[d])
		hi := min(r.Index[d]+int64(r.Size[d]), o.Index[d]+int64(o.Size[d]))
		if hi <= lo {
			return Empty(r.Dimension()), false
		}
		out.Index[d] = lo
		out.Size[d] = uint64(hi - lo)
	}
	return out, true
}

// Crop clips r to bounds. Identical to Intersect; named for the common
// "clamp to largest possible region" call site.
func (r Region) Crop(bounds Region) (Region, bool) {
	return r.Intersect(bounds)
}

// Pad grows the region by radius[d] grid points on both sides of axis d.
// Padding an empty region yields the same empty region.
func (r Region) Pad(radius Size) (Region, error) {
	if len(radius) != r.Dimension() {
		return Region{}, fmt.Errorf("%w: radius has %d axes, region has %d",
			ErrDimensionMismatch, len(radius), r.Dimension())
	}
	if r.IsEmpty() {
		return r.Clone(), nil
	}
	out := r.Clone()
	for d, rad := range radius {
		out.Index[d] -= int64(rad)
		out.Size[d] += 2 * rad
	}
	return out, nil
}

// PadUniform pads every axis by the same radius.
func (r Region) PadUniform(radius uint64) Region {
	rad := make(Size, r.Dimension())
	for d := range rad {
		rad[d] = radius
	}
	out, _ := r.Pad(rad)
	return out
}

// BoundingUnion returns the smallest region containing both r and o.
// Empty operands are ignored.
func (r Region) BoundingUnion(o Region) Region {
	switch {
	case r.IsEmpty() && o.IsEmpty():
		return Empty(max(r.Dimension(), o.Dimension()))
	case r.IsEmpty():
		return o.Clone()
	case o.IsEmpty() || r.Dimension() != o.Dimension():
		return r.Clone()
	}
	out := Empty(r.Dimension())
	for d := range r.Index {
		lo := min(r.Index[d], o.Index[d])
		hi := max(r.Index[d]+int64(r.Size[d]), o.Index[d]+int64(o.Size[d]))
		out.Index[d] = lo
		out.Size[d] = uint64(hi - lo)
	}
	return out
}

// LineCount returns the number of axis-0 scanlines in the region.
func (r Region) LineCount() uint64 {
	if r.IsEmpty() {
		return 0
	}
	return r.Volume() / r.Size[0]
}

// Lines iterates the axis-0 scanlines of r in memory order: axis 1 varies
// fastest, then axis 2, and so on. Each yielded region has Size[0] equal to
// r.Size[0] and size 1 on every other axis.
func (r Region) Lines() iter.Seq[Region] {
	return func(yield func(Region) bool) {
		if r.IsEmpty() {
			return
		}
		dim := r.Dimension()
		cursor := r.Index.Clone()
		for {
			line := Region{Index: cursor.Clone(), Size: make(Size, dim)}
			line.Size[0] = r.Size[0]
			for d := 1; d < dim; d++ {
				line.Size[d] = 1
			}
			if !yield(line) {
				return
			}
			d := 1
			for ; d < dim; d++ {
				cursor[d]++
				if cursor[d] < r.Index[d]+int64(r.Size[d]) {
					break
				}
				cursor[d] = r.Index[d]
			}
			if d == dim {
				return
			}
		}
	}
}

// Indices iterates every grid point of r in memory order (axis 0 fastest).
// The yielded Index is reused between iterations; clone it to retain it.
func (r Region) Indices() iter.Seq[Index] {
	return func(yield func(Index) bool) {
		if r.IsEmpty() {
			return
		}
		dim := r.Dimension()
		cursor := r.Index.Clone()
		for {
			if !yield(cursor) {
				return
			}
			d := 0
			for ; d < dim; d++ {
				cursor[d]++
				if cursor[d] < r.Index[d]+int64(r.Size[d]) {
					break
				}
				cursor[d] = r.Index[d]
			}
			if d == dim {
				return
			}
		}
	}
}

// String renders the region as "x,y:w,h", the same form Parse accepts.
func (r Region) String() string {
	var b strings.Builder
	for d, v := range r.Index {
		if d > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatInt(v, 10))
	}
	b.WriteByte(':')
	for d, v := range r.Size {
		if d > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatUint(v, 10))
	}
	return b.String()
}

// Parse reads a region written as "i0,i1,...:s0,s1,...".
//
// Example:
//
//	r, err := region.Parse("10,10:5,5")
func Parse(s string) (Region, error) {
	idxPart, sizePart, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return Region{}, fmt.Errorf("%w: %q: expected index:size", ErrInvalidRegion, s)
	}
	idxFields := strings.Split(idxPart, ",")
	sizeFields := strings.Split(sizePart, ",")
	if len(idxFields) != len(sizeFields) {
		return Region{}, fmt.Errorf("%w: %q", ErrDimensionMismatch, s)
	}
	out := Empty(len(idxFields))
	for d := range idxFields {
		v, err := strconv.ParseInt(strings.TrimSpace(idxFields[d]), 10, 64)
		if err != nil {
			return Region{}, fmt.Errorf("%w: index axis %d: %v", ErrInvalidRegion, d, err)
		}
		out.Index[d] = v
		sz, err := strconv.ParseUint(strings.TrimSpace(sizeFields[d]), 10, 64)
		if err != nil {
			return Region{}, fmt.Errorf("%w: size axis %d: %v", ErrInvalidRegion, d, err)
		}
		out.Size[d] = sz
	}
	return out, nil
}
