// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package buffer provides lazily allocated, contiguous N-dimensional pixel
// storage keyed by a region.Region.
//
// # Allocation Policy
//
// A Buffer is grow-only within one generation: Reserve reallocates only when
// the requested region is not already covered by the allocated region, and
// the new allocation is the bounding union of the old allocation and the
// request. Storage shrinks only on an explicit Release, which also starts a
// new generation. Pixel contents are not carried across a reallocation; the
// pipeline recomputes the requested region after every Reserve that
// reports a reallocation.
//
// # Shared Storage
//
// Raw storage is reference counted. ShareFrom makes two buffers point at
// the same storage (a shallow copy); MakeExclusive copies the storage if it
// is shared, so a writer never mutates pixels another buffer can see.
//
// # Layout
//
// Axis 0 varies fastest. The stride of axis d is the product of the
// allocated sizes of axes 0..d-1, so a scanline along axis 0 is a
// contiguous slice of Data().
//
// # Thread Safety
//
// Reserve, Release, ShareFrom and MakeExclusive must not run concurrently
// with any other method. Once allocation is done, concurrent At/Line reads
// are safe, and concurrent writes are safe when they touch disjoint pixels.
package buffer

import (
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/AleutianAI/rasterflow/pkg/region"
)

var (
	// ErrAllocation is returned when storage for a region cannot be
	// allocated (volume overflow or a runtime allocation failure).
	ErrAllocation = errors.New("buffer allocation failed")

	// ErrAllocationLimit is returned when a reservation would exceed the
	// caller-supplied byte budget.
	ErrAllocationLimit = errors.New("buffer allocation exceeds limit")

	// ErrTypeMismatch is returned by ShareFrom when the two buffers hold
	// different pixel types.
	ErrTypeMismatch = errors.New("buffer pixel type mismatch")
)

// Storage is the type-erased view of a Buffer used by the pipeline engine,
// which manages allocation without knowing the pixel type.
type Storage interface {
	// Region returns the allocated region. Empty when nothing is allocated.
	Region() region.Region

	// Reserve ensures r is covered by the allocation. Returns true if the
	// storage was (re)allocated. maxBytes <= 0 means no limit.
	Reserve(r region.Region, maxBytes int64) (bool, error)

	// Release drops the storage and starts a new generation.
	Release()

	// Bytes returns the size of the allocated storage in bytes.
	Bytes() int64

	// ElementSize returns the size of one pixel in bytes.
	ElementSize() int

	// Generation increments on every reallocation and release.
	Generation() uint64

	// Shared reports whether the raw storage is referenced by another buffer.
	Shared() bool

	// MakeExclusive copies shared storage so this buffer owns it alone.
	MakeExclusive()

	// ShareFrom makes this buffer reference other's storage.
	ShareFrom(other Storage) error
}

// storage is reference-counted raw pixel memory.
type storage[T any] struct {
	data []T
	refs atomic.Int32
}

// Buffer is typed N-dimensional pixel storage.
type Buffer[T any] struct {
	allocated  region.Region
	strides    []int64
	store      *storage[T]
	generation uint64
}

var _ Storage = (*Buffer[float32])(nil)

// New returns an unallocated buffer.
func New[T any]() *Buffer[T] {
	return &Buffer[T]{}
}

// Region returns the allocated region.
func (b *Buffer[T]) Region() region.Region {
	return b.allocated.Clone()
}

// ElementSize returns the size of T in bytes.
func (b *Buffer[T]) ElementSize() int {
	var zero T
	return int(unsafe.Sizeof(zero))
}

// Bytes returns the allocated size in bytes.
func (b *Buffer[T]) Bytes() int64 {
	if b.store == nil {
		return 0
	}
	return int64(len(b.store.data)) * int64(b.ElementSize())
}

// Generation returns the allocation generation counter.
func (b *Buffer[T]) Generation() uint64 {
	return b.generation
}

// Reserve ensures the allocation covers r.
//
// Description:
//
//	When r is empty or already inside the allocated region, Reserve does
//	nothing. Otherwise it allocates fresh storage for the bounding union of
//	the current allocation and r (or exactly r when nothing is allocated or
//	the dimensionality changed). Previous pixel values are discarded.
//
// Inputs:
//
//	r - Region that must be addressable after the call.
//	maxBytes - Byte budget for the new allocation. <= 0 means unlimited.
//
// Outputs:
//
//	bool - True if storage was reallocated.
//	error - ErrAllocationLimit or ErrAllocation on failure. The buffer is
//	        unchanged on error.
func (b *Buffer[T]) Reserve(r region.Region, maxBytes int64) (bool, error) {
	if r.IsEmpty() {
		return false, nil
	}
	if b.store != nil && b.allocated.Contains(r) {
		return false, nil
	}

	target := r.Clone()
	if b.store != nil && b.allocated.Dimension() == r.Dimension() {
		target = b.allocated.BoundingUnion(r)
	}

	volume, ok := target.CheckedVolume()
	if !ok || volume > uint64(maxInt) {
		return false, fmt.Errorf("%w: volume of %v overflows", ErrAllocation, target)
	}
	elem := uint64(b.ElementSize())
	if elem > 0 && volume > uint64(maxInt)/elem {
		return false, fmt.Errorf("%w: %v needs more than %d bytes", ErrAllocation, target, maxInt)
	}
	bytes := int64(volume * elem)
	if maxBytes > 0 && bytes > maxBytes {
		return false, fmt.Errorf("%w: %v needs %d bytes, limit %d", ErrAllocationLimit, target, bytes, maxBytes)
	}

	data, err := allocate[T](int(volume))
	if err != nil {
		return false, fmt.Errorf("%w: %v: %v", ErrAllocation, target, err)
	}

	b.dropStore()
	st := &storage[T]{data: data}
	st.refs.Store(1)
	b.store = st
	b.allocated = target
	b.strides = computeStrides(target.Size)
	b.generation++
	return true, nil
}

// allocate converts a runtime allocation panic into an error.
func allocate[T any](n int) (data []T, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%v", rec)
		}
	}()
	return make([]T, n), nil
}

// Release drops the storage. The allocated region becomes empty.
func (b *Buffer[T]) Release() {
	b.dropStore()
	b.allocated = region.Empty(b.allocated.Dimension())
	b.strides = nil
	b.generation++
}

func (b *Buffer[T]) dropStore() {
	if b.store != nil {
		b.store.refs.Add(-1)
		b.store = nil
	}
}

// Shared reports whether another buffer references the same storage.
func (b *Buffer[T]) Shared() bool {
	return b.store != nil && b.store.refs.Load() > 1
}

// MakeExclusive copies the storage if it is shared.
func (b *Buffer[T]) MakeExclusive() {
	if !b.Shared() {
		return
	}
	data := make([]T, len(b.store.data))
	copy(data, b.store.data)
	b.store.refs.Add(-1)
	st := &storage[T]{data: data}
	st.refs.Store(1)
	b.store = st
}

// ShareFrom makes b a shallow copy of other.
//
// Outputs:
//
//	error - ErrTypeMismatch if other does not hold pixels of type T.
func (b *Buffer[T]) ShareFrom(other Storage) error {
	o, ok := other.(*Buffer[T])
	if !ok {
		return fmt.Errorf("%w: %T into %T", ErrTypeMismatch, other, b)
	}
	if o == b {
		return nil
	}
	b.dropStore()
	if o.store != nil {
		o.store.refs.Add(1)
	}
	b.store = o.store
	b.allocated = o.allocated.Clone()
	b.strides = append([]int64(nil), o.strides...)
	b.generation++
	return nil
}

// Strides returns the element stride of each axis.
func (b *Buffer[T]) Strides() []int64 {
	return append([]int64(nil), b.strides...)
}

// Data returns the raw pixel slice in memory order.
func (b *Buffer[T]) Data() []T {
	if b.store == nil {
		return nil
	}
	return b.store.data
}

// Offset returns the position of idx in Data(). idx must lie inside the
// allocated region.
func (b *Buffer[T]) Offset(idx region.Index) int {
	var off int64
	for d, v := range idx {
		off += (v - b.allocated.Index[d]) * b.strides[d]
	}
	return int(off)
}

// At returns the pixel at idx.
func (b *Buffer[T]) At(idx region.Index) T {
	return b.store.data[b.Offset(idx)]
}

// Set writes the pixel at idx.
func (b *Buffer[T]) Set(idx region.Index, v T) {
	b.store.data[b.Offset(idx)] = v
}

// Line returns the contiguous pixels of an axis-0 scanline. line must be a
// region yielded by region.Region.Lines for a region inside the allocation.
func (b *Buffer[T]) Line(line region.Region) []T {
	off := b.Offset(line.Index)
	return b.store.data[off : off+int(line.Size[0])]
}

// Fill sets every pixel of r to v. r must lie inside the allocation.
func (b *Buffer[T]) Fill(r region.Region, v T) {
	for line := range r.Lines() {
		px := b.Line(line)
		for i := range px {
			px[i] = v
		}
	}
}

func computeStrides(size region.Size) []int64 {
	strides := make([]int64, len(size))
	step := int64(1)
	for d, s := range size {
		strides[d] = step
		step *= int64(s)
	}
	return strides
}

const maxInt = int(^uint(0) >> 1)
