// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/rasterflow/pkg/region"
)

func TestReserve_LazyAllocation(t *testing.T) {
	b := New[float32]()
	assert.Nil(t, b.Data())
	assert.Equal(t, int64(0), b.Bytes())

	grew, err := b.Reserve(region.Rect(10, 10, 5, 5), 0)
	require.NoError(t, err)
	assert.True(t, grew)
	assert.Equal(t, region.Rect(10, 10, 5, 5), b.Region())
	assert.Len(t, b.Data(), 25)
	assert.Equal(t, int64(100), b.Bytes())
	assert.Equal(t, []int64{1, 5}, b.Strides())
}

func TestReserve_GrowOnly(t *testing.T) {
	b := New[uint8]()
	_, err := b.Reserve(region.Rect(0, 0, 10, 10), 0)
	require.NoError(t, err)
	gen := b.Generation()

	grew, err := b.Reserve(region.Rect(2, 2, 3, 3), 0)
	require.NoError(t, err)
	assert.False(t, grew, "contained request must not reallocate")
	assert.Equal(t, gen, b.Generation())
	assert.Equal(t, region.Rect(0, 0, 10, 10), b.Region())

	grew, err = b.Reserve(region.Rect(5, 5, 10, 10), 0)
	require.NoError(t, err)
	assert.True(t, grew)
	assert.Equal(t, region.Rect(0, 0, 15, 15), b.Region(), "allocation is the bounding union")
}

func TestReserve_EmptyIsNoop(t *testing.T) {
	b := New[float64]()
	grew, err := b.Reserve(region.Rect(0, 0, 0, 5), 0)
	require.NoError(t, err)
	assert.False(t, grew)
	assert.Nil(t, b.Data())
}

func TestReserve_Limit(t *testing.T) {
	b := New[float64]()
	_, err := b.Reserve(region.Rect(0, 0, 100, 100), 1024)
	require.ErrorIs(t, err, ErrAllocationLimit)
	assert.Nil(t, b.Data(), "buffer unchanged on error")

	_, err = b.Reserve(region.Rect(0, 0, 8, 16), 1024)
	require.NoError(t, err)
}

func TestReserve_Overflow(t *testing.T) {
	b := New[float64]()
	_, err := b.Reserve(region.Must(region.Index{0, 0, 0}, region.Size{1 << 32, 1 << 32, 4}), 0)
	assert.ErrorIs(t, err, ErrAllocation)
}

func TestRelease(t *testing.T) {
	b := New[int32]()
	_, err := b.Reserve(region.Rect(0, 0, 4, 4), 0)
	require.NoError(t, err)
	gen := b.Generation()

	b.Release()
	assert.True(t, b.Region().IsEmpty())
	assert.Nil(t, b.Data())
	assert.Greater(t, b.Generation(), gen)

	grew, err := b.Reserve(region.Rect(1, 1, 2, 2), 0)
	require.NoError(t, err)
	assert.True(t, grew)
	assert.Equal(t, region.Rect(1, 1, 2, 2), b.Region(), "a new generation starts from the request")
}

func TestAccessors(t *testing.T) {
	b := New[int]()
	r := region.Must(region.Index{-1, 2, 0}, region.Size{3, 2, 2})
	_, err := b.Reserve(r, 0)
	require.NoError(t, err)

	for idx := range r.Indices() {
		b.Set(idx, int(idx[0]*100+idx[1]*10+idx[2]))
	}
	assert.Equal(t, 1*100+3*10+1, b.At(region.Index{1, 3, 1}))
	assert.Equal(t, 0, b.Offset(region.Index{-1, 2, 0}))
	assert.Equal(t, 11, b.Offset(region.Index{1, 3, 1}))

	line := b.Line(region.Must(region.Index{-1, 3, 1}, region.Size{3, 1, 1}))
	assert.Equal(t, []int{-100 + 31, 31, 100 + 31}, line)

	b.Fill(region.Must(region.Index{0, 2, 0}, region.Size{1, 2, 2}), 7)
	assert.Equal(t, 7, b.At(region.Index{0, 3, 1}))
	assert.Equal(t, 100+20, b.At(region.Index{1, 2, 0}))
}

func TestShareFrom_CopyOnWrite(t *testing.T) {
	src := New[float32]()
	_, err := src.Reserve(region.Rect(0, 0, 4, 4), 0)
	require.NoError(t, err)
	src.Fill(src.Region(), 1)

	dst := New[float32]()
	require.NoError(t, dst.ShareFrom(src))
	assert.True(t, dst.Shared())
	assert.True(t, src.Shared())
	assert.Equal(t, src.Region(), dst.Region())

	dst.MakeExclusive()
	assert.False(t, dst.Shared())
	assert.False(t, src.Shared())

	dst.Set(region.Index{0, 0}, 9)
	assert.Equal(t, float32(1), src.At(region.Index{0, 0}), "source pixels untouched")
	assert.Equal(t, float32(9), dst.At(region.Index{0, 0}))
}

func TestShareFrom_TypeMismatch(t *testing.T) {
	a := New[float32]()
	b := New[uint8]()
	assert.ErrorIs(t, a.ShareFrom(b), ErrTypeMismatch)
}
