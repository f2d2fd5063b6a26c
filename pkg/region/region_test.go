// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package region

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DimensionMismatch(t *testing.T) {
	_, err := New(Index{0, 0}, Size{1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))
}

func TestNew_CopiesInputs(t *testing.T) {
	idx := Index{1, 2}
	sz := Size{3, 4}
	r, err := New(idx, sz)
	require.NoError(t, err)

	idx[0] = 99
	sz[0] = 99
	assert.Equal(t, Index{1, 2}, r.Index)
	assert.Equal(t, Size{3, 4}, r.Size)
}

func TestRegion_IsEmpty(t *testing.T) {
	tests := []struct {
		name string
		r    Region
		want bool
	}{
		{"zero dimension", Region{}, true},
		{"zero width", Rect(0, 0, 0, 5), true},
		{"zero height", Rect(0, 0, 5, 0), true},
		{"single pixel", Rect(3, 3, 1, 1), false},
		{"3d", Must(Index{0, 0, 0}, Size{2, 2, 2}), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.r.IsEmpty())
		})
	}
}

func TestRegion_Volume(t *testing.T) {
	assert.Equal(t, uint64(0), Rect(0, 0, 0, 10).Volume())
	assert.Equal(t, uint64(50), Rect(-5, 2, 5, 10).Volume())

	huge := Must(Index{0, 0, 0}, Size{1 << 32, 1 << 32, 2})
	_, ok := huge.CheckedVolume()
	assert.False(t, ok)
}

func TestRegion_Contains(t *testing.T) {
	outer := Rect(0, 0, 100, 100)

	assert.True(t, outer.Contains(Rect(10, 10, 5, 5)))
	assert.True(t, outer.Contains(outer))
	assert.False(t, outer.Contains(Rect(95, 95, 10, 10)))
	assert.False(t, outer.Contains(Rect(-1, 0, 5, 5)))
	assert.True(t, outer.Contains(Rect(500, 500, 0, 0)), "empty region is inside anything")
	assert.False(t, Empty(2).Contains(Rect(0, 0, 1, 1)))
	assert.False(t, outer.Contains(Must(Index{0}, Size{1})), "dimension mismatch")

	assert.True(t, Rect(10, 10, 5, 5).IsInside(outer))
}

func TestRegion_ContainsIndex(t *testing.T) {
	r := Rect(10, 10, 5, 5)
	assert.True(t, r.ContainsIndex(Index{10, 10}))
	assert.True(t, r.ContainsIndex(Index{14, 14}))
	assert.False(t, r.ContainsIndex(Index{15, 14}))
	assert.False(t, r.ContainsIndex(Index{9, 10}))
}

func TestRegion_Intersect(t *testing.T) {
	a := Rect(0, 0, 10, 10)
	b := Rect(5, 5, 10, 10)

	got, ok := a.Intersect(b)
	require.True(t, ok)
	assert.Equal(t, Rect(5, 5, 5, 5), got)

	_, ok = a.Intersect(Rect(20, 20, 5, 5))
	assert.False(t, ok)

	// Touching edges do not overlap (half-open intervals)
	got, ok = a.Intersect(Rect(10, 0, 5, 5))
	assert.False(t, ok)
	assert.True(t, got.IsEmpty())

	got, ok = Rect(10, 10, 5, 5).Crop(Rect(0, 0, 100, 100))
	require.True(t, ok)
	assert.Equal(t, Rect(10, 10, 5, 5), got)
}

func TestRegion_Pad(t *testing.T) {
	r := Rect(10, 10, 5, 5)

	got, err := r.Pad(Size{1, 2})
	require.NoError(t, err)
	assert.Equal(t, Rect(9, 8, 7, 9), got)

	_, err = r.Pad(Size{1})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	assert.Equal(t, Rect(8, 8, 9, 9), r.PadUniform(2))
	assert.True(t, Rect(0, 0, 0, 3).PadUniform(2).IsEmpty())
}

func TestRegion_PadThenCrop(t *testing.T) {
	// Neighborhood filters pad the request and then clamp to the image.
	lpr := Rect(0, 0, 100, 100)
	got, ok := Rect(0, 0, 5, 5).PadUniform(2).Crop(lpr)
	require.True(t, ok)
	assert.Equal(t, Rect(0, 0, 7, 7), got)
}

func TestRegion_BoundingUnion(t *testing.T) {
	a := Rect(0, 0, 10, 10)
	b := Rect(20, 5, 5, 20)
	assert.Equal(t, Rect(0, 0, 25, 25), a.BoundingUnion(b))
	assert.Equal(t, a, a.BoundingUnion(Empty(2)))
	assert.Equal(t, b, Empty(2).BoundingUnion(b))
}

func TestRegion_Lines(t *testing.T) {
	r := Must(Index{1, 2, 3}, Size{4, 2, 2})

	var lines []Region
	for line := range r.Lines() {
		lines = append(lines, line)
	}

	require.Len(t, lines, 4)
	assert.Equal(t, uint64(4), r.LineCount())
	assert.Equal(t, Must(Index{1, 2, 3}, Size{4, 1, 1}), lines[0])
	assert.Equal(t, Must(Index{1, 3, 3}, Size{4, 1, 1}), lines[1])
	assert.Equal(t, Must(Index{1, 2, 4}, Size{4, 1, 1}), lines[2])
	assert.Equal(t, Must(Index{1, 3, 4}, Size{4, 1, 1}), lines[3])
}

func TestRegion_Lines_OneDimensional(t *testing.T) {
	r := Must(Index{5}, Size{7})
	count := 0
	for line := range r.Lines() {
		assert.Equal(t, r, line)
		count++
	}
	assert.Equal(t, 1, count)
}

func TestRegion_Indices(t *testing.T) {
	r := Rect(1, 1, 2, 2)
	var got []Index
	for idx := range r.Indices() {
		got = append(got, idx.Clone())
	}
	assert.Equal(t, []Index{{1, 1}, {2, 1}, {1, 2}, {2, 2}}, got)

	for range Empty(2).Indices() {
		t.Fatal("empty region yielded an index")
	}
}

func TestParse(t *testing.T) {
	r, err := Parse("10,10:5,5")
	require.NoError(t, err)
	assert.Equal(t, Rect(10, 10, 5, 5), r)
	assert.Equal(t, "10,10:5,5", r.String())

	r, err = Parse(" -3:7 ")
	require.NoError(t, err)
	assert.Equal(t, Must(Index{-3}, Size{7}), r)

	for _, bad := range []string{"", "1,2", "1,2:3", "a:1", "1:-1"} {
		_, err := Parse(bad)
		assert.Error(t, err, "input %q", bad)
	}
}
