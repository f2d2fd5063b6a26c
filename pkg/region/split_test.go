// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package region

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// assertTiles checks that parts cover r exactly: every part lies inside r,
// no two parts overlap, and the volumes add up.
func assertTiles(t *testing.T, r Region, parts []Region) {
	t.Helper()
	var total uint64
	for i, p := range parts {
		require.False(t, p.IsEmpty(), "part %d is empty", i)
		require.True(t, r.Contains(p), "part %d %v outside %v", i, p, r)
		total += p.Volume()
		for j := i + 1; j < len(parts); j++ {
			_, overlap := p.Intersect(parts[j])
			require.False(t, overlap, "parts %d and %d overlap", i, j)
		}
	}
	require.Equal(t, r.Volume(), total)
}

func TestSplit_TilesExactly(t *testing.T) {
	regions := []Region{
		Rect(0, 0, 1, 1),
		Rect(0, 0, 7, 1),
		Rect(3, -4, 1, 13),
		Rect(10, 10, 100, 100),
		Rect(0, 0, 1000, 3),
		Must(Index{0, 0, 0}, Size{17, 31, 5}),
		Must(Index{-2, 5, 1, 0}, Size{3, 4, 9, 2}),
	}
	for _, r := range regions {
		for n := 1; n <= 64; n++ {
			t.Run(fmt.Sprintf("%v/n=%d", r, n), func(t *testing.T) {
				parts := Split(r, n)
				require.NotEmpty(t, parts)
				assert.LessOrEqual(t, len(parts), n)
				assertTiles(t, r, parts)
			})
		}
	}
}

func TestSplit_FewerRowsThanThreads(t *testing.T) {
	// A 5x1 region splits along axis 0 (largest extent) into 5 pieces.
	parts := Split(Rect(0, 0, 5, 1), 8)
	assert.Len(t, parts, 5)

	// A single pixel can never be split.
	parts = Split(Rect(4, 4, 1, 1), 64)
	require.Len(t, parts, 1)
	assert.Equal(t, Rect(4, 4, 1, 1), parts[0])
}

func TestSplit_Deterministic(t *testing.T) {
	r := Must(Index{0, 0, 0}, Size{64, 48, 3})
	first := Split(r, 7)
	for range 10 {
		assert.Equal(t, first, Split(r, 7))
	}
}

func TestSplit_AxisSelection(t *testing.T) {
	assert.Equal(t, 0, SplitAxis(Rect(0, 0, 100, 10)))
	assert.Equal(t, 1, SplitAxis(Rect(0, 0, 10, 100)))
	assert.Equal(t, 1, SplitAxis(Rect(0, 0, 50, 50)), "ties prefer the slower axis")
	assert.Equal(t, -1, SplitAxis(Region{}))

	parts := Split(Rect(0, 0, 50, 50), 2)
	require.Len(t, parts, 2)
	assert.Equal(t, Rect(0, 0, 50, 25), parts[0])
	assert.Equal(t, Rect(0, 25, 50, 25), parts[1])
}

func TestSplit_BalancedRows(t *testing.T) {
	parts := Split(Rect(0, 0, 4, 10), 4)
	require.Len(t, parts, 4)
	rows := []uint64{parts[0].Size[1], parts[1].Size[1], parts[2].Size[1], parts[3].Size[1]}
	assert.Equal(t, []uint64{3, 3, 2, 2}, rows)
}

func TestSplit_EmptyAndInvalidCount(t *testing.T) {
	assert.Empty(t, Split(Rect(0, 0, 0, 10), 4))

	parts := Split(Rect(0, 0, 10, 10), 0)
	require.Len(t, parts, 1)
	assert.Equal(t, Rect(0, 0, 10, 10), parts[0])
}

func TestSlabSplitter(t *testing.T) {
	var s Splitter = SlabSplitter{}
	r := Rect(0, 0, 33, 17)
	assert.Equal(t, Split(r, 5), s.Split(r, 5))
}
