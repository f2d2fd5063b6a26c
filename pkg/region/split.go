// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package region

// Splitter partitions a region into pieces for threaded execution.
//
// Implementations must be pure: the same region and count always yield the
// same ordered partition list, the pieces must tile the input exactly, and
// at most n pieces may be returned.
type Splitter interface {
	Split(r Region, n int) []Region
}

// SlabSplitter cuts a region into contiguous slabs along its longest axis.
//
// Ties between equally long axes go to the higher (slower-varying) axis so
// that each slab stays contiguous in memory.
type SlabSplitter struct{}

// Split implements Splitter. See the package-level Split.
func (SlabSplitter) Split(r Region, n int) []Region {
	return Split(r, n)
}

// SplitAxis returns the axis Split cuts along: the axis with the largest
// extent, preferring the highest axis on ties. Returns -1 for a
// zero-dimensional region.
func SplitAxis(r Region) int {
	axis := -1
	var best uint64
	for d := len(r.Size) - 1; d >= 0; d-- {
		if axis == -1 || r.Size[d] > best {
			axis = d
			best = r.Size[d]
		}
	}
	return axis
}

// Split partitions r into at most n contiguous slabs along SplitAxis(r).
//
// Description:
//
//	The number of slabs is min(n, extent of the split axis), so a region
//	with fewer rows than requested pieces silently yields fewer pieces.
//	Rows are distributed as evenly as possible: the first (extent mod k)
//	slabs receive one extra row. The slabs are returned in ascending
//	index order and tile r with no gaps or overlaps.
//
// Inputs:
//
//	r - Region to split. An empty region yields no pieces.
//	n - Requested number of pieces. Values below 1 are treated as 1.
//
// Outputs:
//
//	[]Region - Between 1 and n regions for non-empty r, none for empty r.
func Split(r Region, n int) []Region {
	if r.IsEmpty() {
		return nil
	}
	if n < 1 {
		n = 1
	}
	axis := SplitAxis(r)
	extent := r.Size[axis]

	pieces := uint64(n)
	if extent < pieces {
		pieces = extent
	}
	base := extent / pieces
	extra := extent % pieces

	out := make([]Region, 0, pieces)
	offset := r.Index[axis]
	for p := uint64(0); p < pieces; p++ {
		rows := base
		if p < extra {
			rows++
		}
		piece := r.Clone()
		piece.Index[axis] = offset
		piece.Size[axis] = rows
		out = append(out, piece)
		offset += int64(rows)
	}
	return out
}
