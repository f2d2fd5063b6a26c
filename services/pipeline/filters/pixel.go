// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package filters provides reference nodes for the pipeline engine: synthetic
// sources, pointwise functors, a neighborhood mean and a global rescale.
//
// Every node is generic over its pixel types and streams: it computes exactly
// the partition it is given and asks its inputs only for the pixels that
// partition needs.
package filters

import (
	"errors"
	"math"
)

// Sentinel errors for filter configuration.
var (
	// ErrInvalidParameter is returned when a filter parameter is out of range.
	ErrInvalidParameter = errors.New("invalid filter parameter")

	// ErrRegionMismatch is returned when the inputs of a binary filter have
	// different dimensions.
	ErrRegionMismatch = errors.New("input regions do not match")
)

// Pixel is the set of supported pixel types.
type Pixel interface {
	uint8 | uint16 | int16 | int32 | float32 | float64
}

// FromFloat converts v to T, rounding and saturating for integer types.
func FromFloat[T Pixel](v float64) T {
	var zero T
	switch any(zero).(type) {
	case float32, float64:
		return T(v)
	}
	lo, hi := Limits[T]()
	if math.IsNaN(v) {
		return 0
	}
	return T(math.Round(min(max(v, lo), hi)))
}

// Limits returns the representable range of T.
func Limits[T Pixel]() (lo, hi float64) {
	var zero T
	switch any(zero).(type) {
	case uint8:
		return 0, math.MaxUint8
	case uint16:
		return 0, math.MaxUint16
	case int16:
		return math.MinInt16, math.MaxInt16
	case int32:
		return math.MinInt32, math.MaxInt32
	case float32:
		return -math.MaxFloat32, math.MaxFloat32
	default:
		return -math.MaxFloat64, math.MaxFloat64
	}
}
