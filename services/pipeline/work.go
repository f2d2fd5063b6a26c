// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"

	"github.com/AleutianAI/rasterflow/pkg/region"
)

// Work is one partition handed to a compute callback.
type Work struct {
	// Region is the partition to compute. Never empty.
	Region region.Region

	// Partition is the index of Region in the split, in [0, partitions).
	Partition int

	// WorkerIndex identifies the worker goroutine, in [0, workers).
	WorkerIndex int

	ctx      context.Context
	abort    *AbortFlag
	progress *ProgressAggregator
}

// Context returns the context of the Update.
func (w *Work) Context() context.Context {
	if w.ctx == nil {
		return context.Background()
	}
	return w.ctx
}

// Aborted reports whether the callback should stop. Long-running callbacks
// poll it at least once per scanline or fixed pixel chunk.
func (w *Work) Aborted() bool {
	return w.abort != nil && w.abort.IsSet()
}

// ReportProgress records the completed fraction of this partition.
func (w *Work) ReportProgress(fraction float64) {
	if w.progress != nil {
		w.progress.Report(w.Partition, fraction)
	}
}

// ForEachLine calls fn for every axis-0 scanline of the partition.
//
// Description:
//
//	The abort flag is checked before each line and progress is reported
//	about a hundred times per partition. An aborted loop returns ErrAborted,
//	which the dispatcher treats as a cooperative stop rather than a failure.
//
// Inputs:
//
//	fn - Called with a one-line region. A non-nil error stops the loop.
//
// Outputs:
//
//	error - The first error from fn, ErrAborted, or nil.
func (w *Work) ForEachLine(fn func(line region.Region) error) error {
	total := w.Region.LineCount()
	if total == 0 {
		return nil
	}
	step := max(total/100, 1)
	var done uint64
	for line := range w.Region.Lines() {
		if w.Aborted() {
			return ErrAborted
		}
		if err := fn(line); err != nil {
			return err
		}
		done++
		if done%step == 0 {
			w.ReportProgress(float64(done) / float64(total))
		}
	}
	return nil
}
