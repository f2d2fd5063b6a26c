// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ProgressEvent is delivered to progress observers.
type ProgressEvent struct {
	// RunID identifies the Update.
	RunID string

	// Node is the executing node.
	Node string

	// Fraction is the node's completion in [0, 1]. Successive events for one
	// node execution never decrease.
	Fraction float64

	// Abort requests cooperative cancellation of the Update.
	Abort func()
}

// ProgressObserver receives progress events. Observers are called
// synchronously from worker goroutines and must return quickly.
type ProgressObserver func(ProgressEvent)

// ProgressAggregator combines per-partition progress into one value.
//
// Description:
//
//	The combined value is (completed partitions + sum of in-flight
//	fractions) / total partitions. It is forwarded to observers only when it
//	increases and the rate limiter allows, except that completion (1.0) is
//	always delivered.
//
// Thread Safety:
//
//	Safe for concurrent use by all workers of one dispatch.
type ProgressAggregator struct {
	mu        sync.Mutex
	fractions []float64
	completed int
	total     int
	last      float64
	finished  bool
	limiter   *rate.Limiter
	emit      func(float64)
}

// NewProgressAggregator creates an aggregator for total partitions.
//
// Inputs:
//
//	total - Number of partitions.
//	interval - Minimum time between notifications. Zero disables throttling.
//	burst - Notifications allowed back to back.
//	emit - Receives combined values. May be nil.
func NewProgressAggregator(total int, interval time.Duration, burst int, emit func(float64)) *ProgressAggregator {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	if burst < 1 {
		burst = 1
	}
	return &ProgressAggregator{
		fractions: make([]float64, total),
		total:     total,
		limiter:   rate.NewLimiter(limit, burst),
		emit:      emit,
	}
}

// Report records the progress of one partition. Values are clamped to
// [0, 1] and a partition's fraction never decreases.
func (p *ProgressAggregator) Report(partition int, fraction float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if partition < 0 || partition >= p.total || p.finished {
		return
	}
	fraction = min(max(fraction, 0), 1)
	if p.fractions[partition] < 0 || fraction <= p.fractions[partition] {
		return
	}
	p.fractions[partition] = fraction
	p.publishLocked()
}

// Complete marks one partition as done.
func (p *ProgressAggregator) Complete(partition int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if partition < 0 || partition >= p.total || p.finished || p.fractions[partition] < 0 {
		return
	}
	// A negative fraction marks the partition as counted.
	p.fractions[partition] = -1
	p.completed++
	p.publishLocked()
}

// Done emits the final 1.0.
func (p *ProgressAggregator) Done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finished {
		return
	}
	p.finished = true
	p.last = 1
	if p.emit != nil {
		p.emit(1)
	}
}

// Value returns the current combined progress.
func (p *ProgressAggregator) Value() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finished {
		return 1
	}
	return p.valueLocked()
}

func (p *ProgressAggregator) valueLocked() float64 {
	if p.total == 0 {
		return 0
	}
	sum := float64(p.completed)
	for _, f := range p.fractions {
		if f > 0 {
			sum += f
		}
	}
	return min(sum/float64(p.total), 1)
}

func (p *ProgressAggregator) publishLocked() {
	v := p.valueLocked()
	if v <= p.last || v >= 1 {
		// 1.0 is only delivered by Done, after the barrier.
		return
	}
	if !p.limiter.Allow() {
		return
	}
	p.last = v
	if p.emit != nil {
		p.emit(v)
	}
}
