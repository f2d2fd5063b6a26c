// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"sync"
	"sync/atomic"
	"time"
)

// AbortType categorizes why an update stopped early.
type AbortType string

const (
	// AbortUser is an explicit Abort call or a progress observer request.
	AbortUser AbortType = "user"

	// AbortContext is cancellation of the context passed to Update.
	AbortContext AbortType = "context"

	// AbortFailure is set by the dispatcher when a partition fails, to stop
	// the remaining partitions of the same node.
	AbortFailure AbortType = "failure"
)

// AbortReason describes the first abort request of a run.
type AbortReason struct {
	// Type indicates the category of the abort.
	Type AbortType

	// Message provides a human-readable description.
	Message string

	// Node is the node executing when the abort was requested, if known.
	Node string

	// Timestamp is when the abort was requested.
	Timestamp time.Time
}

// AbortFlag is a cooperative cancellation flag polled by compute callbacks.
//
// Thread Safety:
//
//	Safe for concurrent use. IsSet is a single atomic load and may be
//	called in inner loops.
type AbortFlag struct {
	set    atomic.Bool
	mu     sync.Mutex
	reason *AbortReason
}

// Set raises the flag. Only the first reason is kept.
//
// Outputs:
//
//	bool - True if this call raised the flag.
func (f *AbortFlag) Set(reason AbortReason) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reason != nil {
		return false
	}
	if reason.Timestamp.IsZero() {
		reason.Timestamp = time.Now()
	}
	f.reason = &reason
	f.set.Store(true)
	return true
}

// IsSet reports whether an abort was requested.
func (f *AbortFlag) IsSet() bool {
	return f.set.Load()
}

// Reason returns a copy of the first abort reason, or nil.
func (f *AbortFlag) Reason() *AbortReason {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reason == nil {
		return nil
	}
	r := *f.reason
	return &r
}

// Reset clears the flag.
func (f *AbortFlag) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reason = nil
	f.set.Store(false)
}

// =============================================================================
// Modification Clock
// =============================================================================

// clock is the process-wide modification counter. Every stamp is unique and
// larger than all stamps handed out before it.
var clock atomic.Uint64

func nextStamp() uint64 {
	return clock.Add(1)
}
