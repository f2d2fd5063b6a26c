// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package pipeline implements a demand-driven, region-based streaming
// execution engine for N-dimensional images.
//
// # Overview
//
// Processing stages are Nodes connected through DataObjects: one node's
// output DataObject is another node's input. A consumer asks for a region of
// the terminal node's output and the Executive computes only what that
// region requires, reusing buffered pixels wherever they are still valid.
//
//	┌────────┐  DataObject  ┌────────┐  DataObject  ┌──────────┐
//	│ source │ ───────────▶ │ filter │ ───────────▶ │ terminal │ ◀── Update(region)
//	└────────┘              └────────┘              └──────────┘
//
// # Update Passes
//
// Executive.Update runs three passes over the graph reachable from the
// terminal node:
//
//  1. Information: every node's UpdateOutputInformation sets the largest
//     possible region of its outputs. No pixel memory is touched.
//  2. Region propagation: starting from the terminal request, each stale
//     node's GenerateInputRequestedRegion maps its output request to input
//     requests, clamped to each input's largest possible region.
//  3. Execution: inputs before consumers. A stale node has its output
//     buffers grown to cover the request, then its ComputeRegion callback
//     runs once per partition on a worker pool.
//
// An output is up to date when its buffered region contains its requested
// region and its modified time is not older than its pipeline time (the
// newest modification of the node itself or anything upstream). Up-to-date
// outputs stop both propagation and execution, so repeated Updates with an
// unchanged request do no work.
//
// # Ownership
//
// Nodes own their output DataObjects strongly. A DataObject refers back to
// its producer through a weak pointer, so a graph is kept alive by whoever
// holds the nodes (normally a Graph).
//
// # Concurrency
//
// Only the partitions of one node run concurrently. Traversal, allocation
// and timestamp updates happen on the goroutine calling Update. Two Updates
// may run at once on disjoint graphs; overlapping Updates fail with
// ErrAlreadyUpdating.
//
// # Errors
//
// Errors returned by Update are *NodeError values identifying the node and
// classified by Kind. Use errors.Is with ErrConfiguration, ErrAllocation or
// ErrCompute. Cancellation is not a failure: Update reports StatusAborted
// and an error matching ErrAborted.
package pipeline
