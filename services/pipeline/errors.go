// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/rasterflow/pkg/region"
)

// Sentinel errors for the pipeline package.
var (
	// ErrConfiguration classifies errors detected before any compute work:
	// unset required inputs, dimension mismatches, bad region mappings.
	ErrConfiguration = errors.New("pipeline configuration error")

	// ErrAllocation classifies buffer growth failures.
	ErrAllocation = errors.New("pipeline allocation error")

	// ErrCompute classifies failures raised by a compute callback or by the
	// BeforeExecute/AfterExecute hooks.
	ErrCompute = errors.New("pipeline compute error")

	// ErrAborted is returned when an Update was cancelled. It is not a failure.
	ErrAborted = errors.New("pipeline update aborted")

	// ErrAlreadyUpdating is returned when an Update overlaps another Update
	// on a shared node.
	ErrAlreadyUpdating = errors.New("pipeline update already in progress")

	// ErrInvalidConfig is returned when a Config fails validation.
	ErrInvalidConfig = errors.New("invalid pipeline config")

	// ErrNilContext is returned when a nil context is passed.
	ErrNilContext = errors.New("context must not be nil")

	// ErrNilNode is returned when a nil node is provided.
	ErrNilNode = errors.New("node must not be nil")

	// ErrNodeNotInitialized is returned for a node whose BaseNode.Init was
	// never called.
	ErrNodeNotInitialized = errors.New("node not initialized")

	// ErrDuplicateNode is returned when adding a node with an existing name.
	ErrDuplicateNode = errors.New("node with this name already exists")

	// ErrNodeNotFound is returned when a referenced node is not in the graph.
	ErrNodeNotFound = errors.New("node not found")

	// ErrEmptyGraph is returned when building a graph with no nodes.
	ErrEmptyGraph = errors.New("graph has no nodes")

	// ErrCycleDetected is returned when node wiring forms a cycle.
	ErrCycleDetected = errors.New("cycle detected in pipeline")

	// ErrInputNotSet is returned when a required input port is unbound.
	ErrInputNotSet = errors.New("required input not set")

	// ErrPortOutOfRange is returned for an invalid port number.
	ErrPortOutOfRange = errors.New("port out of range")

	// ErrNotImplemented is returned by BaseNode.ComputeRegion, which
	// concrete nodes must override.
	ErrNotImplemented = errors.New("ComputeRegion must be overridden by concrete node")

	// ErrRegionUnavailable is returned when a static DataObject (one with no
	// producer) does not buffer the region a consumer requests.
	ErrRegionUnavailable = errors.New("requested region not buffered by static data object")

	// ErrPixelType is returned when a DataObject holds a different pixel
	// type than a node expects.
	ErrPixelType = errors.New("unexpected pixel type")
)

// =============================================================================
// Error Classification
// =============================================================================

// Kind classifies a NodeError.
type Kind int

const (
	// KindConfiguration is a wiring or region negotiation error.
	KindConfiguration Kind = iota

	// KindAllocation is a buffer growth failure.
	KindAllocation

	// KindCompute is a compute callback or execution hook failure.
	KindCompute
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindAllocation:
		return "allocation"
	case KindCompute:
		return "compute"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindAllocation:
		return ErrAllocation
	case KindCompute:
		return ErrCompute
	default:
		return ErrConfiguration
	}
}

// Phase names the Update pass in which an error occurred.
type Phase string

const (
	PhaseInformation Phase = "information"
	PhasePropagation Phase = "propagation"
	PhaseAllocation  Phase = "allocation"
	PhaseExecution   Phase = "execution"
)

// NodeError wraps an error with the node that caused it.
//
// errors.Is matches both the Kind sentinel (ErrConfiguration, ErrAllocation,
// ErrCompute) and anything in the wrapped chain.
type NodeError struct {
	Node  string
	Phase Phase
	Kind  Kind
	Err   error
}

// Error returns the error message.
func (e *NodeError) Error() string {
	return fmt.Sprintf("node %q: %s error during %s: %v", e.Node, e.Kind, e.Phase, e.Err)
}

// Unwrap returns the kind sentinel and the underlying error.
func (e *NodeError) Unwrap() []error {
	return []error{e.Kind.sentinel(), e.Err}
}

func newNodeError(node string, phase Phase, kind Kind, err error) *NodeError {
	return &NodeError{Node: node, Phase: phase, Kind: kind, Err: err}
}

// PartitionError identifies the partition whose callback failed first.
type PartitionError struct {
	Partition   int
	WorkerIndex int
	Region      region.Region
	Err         error
}

// Error returns the error message.
func (e *PartitionError) Error() string {
	return fmt.Sprintf("partition %d (%v) on worker %d: %v", e.Partition, e.Region, e.WorkerIndex, e.Err)
}

// Unwrap returns the underlying error.
func (e *PartitionError) Unwrap() error {
	return e.Err
}

// PanicError carries a panic recovered from a compute callback or node hook.
type PanicError struct {
	Value any
	Stack []byte
}

// Error returns the error message.
func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// CycleError provides details about a detected cycle.
type CycleError struct {
	Path []string
}

// Error returns the cycle description.
func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle detected: %s", strings.Join(e.Path, " -> "))
}

// Unwrap returns ErrCycleDetected.
func (e *CycleError) Unwrap() error {
	return ErrCycleDetected
}
