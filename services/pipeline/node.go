// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/AleutianAI/rasterflow/pkg/buffer"
	"github.com/AleutianAI/rasterflow/pkg/region"
)

// Node is a processing stage.
//
// Description:
//
//	Concrete nodes embed BaseNode, call Init from their constructor, and
//	override the hooks they need. BaseNode supplies defaults for every hook
//	except ComputeRegion.
//
// Thread Safety:
//
//	The executive calls UpdateOutputInformation, GenerateInputRequestedRegion,
//	BeforeExecute and AfterExecute from a single goroutine. The context passed
//	to the hooks is the one given to Update, and a panic in a hook fails the
//	node like a panic in ComputeRegion. ComputeRegion is
//	called concurrently, once per partition, and must only write the pixels
//	of w.Region in its outputs.
type Node interface {
	// Base returns the embedded BaseNode.
	Base() *BaseNode

	// UpdateOutputInformation sets the largest possible region and metadata
	// of every output. It must not allocate or touch pixels.
	UpdateOutputInformation(ctx context.Context) error

	// GenerateInputRequestedRegion maps the requested region of one output
	// to the region needed on each input port. The returned slice has one
	// entry per input port; entries for unset optional inputs are ignored.
	// The executive clamps each entry to the input's largest possible region.
	GenerateInputRequestedRegion(outputPort int, requested region.Region) ([]region.Region, error)

	// BeforeExecute runs once per execution, before any partition.
	BeforeExecute(ctx context.Context) error

	// ComputeRegion computes the outputs over one partition.
	ComputeRegion(w *Work) error

	// AfterExecute runs once per execution, after all partitions succeed.
	AfterExecute(ctx context.Context) error
}

// OutputRegionEnlarger is implemented by nodes that need to widen the
// region they produce beyond what consumers request, such as whole-image
// writers.
type OutputRegionEnlarger interface {
	// EnlargeOutputRequestedRegion returns the region the node will
	// compute for a consumer request. The result is clamped to largest.
	EnlargeOutputRequestedRegion(requested, largest region.Region) region.Region
}

type inputPort struct {
	name     string
	required bool
	data     *DataObject
}

// BaseNode carries ports, configuration and timestamps for a Node.
//
// Thread Safety:
//
//	Wiring methods (AddInput, AddOutput, SetInput) must not be called while
//	an Update that includes the node is running.
type BaseNode struct {
	name    string
	handle  *producerRef
	inputs  []*inputPort
	outputs []*DataObject
	threads int

	mtime    atomic.Uint64
	updating atomic.Bool

	observersMu sync.Mutex
	observers   []ProgressObserver
}

// Init binds the BaseNode to the Node embedding it. Concrete constructors
// must call it before wiring.
//
// Inputs:
//
//	self - The concrete node. Output DataObjects resolve their producer to it.
//	name - Unique node name used in logs, errors and graphs.
func (b *BaseNode) Init(self Node, name string) {
	b.ensureHandle().node = self
	b.name = name
	b.mtime.Store(nextStamp())
}

func (b *BaseNode) ensureHandle() *producerRef {
	if b.handle == nil {
		b.handle = &producerRef{}
	}
	return b.handle
}

func (b *BaseNode) self() Node {
	if b.handle == nil {
		return nil
	}
	return b.handle.node
}

// Base returns b.
func (b *BaseNode) Base() *BaseNode {
	return b
}

// Name returns the node name.
func (b *BaseNode) Name() string {
	return b.name
}

// AddInput declares an input port and returns its index.
func (b *BaseNode) AddInput(name string, required bool) int {
	b.inputs = append(b.inputs, &inputPort{name: name, required: required})
	return len(b.inputs) - 1
}

// AddOutput declares an output port backed by storage and returns its
// DataObject. storage may be nil for outputs that carry no pixels, such as
// the output of a file writer.
func (b *BaseNode) AddOutput(name string, storage buffer.Storage) *DataObject {
	obj := newOutputObject(name, b.ensureHandle(), len(b.outputs), storage)
	b.outputs = append(b.outputs, obj)
	return obj
}

// SetInput binds an input port to a DataObject. nil unbinds it.
func (b *BaseNode) SetInput(port int, obj *DataObject) error {
	if port < 0 || port >= len(b.inputs) {
		return fmt.Errorf("%w: input %d of %q", ErrPortOutOfRange, port, b.name)
	}
	if b.inputs[port].data != obj {
		b.inputs[port].data = obj
		b.Modified()
	}
	return nil
}

// SetInputByName binds the named input port.
func (b *BaseNode) SetInputByName(name string, obj *DataObject) error {
	for i, in := range b.inputs {
		if in.name == name {
			return b.SetInput(i, obj)
		}
	}
	return fmt.Errorf("%w: no input %q on %q", ErrPortOutOfRange, name, b.name)
}

// Input returns the DataObject bound to port, or nil.
func (b *BaseNode) Input(port int) *DataObject {
	if port < 0 || port >= len(b.inputs) {
		return nil
	}
	return b.inputs[port].data
}

// InputName returns the name of an input port.
func (b *BaseNode) InputName(port int) string {
	if port < 0 || port >= len(b.inputs) {
		return ""
	}
	return b.inputs[port].name
}

// Output returns the DataObject of an output port, or nil.
func (b *BaseNode) Output(port int) *DataObject {
	if port < 0 || port >= len(b.outputs) {
		return nil
	}
	return b.outputs[port]
}

// NumberOfInputs returns the number of declared input ports.
func (b *BaseNode) NumberOfInputs() int {
	return len(b.inputs)
}

// NumberOfOutputs returns the number of declared output ports.
func (b *BaseNode) NumberOfOutputs() int {
	return len(b.outputs)
}

// SetNumberOfThreads overrides the executive's worker count for this node.
// Zero restores the default.
func (b *BaseNode) SetNumberOfThreads(n int) {
	if n < 0 {
		n = 0
	}
	b.threads = n
}

// NumberOfThreads returns the per-node worker count, or 0 for the default.
func (b *BaseNode) NumberOfThreads() int {
	return b.threads
}

// Modified marks the node's parameters as changed, so the node and
// everything downstream re-execute on the next Update.
func (b *BaseNode) Modified() {
	b.mtime.Store(nextStamp())
}

// ModifiedTime returns the stamp of the last parameter change.
func (b *BaseNode) ModifiedTime() uint64 {
	return b.mtime.Load()
}

// AddProgressObserver registers fn for progress events of this node.
func (b *BaseNode) AddProgressObserver(fn ProgressObserver) {
	if fn == nil {
		return
	}
	b.observersMu.Lock()
	defer b.observersMu.Unlock()
	b.observers = append(b.observers, fn)
}

func (b *BaseNode) progressObservers() []ProgressObserver {
	b.observersMu.Lock()
	defer b.observersMu.Unlock()
	return append([]ProgressObserver(nil), b.observers...)
}

// -----------------------------------------------------------------------------
// Default hooks
// -----------------------------------------------------------------------------

// UpdateOutputInformation copies the information of the first bound input to
// every output. Nodes without inputs keep whatever was set on their outputs.
func (b *BaseNode) UpdateOutputInformation(_ context.Context) error {
	var first *DataObject
	for _, in := range b.inputs {
		if in.data != nil {
			first = in.data
			break
		}
	}
	if first == nil {
		return nil
	}
	for _, out := range b.outputs {
		out.CopyInformation(first)
	}
	return nil
}

// GenerateInputRequestedRegion requests the output region unchanged on
// every input.
func (b *BaseNode) GenerateInputRequestedRegion(_ int, requested region.Region) ([]region.Region, error) {
	out := make([]region.Region, len(b.inputs))
	for i := range b.inputs {
		out[i] = requested.Clone()
	}
	return out, nil
}

// BeforeExecute does nothing.
func (b *BaseNode) BeforeExecute(_ context.Context) error {
	return nil
}

// ComputeRegion returns ErrNotImplemented.
func (b *BaseNode) ComputeRegion(_ *Work) error {
	return ErrNotImplemented
}

// AfterExecute does nothing.
func (b *BaseNode) AfterExecute(_ context.Context) error {
	return nil
}

// Connect binds output srcPort of src to input dstPort of dst.
func Connect(src Node, srcPort int, dst Node, dstPort int) error {
	if src == nil || dst == nil {
		return ErrNilNode
	}
	out := src.Base().Output(srcPort)
	if out == nil {
		return fmt.Errorf("%w: output %d of %q", ErrPortOutOfRange, srcPort, src.Base().Name())
	}
	return dst.Base().SetInput(dstPort, out)
}

// ImageBuffer returns the typed buffer behind obj.
//
// Outputs:
//
//	*buffer.Buffer[T] - The buffer.
//	error - ErrPixelType if obj holds another pixel type or no storage.
func ImageBuffer[T any](obj *DataObject) (*buffer.Buffer[T], error) {
	if obj == nil {
		return nil, fmt.Errorf("%w: nil data object", ErrPixelType)
	}
	buf, ok := obj.Storage().(*buffer.Buffer[T])
	if !ok {
		var zero T
		return nil, fmt.Errorf("%w: %s holds %T, want %T", ErrPixelType, obj.Name(), obj.Storage(), zero)
	}
	return buf, nil
}
