// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"fmt"
	"sync"
	"weak"

	"github.com/AleutianAI/rasterflow/pkg/buffer"
	"github.com/AleutianAI/rasterflow/pkg/region"
)

// producerRef is the handle a DataObject uses to find its producer. The
// producing BaseNode owns it; DataObjects only hold a weak pointer to it.
type producerRef struct {
	node Node
}

// DataObject is an image flowing between nodes.
//
// Description:
//
//	A DataObject carries three regions: the largest possible region (its full
//	domain, set during the information pass), the requested region (what
//	consumers need, set during region propagation) and the buffered region
//	(what is currently valid in Storage). It also carries a modified time,
//	stamped from a process-wide monotonic clock whenever its pixels change.
//
//	DataObjects created by BaseNode.AddOutput have a producer. DataObjects
//	created with NewDataObject are static: their pixels are imported by the
//	caller and the executive never recomputes them.
//
// Thread Safety:
//
//	All methods are safe for concurrent use. Pixel access through Storage is
//	not synchronized; see package buffer.
type DataObject struct {
	mu sync.RWMutex

	name        string
	producer    weak.Pointer[producerRef]
	hasProducer bool
	port        int
	storage     buffer.Storage

	largest       region.Region
	requested     region.Region
	userRequested region.Region
	userSet       bool
	buffered      region.Region

	modified     uint64
	pipelineTime uint64
	releaseData  bool

	spacing []float64
	origin  []float64
}

// NewDataObject creates a static DataObject with no producer.
//
// Inputs:
//
//	name - Used in logs and errors.
//	storage - Pixel storage. May be nil for metadata-only objects.
//
// Outputs:
//
//	*DataObject - The new object. Its regions are empty until
//	SetBufferedRegion or SetLargestPossibleRegion is called.
func NewDataObject(name string, storage buffer.Storage) *DataObject {
	return &DataObject{name: name, storage: storage}
}

func newOutputObject(name string, ref *producerRef, port int, storage buffer.Storage) *DataObject {
	return &DataObject{
		name:        name,
		producer:    weak.Make(ref),
		hasProducer: true,
		port:        port,
		storage:     storage,
	}
}

// Name returns the object name.
func (d *DataObject) Name() string {
	return d.name
}

// Producer returns the node that produces this object and its output port.
// Returns false for static objects and for objects whose producer has been
// garbage collected.
func (d *DataObject) Producer() (Node, int, bool) {
	if !d.hasProducer {
		return nil, 0, false
	}
	ref := d.producer.Value()
	if ref == nil || ref.node == nil {
		return nil, 0, false
	}
	return ref.node, d.port, true
}

// IsStatic reports whether the object was created without a producer.
func (d *DataObject) IsStatic() bool {
	return !d.hasProducer
}

// Storage returns the pixel storage.
func (d *DataObject) Storage() buffer.Storage {
	return d.storage
}

// LargestPossibleRegion returns the full domain of the object.
func (d *DataObject) LargestPossibleRegion() region.Region {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.largest.Clone()
}

// SetLargestPossibleRegion sets the full domain. Nodes call this from
// UpdateOutputInformation.
func (d *DataObject) SetLargestPossibleRegion(r region.Region) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.largest = r.Clone()
}

// RequestedRegion returns the region most recently negotiated for this
// object, or the caller's explicit request if no Update has run since.
func (d *DataObject) RequestedRegion() region.Region {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.userSet && d.requested.Dimension() == 0 {
		return d.userRequested.Clone()
	}
	return d.requested.Clone()
}

// SetRequestedRegion sets the region a caller wants when this object is the
// output of the terminal node of an Update. It persists across Updates until
// ResetRequestedRegion is called.
func (d *DataObject) SetRequestedRegion(r region.Region) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.userRequested = r.Clone()
	d.userSet = true
}

// ResetRequestedRegion drops an explicit request. The terminal output then
// defaults to its largest possible region.
func (d *DataObject) ResetRequestedRegion() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.userRequested = region.Region{}
	d.userSet = false
}

// BufferedRegion returns the region holding valid pixels.
func (d *DataObject) BufferedRegion() region.Region {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.buffered.Clone()
}

// SetBufferedRegion declares that r holds valid, caller-written pixels and
// bumps the modified time. Used to import data into static objects. If the
// largest possible region is unset it becomes r.
//
// Outputs:
//
//	error - Non-nil if Storage does not cover r.
func (d *DataObject) SetBufferedRegion(r region.Region) error {
	if d.storage != nil && !r.IsEmpty() && !d.storage.Region().Contains(r) {
		return fmt.Errorf("%w: %s: storage %v does not cover %v", ErrConfiguration, d.name, d.storage.Region(), r)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buffered = r.Clone()
	if d.largest.Dimension() == 0 {
		d.largest = r.Clone()
	}
	d.modified = nextStamp()
	return nil
}

// ModifiedTime returns the stamp of the last change to the pixels.
func (d *DataObject) ModifiedTime() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.modified
}

// PipelineTime returns the newest modification stamp of the producer or
// anything upstream of it, as of the last information pass.
func (d *DataObject) PipelineTime() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.hasProducer {
		return d.modified
	}
	return d.pipelineTime
}

// Modified marks the pixels as changed by the caller.
func (d *DataObject) Modified() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.modified = nextStamp()
}

// IsUpToDate reports whether the object can serve its requested region
// without recomputation.
//
// Inputs:
//
//	relativeTo - Stamp the object must not be older than, normally its
//	PipelineTime.
//
// Outputs:
//
//	bool - True if the buffered region contains the requested region and
//	the modified time is at least relativeTo.
func (d *DataObject) IsUpToDate(relativeTo uint64) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.upToDateLocked(d.requested, relativeTo)
}

func (d *DataObject) upToDateLocked(requested region.Region, relativeTo uint64) bool {
	if d.modified == 0 || d.modified < relativeTo {
		return false
	}
	if requested.IsEmpty() {
		return true
	}
	return d.buffered.Contains(requested)
}

// ReleaseDataFlag reports whether the executive releases this object's
// storage once all of its consumers in an Update have executed.
func (d *DataObject) ReleaseDataFlag() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.releaseData
}

// SetReleaseDataFlag sets the release-data flag.
func (d *DataObject) SetReleaseDataFlag(release bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.releaseData = release
}

// ReleaseData drops the storage and empties the buffered region. The next
// request for this object recomputes it.
func (d *DataObject) ReleaseData() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.storage != nil {
		d.storage.Release()
	}
	d.buffered = region.Empty(d.largest.Dimension())
}

// Graft makes d a shallow copy of other: regions and metadata are copied and
// the raw storage is shared. The first execution that writes d afterwards
// copies the storage before dispatch.
func (d *DataObject) Graft(other *DataObject) error {
	if other == nil || other == d {
		return nil
	}
	other.mu.RLock()
	largest, buffered := other.largest.Clone(), other.buffered.Clone()
	spacing, origin := cloneFloats(other.spacing), cloneFloats(other.origin)
	otherStorage := other.storage
	other.mu.RUnlock()

	if d.storage != nil && otherStorage != nil {
		if err := d.storage.ShareFrom(otherStorage); err != nil {
			return fmt.Errorf("graft %s from %s: %w", d.name, other.name, err)
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.largest = largest
	d.buffered = buffered
	d.spacing = spacing
	d.origin = origin
	d.modified = nextStamp()
	return nil
}

// Spacing returns the physical pixel spacing per axis, or nil.
func (d *DataObject) Spacing() []float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return cloneFloats(d.spacing)
}

// SetSpacing sets the physical pixel spacing per axis.
func (d *DataObject) SetSpacing(spacing []float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.spacing = cloneFloats(spacing)
}

// Origin returns the physical coordinates of index zero, or nil.
func (d *DataObject) Origin() []float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return cloneFloats(d.origin)
}

// SetOrigin sets the physical coordinates of index zero.
func (d *DataObject) SetOrigin(origin []float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.origin = cloneFloats(origin)
}

// CopyInformation copies the largest possible region, spacing and origin
// from src.
func (d *DataObject) CopyInformation(src *DataObject) {
	if src == nil || src == d {
		return
	}
	largest, spacing, origin := src.LargestPossibleRegion(), src.Spacing(), src.Origin()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.largest = largest
	d.spacing = spacing
	d.origin = origin
}

// -----------------------------------------------------------------------------
// Executive-side mutators
// -----------------------------------------------------------------------------

// effectiveTerminalRequest returns the explicit request, or the largest
// possible region when none was set.
func (d *DataObject) effectiveTerminalRequest() (region.Region, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.userSet {
		return d.userRequested.Clone(), true
	}
	return d.largest.Clone(), false
}

func (d *DataObject) setRequested(r region.Region) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requested = r.Clone()
}

func (d *DataObject) setPipelineTime(t uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pipelineTime = t
}

// expandRequest widens a region-stale request to the bounding union with the
// buffered region when the buffered pixels are still current, so one
// recomputation covers both.
func (d *DataObject) expandRequest(requested region.Region, relativeTo uint64) region.Region {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if requested.IsEmpty() || d.buffered.IsEmpty() || d.modified < relativeTo || d.modified == 0 {
		return requested
	}
	if d.buffered.Contains(requested) {
		return requested
	}
	union := d.buffered.BoundingUnion(requested)
	if out, ok := union.Crop(d.largest); ok {
		return out
	}
	return requested
}

func (d *DataObject) markComputed(stamp uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buffered = d.requested.Clone()
	d.modified = stamp
}

func (d *DataObject) markStale() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buffered = region.Empty(d.largest.Dimension())
	d.modified = 0
}

func cloneFloats(v []float64) []float64 {
	if v == nil {
		return nil
	}
	return append([]float64(nil), v...)
}
