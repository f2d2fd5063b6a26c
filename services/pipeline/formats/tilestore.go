// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package formats

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/AleutianAI/rasterflow/pkg/buffer"
	"github.com/AleutianAI/rasterflow/pkg/region"
	"github.com/AleutianAI/rasterflow/services/pipeline"
	"github.com/AleutianAI/rasterflow/services/pipeline/filters"
)

func pixelTypeName[T filters.Pixel]() string {
	var zero T
	return fmt.Sprintf("%T", zero)
}

// TileStoreWriter persists its input into a tile store dataset.
//
// Description:
//
//	The writer widens its requested region to whole tiles, so every tile it
//	writes is complete. Each partition writes the tiles whose first pixel it
//	contains, which assigns every tile to exactly one worker. The manifest
//	is written before any tile.
//
// Thread Safety:
//
//	Setters must not be called during an Update that includes the node.
type TileStoreWriter[T filters.Pixel] struct {
	pipeline.BaseNode
	store    *Store
	dataset  string
	tileSize region.Size
	manifest Manifest
	written  atomic.Int64
	out      *pipeline.DataObject
}

// NewTileStoreWriter creates a writer for dataset. tileSize has one entry
// per axis, or a single entry used for every axis.
func NewTileStoreWriter[T filters.Pixel](name string, store *Store, dataset string, tileSize ...uint64) *TileStoreWriter[T] {
	w := &TileStoreWriter[T]{store: store, dataset: dataset, tileSize: region.Size(tileSize)}
	w.Init(w, name)
	w.AddInput("input", true)
	w.out = w.AddOutput("output", nil)
	return w
}

// TilesWritten returns the number of tiles written since creation.
func (w *TileStoreWriter[T]) TilesWritten() int64 {
	return w.written.Load()
}

// Manifest returns the manifest written by the last execution.
func (w *TileStoreWriter[T]) Manifest() Manifest {
	return w.manifest
}

func (w *TileStoreWriter[T]) tileExtent(dim int) region.Size {
	if len(w.tileSize) == 1 && dim > 1 {
		out := make(region.Size, dim)
		for d := range out {
			out[d] = w.tileSize[0]
		}
		return out
	}
	return slices.Clone(w.tileSize)
}

func (w *TileStoreWriter[T]) grid() tileGrid {
	largest := w.out.LargestPossibleRegion()
	return tileGrid{domain: largest, tile: w.tileExtent(largest.Dimension())}
}

// UpdateOutputInformation validates the store and the tile size.
func (w *TileStoreWriter[T]) UpdateOutputInformation(_ context.Context) error {
	if w.store == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidParameter)
	}
	w.out.CopyInformation(w.Input(0))
	largest := w.out.LargestPossibleRegion()
	m := Manifest{Dataset: w.dataset, Index: largest.Index, Size: largest.Size, TileSize: w.tileExtent(largest.Dimension())}
	return m.validate()
}

// EnlargeOutputRequestedRegion grows the request to whole tiles.
func (w *TileStoreWriter[T]) EnlargeOutputRequestedRegion(requested, _ region.Region) region.Region {
	return w.grid().snap(requested)
}

// BeforeExecute writes the manifest.
func (w *TileStoreWriter[T]) BeforeExecute(ctx context.Context) error {
	in := w.Input(0)
	largest := w.out.LargestPossibleRegion()
	m, err := w.store.PutManifest(ctx, Manifest{
		Dataset:   w.dataset,
		Index:     largest.Index,
		Size:      largest.Size,
		TileSize:  w.tileExtent(largest.Dimension()),
		PixelType: pixelTypeName[T](),
		Spacing:   in.Spacing(),
		Origin:    in.Origin(),
	})
	if err != nil {
		return err
	}
	w.manifest = m
	return nil
}

// ComputeRegion writes the tiles starting inside the partition.
func (w *TileStoreWriter[T]) ComputeRegion(work *pipeline.Work) error {
	in, err := pipeline.ImageBuffer[T](w.Input(0))
	if err != nil {
		return err
	}
	g := w.grid()
	tiles, ok := g.tiles(work.Region)
	if !ok {
		return nil
	}
	total := tiles.Volume()
	var done uint64
	for idx := range tiles.Indices() {
		if work.Aborted() {
			return pipeline.ErrAborted
		}
		done++
		tile := g.tileRegion(idx)
		if !work.Region.ContainsIndex(tile.Index) {
			continue
		}
		pixels := make([]T, 0, tile.Volume())
		for line := range tile.Lines() {
			pixels = append(pixels, in.Line(line)...)
		}
		data, err := encodeTile(pixels)
		if err != nil {
			return err
		}
		if err := w.store.putTile(work.Context(), w.dataset, idx, data); err != nil {
			return fmt.Errorf("write tile %v: %w", idx, err)
		}
		w.written.Add(1)
		work.ReportProgress(float64(done) / float64(total))
	}
	return nil
}

// TileStoreReader is a source reading a tile store dataset.
//
// Description:
//
//	The information pass reads the manifest; a new manifest version marks
//	the node modified. Partitions read only the tiles they overlap.
type TileStoreReader[T filters.Pixel] struct {
	pipeline.BaseNode
	store     *Store
	dataset   string
	manifest  Manifest
	tilesRead atomic.Int64
	out       *pipeline.DataObject
}

// NewTileStoreReader creates a reader for dataset.
func NewTileStoreReader[T filters.Pixel](name string, store *Store, dataset string) *TileStoreReader[T] {
	r := &TileStoreReader[T]{store: store, dataset: dataset}
	r.Init(r, name)
	r.out = r.AddOutput("output", buffer.New[T]())
	return r
}

// TilesRead returns the number of tiles read since creation.
func (r *TileStoreReader[T]) TilesRead() int64 {
	return r.tilesRead.Load()
}

// UpdateOutputInformation loads the manifest and publishes the domain.
func (r *TileStoreReader[T]) UpdateOutputInformation(ctx context.Context) error {
	if r.store == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidParameter)
	}
	m, err := r.store.Manifest(ctx, r.dataset)
	if err != nil {
		return err
	}
	if want := pixelTypeName[T](); m.PixelType != want {
		return fmt.Errorf("%w: %s holds %s, want %s", ErrPixelTypeMismatch, r.dataset, m.PixelType, want)
	}
	if m.Version != r.manifest.Version {
		r.Modified()
	}
	r.manifest = m
	r.out.SetLargestPossibleRegion(m.Region())
	r.out.SetSpacing(m.Spacing)
	r.out.SetOrigin(m.Origin)
	return nil
}

// ComputeRegion copies the overlapping part of every tile into the output.
func (r *TileStoreReader[T]) ComputeRegion(w *pipeline.Work) error {
	out, err := pipeline.ImageBuffer[T](r.out)
	if err != nil {
		return err
	}
	g := r.manifest.grid()
	tiles, ok := g.tiles(w.Region)
	if !ok {
		return nil
	}
	total := tiles.Volume()
	var done uint64
	for idx := range tiles.Indices() {
		if w.Aborted() {
			return pipeline.ErrAborted
		}
		tileRegion := g.tileRegion(idx)
		data, err := r.store.getTile(w.Context(), r.dataset, idx)
		if err != nil {
			return err
		}
		pixels, err := decodeTile[T](data, int(tileRegion.Volume()))
		if err != nil {
			return fmt.Errorf("tile %v: %w", idx, err)
		}
		tile := buffer.New[T]()
		if _, err := tile.Reserve(tileRegion, 0); err != nil {
			return err
		}
		copy(tile.Data(), pixels)

		overlap, _ := tileRegion.Intersect(w.Region)
		for line := range overlap.Lines() {
			copy(out.Line(line), tile.Line(line))
		}
		r.tilesRead.Add(1)
		done++
		w.ReportProgress(float64(done) / float64(total))
	}
	return nil
}
