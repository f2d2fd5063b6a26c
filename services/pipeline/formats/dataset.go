// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package formats

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/rasterflow/pkg/region"
)

const (
	manifestPrefix = "m/"
	tilePrefix     = "t/"
)

// Manifest describes a dataset in a tile store.
type Manifest struct {
	// Dataset is the dataset name.
	Dataset string `json:"dataset"`

	// Index and Size give the dataset domain.
	Index []int64  `json:"index"`
	Size  []uint64 `json:"size"`

	// TileSize is the tile extent per axis.
	TileSize []uint64 `json:"tile_size"`

	// PixelType is the Go name of the pixel type, such as "uint16".
	PixelType string `json:"pixel_type"`

	// Spacing and Origin carry the physical geometry, if any.
	Spacing []float64 `json:"spacing,omitempty"`
	Origin  []float64 `json:"origin,omitempty"`

	// Version changes on every write of the manifest.
	Version int64 `json:"version"`
}

// Region returns the dataset domain.
func (m Manifest) Region() region.Region {
	r, err := region.New(region.Index(m.Index), region.Size(m.Size))
	if err != nil {
		return region.Region{}
	}
	return r
}

func (m Manifest) validate() error {
	r := m.Region()
	switch {
	case m.Dataset == "" || strings.Contains(m.Dataset, "/"):
		return fmt.Errorf("%w: dataset name %q", ErrInvalidParameter, m.Dataset)
	case r.IsEmpty():
		return fmt.Errorf("%w: empty domain for %q", ErrInvalidParameter, m.Dataset)
	case len(m.TileSize) != r.Dimension():
		return fmt.Errorf("%w: %d-D tiles for a %d-D domain", ErrInvalidParameter, len(m.TileSize), r.Dimension())
	}
	for _, s := range m.TileSize {
		if s == 0 {
			return fmt.Errorf("%w: zero tile size", ErrInvalidParameter)
		}
	}
	return nil
}

// tileGrid maps between pixel regions and tile indices of a dataset.
type tileGrid struct {
	domain region.Region
	tile   region.Size
}

func (m Manifest) grid() tileGrid {
	return tileGrid{domain: m.Region(), tile: region.Size(m.TileSize)}
}

// tileRegion returns the pixels of tile g, cropped to the domain.
func (g tileGrid) tileRegion(tile region.Index) region.Region {
	idx := make(region.Index, len(tile))
	size := make(region.Size, len(tile))
	for d, t := range tile {
		idx[d] = g.domain.Index[d] + t*int64(g.tile[d])
		size[d] = g.tile[d]
	}
	out, _ := region.Must(idx, size).Crop(g.domain)
	return out
}

// tiles returns the tile indices overlapping r as a region of the tile grid.
func (g tileGrid) tiles(r region.Region) (region.Region, bool) {
	r, ok := r.Crop(g.domain)
	if !ok {
		return region.Region{}, false
	}
	lo := make(region.Index, r.Dimension())
	size := make(region.Size, r.Dimension())
	for d := range lo {
		first := (r.Index[d] - g.domain.Index[d]) / int64(g.tile[d])
		last := (r.Index[d] + int64(r.Size[d]) - 1 - g.domain.Index[d]) / int64(g.tile[d])
		lo[d] = first
		size[d] = uint64(last - first + 1)
	}
	return region.Must(lo, size), true
}

// snap grows r to whole tiles, cropped to the domain.
func (g tileGrid) snap(r region.Region) region.Region {
	tiles, ok := g.tiles(r)
	if !ok {
		return r
	}
	last := tiles.Upper()
	for d := range last {
		last[d]--
	}
	return g.tileRegion(tiles.Index).BoundingUnion(g.tileRegion(last))
}

func manifestKey(dataset string) []byte {
	return []byte(manifestPrefix + dataset)
}

func tileKey(dataset string, tile region.Index) []byte {
	var b strings.Builder
	b.WriteString(tilePrefix)
	b.WriteString(dataset)
	b.WriteByte('/')
	for d, v := range tile {
		if d > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatInt(v, 10))
	}
	return []byte(b.String())
}

// PutManifest creates or replaces a dataset manifest.
func (s *Store) PutManifest(ctx context.Context, m Manifest) (Manifest, error) {
	if err := m.validate(); err != nil {
		return Manifest{}, err
	}
	m.Version = time.Now().UnixNano()
	data, err := json.Marshal(m)
	if err != nil {
		return Manifest{}, fmt.Errorf("marshal manifest: %w", err)
	}
	err = s.update(ctx, func(txn *badger.Txn) error {
		return txn.Set(manifestKey(m.Dataset), data)
	})
	if err != nil {
		return Manifest{}, fmt.Errorf("put manifest %s: %w", m.Dataset, err)
	}
	return m, nil
}

// Manifest returns the manifest of dataset.
func (s *Store) Manifest(ctx context.Context, dataset string) (Manifest, error) {
	var m Manifest
	err := s.view(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(manifestKey(dataset))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &m)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Manifest{}, fmt.Errorf("%w: %q", ErrDatasetNotFound, dataset)
	}
	if err != nil {
		return Manifest{}, fmt.Errorf("get manifest %s: %w", dataset, err)
	}
	return m, nil
}

// Datasets returns the names of all datasets in key order.
func (s *Store) Datasets(ctx context.Context) ([]string, error) {
	var names []string
	err := s.view(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(manifestPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			names = append(names, strings.TrimPrefix(string(it.Item().Key()), manifestPrefix))
		}
		return nil
	})
	return names, err
}

// DeleteDataset removes a dataset and all of its tiles.
func (s *Store) DeleteDataset(ctx context.Context, dataset string) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.DropPrefix(manifestKey(dataset), []byte(tilePrefix+dataset+"/"))
}

func (s *Store) putTile(ctx context.Context, dataset string, tile region.Index, data []byte) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		return txn.Set(tileKey(dataset, tile), data)
	})
}

func (s *Store) getTile(ctx context.Context, dataset string, tile region.Index) ([]byte, error) {
	var out []byte
	err := s.view(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(tileKey(dataset, tile))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s tile %v", ErrTileNotFound, dataset, tile)
	}
	return out, err
}

// encodeTile serializes pixels little-endian.
func encodeTile[T any](pixels []T) ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, pixels); err != nil {
		return nil, fmt.Errorf("encode tile: %w", err)
	}
	return buf.Bytes(), nil
}

// decodeTile parses n little-endian pixels.
func decodeTile[T any](data []byte, n int) ([]T, error) {
	out := make([]T, n)
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, out); err != nil {
		return nil, fmt.Errorf("decode tile: %w", err)
	}
	return out, nil
}
