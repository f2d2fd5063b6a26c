// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package registry

import (
	"fmt"

	"github.com/AleutianAI/rasterflow/services/pipeline"
	"github.com/AleutianAI/rasterflow/services/pipeline/filters"
	"github.com/AleutianAI/rasterflow/services/pipeline/formats"
)

// builtins returns the entries NewWithBuiltins registers.
func builtins() []Entry {
	entry := func(tag, desc string, params ...string) Entry {
		return Entry{
			Tag:         tag,
			Description: desc,
			Params:      params,
			Constructor: func(spec NodeSpec, env *Env) (pipeline.Node, error) {
				return newBuiltin(tag, spec, env)
			},
		}
	}
	return []Entry{
		entry("constant", "source filling a region with one value", "region", "value"),
		entry("ramp", "source computing offset + sum(slope * index)", "region", "offset", "slopes"),
		entry("add", "adds a constant to every pixel", "k"),
		entry("scale", "computes pixel * factor + offset", "factor", "offset"),
		entry("sum", "adds two images pixel by pixel"),
		entry("mean", "box mean over a neighborhood", "radius"),
		entry("rescale", "maps the global input range onto [min, max]", "min", "max"),
		entry("tiff-reader", "reads one band of a 2-D TIFF file", "path", "band"),
		entry("tiff-writer", "writes a 2-D grayscale TIFF file", "path", "depth"),
		entry("tilestore-reader", "reads a dataset from a tile store", "store", "dataset"),
		entry("tilestore-writer", "writes a dataset to a tile store", "store", "dataset", "tile_size"),
	}
}

// newBuiltin instantiates a built-in tag for the node's pixel type.
func newBuiltin(tag string, spec NodeSpec, env *Env) (pipeline.Node, error) {
	switch spec.PixelType() {
	case "uint8":
		return build[uint8](tag, spec, env)
	case "uint16":
		return build[uint16](tag, spec, env)
	case "int16":
		return build[int16](tag, spec, env)
	case "int32":
		return build[int32](tag, spec, env)
	case "float32":
		return build[float32](tag, spec, env)
	case "float64":
		return build[float64](tag, spec, env)
	}
	return nil, fmt.Errorf("%w: pixel type %q", ErrInvalidSpec, spec.Pixel)
}

func build[T filters.Pixel](tag string, spec NodeSpec, env *Env) (pipeline.Node, error) {
	p := spec.Params
	switch tag {
	case "constant":
		r, err := p.Region("region")
		if err != nil {
			return nil, err
		}
		v, err := p.Float("value", 0)
		if err != nil {
			return nil, err
		}
		return filters.NewConstantSource(spec.Name, r, filters.FromFloat[T](v)), nil

	case "ramp":
		r, err := p.Region("region")
		if err != nil {
			return nil, err
		}
		offset, err := p.Float("offset", 0)
		if err != nil {
			return nil, err
		}
		slopes, err := p.Floats("slopes")
		if err != nil {
			return nil, err
		}
		return filters.NewRampSource[T](spec.Name, r, offset, slopes...), nil

	case "add":
		k, err := p.Float("k", 0)
		if err != nil {
			return nil, err
		}
		return filters.NewAdd[T](spec.Name, k), nil

	case "scale":
		factor, err := p.Float("factor", 1)
		if err != nil {
			return nil, err
		}
		offset, err := p.Float("offset", 0)
		if err != nil {
			return nil, err
		}
		return filters.NewScale[T, T](spec.Name, factor, offset), nil

	case "sum":
		return filters.NewSum[T](spec.Name), nil

	case "mean":
		radius, err := p.Uints("radius", 1)
		if err != nil {
			return nil, err
		}
		return filters.NewBoxMean[T, T](spec.Name, radius...), nil

	case "rescale":
		_, top := filters.Limits[T]()
		lo, err := p.Float("min", 0)
		if err != nil {
			return nil, err
		}
		hi, err := p.Float("max", min(top, 255))
		if err != nil {
			return nil, err
		}
		return filters.NewRescale[T, T](spec.Name, lo, hi), nil

	case "tiff-reader":
		path, err := p.RequiredString("path")
		if err != nil {
			return nil, err
		}
		band, err := p.Int("band", 0)
		if err != nil {
			return nil, err
		}
		r := formats.NewTIFFReader[T](spec.Name, path)
		if band != 0 {
			r.SetBand(band)
		}
		return r, nil

	case "tiff-writer":
		path, err := p.RequiredString("path")
		if err != nil {
			return nil, err
		}
		def := 16
		if spec.PixelType() == "uint8" {
			def = 8
		}
		depth, err := p.Int("depth", def)
		if err != nil {
			return nil, err
		}
		return formats.NewTIFFWriter[T](spec.Name, path, depth), nil

	case "tilestore-reader", "tilestore-writer":
		path, err := p.RequiredString("store")
		if err != nil {
			return nil, err
		}
		dataset, err := p.RequiredString("dataset")
		if err != nil {
			return nil, err
		}
		store, err := env.Store(path)
		if err != nil {
			return nil, err
		}
		if tag == "tilestore-reader" {
			return formats.NewTileStoreReader[T](spec.Name, store, dataset), nil
		}
		tile, err := p.Uints("tile_size", 256)
		if err != nil {
			return nil, err
		}
		return formats.NewTileStoreWriter[T](spec.Name, store, dataset, tile...), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, tag)
}
