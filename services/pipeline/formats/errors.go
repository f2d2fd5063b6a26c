// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package formats provides file-format source and sink nodes: TIFF images
// and a tiled raster store backed by BadgerDB.
//
// Readers are sources: they publish the image domain during the information
// pass and decode only what the executive requests. Writers are sinks with a
// pixel-less output; updating a writer pulls the requested region through
// the pipeline and persists it.
package formats

import "errors"

// Sentinel errors for format nodes.
var (
	// ErrUnsupportedImage is returned for images the node cannot represent.
	ErrUnsupportedImage = errors.New("unsupported image")

	// ErrDatasetNotFound is returned when a tile store has no such dataset.
	ErrDatasetNotFound = errors.New("dataset not found")

	// ErrTileNotFound is returned when a tile inside the dataset domain is
	// missing from the store.
	ErrTileNotFound = errors.New("tile not found")

	// ErrPixelTypeMismatch is returned when a dataset holds another pixel type.
	ErrPixelTypeMismatch = errors.New("pixel type mismatch")

	// ErrStoreClosed is returned by operations on a closed store.
	ErrStoreClosed = errors.New("store closed")

	// ErrInvalidParameter is returned for invalid node parameters.
	ErrInvalidParameter = errors.New("invalid format parameter")
)
