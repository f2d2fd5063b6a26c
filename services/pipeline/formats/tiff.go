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
	"image"
	"image/color"
	"os"
	"time"

	"golang.org/x/image/tiff"

	"github.com/AleutianAI/rasterflow/pkg/buffer"
	"github.com/AleutianAI/rasterflow/pkg/region"
	"github.com/AleutianAI/rasterflow/services/pipeline"
	"github.com/AleutianAI/rasterflow/services/pipeline/filters"
)

// fileStamp identifies a version of a file on disk.
type fileStamp struct {
	size    int64
	modTime time.Time
}

func statFile(path string) (fileStamp, error) {
	info, err := os.Stat(path)
	if err != nil {
		return fileStamp{}, err
	}
	return fileStamp{size: info.Size(), modTime: info.ModTime()}, nil
}

// TIFFReader is a source reading one band of a 2-D TIFF file.
//
// Description:
//
//	The information pass reads only the TIFF header. The image is decoded
//	once before the first execution and kept until the file changes on
//	disk, which also marks the node modified. 8-bit images yield values in
//	[0, 255] and 16-bit images values in [0, 65535].
//
// Thread Safety:
//
//	Setters must not be called during an Update that includes the node.
type TIFFReader[T filters.Pixel] struct {
	pipeline.BaseNode
	path  string
	band  int
	stamp fileStamp
	img   image.Image
	out   *pipeline.DataObject
}

// NewTIFFReader creates a reader for path.
func NewTIFFReader[T filters.Pixel](name, path string) *TIFFReader[T] {
	r := &TIFFReader[T]{path: path}
	r.Init(r, name)
	r.out = r.AddOutput("output", buffer.New[T]())
	return r
}

// SetFileName changes the file to read.
func (r *TIFFReader[T]) SetFileName(path string) {
	r.path = path
	r.stamp = fileStamp{}
	r.img = nil
	r.Modified()
}

// SetBand selects the color channel: 0 red, 1 green, 2 blue, 3 alpha.
// Grayscale images ignore it.
func (r *TIFFReader[T]) SetBand(band int) {
	r.band = band
	r.Modified()
}

// UpdateOutputInformation reads the image size.
func (r *TIFFReader[T]) UpdateOutputInformation(_ context.Context) error {
	if r.band < 0 || r.band > 3 {
		return fmt.Errorf("%w: band %d", ErrInvalidParameter, r.band)
	}
	stamp, err := statFile(r.path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", r.path, err)
	}
	if stamp != r.stamp {
		r.stamp = stamp
		r.img = nil
		r.Modified()
	}

	f, err := os.Open(r.path)
	if err != nil {
		return fmt.Errorf("open %s: %w", r.path, err)
	}
	defer f.Close()
	cfg, err := tiff.DecodeConfig(f)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnsupportedImage, r.path, err)
	}
	r.out.SetLargestPossibleRegion(region.Rect(0, 0, uint64(cfg.Width), uint64(cfg.Height)))
	return nil
}

// BeforeExecute decodes the file unless it is already decoded.
func (r *TIFFReader[T]) BeforeExecute(_ context.Context) error {
	if r.img != nil {
		return nil
	}
	f, err := os.Open(r.path)
	if err != nil {
		return fmt.Errorf("open %s: %w", r.path, err)
	}
	defer f.Close()
	img, err := tiff.Decode(f)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnsupportedImage, r.path, err)
	}
	r.img = img
	return nil
}

// ComputeRegion copies the partition out of the decoded image.
func (r *TIFFReader[T]) ComputeRegion(w *pipeline.Work) error {
	out, err := pipeline.ImageBuffer[T](r.out)
	if err != nil {
		return err
	}
	img, band := r.img, r.band
	org := img.Bounds().Min
	return w.ForEachLine(func(line region.Region) error {
		px := out.Line(line)
		y := org.Y + int(line.Index[1])
		for i := range px {
			px[i] = filters.FromFloat[T](sample(img, org.X+int(line.Index[0])+i, y, band))
		}
		return nil
	})
}

// sample returns one channel of the pixel at (x, y) at the image's depth.
func sample(img image.Image, x, y, band int) float64 {
	switch im := img.(type) {
	case *image.Gray:
		return float64(im.GrayAt(x, y).Y)
	case *image.Gray16:
		return float64(im.Gray16At(x, y).Y)
	}
	c := color.NRGBA64Model.Convert(img.At(x, y)).(color.NRGBA64)
	v := [4]uint16{c.R, c.G, c.B, c.A}[band]
	switch img.(type) {
	case *image.RGBA64, *image.NRGBA64:
		return float64(v)
	}
	return float64(v >> 8)
}

// TIFFWriter is a sink writing its 2-D input as a grayscale TIFF file.
//
// Description:
//
//	The writer always requests the whole image. Partitions fill disjoint
//	rows of an in-memory image which AfterExecute encodes with Deflate
//	compression. Pixel values are rounded and saturated to the output depth.
type TIFFWriter[T filters.Pixel] struct {
	pipeline.BaseNode
	path   string
	depth  int
	origin image.Point
	gray   *image.Gray
	gray16 *image.Gray16
	out    *pipeline.DataObject
}

// NewTIFFWriter creates a writer for path. depth is 8 or 16.
func NewTIFFWriter[T filters.Pixel](name, path string, depth int) *TIFFWriter[T] {
	w := &TIFFWriter[T]{path: path, depth: depth}
	w.Init(w, name)
	w.AddInput("input", true)
	w.out = w.AddOutput("output", nil)
	return w
}

// SetFileName changes the destination file.
func (w *TIFFWriter[T]) SetFileName(path string) {
	w.path = path
	w.Modified()
}

// UpdateOutputInformation validates depth and dimensionality.
func (w *TIFFWriter[T]) UpdateOutputInformation(_ context.Context) error {
	if w.depth != 8 && w.depth != 16 {
		return fmt.Errorf("%w: depth %d", ErrInvalidParameter, w.depth)
	}
	in := w.Input(0)
	if dim := in.LargestPossibleRegion().Dimension(); dim != 2 {
		return fmt.Errorf("%w: TIFF needs a 2-D image, got %d-D", ErrUnsupportedImage, dim)
	}
	w.out.CopyInformation(in)
	return nil
}

// EnlargeOutputRequestedRegion requests the whole image.
func (w *TIFFWriter[T]) EnlargeOutputRequestedRegion(_, largest region.Region) region.Region {
	return largest
}

// BeforeExecute allocates the in-memory image.
func (w *TIFFWriter[T]) BeforeExecute(_ context.Context) error {
	largest := w.out.LargestPossibleRegion()
	w.origin = image.Pt(int(largest.Index[0]), int(largest.Index[1]))
	bounds := image.Rect(0, 0, int(largest.Size[0]), int(largest.Size[1]))
	if w.depth == 8 {
		w.gray = image.NewGray(bounds)
	} else {
		w.gray16 = image.NewGray16(bounds)
	}
	return nil
}

// ComputeRegion copies the partition into the image.
func (w *TIFFWriter[T]) ComputeRegion(work *pipeline.Work) error {
	in, err := pipeline.ImageBuffer[T](w.Input(0))
	if err != nil {
		return err
	}
	return work.ForEachLine(func(line region.Region) error {
		src := in.Line(line)
		x0 := int(line.Index[0]) - w.origin.X
		y := int(line.Index[1]) - w.origin.Y
		for i, v := range src {
			if w.gray != nil {
				w.gray.SetGray(x0+i, y, color.Gray{Y: filters.FromFloat[uint8](float64(v))})
			} else {
				w.gray16.SetGray16(x0+i, y, color.Gray16{Y: filters.FromFloat[uint16](float64(v))})
			}
		}
		return nil
	})
}

// AfterExecute encodes the image to the destination file.
func (w *TIFFWriter[T]) AfterExecute(_ context.Context) (err error) {
	var img image.Image = w.gray
	if w.gray == nil {
		img = w.gray16
	}
	defer func() { w.gray, w.gray16 = nil, nil }()

	f, err := os.Create(w.path)
	if err != nil {
		return fmt.Errorf("create %s: %w", w.path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close %s: %w", w.path, cerr)
		}
	}()
	if err := tiff.Encode(f, img, &tiff.Options{Compression: tiff.Deflate}); err != nil {
		return fmt.Errorf("encode %s: %w", w.path, err)
	}
	return nil
}
