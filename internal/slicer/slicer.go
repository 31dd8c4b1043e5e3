// Package slicer splits oversized full-page screenshots into ordered tiles.
package slicer

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/png"

	"go.uber.org/zap"
)

const (
	// DefaultMaxTileHeight bounds a single tile's pixel height.
	DefaultMaxTileHeight = 4096
	// DefaultOverlap is zero: tiles never overlap and partition [0, H) exactly.
	DefaultOverlap = 0
)

// Tile describes one horizontal band of the source image.
type Tile struct {
	Index  int
	Top    int
	Height int
}

// Plan computes the tile layout for an image of the given height. Every pixel
// row is covered by at least one tile, and tile tops are strictly increasing.
func Plan(height, maxTileHeight, overlap int, logger *zap.Logger) []Tile {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxTileHeight <= 0 {
		maxTileHeight = DefaultMaxTileHeight
	}
	if overlap < 0 {
		overlap = 0
	}
	if height <= 0 {
		return nil
	}
	if height <= maxTileHeight || height <= overlap {
		return []Tile{{Index: 0, Top: 0, Height: height}}
	}

	stride := maxTileHeight - overlap
	count := (height-maxTileHeight+stride-1)/stride + 1
	if count < 1 {
		count = 1
	}

	tiles := make([]Tile, 0, count)
	for i := 0; i < count; i++ {
		top := i * stride
		h := maxTileHeight
		if top+h > height {
			h = height - top
			if h < overlap {
				// Shift the window up instead of emitting a sliver; every
				// tile except the geometry-forced last stays full height.
				top = height - maxTileHeight
				h = maxTileHeight
			}
		}
		if top >= height || top+h > height {
			logger.Warn("skipping out-of-bounds tile",
				zap.Int("index", i),
				zap.Int("top", top),
				zap.Int("tile_height", h),
				zap.Int("image_height", height),
			)
			continue
		}
		tiles = append(tiles, Tile{Index: len(tiles), Top: top, Height: h})
	}
	return tiles
}

// Slice decodes a PNG screenshot, tiles it per Plan, and re-encodes each
// tile. A screenshot that fits in a single tile is returned untouched.
func Slice(data []byte, maxTileHeight, overlap int, logger *zap.Logger) ([][]byte, []Tile, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("decode screenshot: %w", err)
	}
	bounds := img.Bounds()

	tiles := Plan(bounds.Dy(), maxTileHeight, overlap, logger)
	if len(tiles) == 0 {
		return nil, nil, fmt.Errorf("screenshot has no drawable area (%dx%d)", bounds.Dx(), bounds.Dy())
	}
	if len(tiles) == 1 && tiles[0].Top == 0 && tiles[0].Height == bounds.Dy() {
		return [][]byte{data}, tiles, nil
	}

	out := make([][]byte, 0, len(tiles))
	for _, t := range tiles {
		crop := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), t.Height))
		src := image.Pt(bounds.Min.X, bounds.Min.Y+t.Top)
		draw.Draw(crop, crop.Bounds(), img, src, draw.Src)

		var buf bytes.Buffer
		if err := png.Encode(&buf, crop); err != nil {
			return nil, nil, fmt.Errorf("encode tile %d: %w", t.Index, err)
		}
		out = append(out, buf.Bytes())
	}
	return out, tiles, nil
}
