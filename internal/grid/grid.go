// Package grid converts between tile addresses and extents of a tiling grid.
package grid

import (
	"errors"
	"fmt"
	"math"

	"github.com/mohammed-shakir/vector-tile-cache/internal/core/model"
)

var ErrInvalidTileAddress = errors.New("invalid tile address")

// absorbs float noise when an extent lies exactly on tile edges
const sizeEpsilon = 1e-9

func Resolution(g model.Grid, z int) (float64, error) {
	if z < 0 || z >= len(g.Resolutions) {
		return 0, fmt.Errorf("%w: zoom %d outside grid %q (0-%d)", ErrInvalidTileAddress, z, g.Name, g.MaxZoom())
	}
	return g.Resolutions[z], nil
}

// tile span in CRS units
func span(g model.Grid, z int) (float64, error) {
	res, err := Resolution(g, z)
	if err != nil {
		return 0, err
	}
	return res * float64(g.TileSize), nil
}

// MatrixSize returns the number of tile columns and rows at zoom z.
func MatrixSize(g model.Grid, z int) (int, int, error) {
	s, err := span(g, z)
	if err != nil {
		return 0, 0, err
	}
	cols := int(math.Ceil(g.Extent.Width()/s - sizeEpsilon))
	rows := int(math.Ceil(g.Extent.Height()/s - sizeEpsilon))
	return max(cols, 1), max(rows, 1), nil
}

func Validate(g model.Grid, z, x, y int) error {
	cols, rows, err := MatrixSize(g, z)
	if err != nil {
		return err
	}
	if x < 0 || x >= cols || y < 0 || y >= rows {
		return fmt.Errorf("%w: %d/%d/%d outside %dx%d matrix", ErrInvalidTileAddress, z, x, y, cols, rows)
	}
	return nil
}

// BoundingBoxFor computes the extent of tile (z, x, y) directly from the
// integer indices, so no error accumulates across zoom levels.
func BoundingBoxFor(g model.Grid, z, x, y int) (model.Bounds, error) {
	if err := Validate(g, z, x, y); err != nil {
		return model.Bounds{}, err
	}
	s, _ := span(g, z)

	b := model.Bounds{
		MinX: g.Extent.MinX + float64(x)*s,
		MaxX: g.Extent.MinX + float64(x+1)*s,
	}
	switch g.Origin {
	case model.OriginBottomLeft:
		b.MinY = g.Extent.MinY + float64(y)*s
		b.MaxY = g.Extent.MinY + float64(y+1)*s
	default:
		b.MaxY = g.Extent.MaxY - float64(y)*s
		b.MinY = g.Extent.MaxY - float64(y+1)*s
	}
	return b, nil
}

// TileAt returns the tile containing the point (px, py) at zoom z.
func TileAt(g model.Grid, z int, px, py float64) (int, int, error) {
	s, err := span(g, z)
	if err != nil {
		return 0, 0, err
	}
	x := int(math.Floor((px - g.Extent.MinX) / s))
	var y int
	switch g.Origin {
	case model.OriginBottomLeft:
		y = int(math.Floor((py - g.Extent.MinY) / s))
	default:
		y = int(math.Floor((g.Extent.MaxY - py) / s))
	}
	if err := Validate(g, z, x, y); err != nil {
		return 0, 0, err
	}
	return x, y, nil
}

// BufferedBoundingBox grows box by bufferPixels converted to CRS units at zoom z.
func BufferedBoundingBox(box model.Bounds, bufferPixels, z int, g model.Grid) (model.Bounds, error) {
	res, err := Resolution(g, z)
	if err != nil {
		return model.Bounds{}, err
	}
	if bufferPixels <= 0 {
		return box, nil
	}
	d := float64(bufferPixels) * res
	return model.Bounds{
		MinX: box.MinX - d,
		MinY: box.MinY - d,
		MaxX: box.MaxX + d,
		MaxY: box.MaxY + d,
	}, nil
}

// TileRange is an inclusive block of tiles at one zoom.
type TileRange struct {
	Z                      int
	MinX, MinY, MaxX, MaxY int
}

func (r TileRange) Count() int {
	return (r.MaxX - r.MinX + 1) * (r.MaxY - r.MinY + 1)
}

// TilesIn returns the tiles at zoom z intersecting ext, clamped to the grid.
func TilesIn(g model.Grid, z int, ext model.Bounds) (TileRange, error) {
	cols, rows, err := MatrixSize(g, z)
	if err != nil {
		return TileRange{}, err
	}
	s, _ := span(g, z)

	clampX := func(v float64) int { return min(max(int(math.Floor(v)), 0), cols-1) }
	clampY := func(v float64) int { return min(max(int(math.Floor(v)), 0), rows-1) }

	r := TileRange{Z: z}
	r.MinX = clampX((ext.MinX-g.Extent.MinX)/s + sizeEpsilon)
	r.MaxX = clampX((ext.MaxX-g.Extent.MinX)/s - sizeEpsilon)
	switch g.Origin {
	case model.OriginBottomLeft:
		r.MinY = clampY((ext.MinY-g.Extent.MinY)/s + sizeEpsilon)
		r.MaxY = clampY((ext.MaxY-g.Extent.MinY)/s - sizeEpsilon)
	default:
		r.MinY = clampY((g.Extent.MaxY-ext.MaxY)/s + sizeEpsilon)
		r.MaxY = clampY((g.Extent.MaxY-ext.MinY)/s - sizeEpsilon)
	}
	r.MaxX = max(r.MaxX, r.MinX)
	r.MaxY = max(r.MaxY, r.MinY)
	return r, nil
}
