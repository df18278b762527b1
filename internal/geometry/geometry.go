// Package geometry turns source geometries into clipped, simplified and
// quantized tile geometries.
package geometry

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
	"github.com/paulmach/orb/simplify"

	"github.com/mohammed-shakir/vector-tile-cache/internal/core/model"
	"github.com/mohammed-shakir/vector-tile-cache/internal/mvt"
)

var ErrGeometryTypeMismatch = errors.New("geometry type mismatch")

type Options struct {
	Type model.GeometryType
	// unbuffered tile extent, the quantization frame
	TileBox model.Bounds
	// buffered extent geometries are clipped to
	ClipBox   model.Bounds
	Clip      bool
	Simplify  bool
	Tolerance float64
	Extent    uint32
}

// TypeOf maps an orb geometry onto the closed set of layer geometry types.
func TypeOf(g orb.Geometry) model.GeometryType {
	switch t := g.(type) {
	case orb.Point, orb.MultiPoint:
		return model.GeometryPoint
	case orb.LineString, orb.MultiLineString:
		return model.GeometryLine
	case orb.Polygon, orb.MultiPolygon, orb.Ring, orb.Bound:
		return model.GeometryPolygon
	case orb.Collection:
		if len(t) == 0 {
			return model.GeometryUnknown
		}
		first := TypeOf(t[0])
		for _, m := range t[1:] {
			if TypeOf(m) != first {
				return model.GeometryUnknown
			}
		}
		return first
	default:
		return model.GeometryUnknown
	}
}

// Process validates, clips, simplifies and quantizes g. Polygons come back as
// one geometry per part; points and lines as a single geometry. A nil result
// with a nil error means the geometry vanished in the tile.
func Process(g orb.Geometry, opt Options) ([]mvt.Geometry, error) {
	if g == nil {
		return nil, nil
	}
	if got := TypeOf(g); got != opt.Type {
		return nil, fmt.Errorf("%w: layer declares %s, row has %s", ErrGeometryTypeMismatch, opt.Type, g.GeoJSONType())
	}
	extent := opt.Extent
	if extent == 0 {
		extent = model.DefaultExtent
	}
	q := newQuantizer(opt.TileBox, extent)
	box := toBound(opt.ClipBox)
	if !opt.Clip {
		box = safetyBound(opt.TileBox)
	}

	var dp *simplify.DouglasPeuckerSimplifier
	if opt.Simplify && opt.Tolerance > 0 {
		dp = simplify.DouglasPeucker(opt.Tolerance)
	}

	switch opt.Type {
	case model.GeometryPoint:
		var part []mvt.Point
		for _, p := range points(g) {
			if !box.Contains(p) {
				continue
			}
			part = append(part, q.point(p))
		}
		if len(part) == 0 {
			return nil, nil
		}
		return []mvt.Geometry{{Type: model.GeometryPoint, Parts: [][]mvt.Point{part}}}, nil

	case model.GeometryLine:
		var parts [][]mvt.Point
		for _, ls := range lineStrings(g) {
			clipped := clip.LineString(box, ls)
			for _, c := range clipped {
				if dp != nil {
					c = dp.LineString(c)
				}
				if part := q.line(c); len(part) >= 2 {
					parts = append(parts, part)
				}
			}
		}
		if len(parts) == 0 {
			return nil, nil
		}
		return []mvt.Geometry{{Type: model.GeometryLine, Parts: parts}}, nil

	case model.GeometryPolygon:
		var out []mvt.Geometry
		for _, p := range polygons(g) {
			p = clip.Polygon(box, p)
			if len(p) == 0 {
				continue
			}
			if rings := q.polygon(p, dp); len(rings) > 0 {
				out = append(out, mvt.Geometry{Type: model.GeometryPolygon, Parts: rings})
			}
		}
		return out, nil

	default:
		return nil, fmt.Errorf("%w: unsupported layer type %s", ErrGeometryTypeMismatch, opt.Type)
	}
}

// Unclipped layers are still cut this many tile widths out from the tile so
// quantized coordinates and their deltas stay inside int32.
const safetyTiles = 64

func safetyBound(tile model.Bounds) orb.Bound {
	dx, dy := tile.Width()*safetyTiles, tile.Height()*safetyTiles
	return orb.Bound{
		Min: orb.Point{tile.MinX - dx, tile.MinY - dy},
		Max: orb.Point{tile.MaxX + dx, tile.MaxY + dy},
	}
}

func toBound(b model.Bounds) orb.Bound {
	return orb.Bound{Min: orb.Point{b.MinX, b.MinY}, Max: orb.Point{b.MaxX, b.MaxY}}
}

func points(g orb.Geometry) []orb.Point {
	switch t := g.(type) {
	case orb.Point:
		return []orb.Point{t}
	case orb.MultiPoint:
		return t
	case orb.Collection:
		var out []orb.Point
		for _, m := range t {
			out = append(out, points(m)...)
		}
		return out
	}
	return nil
}

func lineStrings(g orb.Geometry) []orb.LineString {
	switch t := g.(type) {
	case orb.LineString:
		return []orb.LineString{t}
	case orb.MultiLineString:
		return t
	case orb.Collection:
		var out []orb.LineString
		for _, m := range t {
			out = append(out, lineStrings(m)...)
		}
		return out
	}
	return nil
}

func polygons(g orb.Geometry) []orb.Polygon {
	switch t := g.(type) {
	case orb.Polygon:
		return []orb.Polygon{t}
	case orb.MultiPolygon:
		return t
	case orb.Ring:
		return []orb.Polygon{{t}}
	case orb.Bound:
		return []orb.Polygon{t.ToPolygon()}
	case orb.Collection:
		var out []orb.Polygon
		for _, m := range t {
			out = append(out, polygons(m)...)
		}
		return out
	}
	return nil
}

// maps CRS coordinates onto the tile's integer grid, y pointing down
type quantizer struct {
	minX, maxY float64
	sx, sy     float64
}

func newQuantizer(tile model.Bounds, extent uint32) quantizer {
	return quantizer{
		minX: tile.MinX,
		maxY: tile.MaxY,
		sx:   float64(extent) / tile.Width(),
		sy:   float64(extent) / tile.Height(),
	}
}

func (q quantizer) point(p orb.Point) mvt.Point {
	return mvt.Point{
		X: int32(math.Round((p[0] - q.minX) * q.sx)),
		Y: int32(math.Round((q.maxY - p[1]) * q.sy)),
	}
}

func (q quantizer) line(ls orb.LineString) []mvt.Point {
	out := make([]mvt.Point, 0, len(ls))
	for _, p := range ls {
		tp := q.point(p)
		if len(out) > 0 && out[len(out)-1] == tp {
			continue
		}
		out = append(out, tp)
	}
	return out
}

// ring returns the open quantized ring, or nil when it has no area left.
func (q quantizer) ring(r orb.Ring) []mvt.Point {
	out := q.line(orb.LineString(r))
	if len(out) > 1 && out[0] == out[len(out)-1] {
		out = out[:len(out)-1]
	}
	if len(out) < 3 || signedArea(out) == 0 {
		return nil
	}
	return out
}

func (q quantizer) polygon(p orb.Polygon, dp *simplify.DouglasPeuckerSimplifier) [][]mvt.Point {
	var rings [][]mvt.Point
	for i, r := range p {
		if dp != nil {
			r = simplifyRing(dp, r)
		}
		tr := q.ring(r)
		if tr == nil {
			if i == 0 {
				return nil
			}
			continue
		}
		a := signedArea(tr)
		if (i == 0 && a < 0) || (i > 0 && a > 0) {
			reverse(tr)
		}
		rings = append(rings, tr)
	}
	return rings
}

// simplifyRing keeps the original ring when simplification would collapse
// it or make it cross itself.
func simplifyRing(dp *simplify.DouglasPeuckerSimplifier, r orb.Ring) orb.Ring {
	s := dp.Ring(r.Clone())
	if len(s) < 4 || selfIntersects(s) {
		return r
	}
	return s
}

// twice the area in tile space; positive for exterior rings (clockwise on screen)
func signedArea(r []mvt.Point) int64 {
	var a int64
	for i := range r {
		j := (i + 1) % len(r)
		a += int64(r[i].X)*int64(r[j].Y) - int64(r[j].X)*int64(r[i].Y)
	}
	return a
}

func reverse(r []mvt.Point) {
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
}

func cross(o, a, b orb.Point) float64 {
	return (a[0]-o[0])*(b[1]-o[1]) - (a[1]-o[1])*(b[0]-o[0])
}

func segmentsCross(p1, p2, p3, p4 orb.Point) bool {
	d1 := cross(p3, p4, p1)
	d2 := cross(p3, p4, p2)
	d3 := cross(p1, p2, p3)
	d4 := cross(p1, p2, p4)
	return ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0))
}

// selfIntersects reports whether two non-adjacent edges of a closed ring cross.
func selfIntersects(r orb.Ring) bool {
	n := len(r) - 1
	for i := 0; i < n; i++ {
		for j := i + 2; j < n; j++ {
			if i == 0 && j == n-1 {
				continue
			}
			if segmentsCross(r[i], r[i+1], r[j], r[j+1]) {
				return true
			}
		}
	}
	return false
}
