// Package model defines core domain types shared across the service.
package model

import (
	"fmt"
	"strings"
)

type Bounds struct {
	MinX, MinY float64
	MaxX, MaxY float64
}

// String representation matching wms bbox format
func (b Bounds) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", b.MinX, b.MinY, b.MaxX, b.MaxY)
}

func (b Bounds) Width() float64  { return b.MaxX - b.MinX }
func (b Bounds) Height() float64 { return b.MaxY - b.MinY }

func (b Bounds) Center() (float64, float64) {
	return (b.MinX + b.MaxX) / 2, (b.MinY + b.MaxY) / 2
}

type Origin int

const (
	// row 0 at the top of the extent (XYZ)
	OriginTopLeft Origin = iota
	// row 0 at the bottom of the extent (TMS)
	OriginBottomLeft
)

// Grid is a tiling scheme shared by every tileset.
type Grid struct {
	Name        string
	SRID        int
	Origin      Origin
	TileSize    int
	Extent      Bounds
	Resolutions []float64
}

func (g Grid) MaxZoom() int { return len(g.Resolutions) - 1 }

const (
	mercatorHalfWorld = 20037508.342789244
	mercatorZ0Res     = 156543.03392804097
)

// WebMercator returns the EPSG:3857 grid with 256px tiles and zoom levels 0-22.
func WebMercator() Grid {
	res := make([]float64, 23)
	for z := range res {
		res[z] = mercatorZ0Res / float64(uint64(1)<<uint(z))
	}
	return Grid{
		Name:        "web_mercator",
		SRID:        3857,
		Origin:      OriginTopLeft,
		TileSize:    256,
		Extent:      Bounds{MinX: -mercatorHalfWorld, MinY: -mercatorHalfWorld, MaxX: mercatorHalfWorld, MaxY: mercatorHalfWorld},
		Resolutions: res,
	}
}

// WGS84 returns the EPSG:4326 grid, two tiles wide at zoom 0.
func WGS84() Grid {
	res := make([]float64, 22)
	for z := range res {
		res[z] = 0.703125 / float64(uint64(1)<<uint(z))
	}
	return Grid{
		Name:        "wgs84",
		SRID:        4326,
		Origin:      OriginTopLeft,
		TileSize:    256,
		Extent:      Bounds{MinX: -180, MinY: -90, MaxX: 180, MaxY: 90},
		Resolutions: res,
	}
}

type GeometryType int

const (
	GeometryUnknown GeometryType = iota
	GeometryPoint
	GeometryLine
	GeometryPolygon
)

func (t GeometryType) String() string {
	switch t {
	case GeometryPoint:
		return "POINT"
	case GeometryLine:
		return "LINESTRING"
	case GeometryPolygon:
		return "POLYGON"
	default:
		return "UNKNOWN"
	}
}

// ParseGeometryType accepts the OGC names, including multi variants.
func ParseGeometryType(s string) (GeometryType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "POINT", "MULTIPOINT":
		return GeometryPoint, nil
	case "LINE", "LINESTRING", "MULTILINESTRING":
		return GeometryLine, nil
	case "POLYGON", "MULTIPOLYGON":
		return GeometryPolygon, nil
	default:
		return GeometryUnknown, fmt.Errorf("unsupported geometry type %q", s)
	}
}

// Query is one zoom-scoped statement template of a layer.
type Query struct {
	SQL     string
	MinZoom int
	MaxZoom int
}

func (q Query) Covers(z int) bool {
	return z >= q.MinZoom && z <= q.MaxZoom
}

const DefaultExtent = 4096

type Layer struct {
	Name          string
	GeometryField string
	GeometryType  GeometryType
	FIDField      string
	SRID          int
	// margin in tile pixels
	BufferSize int
	Clip       bool
	Simplify   bool
	// simplification tolerance in pixels at the requested zoom
	Tolerance  float64
	Extent     uint32
	MinZoom    int
	MaxZoom    int
	QueryLimit int
	Queries    []Query
}

type Tileset struct {
	Name        string
	Attribution string
	Center      []float64
	Style       map[string]any
	Layers      []Layer
}

func (t Tileset) Layer(name string) (Layer, bool) {
	for _, l := range t.Layers {
		if l.Name == name {
			return l, true
		}
	}
	return Layer{}, false
}

// TileAddress identifies one tile of a tileset.
type TileAddress struct {
	Tileset string
	Z, X, Y int
}

func (a TileAddress) String() string {
	return fmt.Sprintf("%s/%d/%d/%d", a.Tileset, a.Z, a.X, a.Y)
}

// Attribute is one feature property; Value is string, float64, int64, uint64 or bool.
type Attribute struct {
	Key   string
	Value any
}
