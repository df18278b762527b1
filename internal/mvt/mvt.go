// Package mvt encodes tile-local geometries and their attributes as
// Mapbox Vector Tiles (vector_tile.proto, version 2).
package mvt

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/mohammed-shakir/vector-tile-cache/internal/core/model"
)

const ContentType = "application/vnd.mapbox-vector-tile"

const layerVersion = 2

type command uint32

const (
	cmdMoveTo    command = 1
	cmdLineTo    command = 2
	cmdClosePath command = 7
)

// wire geometry type, vector_tile.proto GeomType
const (
	geomUnknown    = 0
	geomPoint      = 1
	geomLineString = 2
	geomPolygon    = 3
)

// field numbers from vector_tile.proto
const (
	tileLayers protowire.Number = 3

	layerName     protowire.Number = 1
	layerFeatures protowire.Number = 2
	layerKeys     protowire.Number = 3
	layerValues   protowire.Number = 4
	layerExtent   protowire.Number = 5
	layerVer      protowire.Number = 15

	featureID       protowire.Number = 1
	featureTags     protowire.Number = 2
	featureType     protowire.Number = 3
	featureGeometry protowire.Number = 4

	valueString protowire.Number = 1
	valueFloat  protowire.Number = 2
	valueDouble protowire.Number = 3
	valueInt    protowire.Number = 4
	valueUint   protowire.Number = 5
	valueSint   protowire.Number = 6
	valueBool   protowire.Number = 7
)

type Point struct {
	X, Y int32
}

// Geometry is a quantized geometry in tile coordinates.
// Point: one part holding every point. Line: one part per linestring.
// Polygon: rings without the closing point; exterior rings have positive
// area in tile space (y down), holes negative and follow their exterior.
type Geometry struct {
	Type  model.GeometryType
	Parts [][]Point
}

func (g Geometry) Empty() bool {
	for _, p := range g.Parts {
		if len(p) > 0 {
			return false
		}
	}
	return true
}

type Feature struct {
	ID         *uint64
	Geometry   Geometry
	Attributes []model.Attribute
}

type Layer struct {
	Name     string
	Extent   uint32
	Features []Feature
}

// Encode serializes layers in order. Features whose geometry encodes to
// nothing are skipped.
func Encode(layers []Layer) []byte {
	var out []byte
	for i := range layers {
		out = protowire.AppendTag(out, tileLayers, protowire.BytesType)
		out = protowire.AppendBytes(out, encodeLayer(&layers[i]))
	}
	return out
}

type valueKey struct {
	field protowire.Number
	s     string
	u     uint64
}

type dict struct {
	keys     []string
	keyIdx   map[string]uint32
	values   []valueKey
	valueIdx map[valueKey]uint32
}

func newDict() *dict {
	return &dict{keyIdx: map[string]uint32{}, valueIdx: map[valueKey]uint32{}}
}

func (d *dict) key(k string) uint32 {
	if i, ok := d.keyIdx[k]; ok {
		return i
	}
	i := uint32(len(d.keys))
	d.keys = append(d.keys, k)
	d.keyIdx[k] = i
	return i
}

func (d *dict) value(v valueKey) uint32 {
	if i, ok := d.valueIdx[v]; ok {
		return i
	}
	i := uint32(len(d.values))
	d.values = append(d.values, v)
	d.valueIdx[v] = i
	return i
}

func encodeLayer(l *Layer) []byte {
	extent := l.Extent
	if extent == 0 {
		extent = model.DefaultExtent
	}
	d := newDict()

	var feats []byte
	for i := range l.Features {
		fb := encodeFeature(&l.Features[i], d)
		if fb == nil {
			continue
		}
		feats = protowire.AppendTag(feats, layerFeatures, protowire.BytesType)
		feats = protowire.AppendBytes(feats, fb)
	}

	var b []byte
	b = protowire.AppendTag(b, layerVer, protowire.VarintType)
	b = protowire.AppendVarint(b, layerVersion)
	b = protowire.AppendTag(b, layerName, protowire.BytesType)
	b = protowire.AppendString(b, l.Name)
	b = append(b, feats...)
	for _, k := range d.keys {
		b = protowire.AppendTag(b, layerKeys, protowire.BytesType)
		b = protowire.AppendString(b, k)
	}
	for _, v := range d.values {
		b = protowire.AppendTag(b, layerValues, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeValue(v))
	}
	b = protowire.AppendTag(b, layerExtent, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(extent))
	return b
}

func encodeFeature(f *Feature, d *dict) []byte {
	gtype, cmds := encodeGeometry(f.Geometry)
	if len(cmds) == 0 {
		return nil
	}

	var tags []uint32
	for _, a := range f.Attributes {
		v, ok := toValueKey(a.Value)
		if !ok {
			continue
		}
		tags = append(tags, d.key(a.Key), d.value(v))
	}

	var b []byte
	if f.ID != nil {
		b = protowire.AppendTag(b, featureID, protowire.VarintType)
		b = protowire.AppendVarint(b, *f.ID)
	}
	if len(tags) > 0 {
		b = protowire.AppendTag(b, featureTags, protowire.BytesType)
		b = protowire.AppendBytes(b, packed(tags))
	}
	b = protowire.AppendTag(b, featureType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(gtype))
	b = protowire.AppendTag(b, featureGeometry, protowire.BytesType)
	b = protowire.AppendBytes(b, packed(cmds))
	return b
}

func packed(vs []uint32) []byte {
	var b []byte
	for _, v := range vs {
		b = protowire.AppendVarint(b, uint64(v))
	}
	return b
}

func commandInt(c command, count int) uint32 {
	return uint32(c)&0x7 | uint32(count)<<3
}

func zigzag(v int32) uint32 {
	return uint32(protowire.EncodeZigZag(int64(v)))
}

type cursor struct {
	x, y int32
	out  []uint32
}

func (c *cursor) to(p Point) {
	c.out = append(c.out, zigzag(p.X-c.x), zigzag(p.Y-c.y))
	c.x, c.y = p.X, p.Y
}

// drops consecutive repeats, which would encode as zero-length LineTo
func dedupe(pts []Point) []Point {
	out := make([]Point, 0, len(pts))
	for i, p := range pts {
		if i > 0 && p == out[len(out)-1] {
			continue
		}
		out = append(out, p)
	}
	return out
}

func encodeGeometry(g Geometry) (int, []uint32) {
	c := &cursor{}
	switch g.Type {
	case model.GeometryPoint:
		var pts []Point
		for _, part := range g.Parts {
			pts = append(pts, part...)
		}
		if len(pts) == 0 {
			return geomUnknown, nil
		}
		c.out = append(c.out, commandInt(cmdMoveTo, len(pts)))
		for _, p := range pts {
			c.to(p)
		}
		return geomPoint, c.out

	case model.GeometryLine:
		for _, part := range g.Parts {
			ls := dedupe(part)
			if len(ls) < 2 {
				continue
			}
			c.out = append(c.out, commandInt(cmdMoveTo, 1))
			c.to(ls[0])
			c.out = append(c.out, commandInt(cmdLineTo, len(ls)-1))
			for _, p := range ls[1:] {
				c.to(p)
			}
		}
		return geomLineString, c.out

	case model.GeometryPolygon:
		for _, part := range g.Parts {
			r := dedupe(part)
			if len(r) > 1 && r[0] == r[len(r)-1] {
				r = r[:len(r)-1]
			}
			if len(r) < 3 {
				continue
			}
			c.out = append(c.out, commandInt(cmdMoveTo, 1))
			c.to(r[0])
			c.out = append(c.out, commandInt(cmdLineTo, len(r)-1))
			for _, p := range r[1:] {
				c.to(p)
			}
			c.out = append(c.out, commandInt(cmdClosePath, 1))
		}
		return geomPolygon, c.out

	default:
		return geomUnknown, nil
	}
}

func toValueKey(v any) (valueKey, bool) {
	switch t := v.(type) {
	case nil:
		return valueKey{}, false
	case string:
		return valueKey{field: valueString, s: t}, true
	case []byte:
		return valueKey{field: valueString, s: string(t)}, true
	case bool:
		var u uint64
		if t {
			u = 1
		}
		return valueKey{field: valueBool, u: u}, true
	case float32:
		return valueKey{field: valueFloat, u: uint64(math.Float32bits(t))}, true
	case float64:
		return valueKey{field: valueDouble, u: math.Float64bits(t)}, true
	case int:
		return intKey(int64(t)), true
	case int8:
		return intKey(int64(t)), true
	case int16:
		return intKey(int64(t)), true
	case int32:
		return intKey(int64(t)), true
	case int64:
		return intKey(t), true
	case uint:
		return valueKey{field: valueUint, u: uint64(t)}, true
	case uint8:
		return valueKey{field: valueUint, u: uint64(t)}, true
	case uint16:
		return valueKey{field: valueUint, u: uint64(t)}, true
	case uint32:
		return valueKey{field: valueUint, u: uint64(t)}, true
	case uint64:
		return valueKey{field: valueUint, u: t}, true
	case fmt.Stringer:
		return valueKey{field: valueString, s: t.String()}, true
	default:
		return valueKey{field: valueString, s: fmt.Sprint(t)}, true
	}
}

// negative integers use the zig-zag sint field, the rest uint
func intKey(n int64) valueKey {
	if n < 0 {
		return valueKey{field: valueSint, u: protowire.EncodeZigZag(n)}
	}
	return valueKey{field: valueUint, u: uint64(n)}
}

func encodeValue(v valueKey) []byte {
	var b []byte
	switch v.field {
	case valueString:
		b = protowire.AppendTag(b, valueString, protowire.BytesType)
		b = protowire.AppendString(b, v.s)
	case valueFloat:
		b = protowire.AppendTag(b, valueFloat, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, uint32(v.u))
	case valueDouble:
		b = protowire.AppendTag(b, valueDouble, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, v.u)
	case valueInt, valueUint, valueSint, valueBool:
		b = protowire.AppendTag(b, v.field, protowire.VarintType)
		b = protowire.AppendVarint(b, v.u)
	}
	return b
}
