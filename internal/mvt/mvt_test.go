package mvt

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/paulmach/orb"
	orbmvt "github.com/paulmach/orb/encoding/mvt"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/mohammed-shakir/vector-tile-cache/internal/core/model"
)

// collects the raw bytes of every length-delimited field with number n
func fieldsBytes(t *testing.T, b []byte, n protowire.Number) [][]byte {
	t.Helper()
	var out [][]byte
	for len(b) > 0 {
		num, typ, l := protowire.ConsumeTag(b)
		if l < 0 {
			t.Fatalf("bad tag: %v", protowire.ParseError(l))
		}
		b = b[l:]
		if typ == protowire.BytesType {
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				t.Fatalf("bad bytes: %v", protowire.ParseError(m))
			}
			if num == n {
				out = append(out, v)
			}
			b = b[m:]
			continue
		}
		m := protowire.ConsumeFieldValue(num, typ, b)
		if m < 0 {
			t.Fatalf("bad field: %v", protowire.ParseError(m))
		}
		b = b[m:]
	}
	return out
}

func unpack(t *testing.T, b []byte) []uint64 {
	t.Helper()
	var out []uint64
	for len(b) > 0 {
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			t.Fatalf("bad varint")
		}
		out = append(out, v)
		b = b[n:]
	}
	return out
}

func firstFeatureGeometry(t *testing.T, tile []byte) []uint64 {
	t.Helper()
	layers := fieldsBytes(t, tile, tileLayers)
	if len(layers) != 1 {
		t.Fatalf("layers=%d", len(layers))
	}
	feats := fieldsBytes(t, layers[0], layerFeatures)
	if len(feats) == 0 {
		t.Fatal("no features")
	}
	geoms := fieldsBytes(t, feats[0], featureGeometry)
	if len(geoms) != 1 {
		t.Fatalf("geometry fields=%d", len(geoms))
	}
	return unpack(t, geoms[0])
}

func equalU64(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestEncode_PointCommandStream(t *testing.T) {
	tile := Encode([]Layer{{
		Name: "pts",
		Features: []Feature{{
			Geometry: Geometry{Type: model.GeometryPoint, Parts: [][]Point{{{25, 17}}}},
		}},
	}})
	got := firstFeatureGeometry(t, tile)
	if want := []uint64{9, 50, 34}; !equalU64(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestEncode_LineAndPolygonCommandStreams(t *testing.T) {
	line := Encode([]Layer{{
		Name: "l",
		Features: []Feature{{
			Geometry: Geometry{Type: model.GeometryLine, Parts: [][]Point{
				{{2, 2}, {2, 10}, {10, 10}},
				{{1, 1}, {3, 5}},
			}},
		}},
	}})
	want := []uint64{9, 4, 4, 18, 0, 16, 16, 0, 9, 17, 17, 10, 4, 8}
	if got := firstFeatureGeometry(t, line); !equalU64(got, want) {
		t.Fatalf("line got %v want %v", got, want)
	}

	poly := Encode([]Layer{{
		Name: "p",
		Features: []Feature{{
			Geometry: Geometry{Type: model.GeometryPolygon, Parts: [][]Point{
				{{3, 6}, {8, 12}, {20, 34}, {3, 6}},
			}},
		}},
	}})
	want = []uint64{9, 6, 12, 18, 10, 12, 24, 44, 15}
	if got := firstFeatureGeometry(t, poly); !equalU64(got, want) {
		t.Fatalf("polygon got %v want %v", got, want)
	}
}

func TestEncode_DeduplicatesKeysAndValues(t *testing.T) {
	attrs := []model.Attribute{{Key: "kind", Value: "road"}, {Key: "lanes", Value: int64(2)}}
	tile := Encode([]Layer{{
		Name: "roads",
		Features: []Feature{
			{Geometry: Geometry{Type: model.GeometryPoint, Parts: [][]Point{{{1, 1}}}}, Attributes: attrs},
			{Geometry: Geometry{Type: model.GeometryPoint, Parts: [][]Point{{{2, 2}}}}, Attributes: attrs},
			{Geometry: Geometry{Type: model.GeometryPoint, Parts: [][]Point{{{3, 3}}}}, Attributes: []model.Attribute{{Key: "kind", Value: "path"}}},
		},
	}})
	layer := fieldsBytes(t, tile, tileLayers)[0]
	if n := len(fieldsBytes(t, layer, layerKeys)); n != 2 {
		t.Fatalf("keys=%d want 2", n)
	}
	if n := len(fieldsBytes(t, layer, layerValues)); n != 3 {
		t.Fatalf("values=%d want 3", n)
	}
}

func TestEncode_SkipsEmptyGeometries(t *testing.T) {
	tile := Encode([]Layer{{
		Name: "x",
		Features: []Feature{
			{Geometry: Geometry{Type: model.GeometryLine, Parts: [][]Point{{{5, 5}, {5, 5}}}}},
			{Geometry: Geometry{Type: model.GeometryPolygon, Parts: [][]Point{{{0, 0}, {1, 1}}}}},
		},
	}})
	layer := fieldsBytes(t, tile, tileLayers)[0]
	if n := len(fieldsBytes(t, layer, layerFeatures)); n != 0 {
		t.Fatalf("features=%d want 0", n)
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}

func TestEncode_RoundTripThroughReferenceDecoder(t *testing.T) {
	id := uint64(42)
	layers := []Layer{
		{
			Name:   "buildings",
			Extent: 4096,
			Features: []Feature{{
				ID: &id,
				Geometry: Geometry{Type: model.GeometryPolygon, Parts: [][]Point{
					{{0, 0}, {100, 0}, {100, 100}, {0, 100}},
					{{20, 20}, {20, 40}, {40, 40}, {40, 20}},
				}},
				Attributes: []model.Attribute{
					{Key: "name", Value: "hall"},
					{Key: "levels", Value: int64(-3)},
					{Key: "height", Value: 12.5},
					{Key: "public", Value: true},
				},
			}},
		},
		{
			Name:   "roads",
			Extent: 512,
			Features: []Feature{{
				Geometry:   Geometry{Type: model.GeometryLine, Parts: [][]Point{{{-10, 5}, {600, 5}}}},
				Attributes: []model.Attribute{{Key: "name", Value: "main"}},
			}},
		},
	}

	decoded, err := orbmvt.Unmarshal(Encode(layers))
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(decoded) != 2 || decoded[0].Name != "buildings" || decoded[1].Name != "roads" {
		t.Fatalf("unexpected layers: %+v", decoded)
	}
	if decoded[0].Version != 2 || decoded[0].Extent != 4096 || decoded[1].Extent != 512 {
		t.Fatalf("version/extent mismatch: %d %d %d", decoded[0].Version, decoded[0].Extent, decoded[1].Extent)
	}

	f := decoded[0].Features[0]
	if fmt.Sprint(f.ID) != "42" {
		t.Fatalf("id=%v", f.ID)
	}
	poly, ok := f.Geometry.(orb.Polygon)
	if !ok {
		t.Fatalf("geometry %T, want orb.Polygon", f.Geometry)
	}
	if len(poly) != 2 {
		t.Fatalf("rings=%d want 2", len(poly))
	}
	if b := poly.Bound(); b.Min != (orb.Point{0, 0}) || b.Max != (orb.Point{100, 100}) {
		t.Fatalf("bound=%v", b)
	}
	if f.Properties["name"] != "hall" || f.Properties["public"] != true {
		t.Fatalf("props=%v", f.Properties)
	}
	if v, ok := toFloat(f.Properties["levels"]); !ok || v != -3 {
		t.Fatalf("levels=%v", f.Properties["levels"])
	}
	if v, ok := toFloat(f.Properties["height"]); !ok || v != 12.5 {
		t.Fatalf("height=%v", f.Properties["height"])
	}

	road := decoded[1].Features[0]
	ls, ok := road.Geometry.(orb.LineString)
	if !ok || len(ls) != 2 || ls[0] != (orb.Point{-10, 5}) || ls[1] != (orb.Point{600, 5}) {
		t.Fatalf("road geometry=%v", road.Geometry)
	}
}

func TestEncode_Deterministic(t *testing.T) {
	l := []Layer{{
		Name: "a",
		Features: []Feature{{
			Geometry:   Geometry{Type: model.GeometryPoint, Parts: [][]Point{{{1, 2}, {3, 4}}}},
			Attributes: []model.Attribute{{Key: "k", Value: "v"}, {Key: "n", Value: 1.5}},
		}},
	}}
	if !bytes.Equal(Encode(l), Encode(l)) {
		t.Fatal("encoding is not deterministic")
	}
}
