package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mohammed-shakir/vector-tile-cache/internal/core/model"
)

const sample = `
datasource:
  driver: pgx
  dsn: postgres://tiles@localhost/osm
grid: web_mercator
tilesets:
  - name: osm
    attribution: "© OpenStreetMap contributors"
    center: [8.54, 47.37, 10]
    style:
      version: 8
    layers:
      - name: buildings
        geometry_type: MULTIPOLYGON
        fid_field: osm_id
        simplify: true
        queries:
          - sql: SELECT osm_id, ST_AsBinary(geom) AS geom FROM buildings_gen0 WHERE geom && !bbox!
          - minzoom: 17
            sql: SELECT osm_id, ST_AsBinary(geom) AS geom FROM buildings WHERE geom && !bbox!
      - name: places
        geometry_type: POINT
        minzoom: 4
        maxzoom: 14
        query_limit: 500
        queries:
          - sql: SELECT name, ST_AsBinary(geom) AS geom FROM places WHERE geom && !bbox!
`

func TestParseTilesets_Defaults(t *testing.T) {
	ts, err := ParseTilesets([]byte(sample))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ts.Grid.SRID != 3857 || ts.Datasource.Driver != "pgx" {
		t.Fatalf("grid=%v ds=%v", ts.Grid.SRID, ts.Datasource)
	}
	osm, ok := ts.Lookup("osm")
	if !ok || len(osm.Layers) != 2 {
		t.Fatalf("lookup: %v %+v", ok, osm)
	}
	b := osm.Layers[0]
	if b.GeometryType != model.GeometryPolygon || b.GeometryField != "geom" || b.SRID != 3857 {
		t.Fatalf("layer defaults: %+v", b)
	}
	if !b.Clip || b.BufferSize != 1 || b.Tolerance != 1 || b.Extent != 4096 {
		t.Fatalf("clip/buffer/tolerance/extent defaults: %+v", b)
	}
	if b.Queries[0].MinZoom != 0 || b.Queries[0].MaxZoom != 22 || b.Queries[1].MinZoom != 17 {
		t.Fatalf("query ranges: %+v", b.Queries)
	}

	p := osm.Layers[1]
	if p.BufferSize != 0 {
		t.Fatalf("point layers get no default buffer, got %d", p.BufferSize)
	}
	if p.Queries[0].MinZoom != 4 || p.Queries[0].MaxZoom != 14 || p.QueryLimit != 500 {
		t.Fatalf("query range inherits the layer range: %+v", p)
	}
	if osm.Style["version"] != 8 {
		t.Fatalf("style=%v", osm.Style)
	}
}

func TestParseTilesets_ReportsAllProblems(t *testing.T) {
	bad := `
datasource: {}
tilesets:
  - name: a
    layers:
      - name: x
        geometry_type: CIRCLE
        queries: []
      - name: x
        geometry_type: POINT
        minzoom: 10
        maxzoom: 5
        queries:
          - sql: ""
`
	_, err := ParseTilesets([]byte(bad))
	if !errors.Is(err, ErrInvalidTilesets) {
		t.Fatalf("want ErrInvalidTilesets, got %v", err)
	}
	msg := err.Error()
	for _, want := range []string{"datasource.driver", "CIRCLE", "at least one query", "duplicate layer", "zoom range", "sql is required"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("missing %q in %s", want, msg)
		}
	}
}

func TestParseTilesets_UnknownKeyRejected(t *testing.T) {
	doc := "datasource: {driver: sqlite3}\nbogus: 1\ntilesets: []\n"
	if _, err := ParseTilesets([]byte(doc)); !errors.Is(err, ErrInvalidTilesets) {
		t.Fatalf("want ErrInvalidTilesets, got %v", err)
	}
}

func TestParseTilesets_CustomTMSGrid(t *testing.T) {
	doc := `
datasource: {driver: sqlite3, dsn: x.db}
clip: false
grid:
  name: swiss
  srid: 2056
  origin: bottom_left
  extent: {minx: 2420000, miny: 1030000, maxx: 2900000, maxy: 1350000}
  resolutions: [4000, 2000, 1000]
tilesets:
  - name: ch
    layers:
      - name: lakes
        geometry_type: POLYGON
        queries: [{sql: "SELECT geom FROM lakes"}]
`
	ts, err := ParseTilesets([]byte(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ts.Grid.Origin != model.OriginBottomLeft || ts.Grid.MaxZoom() != 2 || ts.Grid.TileSize != 256 {
		t.Fatalf("grid=%+v", ts.Grid)
	}
	l := ts.Sets[0].Layers[0]
	if l.Clip || l.BufferSize != 0 || l.MaxZoom != 2 || l.SRID != 2056 {
		t.Fatalf("clip disabled means no default buffer: %+v", l)
	}
}

func TestLoadTilesets_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tilesets.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadTilesets(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := LoadTilesets(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
