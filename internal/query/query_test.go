package query

import (
	"strings"
	"testing"

	"github.com/mohammed-shakir/vector-tile-cache/internal/core/model"
)

func buildingsLayer() model.Layer {
	return model.Layer{
		Name: "buildings",
		Queries: []model.Query{
			{SQL: "SELECT geom FROM osm_buildings_gen0 WHERE geom && !bbox!", MinZoom: 0, MaxZoom: 22},
			{SQL: "SELECT geom FROM osm_buildings WHERE geom && !bbox!", MinZoom: 17, MaxZoom: 22},
		},
	}
}

func TestSelect_DeclarationOrderWins(t *testing.T) {
	l := buildingsLayer()

	q, ok := Select(l, 18)
	if !ok {
		t.Fatal("expected a query at zoom 18")
	}
	if !strings.Contains(q.SQL, "osm_buildings_gen0") {
		t.Fatalf("first declared variant must win, got %q", q.SQL)
	}

	l.Queries[0], l.Queries[1] = l.Queries[1], l.Queries[0]
	q, _ = Select(l, 18)
	if strings.Contains(q.SQL, "gen0") {
		t.Fatalf("after reordering the range-restricted query must win, got %q", q.SQL)
	}
	q, _ = Select(l, 12)
	if !strings.Contains(q.SQL, "gen0") {
		t.Fatalf("zoom 12 only matches gen0, got %q", q.SQL)
	}
}

func TestSelect_NoMatch(t *testing.T) {
	l := model.Layer{Queries: []model.Query{{SQL: "x", MinZoom: 10, MaxZoom: 14}}}
	for _, z := range []int{0, 9, 15} {
		if _, ok := Select(l, z); ok {
			t.Fatalf("zoom %d should not match", z)
		}
	}
	if _, ok := Select(l, 14); !ok {
		t.Fatal("range must be inclusive")
	}
}

func TestSubstitute_PostGIS(t *testing.T) {
	p := Params{
		BBox:       model.Bounds{MinX: -10.5, MinY: 20, MaxX: 30.25, MaxY: 40},
		GridSRID:   3857,
		LayerSRID:  3857,
		Zoom:       7,
		PixelWidth: 1222.99245256282,
	}
	got := Substitute("SELECT * FROM t WHERE geom && !bbox! AND z = !zoom!", p, PostGIS{})
	want := "SELECT * FROM t WHERE geom && ST_MakeEnvelope(-10.5,20,30.25,40,3857) AND z = 7"
	if got != want {
		t.Fatalf("got  %q\nwant %q", got, want)
	}
}

func TestSubstitute_PostGISTransformsForeignSRID(t *testing.T) {
	p := Params{BBox: model.Bounds{MaxX: 1, MaxY: 1}, GridSRID: 3857, LayerSRID: 2056}
	got := Substitute("!bbox!", p, PostGIS{})
	if got != "ST_Transform(ST_MakeEnvelope(0,0,1,1,3857),2056)" {
		t.Fatalf("got %q", got)
	}
	if s := Substitute("!srid!", p, PostGIS{}); s != "2056" {
		t.Fatalf("srid token: %q", s)
	}
}

func TestSubstitute_PlainAndScalarTokens(t *testing.T) {
	p := Params{
		BBox:       model.Bounds{MinX: 1, MinY: 2, MaxX: 3, MaxY: 4},
		GridSRID:   4326,
		PixelWidth: 0.00028,
	}
	got := Substitute("!minx! !miny! !maxx! !maxy! [!bbox!] !scale_denominator! !srid!", p, Plain{})
	if got != "1 2 3 4 [1,2,3,4] 1 4326" {
		t.Fatalf("got %q", got)
	}
}

func TestDialectFor(t *testing.T) {
	if _, ok := DialectFor("pgx").(PostGIS); !ok {
		t.Fatal("pgx should use PostGIS")
	}
	if _, ok := DialectFor("sqlite3").(Plain); !ok {
		t.Fatal("sqlite3 should use Plain")
	}
}
