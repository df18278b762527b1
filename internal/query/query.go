// Package query picks the zoom-scoped statement of a layer and fills in its
// tile placeholders.
package query

import (
	"strconv"
	"strings"

	"github.com/mohammed-shakir/vector-tile-cache/internal/core/model"
)

// Select returns the first declared query whose zoom range contains z.
// Overlapping ranges are resolved by declaration order only.
func Select(layer model.Layer, z int) (model.Query, bool) {
	for _, q := range layer.Queries {
		if q.Covers(z) {
			return q, true
		}
	}
	return model.Query{}, false
}

// OGC standardized rendering pixel size in metres
const standardPixelSize = 0.00028

type Params struct {
	BBox       model.Bounds
	GridSRID   int
	LayerSRID  int
	Zoom       int
	PixelWidth float64
}

func (p Params) ScaleDenominator() float64 {
	return p.PixelWidth / standardPixelSize
}

// Dialect renders the !bbox! token in the datasource's literal syntax.
type Dialect interface {
	Envelope(p Params) string
}

type PostGIS struct{}

func (PostGIS) Envelope(p Params) string {
	env := "ST_MakeEnvelope(" + num(p.BBox.MinX) + "," + num(p.BBox.MinY) + "," +
		num(p.BBox.MaxX) + "," + num(p.BBox.MaxY) + "," + strconv.Itoa(p.GridSRID) + ")"
	if p.LayerSRID > 0 && p.LayerSRID != p.GridSRID {
		return "ST_Transform(" + env + "," + strconv.Itoa(p.LayerSRID) + ")"
	}
	return env
}

// Plain renders the envelope as a bare coordinate list.
type Plain struct{}

func (Plain) Envelope(p Params) string {
	return num(p.BBox.MinX) + "," + num(p.BBox.MinY) + "," + num(p.BBox.MaxX) + "," + num(p.BBox.MaxY)
}

func DialectFor(driver string) Dialect {
	switch strings.ToLower(driver) {
	case "pgx", "postgres", "postgis":
		return PostGIS{}
	default:
		return Plain{}
	}
}

// Substitute replaces the tile placeholders in sql. The statement itself is
// never parsed.
func Substitute(sql string, p Params, d Dialect) string {
	if d == nil {
		d = Plain{}
	}
	srid := p.LayerSRID
	if srid <= 0 {
		srid = p.GridSRID
	}
	r := strings.NewReplacer(
		"!bbox!", d.Envelope(p),
		"!minx!", num(p.BBox.MinX),
		"!miny!", num(p.BBox.MinY),
		"!maxx!", num(p.BBox.MaxX),
		"!maxy!", num(p.BBox.MaxY),
		"!srid!", strconv.Itoa(srid),
		"!zoom!", strconv.Itoa(p.Zoom),
		"!pixel_width!", num(p.PixelWidth),
		"!scale_denominator!", num(p.ScaleDenominator()),
	)
	return r.Replace(sql)
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
