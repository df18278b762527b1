package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mohammed-shakir/vector-tile-cache/internal/core/model"
)

var ErrInvalidTilesets = errors.New("invalid tileset configuration")

type DatasourceFile struct {
	Driver       string `yaml:"driver"`
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

type ExtentFile struct {
	MinX float64 `yaml:"minx"`
	MinY float64 `yaml:"miny"`
	MaxX float64 `yaml:"maxx"`
	MaxY float64 `yaml:"maxy"`
}

// GridFile is either a predefined profile name or a full user grid.
type GridFile struct {
	Predefined  string
	Name        string     `yaml:"name"`
	SRID        int        `yaml:"srid"`
	Origin      string     `yaml:"origin"`
	TileSize    int        `yaml:"tile_size"`
	Extent      ExtentFile `yaml:"extent"`
	Resolutions []float64  `yaml:"resolutions"`
}

func (g *GridFile) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		return n.Decode(&g.Predefined)
	}
	type plain GridFile
	return n.Decode((*plain)(g))
}

type QueryFile struct {
	MinZoom *int   `yaml:"minzoom"`
	MaxZoom *int   `yaml:"maxzoom"`
	SQL     string `yaml:"sql"`
}

type LayerFile struct {
	Name          string      `yaml:"name"`
	GeometryField string      `yaml:"geometry_field"`
	GeometryType  string      `yaml:"geometry_type"`
	FIDField      string      `yaml:"fid_field"`
	SRID          int         `yaml:"srid"`
	BufferSize    *int        `yaml:"buffer_size"`
	Clip          *bool       `yaml:"clip"`
	Simplify      bool        `yaml:"simplify"`
	Tolerance     *float64    `yaml:"tolerance"`
	Extent        uint32      `yaml:"extent"`
	MinZoom       *int        `yaml:"minzoom"`
	MaxZoom       *int        `yaml:"maxzoom"`
	QueryLimit    int         `yaml:"query_limit"`
	Queries       []QueryFile `yaml:"queries"`
}

type TilesetFile struct {
	Name        string         `yaml:"name"`
	Attribution string         `yaml:"attribution"`
	Center      []float64      `yaml:"center"`
	Style       map[string]any `yaml:"style"`
	Layers      []LayerFile    `yaml:"layers"`
}

type File struct {
	Datasource DatasourceFile `yaml:"datasource"`
	Grid       GridFile       `yaml:"grid"`
	// default clip for every layer; true unless set
	Clip     *bool         `yaml:"clip"`
	Tilesets []TilesetFile `yaml:"tilesets"`
}

// Tilesets is the validated, immutable result of loading the file.
type Tilesets struct {
	Datasource DatasourceFile
	Grid       model.Grid
	Sets       []model.Tileset
}

func (t *Tilesets) Lookup(name string) (model.Tileset, bool) {
	for _, ts := range t.Sets {
		if ts.Name == name {
			return ts, true
		}
	}
	return model.Tileset{}, false
}

func LoadTilesets(path string) (*Tilesets, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tileset file: %w", err)
	}
	return ParseTilesets(data)
}

// ParseTilesets decodes and validates a tileset document. Unknown keys are
// rejected; all validation problems are reported together.
func ParseTilesets(data []byte) (*Tilesets, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: parse yaml: %v", ErrInvalidTilesets, err)
	}
	return f.build()
}

func (f *File) build() (*Tilesets, error) {
	var errs []error
	grid, err := f.Grid.build()
	if err != nil {
		errs = append(errs, err)
	}
	if f.Datasource.Driver == "" {
		errs = append(errs, errors.New("datasource.driver is required"))
	}
	if len(f.Tilesets) == 0 {
		errs = append(errs, errors.New("at least one tileset is required"))
	}
	clip := true
	if f.Clip != nil {
		clip = *f.Clip
	}

	out := &Tilesets{Datasource: f.Datasource, Grid: grid}
	seen := map[string]bool{}
	for i, tf := range f.Tilesets {
		if tf.Name == "" {
			errs = append(errs, fmt.Errorf("tilesets[%d]: name is required", i))
			continue
		}
		if seen[tf.Name] {
			errs = append(errs, fmt.Errorf("tileset %q: duplicate name", tf.Name))
			continue
		}
		seen[tf.Name] = true

		ts := model.Tileset{Name: tf.Name, Attribution: tf.Attribution, Center: tf.Center, Style: tf.Style}
		if len(tf.Layers) == 0 {
			errs = append(errs, fmt.Errorf("tileset %q: no layers", tf.Name))
		}
		layerSeen := map[string]bool{}
		for j, lf := range tf.Layers {
			l, lerrs := lf.build(grid, clip)
			if lf.Name != "" && layerSeen[lf.Name] {
				lerrs = append(lerrs, errors.New("duplicate layer name"))
			}
			layerSeen[lf.Name] = true
			for _, e := range lerrs {
				errs = append(errs, fmt.Errorf("tileset %q layer %d (%s): %w", tf.Name, j, lf.Name, e))
			}
			ts.Layers = append(ts.Layers, l)
		}
		out.Sets = append(out.Sets, ts)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTilesets, errors.Join(errs...))
	}
	return out, nil
}

func (g GridFile) build() (model.Grid, error) {
	switch strings.ToLower(g.Predefined) {
	case "", "web_mercator", "webmercator", "epsg:3857":
		if g.Predefined == "" && len(g.Resolutions) > 0 {
			break
		}
		return model.WebMercator(), nil
	case "wgs84", "epsg:4326":
		return model.WGS84(), nil
	default:
		return model.Grid{}, fmt.Errorf("unknown predefined grid %q", g.Predefined)
	}

	out := model.Grid{
		Name:     g.Name,
		SRID:     g.SRID,
		TileSize: g.TileSize,
		Extent: model.Bounds{
			MinX: g.Extent.MinX, MinY: g.Extent.MinY,
			MaxX: g.Extent.MaxX, MaxY: g.Extent.MaxY,
		},
		Resolutions: append([]float64(nil), g.Resolutions...),
	}
	switch strings.ToLower(g.Origin) {
	case "", "topleft", "top_left":
		out.Origin = model.OriginTopLeft
	case "bottomleft", "bottom_left", "tms":
		out.Origin = model.OriginBottomLeft
	default:
		return model.Grid{}, fmt.Errorf("grid origin %q", g.Origin)
	}
	if out.TileSize == 0 {
		out.TileSize = 256
	}
	if out.Extent.Width() <= 0 || out.Extent.Height() <= 0 {
		return model.Grid{}, errors.New("grid extent must have positive width and height")
	}
	for i, r := range out.Resolutions {
		if r <= 0 || (i > 0 && r >= out.Resolutions[i-1]) {
			return model.Grid{}, errors.New("grid resolutions must be positive and strictly decreasing")
		}
	}
	return out, nil
}

func (lf LayerFile) build(grid model.Grid, clipDefault bool) (model.Layer, []error) {
	var errs []error
	l := model.Layer{
		Name:          lf.Name,
		GeometryField: lf.GeometryField,
		FIDField:      lf.FIDField,
		SRID:          lf.SRID,
		Clip:          clipDefault,
		Simplify:      lf.Simplify,
		Tolerance:     1,
		Extent:        lf.Extent,
		MinZoom:       0,
		MaxZoom:       grid.MaxZoom(),
		QueryLimit:    lf.QueryLimit,
	}
	if l.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if l.GeometryField == "" {
		l.GeometryField = "geom"
	}
	if l.SRID == 0 {
		l.SRID = grid.SRID
	}
	if l.Extent == 0 {
		l.Extent = model.DefaultExtent
	}
	gt, err := model.ParseGeometryType(lf.GeometryType)
	if err != nil {
		errs = append(errs, err)
	}
	l.GeometryType = gt
	if lf.Clip != nil {
		l.Clip = *lf.Clip
	}
	if lf.Tolerance != nil {
		l.Tolerance = *lf.Tolerance
	}
	if l.Tolerance < 0 {
		errs = append(errs, errors.New("tolerance must not be negative"))
	}
	if lf.BufferSize != nil {
		l.BufferSize = *lf.BufferSize
	} else if l.Clip && (gt == model.GeometryLine || gt == model.GeometryPolygon) {
		l.BufferSize = 1
	}
	if l.BufferSize < 0 {
		errs = append(errs, errors.New("buffer_size must not be negative"))
	}
	if lf.MinZoom != nil {
		l.MinZoom = *lf.MinZoom
	}
	if lf.MaxZoom != nil {
		l.MaxZoom = *lf.MaxZoom
	}
	if l.MinZoom < 0 || l.MaxZoom > grid.MaxZoom() || l.MinZoom > l.MaxZoom {
		errs = append(errs, fmt.Errorf("zoom range %d-%d outside 0-%d", l.MinZoom, l.MaxZoom, grid.MaxZoom()))
	}
	if len(lf.Queries) == 0 {
		errs = append(errs, errors.New("at least one query is required"))
	}
	for k, qf := range lf.Queries {
		q := model.Query{SQL: strings.TrimSpace(qf.SQL), MinZoom: l.MinZoom, MaxZoom: l.MaxZoom}
		if qf.MinZoom != nil {
			q.MinZoom = *qf.MinZoom
		}
		if qf.MaxZoom != nil {
			q.MaxZoom = *qf.MaxZoom
		}
		if q.SQL == "" {
			errs = append(errs, fmt.Errorf("queries[%d]: sql is required", k))
		}
		if q.MinZoom > q.MaxZoom {
			errs = append(errs, fmt.Errorf("queries[%d]: minzoom %d > maxzoom %d", k, q.MinZoom, q.MaxZoom))
		}
		l.Queries = append(l.Queries, q)
	}
	return l, errs
}
