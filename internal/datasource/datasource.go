// Package datasource runs layer queries against a database/sql backend and
// decodes the rows into geometries and attributes.
package datasource

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	// registered drivers: "pgx" for PostGIS, "sqlite3" for file sources
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/mohammed-shakir/vector-tile-cache/internal/core/model"
	"github.com/mohammed-shakir/vector-tile-cache/internal/query"
)

var (
	ErrGeometryColumnMissing = errors.New("geometry column missing from result")
	ErrGeometryDecode        = errors.New("cannot decode geometry")
)

type Config struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type Source struct {
	db      *sql.DB
	driver  string
	dialect query.Dialect
}

// Open connects and pings. MaxOpenConns bounds concurrent queries.
func Open(ctx context.Context, cfg Config) (*Source, error) {
	if cfg.Driver == "" || cfg.DSN == "" {
		return nil, errors.New("datasource: driver and dsn are required")
	}
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("datasource open %s: %w", cfg.Driver, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	s := New(db, cfg.Driver)
	if err := s.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func New(db *sql.DB, driver string) *Source {
	return &Source{db: db, driver: driver, dialect: query.DialectFor(driver)}
}

func (s *Source) Dialect() query.Dialect { return s.dialect }

func (s *Source) Driver() string { return s.driver }

func (s *Source) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("datasource ping: %w", err)
	}
	return nil
}

func (s *Source) Close() error { return s.db.Close() }

type Request struct {
	SQL           string
	GeometryField string
	// optional column holding the feature id
	FIDField string
	// 0 = unlimited
	Limit int
}

type Row struct {
	Geometry   orb.Geometry
	ID         *uint64
	Attributes []model.Attribute
}

// Result holds decoded rows; Skipped counts rows whose geometry was null or
// could not be decoded.
type Result struct {
	Rows    []Row
	Skipped int
}

// Query executes req.SQL, which must already have its placeholders
// substituted. Cancelling ctx aborts the query.
func (s *Source) Query(ctx context.Context, req Request) (Result, error) {
	rows, err := s.db.QueryContext(ctx, req.SQL)
	if err != nil {
		return Result{}, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return Result{}, fmt.Errorf("columns: %w", err)
	}
	geomIdx, fidIdx := -1, -1
	for i, c := range cols {
		switch {
		case strings.EqualFold(c, req.GeometryField):
			geomIdx = i
		case req.FIDField != "" && strings.EqualFold(c, req.FIDField):
			fidIdx = i
		}
	}
	if geomIdx < 0 {
		return Result{}, fmt.Errorf("%w: %q not in %v", ErrGeometryColumnMissing, req.GeometryField, cols)
	}

	var res Result
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if req.Limit > 0 && len(res.Rows) >= req.Limit {
			break
		}
		if err := rows.Scan(ptrs...); err != nil {
			return Result{}, fmt.Errorf("scan: %w", err)
		}
		g, err := DecodeGeometry(vals[geomIdx])
		if err != nil || g == nil {
			res.Skipped++
			continue
		}
		row := Row{Geometry: g}
		if fidIdx >= 0 {
			row.ID = toID(vals[fidIdx])
		}
		for i, c := range cols {
			if i == geomIdx || i == fidIdx {
				continue
			}
			if v, ok := Normalize(vals[i]); ok {
				row.Attributes = append(row.Attributes, model.Attribute{Key: c, Value: v})
			}
		}
		res.Rows = append(res.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return Result{}, fmt.Errorf("rows: %w", err)
	}
	return res, nil
}

// DecodeGeometry accepts WKB as bytes or as hex text. NULL decodes to nil.
func DecodeGeometry(v any) (orb.Geometry, error) {
	var b []byte
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		b = t
	case string:
		b = []byte(t)
	default:
		return nil, fmt.Errorf("%w: unexpected %T", ErrGeometryDecode, v)
	}
	if isHex(b) {
		raw := make([]byte, hex.DecodedLen(len(b)))
		if _, err := hex.Decode(raw, b); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrGeometryDecode, err)
		}
		b = raw
	}
	g, err := wkb.Unmarshal(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGeometryDecode, err)
	}
	return g, nil
}

// WKB starts with a 0x00 or 0x01 byte-order marker, hex text with "00" or "01".
func isHex(b []byte) bool {
	if len(b) < 2 || len(b)%2 != 0 || b[0] != '0' {
		return false
	}
	for _, c := range b {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}

func toID(v any) *uint64 {
	var id uint64
	switch t := v.(type) {
	case int64:
		if t < 0 {
			return nil
		}
		id = uint64(t)
	case int32:
		if t < 0 {
			return nil
		}
		id = uint64(t)
	case uint64:
		id = t
	case float64:
		if t < 0 || t != float64(uint64(t)) {
			return nil
		}
		id = uint64(t)
	case []byte:
		return toID(string(t))
	case string:
		n, err := strconv.ParseUint(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return nil
		}
		id = n
	default:
		return nil
	}
	return &id
}

// Normalize maps driver values onto string, float64, int64, uint64 or bool.
// NULL reports false.
func Normalize(v any) (any, bool) {
	switch t := v.(type) {
	case nil:
		return nil, false
	case string, float64, int64, uint64, bool:
		return t, true
	case []byte:
		return string(t), true
	case float32:
		return float64(t), true
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case int16:
		return int64(t), true
	case int8:
		return int64(t), true
	case uint32:
		return uint64(t), true
	case uint16:
		return uint64(t), true
	case uint8:
		return uint64(t), true
	case time.Time:
		return t.UTC().Format(time.RFC3339), true
	case fmt.Stringer:
		return t.String(), true
	default:
		return fmt.Sprint(t), true
	}
}
