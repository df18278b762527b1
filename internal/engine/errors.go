package engine

import (
	"errors"

	"github.com/mohammed-shakir/vector-tile-cache/internal/geometry"
	"github.com/mohammed-shakir/vector-tile-cache/internal/grid"
)

var (
	ErrTilesetNotFound    = errors.New("tileset not found")
	ErrLayerNotFound      = errors.New("layer not found")
	ErrInvalidTileAddress = grid.ErrInvalidTileAddress
	ErrUnsupportedFormat  = errors.New("unsupported tile format")

	// ErrQueryExecutionFailed marks a layer dropped from the tile.
	ErrQueryExecutionFailed = errors.New("layer query failed")
	ErrGeometryTypeMismatch = geometry.ErrGeometryTypeMismatch
	// ErrTileGenerationFailed is returned only when every attempted layer failed.
	ErrTileGenerationFailed = errors.New("tile generation failed")
	// ErrCacheWriteFailed is logged, never returned to callers.
	ErrCacheWriteFailed = errors.New("cache write failed")
)
