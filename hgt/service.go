package hgt

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/karlseguin/ccache/v3"
	"golang.org/x/sync/singleflight"
)

// Tiles never expire on their own; they leave the cache by eviction,
// invalidation or clearing.
const noExpiry = 100 * 365 * 24 * time.Hour

// An Acquirer makes a missing tile available on disk. Acquire must leave the
// uncompressed file named filename in dir when it returns nil.
type Acquirer interface {
	Acquire(ctx context.Context, filename, dir string) error
}

// AcquirerFunc adapts a function to the Acquirer interface.
type AcquirerFunc func(ctx context.Context, filename, dir string) error

func (f AcquirerFunc) Acquire(ctx context.Context, filename, dir string) error {
	return f(ctx, filename, dir)
}

// CacheStats is a snapshot of cache usage.
type CacheStats struct {
	Entries uint64 `json:"entry_count"`
	Hits    uint64 `json:"hit_count"`
	Misses  uint64 `json:"miss_count"`
}

// HitRate returns hits / (hits + misses), or 0 before any request.
func (s CacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Service answers elevation queries for the tiles under a data directory,
// keeping at most a fixed number of tiles loaded. It is safe for concurrent
// use.
type Service struct {
	dataDir        string
	capacity       int64
	itemsToPrune   uint32
	preloadWorkers int
	acquirer       Acquirer
	logger         *slog.Logger

	// tiles is the bounded LRU of loaded tiles, keyed by tile stem. Tiles
	// evicted from it stay valid for callers that still hold them.
	tiles *ccache.Cache[*Tile]

	// inflight makes concurrent misses on the same tile share one load.
	inflight singleflight.Group

	hits   atomic.Uint64
	misses atomic.Uint64
}

// An Option configures a Service.
type Option func(*Service)

// WithCacheSize sets the maximum number of resident tiles (default 100).
func WithCacheSize(n int64) Option {
	return func(s *Service) { s.capacity = n }
}

// WithItemsToPrune sets how many tiles are evicted at once when the cache
// overflows (default 1).
func WithItemsToPrune(n uint32) Option {
	return func(s *Service) { s.itemsToPrune = n }
}

// WithAcquirer sets the fallback used when a tile is absent locally.
func WithAcquirer(a Acquirer) Option {
	return func(s *Service) { s.acquirer = a }
}

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithPreloadWorkers bounds the number of concurrent loads run by Preload
// (default 4).
func WithPreloadWorkers(n int) Option {
	return func(s *Service) { s.preloadWorkers = n }
}

// New returns a Service reading tiles from dataDir.
func New(dataDir string, opts ...Option) *Service {
	s := &Service{
		dataDir:        dataDir,
		capacity:       100,
		itemsToPrune:   1,
		preloadWorkers: 4,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.capacity < 1 {
		s.capacity = 1
	}
	if s.itemsToPrune < 1 {
		s.itemsToPrune = 1
	}
	if s.preloadWorkers < 1 {
		s.preloadWorkers = 1
	}
	s.tiles = ccache.New(ccache.Configure[*Tile]().
		MaxSize(s.capacity).
		ItemsToPrune(s.itemsToPrune).
		GetsPerPromote(1))
	return s
}

// Close stops the cache's background worker.
func (s *Service) Close() {
	s.tiles.Stop()
}

// DataDir returns the directory tiles are read from.
func (s *Service) DataDir() string { return s.dataDir }

// HasAcquirer reports whether missing tiles can be fetched.
func (s *Service) HasAcquirer() bool { return s.acquirer != nil }

// Elevation returns the sample nearest to (lat, lon) in meters. ok is false
// when the tile is not available or the sample is void. Coordinates outside
// ±60° latitude or ±180° longitude return an *OutOfBoundsError; corrupt tiles
// return an *InvalidFileSizeError.
func (s *Service) Elevation(lat, lon float64) (int16, bool, error) {
	return s.elevation(lat, lon, RoundNearest)
}

// ElevationFloor is Elevation with RoundFloor grid snapping.
func (s *Service) ElevationFloor(lat, lon float64) (int16, bool, error) {
	return s.elevation(lat, lon, RoundFloor)
}

// ElevationWithRounding is Elevation with an explicit rounding policy.
func (s *Service) ElevationWithRounding(lat, lon float64, r Rounding) (int16, bool, error) {
	return s.elevation(lat, lon, r)
}

func (s *Service) elevation(lat, lon float64, r Rounding) (int16, bool, error) {
	t, err := s.tileFor(lat, lon)
	if t == nil || err != nil {
		return 0, false, err
	}
	v, err := t.Elevation(lat, lon, r)
	if err != nil {
		return 0, false, err
	}
	if v == Void {
		return 0, false, nil
	}
	return v, true, nil
}

// ElevationInterpolated returns the bilinear blend of the four samples around
// (lat, lon). ok is false when the tile is not available or any of the four
// samples is void.
func (s *Service) ElevationInterpolated(lat, lon float64) (float64, bool, error) {
	t, err := s.tileFor(lat, lon)
	if t == nil || err != nil {
		return 0, false, err
	}
	return t.ElevationInterpolated(lat, lon)
}

// tileFor validates the coordinate and resolves its tile. A nil tile with a
// nil error means the tile is not available.
func (s *Service) tileFor(lat, lon float64) (*Tile, error) {
	if !ValidCoordinate(lat, lon) {
		return nil, &OutOfBoundsError{Lat: lat, Lon: lon}
	}
	t, err := s.tile(context.Background(), KeyFor(lat, lon))
	if errors.Is(err, ErrTileNotAvailable) {
		return nil, nil
	}
	return t, err
}

// cached returns the resident tile for key without touching the statistics.
func (s *Service) cached(name string) *Tile {
	item := s.tiles.Get(name)
	if item == nil || item.Expired() {
		return nil
	}
	return item.Value()
}

// tile returns the tile for key, loading it on a miss.
func (s *Service) tile(ctx context.Context, key TileKey) (*Tile, error) {
	name := key.Name()
	if t := s.cached(name); t != nil {
		s.hits.Add(1)
		return t, nil
	}
	s.misses.Add(1)

	v, err, _ := s.inflight.Do(name, func() (interface{}, error) {
		// Another caller may have finished loading while we waited.
		if t := s.cached(name); t != nil {
			return t, nil
		}
		t, err := s.load(ctx, key)
		if err != nil {
			return nil, err
		}
		s.tiles.Set(name, t, noExpiry)
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Tile), nil
}

// load opens the tile file for key, first materializing it from a local
// archive or the acquirer when it is missing.
func (s *Service) load(ctx context.Context, key TileKey) (*Tile, error) {
	start := time.Now()
	filename := key.Filename()

	path, err := s.ensureLocal(ctx, filename)
	if err != nil {
		return nil, err
	}

	t, err := OpenTile(path, key.Lat, key.Lon)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", filename, ErrTileNotAvailable)
	}
	if err != nil {
		s.logger.Warn("failed to load tile", "tile", filename, "error", err)
		return nil, err
	}
	s.logger.Debug("tile loaded", "tile", filename, "path", path, "resolution", t.Resolution().String(), "duration", time.Since(start))
	return t, nil
}

// ensureLocal returns the path of the uncompressed tile file, which may be a
// differently cased name on disk.
func (s *Service) ensureLocal(ctx context.Context, filename string) (string, error) {
	found, err := FindFile(s.dataDir, filename)
	if err != nil {
		return "", fmt.Errorf("lookup %s: %w", filename, err)
	}
	if found != "" {
		return found, nil
	}

	path := filepath.Join(s.dataDir, filename)
	ok, err := extractSibling(path)
	if err != nil {
		s.logger.Warn("failed to extract local archive", "tile", filename, "error", err)
	}
	if ok {
		s.logger.Info("tile extracted from local archive", "tile", filename)
		return path, nil
	}

	if s.acquirer == nil {
		return "", fmt.Errorf("%s: %w", filename, ErrTileNotAvailable)
	}
	if err := s.acquirer.Acquire(ctx, filename, s.dataDir); err != nil {
		s.logger.Warn("failed to acquire tile", "tile", filename, "error", err)
		return "", fmt.Errorf("%s: %w: %v", filename, ErrTileNotAvailable, err)
	}
	s.logger.Info("tile acquired", "tile", filename)
	return path, nil
}

// CacheStats returns the current cache statistics.
func (s *Service) CacheStats() CacheStats {
	return CacheStats{
		Entries: uint64(s.tiles.ItemCount()),
		Hits:    s.hits.Load(),
		Misses:  s.misses.Load(),
	}
}

// CacheCapacity returns the maximum number of resident tiles.
func (s *Service) CacheCapacity() uint64 {
	return uint64(s.capacity)
}

// InvalidateTile drops the tile named by filename (any form accepted by
// ParseFilename) from the cache. It reports whether a tile was removed.
func (s *Service) InvalidateTile(filename string) bool {
	key, ok := ParseFilename(filename)
	if !ok {
		return false
	}
	return s.tiles.Delete(key.Name())
}

// ClearCache drops every resident tile.
func (s *Service) ClearCache() {
	s.tiles.Clear()
}

