package hgt

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// BoundingBox is a geographic rectangle in decimal degrees.
type BoundingBox struct {
	MinLat float64 `json:"min_lat" yaml:"min_lat"`
	MinLon float64 `json:"min_lon" yaml:"min_lon"`
	MaxLat float64 `json:"max_lat" yaml:"max_lat"`
	MaxLon float64 `json:"max_lon" yaml:"max_lon"`
}

// Overlaps reports whether the box shares any area with the tile cell
// [k.Lat, k.Lat+1) × [k.Lon, k.Lon+1). Edges are exclusive: a box that ends
// exactly where the tile starts does not overlap it.
func (b BoundingBox) Overlaps(k TileKey) bool {
	lat, lon := float64(k.Lat), float64(k.Lon)
	return b.MinLat < lat+1 && b.MaxLat > lat && b.MinLon < lon+1 && b.MaxLon > lon
}

// PreloadStats summarizes a Preload run.
type PreloadStats struct {
	Matched       int           `json:"tiles_matched"`
	Loaded        int           `json:"tiles_loaded"`
	AlreadyCached int           `json:"tiles_already_cached"`
	Failed        int           `json:"tiles_failed"`
	Elapsed       time.Duration `json:"elapsed_ns"`
}

// ScanTileFiles lists the tile files in dir as sorted canonical names
// (e.g. "N35E138.hgt"). Names are matched case-insensitively, so n35e138.hgt,
// a compressed sibling (N35E138.hgt.zip or .gz) and the uncompressed file
// collapse into one entry. Hidden files and .hgt files that do not name a
// tile are ignored.
func ScanTileFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read data directory: %w", err)
	}

	seen := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		name := StripArchiveExt(entry.Name())
		if len(name) <= len(Ext) || !strings.EqualFold(name[len(name)-len(Ext):], Ext) {
			continue
		}
		key, ok := ParseFilename(name)
		if !ok {
			continue
		}
		seen[key.Filename()] = struct{}{}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Preload warms the cache with the tiles found in the data directory. With
// nil bounds every tile is loaded; otherwise only tiles overlapping at least
// one box are, and an empty slice matches nothing. Tiles already resident are
// counted but not reloaded. Preload stops scheduling loads when ctx is done.
func (s *Service) Preload(ctx context.Context, bounds []BoundingBox) (PreloadStats, error) {
	start := time.Now()
	names, err := ScanTileFiles(s.dataDir)
	if err != nil {
		return PreloadStats{}, err
	}

	var stats PreloadStats
	var loaded, alreadyCached, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.preloadWorkers)

	for _, name := range names {
		key, ok := ParseFilename(name)
		if !ok || !matchesAny(bounds, key) {
			continue
		}
		stats.Matched++

		if s.cached(key.Name()) != nil {
			alreadyCached.Add(1)
			continue
		}
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if _, err := s.tile(gctx, key); err != nil {
				s.logger.Warn("preload failed", "tile", name, "error", err)
				failed.Add(1)
				return nil
			}
			loaded.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	stats.Loaded = int(loaded.Load())
	stats.AlreadyCached = int(alreadyCached.Load())
	stats.Failed = int(failed.Load())
	stats.Elapsed = time.Since(start)

	s.logger.Info("preload finished",
		"matched", stats.Matched,
		"loaded", stats.Loaded,
		"already_cached", stats.AlreadyCached,
		"failed", stats.Failed,
		"elapsed", stats.Elapsed)
	return stats, ctx.Err()
}

func matchesAny(bounds []BoundingBox, key TileKey) bool {
	if bounds == nil {
		return true
	}
	for _, b := range bounds {
		if b.Overlaps(key) {
			return true
		}
	}
	return false
}
