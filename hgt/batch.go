package hgt

import (
	"context"
	"errors"
)

// Elevations looks up every point with DefaultRounding. Points outside the
// coverage envelope, on unavailable or unreadable tiles, or on void samples
// get def. Each distinct tile is resolved once, whatever the input order.
func (s *Service) Elevations(points []Point, def int16) []int16 {
	return s.elevations(points, def, DefaultRounding)
}

// ElevationsFloor is Elevations with RoundFloor grid snapping.
func (s *Service) ElevationsFloor(points []Point, def int16) []int16 {
	return s.elevations(points, def, RoundFloor)
}

func (s *Service) elevations(points []Point, def int16, r Rounding) []int16 {
	return evaluate(s, points, def, func(t *Tile, p Point) (int16, bool) {
		v, err := t.Elevation(p.Lat, p.Lon, r)
		return v, err == nil && v != Void
	})
}

// ElevationsInterpolated is the batch form of ElevationInterpolated.
func (s *Service) ElevationsInterpolated(points []Point, def float64) []float64 {
	return evaluate(s, points, def, func(t *Tile, p Point) (float64, bool) {
		v, ok, err := t.ElevationInterpolated(p.Lat, p.Lon)
		return v, ok && err == nil
	})
}

// evaluate groups points by tile, resolves each tile once and applies fn to
// the points of that tile, scattering the results back by index. fn reports
// false to keep def.
func evaluate[T any](s *Service, points []Point, def T, fn func(*Tile, Point) (T, bool)) []T {
	out := make([]T, len(points))
	groups := make(map[TileKey][]int)
	var order []TileKey
	for i, p := range points {
		out[i] = def
		if !ValidCoordinate(p.Lat, p.Lon) {
			continue
		}
		k := KeyFor(p.Lat, p.Lon)
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], i)
	}

	ctx := context.Background()
	for _, k := range order {
		t, err := s.tile(ctx, k)
		if err != nil {
			if !errors.Is(err, ErrTileNotAvailable) {
				s.logger.Warn("batch tile load failed", "tile", k.Name(), "points", len(groups[k]), "error", err)
			}
			continue
		}
		for _, i := range groups[k] {
			if v, ok := fn(t, points[i]); ok {
				out[i] = v
			}
		}
	}
	return out
}
