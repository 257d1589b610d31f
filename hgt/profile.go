package hgt

import (
	"errors"
	"fmt"
	"math"
)

// DefaultProfileStep is the sampling step of Profile, one SRTM3 cell.
const DefaultProfileStep = 1.0 / 1200

// MaxProfilePoints bounds the number of samples a single Profile call may
// produce.
const MaxProfilePoints = 100_000

// ErrProfileTooLong is returned when a path and step would need more than
// MaxProfilePoints samples.
var ErrProfileTooLong = errors.New("profile exceeds the maximum number of samples")

// ProfilePoint is one sample of an elevation profile.
type ProfilePoint struct {
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Elevation float64 `json:"elevation"`
}

// Profile samples the interpolated elevation along the polyline through
// points, every step degrees (DefaultProfileStep when step <= 0). Samples
// without data are left out, so the profile may have gaps.
func (s *Service) Profile(points []Point, step float64) ([]ProfilePoint, error) {
	if len(points) < 2 {
		return nil, errors.New("at least two points are required to create a profile")
	}
	if math.IsNaN(step) || math.IsInf(step, 0) {
		return nil, fmt.Errorf("invalid profile step %v", step)
	}
	if step <= 0 {
		step = DefaultProfileStep
	}
	for i, p := range points {
		if !ValidCoordinate(p.Lat, p.Lon) {
			return nil, fmt.Errorf("point %d: %w", i, &OutOfBoundsError{Lat: p.Lat, Lon: p.Lon})
		}
	}

	path, err := densify(points, step)
	if err != nil {
		return nil, err
	}
	elevations := s.ElevationsInterpolated(path, math.NaN())

	profile := make([]ProfilePoint, 0, len(path))
	for i, p := range path {
		if math.IsNaN(elevations[i]) {
			continue
		}
		profile = append(profile, ProfilePoint{Lat: p.Lat, Lon: p.Lon, Elevation: elevations[i]})
	}
	return profile, nil
}

// densify returns the vertices of the polyline with intermediate points no
// more than step degrees apart along either axis. Shared segment endpoints
// appear once. The sample count is checked before anything is allocated.
func densify(points []Point, step float64) ([]Point, error) {
	total := 1.0
	for i := 0; i < len(points)-1; i++ {
		total += segmentSamples(points[i], points[i+1], step)
	}
	if !(total <= MaxProfilePoints) {
		return nil, fmt.Errorf("%w: %.0f samples requested, limit is %d", ErrProfileTooLong, total, MaxProfilePoints)
	}

	path := make([]Point, 1, int(total))
	path[0] = points[0]
	for i := 0; i < len(points)-1; i++ {
		a, b := points[i], points[i+1]
		dLat, dLon := b.Lat-a.Lat, b.Lon-a.Lon
		n := int(segmentSamples(a, b, step))
		for j := 1; j <= n; j++ {
			f := float64(j) / float64(n)
			path = append(path, Point{Lat: a.Lat + dLat*f, Lon: a.Lon + dLon*f})
		}
	}
	return path, nil
}

// segmentSamples is the number of points densify adds for the segment a-b.
func segmentSamples(a, b Point, step float64) float64 {
	return math.Ceil(math.Max(math.Abs(b.Lat-a.Lat), math.Abs(b.Lon-a.Lon)) / step)
}
