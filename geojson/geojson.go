// Package geojson adds elevations to the positions of GeoJSON documents.
package geojson

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	orbjson "github.com/paulmach/orb/geojson"

	"github.com/akhenakh/hgtapi/hgt"
)

// ErrUnsupportedType is returned for a document whose type is not a GeoJSON
// geometry, Feature or FeatureCollection.
var ErrUnsupportedType = errors.New("unsupported GeoJSON type")

// Elevator looks up many points at once, returning def for points without
// data. *hgt.Service implements it.
type Elevator interface {
	Elevations(points []hgt.Point, def int16) []int16
}

// AddElevations parses a GeoJSON geometry, Feature or FeatureCollection and
// returns it with every position rewritten as [lon, lat, elevation]. Any
// altitude already present is replaced. Positions without data get a null
// elevation. All positions are evaluated in a single batch.
func AddElevations(e Elevator, data []byte) ([]byte, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("invalid GeoJSON: %w", err)
	}

	switch head.Type {
	case "FeatureCollection":
		fc, err := orbjson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, fmt.Errorf("invalid feature collection: %w", err)
		}
		var points []hgt.Point
		for _, f := range fc.Features {
			points = collect(points, f.Geometry)
		}
		next := cursor(e, points)
		out := featureCollection{Type: "FeatureCollection", Features: make([]feature, len(fc.Features))}
		for i, f := range fc.Features {
			out.Features[i] = encodeFeature(f, next)
		}
		return json.Marshal(out)

	case "Feature":
		f, err := orbjson.UnmarshalFeature(data)
		if err != nil {
			return nil, fmt.Errorf("invalid feature: %w", err)
		}
		next := cursor(e, collect(nil, f.Geometry))
		return json.Marshal(encodeFeature(f, next))

	case "Point", "MultiPoint", "LineString", "MultiLineString", "Polygon", "MultiPolygon", "GeometryCollection":
		g, err := orbjson.UnmarshalGeometry(data)
		if err != nil {
			return nil, fmt.Errorf("invalid geometry: %w", err)
		}
		geom := g.Geometry()
		next := cursor(e, collect(nil, geom))
		return json.Marshal(encodeGeometry(geom, next))
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, head.Type)
}

// position is a GeoJSON position with an optional elevation.
type position struct {
	lon, lat  float64
	elevation *float64
}

func (p position) MarshalJSON() ([]byte, error) {
	if p.elevation == nil {
		return json.Marshal([]any{p.lon, p.lat, nil})
	}
	return json.Marshal([]float64{p.lon, p.lat, *p.elevation})
}

type geometry struct {
	Type        string     `json:"type"`
	Coordinates any        `json:"coordinates,omitempty"`
	Geometries  []geometry `json:"geometries,omitempty"`
}

type feature struct {
	ID         any                `json:"id,omitempty"`
	Type       string             `json:"type"`
	Geometry   *geometry          `json:"geometry"`
	Properties orbjson.Properties `json:"properties"`
}

type featureCollection struct {
	Type     string    `json:"type"`
	Features []feature `json:"features"`
}

// collect appends the positions of g in traversal order.
func collect(points []hgt.Point, g orb.Geometry) []hgt.Point {
	walk(g, func(p orb.Point) {
		points = append(points, hgt.Point{Lat: p.Lat(), Lon: p.Lon()})
	})
	return points
}

func walk(g orb.Geometry, fn func(orb.Point)) {
	switch g := g.(type) {
	case orb.Point:
		fn(g)
	case orb.MultiPoint:
		for _, p := range g {
			fn(p)
		}
	case orb.LineString:
		for _, p := range g {
			fn(p)
		}
	case orb.Ring:
		for _, p := range g {
			fn(p)
		}
	case orb.MultiLineString:
		for _, ls := range g {
			walk(ls, fn)
		}
	case orb.Polygon:
		for _, r := range g {
			walk(r, fn)
		}
	case orb.MultiPolygon:
		for _, p := range g {
			walk(p, fn)
		}
	case orb.Collection:
		for _, c := range g {
			walk(c, fn)
		}
	}
}

// cursor evaluates points in one batch and hands out the results in order.
func cursor(e Elevator, points []hgt.Point) func(orb.Point) position {
	elevations := e.Elevations(points, hgt.Void)
	i := 0
	return func(p orb.Point) position {
		pos := position{lon: p.Lon(), lat: p.Lat()}
		if v := elevations[i]; v != hgt.Void {
			f := float64(v)
			pos.elevation = &f
		}
		i++
		return pos
	}
}

func encodeFeature(f *orbjson.Feature, next func(orb.Point) position) feature {
	out := feature{ID: f.ID, Type: "Feature", Properties: f.Properties}
	if out.Properties == nil {
		out.Properties = orbjson.Properties{}
	}
	if f.Geometry != nil {
		g := encodeGeometry(f.Geometry, next)
		out.Geometry = &g
	}
	return out
}

// encodeGeometry must visit positions in the same order as walk.
func encodeGeometry(g orb.Geometry, next func(orb.Point) position) geometry {
	line := func(ps []orb.Point) []position {
		out := make([]position, len(ps))
		for i, p := range ps {
			out[i] = next(p)
		}
		return out
	}

	switch g := g.(type) {
	case orb.Point:
		return geometry{Type: "Point", Coordinates: next(g)}
	case orb.MultiPoint:
		return geometry{Type: "MultiPoint", Coordinates: line(g)}
	case orb.LineString:
		return geometry{Type: "LineString", Coordinates: line(g)}
	case orb.Ring:
		return geometry{Type: "Polygon", Coordinates: [][]position{line(g)}}
	case orb.MultiLineString:
		lines := make([][]position, len(g))
		for i, ls := range g {
			lines[i] = line(ls)
		}
		return geometry{Type: "MultiLineString", Coordinates: lines}
	case orb.Polygon:
		return geometry{Type: "Polygon", Coordinates: rings(g, line)}
	case orb.MultiPolygon:
		polys := make([][][]position, len(g))
		for i, p := range g {
			polys[i] = rings(p, line)
		}
		return geometry{Type: "MultiPolygon", Coordinates: polys}
	case orb.Collection:
		geoms := make([]geometry, len(g))
		for i, c := range g {
			geoms[i] = encodeGeometry(c, next)
		}
		return geometry{Type: "GeometryCollection", Geometries: geoms}
	}
	return geometry{Type: g.GeoJSONType()}
}

func rings(p orb.Polygon, line func([]orb.Point) []position) [][]position {
	out := make([][]position, len(p))
	for i, r := range p {
		out[i] = line(r)
	}
	return out
}
