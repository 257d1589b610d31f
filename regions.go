package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/akhenakh/hgtapi/hgt"
)

// regionsFile is the preload region list, e.g.
//
//	regions:
//	  - name: alps
//	    min_lat: 45
//	    min_lon: 5
//	    max_lat: 48
//	    max_lon: 14
type regionsFile struct {
	Regions []region `yaml:"regions"`
}

type region struct {
	Name            string `yaml:"name"`
	hgt.BoundingBox `yaml:",inline"`
}

func loadRegions(path string) ([]hgt.BoundingBox, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read regions file: %w", err)
	}

	var f regionsFile
	if err := yaml.UnmarshalStrict(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse regions file %s: %w", path, err)
	}

	boxes := make([]hgt.BoundingBox, 0, len(f.Regions))
	for i, r := range f.Regions {
		if r.MinLat > r.MaxLat || r.MinLon > r.MaxLon {
			return nil, fmt.Errorf("region %d (%s): min corner exceeds max corner", i, r.Name)
		}
		boxes = append(boxes, r.BoundingBox)
	}
	return boxes, nil
}
