package fetch

import (
	"fmt"
	"path"
	"strings"

	"github.com/akhenakh/hgtapi/hgt"
)

// Source identifies a tile origin.
type Source int

const (
	SourceNone Source = iota
	SourceArduPilotSRTM1
	SourceArduPilotSRTM3
	SourceNASA
	SourceCustom
	SourceBucket
)

func (s Source) String() string {
	switch s {
	case SourceArduPilotSRTM1:
		return "ardupilot-srtm1"
	case SourceArduPilotSRTM3:
		return "ardupilot-srtm3"
	case SourceNASA:
		return "nasa"
	case SourceCustom:
		return "custom"
	case SourceBucket:
		return "bucket"
	}
	return "none"
}

// Compression is the encoding of a fetched payload.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionGzip
	CompressionZip
)

func (c Compression) String() string {
	switch c {
	case CompressionGzip:
		return "gzip"
	case CompressionZip:
		return "zip"
	}
	return "none"
}

// CompressionFromName detects the compression from a URL or object key
// suffix, ignoring any query string.
func CompressionFromName(name string) Compression {
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	switch strings.ToLower(path.Ext(name)) {
	case ".gz":
		return CompressionGzip
	case ".zip":
		return CompressionZip
	}
	return CompressionNone
}

// decode returns the raw tile bytes held in data.
func (c Compression) decode(data []byte) ([]byte, error) {
	switch c {
	case CompressionGzip:
		return hgt.Gunzip(data)
	case CompressionZip:
		return hgt.ExtractZip(data)
	}
	return data, nil
}

const (
	ardupilotBase = "https://terrain.ardupilot.org"
	nasaBase      = "https://e4ftl01.cr.usgs.gov/MEASURES/SRTMGL1.003/2000.02.11"
)

// Continent maps a coordinate to the ArduPilot SRTM3 directory holding it.
// Regions overlap; the first match wins.
func Continent(lat, lon float64) (string, bool) {
	in := func(v, lo, hi float64) bool { return v >= lo && v <= hi }
	switch {
	case in(lat, 15, 60) && in(lon, -170, -50):
		return "North_America", true
	case in(lat, -60, 15) && in(lon, -90, -30):
		return "South_America", true
	case in(lat, -50, -10) && in(lon, 110, 180):
		return "Australia", true
	case in(lat, -35, 35) && in(lon, -20, 55):
		return "Africa", true
	case in(lat, 0, 60) && in(lon, -15, 180):
		return "Eurasia", true
	}
	return "", false
}

// BuildURL returns where src serves the tile with the given stem
// (e.g. "N35E138"). template is only used by the custom and bucket sources.
func BuildURL(src Source, template, stem string) (string, error) {
	key, ok := hgt.ParseFilename(stem)
	if !ok {
		return "", fmt.Errorf("invalid tile name %q", stem)
	}
	stem = key.Name()

	switch src {
	case SourceArduPilotSRTM1:
		return ardupilotBase + "/SRTM1/" + stem + ".hgt.zip", nil
	case SourceArduPilotSRTM3:
		continent, ok := Continent(float64(key.Lat), float64(key.Lon))
		if !ok {
			return "", fmt.Errorf("coordinates (%d, %d) do not map to a known continent", key.Lat, key.Lon)
		}
		return ardupilotBase + "/SRTM3/" + continent + "/" + stem + ".hgt.zip", nil
	case SourceNASA:
		return nasaBase + "/" + stem + ".SRTMGL1.hgt.zip", nil
	case SourceCustom, SourceBucket:
		if template == "" {
			return "", fmt.Errorf("no download URL template configured")
		}
		return expandTemplate(template, key), nil
	}
	return "", fmt.Errorf("source %s has no URL", src)
}

// expandTemplate substitutes the {filename}, {lat_prefix}, {lat},
// {lon_prefix}, {lon} and {continent} placeholders. {continent} is empty for
// coordinates outside every region.
func expandTemplate(template string, key hgt.TileKey) string {
	stem := key.Name()
	continent, _ := Continent(float64(key.Lat), float64(key.Lon))

	r := strings.NewReplacer(
		"{filename}", stem,
		"{lat_prefix}", stem[0:1],
		"{lat}", stem[1:3],
		"{lon_prefix}", stem[3:4],
		"{lon}", stem[4:7],
		"{continent}", continent,
	)
	return r.Replace(template)
}
