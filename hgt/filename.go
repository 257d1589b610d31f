package hgt

import (
	"fmt"
	"math"
	"strings"
	"sync"
)

// Coverage envelope of the SRTM dataset.
const (
	MinLat = -60
	MaxLat = 60
	MinLon = -180
	MaxLon = 180
)

// Ext is the canonical extension of an uncompressed tile file.
const Ext = ".hgt"

// TileKey identifies a 1°×1° tile by its southwest corner.
type TileKey struct {
	Lat, Lon int
}

// Point is a geographic position in decimal degrees.
type Point struct {
	Lat, Lon float64
}

// KeyFor returns the key of the tile containing (lat, lon). It uses a true
// floor, so -12.3 maps to -13.
func KeyFor(lat, lon float64) TileKey {
	return TileKey{Lat: int(math.Floor(lat)), Lon: int(math.Floor(lon))}
}

// ValidCoordinate reports whether (lat, lon) lies in the coverage envelope.
func ValidCoordinate(lat, lon float64) bool {
	return lat >= MinLat && lat <= MaxLat && lon >= MinLon && lon <= MaxLon
}

// Filename returns the canonical file name of the tile containing (lat, lon),
// e.g. (35.5, 138.7) gives "N35E138.hgt".
func Filename(lat, lon float64) string {
	return KeyFor(lat, lon).Filename()
}

// Name returns the tile stem, e.g. "N35E138" or "S01W001". The hemisphere
// letters follow the sign of the floored key, not of the original input.
func (k TileKey) Name() string {
	if i, ok := k.index(); ok {
		return stems()[i]
	}
	return formatStem(k)
}

// Filename returns the stem with the canonical extension.
func (k TileKey) Filename() string {
	return k.Name() + Ext
}

func (k TileKey) String() string { return k.Name() }

// Contains reports whether the tile covers (lat, lon) as a half-open cell.
func (k TileKey) Contains(lat, lon float64) bool {
	return KeyFor(lat, lon) == k
}

const lonSpan = MaxLon - MinLon + 1

func (k TileKey) index() (int, bool) {
	if k.Lat < MinLat || k.Lat > MaxLat || k.Lon < MinLon || k.Lon > MaxLon {
		return 0, false
	}
	return (k.Lat-MinLat)*lonSpan + (k.Lon - MinLon), true
}

// stems holds the precomputed stem of every key in the coverage envelope so
// that cache lookups do not format a string per query.
var stems = sync.OnceValue(func() []string {
	s := make([]string, (MaxLat-MinLat+1)*lonSpan)
	for lat := MinLat; lat <= MaxLat; lat++ {
		for lon := MinLon; lon <= MaxLon; lon++ {
			k := TileKey{Lat: lat, Lon: lon}
			i, _ := k.index()
			s[i] = formatStem(k)
		}
	}
	return s
})

func formatStem(k TileKey) string {
	ns, ew := 'N', 'E'
	lat, lon := k.Lat, k.Lon
	if lat < 0 {
		ns, lat = 'S', -lat
	}
	if lon < 0 {
		ew, lon = 'W', -lon
	}
	return fmt.Sprintf("%c%02d%c%03d", ns, lat, ew, lon)
}

// compressed suffixes recognised next to a canonical tile file.
var archiveExts = []string{".zip", ".gz"}

// ParseFilename is the case-insensitive inverse of Filename. It accepts a bare
// stem, a file name, or a path (slash or backslash separated), with or without
// the .hgt extension and an optional .zip/.gz suffix.
func ParseFilename(name string) (TileKey, bool) {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = StripArchiveExt(name)
	if len(name) >= len(Ext) && strings.EqualFold(name[len(name)-len(Ext):], Ext) {
		name = name[:len(name)-len(Ext)]
	}
	if len(name) != 7 {
		return TileKey{}, false
	}

	var k TileKey
	switch name[0] {
	case 'N', 'n':
		k.Lat = 1
	case 'S', 's':
		k.Lat = -1
	default:
		return TileKey{}, false
	}
	switch name[3] {
	case 'E', 'e':
		k.Lon = 1
	case 'W', 'w':
		k.Lon = -1
	default:
		return TileKey{}, false
	}

	lat, ok := digits(name[1:3])
	if !ok {
		return TileKey{}, false
	}
	lon, ok := digits(name[4:7])
	if !ok {
		return TileKey{}, false
	}
	k.Lat *= lat
	k.Lon *= lon
	return k, true
}

// StripArchiveExt removes a trailing .zip or .gz suffix, if any.
func StripArchiveExt(name string) string {
	for _, ext := range archiveExts {
		if len(name) > len(ext) && strings.EqualFold(name[len(name)-len(ext):], ext) {
			return name[:len(name)-len(ext)]
		}
	}
	return name
}

func digits(s string) (int, bool) {
	n := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}
