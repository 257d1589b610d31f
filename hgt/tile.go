// Package hgt reads SRTM .hgt elevation tiles and serves point lookups
// through a bounded, concurrency-safe tile cache.
//
// A tile is a 1°×1° grid of N×N big-endian int16 samples (N is 1201 for
// SRTM3 or 3601 for SRTM1), stored north to south, west to east. The file is
// named after its southwest corner, e.g. N35E138.hgt.
package hgt

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"runtime"

	"golang.org/x/sys/unix"
)

const (
	srtm1Samples = 3601
	srtm3Samples = 1201

	srtm1Size = srtm1Samples * srtm1Samples * 2 // 25,934,402 bytes
	srtm3Size = srtm3Samples * srtm3Samples * 2 // 2,884,802 bytes
)

// Void is the sample value meaning "no data".
const Void int16 = -32768

// Resolution is the grid resolution of a tile.
type Resolution int

const (
	// SRTM1 is the 1 arc-second (~30 m) grid, 3601 samples per side.
	SRTM1 Resolution = iota + 1
	// SRTM3 is the 3 arc-second (~90 m) grid, 1201 samples per side.
	SRTM3
)

// Samples returns the number of samples per row and column.
func (r Resolution) Samples() int {
	switch r {
	case SRTM1:
		return srtm1Samples
	case SRTM3:
		return srtm3Samples
	}
	return 0
}

// ArcSeconds returns the sample spacing in arc-seconds.
func (r Resolution) ArcSeconds() int {
	switch r {
	case SRTM1:
		return 1
	case SRTM3:
		return 3
	}
	return 0
}

// Meters returns the approximate sample spacing in meters.
func (r Resolution) Meters() float64 {
	return float64(r.ArcSeconds()) * 30
}

func (r Resolution) String() string {
	switch r {
	case SRTM1:
		return "SRTM1"
	case SRTM3:
		return "SRTM3"
	}
	return fmt.Sprintf("Resolution(%d)", int(r))
}

// ResolutionForSize maps the byte size of a tile file to its grid resolution.
// A size matching neither grid gives an *InvalidFileSizeError.
func ResolutionForSize(size int64) (Resolution, error) {
	switch size {
	case srtm1Size:
		return SRTM1, nil
	case srtm3Size:
		return SRTM3, nil
	}
	return 0, &InvalidFileSizeError{Size: size}
}

// CheckSize returns an *InvalidFileSizeError unless size is the byte size of
// an SRTM1 or SRTM3 tile.
func CheckSize(size int64) error {
	_, err := ResolutionForSize(size)
	return err
}

// Rounding selects how a continuous grid position snaps to a sample.
type Rounding int

const (
	// RoundNearest picks the closest sample.
	RoundNearest Rounding = iota
	// RoundFloor always picks the sample to the north-west of the position in
	// grid space, matching tools that truncate grid indices (srtm.py). It can
	// differ from RoundNearest by one cell near half-cell boundaries.
	RoundFloor
)

// DefaultRounding is the policy used by Service.Elevation and Elevations.
const DefaultRounding = RoundNearest

func (r Rounding) String() string {
	if r == RoundFloor {
		return "floor"
	}
	return "nearest"
}

func (r Rounding) apply(v float64) float64 {
	if r == RoundFloor {
		return math.Floor(v)
	}
	return math.Round(v)
}

// Tile is an immutable, read-only view over one tile's samples. A Tile may be
// shared between goroutines; a memory-mapped buffer stays mapped for as long
// as any reference to the Tile is reachable.
type Tile struct {
	data       []byte
	samples    int
	resolution Resolution
	baseLat    int
	baseLon    int
}

// OpenTile maps the file at path read-only and detects its resolution from
// its size. baseLat and baseLon name the tile's southwest corner; queries
// outside that cell fail with an *OutOfBoundsError.
func OpenTile(path string, baseLat, baseLon int) (*Tile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	res, err := ResolutionForSize(fi.Size())
	if err != nil {
		return nil, err
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(fi.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	// Lookups touch a handful of samples per query; read-ahead only wastes page cache.
	_ = unix.Madvise(data, unix.MADV_RANDOM)

	t := &Tile{
		data:       data,
		samples:    res.Samples(),
		resolution: res,
		baseLat:    baseLat,
		baseLon:    baseLon,
	}
	runtime.AddCleanup(t, func(b []byte) { _ = unix.Munmap(b) }, data)
	return t, nil
}

// NewTile wraps an in-memory buffer. The buffer must not be modified
// afterwards.
func NewTile(data []byte, baseLat, baseLon int) (*Tile, error) {
	res, err := ResolutionForSize(int64(len(data)))
	if err != nil {
		return nil, err
	}
	return &Tile{
		data:       data,
		samples:    res.Samples(),
		resolution: res,
		baseLat:    baseLat,
		baseLon:    baseLon,
	}, nil
}

// Resolution returns the grid resolution.
func (t *Tile) Resolution() Resolution { return t.resolution }

// Samples returns the number of samples per side.
func (t *Tile) Samples() int { return t.samples }

// BaseLat returns the latitude of the southwest corner.
func (t *Tile) BaseLat() int { return t.baseLat }

// BaseLon returns the longitude of the southwest corner.
func (t *Tile) BaseLon() int { return t.baseLon }

// Key returns the tile key the tile was loaded for.
func (t *Tile) Key() TileKey { return TileKey{Lat: t.baseLat, Lon: t.baseLon} }

// gridPosition converts a coordinate to a continuous (row, col) position.
// Row 0 is the north edge.
func (t *Tile) gridPosition(lat, lon float64) (float64, float64, error) {
	latFloor, lonFloor := math.Floor(lat), math.Floor(lon)
	latFrac := lat - latFloor
	lonFrac := lon - lonFloor
	if !(latFrac >= 0 && latFrac <= 1) || !(lonFrac >= 0 && lonFrac <= 1) ||
		int(latFloor) != t.baseLat || int(lonFloor) != t.baseLon {
		return 0, 0, &OutOfBoundsError{Lat: lat, Lon: lon}
	}
	n := float64(t.samples - 1)
	return (1 - latFrac) * n, lonFrac * n, nil
}

func (t *Tile) clamp(i int) int {
	if i < 0 {
		return 0
	}
	if i > t.samples-1 {
		return t.samples - 1
	}
	return i
}

// at reads the sample at (row, col). Callers clamp the indices.
func (t *Tile) at(row, col int) int16 {
	off := (row*t.samples + col) * 2
	return int16(binary.BigEndian.Uint16(t.data[off : off+2]))
}

// Elevation returns the sample nearest to (lat, lon) under the given
// rounding policy. The result may be Void.
func (t *Tile) Elevation(lat, lon float64, r Rounding) (int16, error) {
	rowPos, colPos, err := t.gridPosition(lat, lon)
	if err != nil {
		return 0, err
	}
	row := t.clamp(int(r.apply(rowPos)))
	col := t.clamp(int(r.apply(colPos)))
	v := t.at(row, col)
	runtime.KeepAlive(t)
	return v, nil
}

// ElevationInterpolated blends the four samples surrounding (lat, lon). ok is
// false when any of them is Void. Cells on the east and south edges are
// clamped to the tile rather than read from the neighbouring tile.
func (t *Tile) ElevationInterpolated(lat, lon float64) (float64, bool, error) {
	rowPos, colPos, err := t.gridPosition(lat, lon)
	if err != nil {
		return 0, false, err
	}

	r0 := t.clamp(int(math.Floor(rowPos)))
	c0 := t.clamp(int(math.Floor(colPos)))
	r1 := min(r0+1, t.samples-1)
	c1 := min(c0+1, t.samples-1)
	rw := rowPos - float64(r0)
	cw := colPos - float64(c0)

	v00 := t.at(r0, c0)
	v10 := t.at(r0, c1)
	v01 := t.at(r1, c0)
	v11 := t.at(r1, c1)
	runtime.KeepAlive(t)

	if v00 == Void || v10 == Void || v01 == Void || v11 == Void {
		return 0, false, nil
	}

	top := float64(v00) + (float64(v10)-float64(v00))*cw
	bottom := float64(v01) + (float64(v11)-float64(v01))*cw
	return top + (bottom-top)*rw, true, nil
}

// TileSummary describes the sample distribution of a tile.
type TileSummary struct {
	Samples int   `json:"samples"`
	Voids   int   `json:"voids"`
	Min     int16 `json:"min"`
	Max     int16 `json:"max"`
}

// Summary scans every sample. Min and Max ignore voids and are zero when the
// tile holds no data at all.
func (t *Tile) Summary() TileSummary {
	s := TileSummary{Samples: t.samples * t.samples, Min: math.MaxInt16, Max: math.MinInt16}
	for off := 0; off+1 < len(t.data); off += 2 {
		v := int16(binary.BigEndian.Uint16(t.data[off:]))
		if v == Void {
			s.Voids++
			continue
		}
		s.Min = min(s.Min, v)
		s.Max = max(s.Max, v)
	}
	runtime.KeepAlive(t)
	if s.Voids == s.Samples {
		s.Min, s.Max = 0, 0
	}
	return s
}
