package hgt

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfBounds is matched by every *OutOfBoundsError.
	ErrOutOfBounds = errors.New("coordinates out of bounds")

	// ErrInvalidFileSize is matched by every *InvalidFileSizeError.
	ErrInvalidFileSize = errors.New("invalid file size")

	// ErrTileNotAvailable reports that no local file exists for a tile and
	// acquisition did not produce one. Service queries turn it into "no data".
	ErrTileNotAvailable = errors.New("tile not available")
)

// OutOfBoundsError is returned for a coordinate outside the dataset coverage,
// or outside the tile it was evaluated against.
type OutOfBoundsError struct {
	Lat, Lon float64
}

func (e *OutOfBoundsError) Error() string {
	return fmt.Sprintf("coordinates out of bounds: lat=%v, lon=%v (valid: lat ±60°, lon ±180°)", e.Lat, e.Lon)
}

func (e *OutOfBoundsError) Is(target error) bool { return target == ErrOutOfBounds }

// InvalidFileSizeError is returned when a tile file matches neither grid size.
type InvalidFileSizeError struct {
	Size int64
}

func (e *InvalidFileSizeError) Error() string {
	return fmt.Sprintf("invalid file size: %d bytes (expected %d for SRTM1 or %d for SRTM3)", e.Size, srtm1Size, srtm3Size)
}

func (e *InvalidFileSizeError) Is(target error) bool { return target == ErrInvalidFileSize }
