package hgt

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"
)

// cell addresses one sample of a test tile.
type cell struct{ row, col int }

// srtm3Data returns an SRTM3 buffer filled with fill, with the given samples
// overridden.
func srtm3Data(fill int16, samples map[cell]int16) []byte {
	data := make([]byte, srtm3Size)
	if fill != 0 {
		for off := 0; off < len(data); off += 2 {
			binary.BigEndian.PutUint16(data[off:], uint16(fill))
		}
	}
	for c, v := range samples {
		off := (c.row*srtm3Samples + c.col) * 2
		binary.BigEndian.PutUint16(data[off:], uint16(v))
	}
	return data
}

func writeTile(t *testing.T, dir, name string, fill int16, samples map[cell]int16) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, srtm3Data(fill, samples), 0o644))
	return path
}

func zipBytes(t *testing.T, entries map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func newTestService(t *testing.T, dir string, opts ...Option) *Service {
	t.Helper()
	s := New(dir, opts...)
	t.Cleanup(s.Close)
	return s
}
