package hgt

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
)

// ErrNoTileInArchive is returned when a zip archive holds no .hgt entry.
var ErrNoTileInArchive = errors.New("no .hgt file found in zip archive")

// ExtractZip returns the contents of the first .hgt entry of a zip archive.
// Hidden entries (leading dot, e.g. macOS resource forks) are skipped.
func ExtractZip(data []byte) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to read zip archive: %w", err)
	}
	for _, f := range zr.File {
		base := path.Base(f.Name)
		if f.FileInfo().IsDir() || strings.HasPrefix(base, ".") || !strings.EqualFold(path.Ext(base), Ext) {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open zip entry %s: %w", f.Name, err)
		}
		b, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to extract %s: %w", f.Name, err)
		}
		return b, nil
	}
	return nil, ErrNoTileInArchive
}

// Gunzip decompresses a gzip stream.
func Gunzip(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer zr.Close()
	b, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress gzip: %w", err)
	}
	return b, nil
}

// WriteFileAtomic writes data next to dst and renames it into place, so a
// concurrent reader never observes a partially written tile.
func WriteFileAtomic(dst string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

// FindFile returns the path of name in dir. When no file has exactly that
// name, a case-insensitive match is returned instead, so n35e138.hgt serves
// N35E138.hgt. It returns "" when neither exists.
func FindFile(dir, name string) (string, error) {
	p := filepath.Join(dir, name)
	_, err := os.Stat(p)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", err
	}

	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.EqualFold(entry.Name(), name) {
			return filepath.Join(dir, entry.Name()), nil
		}
	}
	return "", nil
}

// extractSibling looks for dst+".zip" or dst+".gz", in any letter case, and
// when one exists decompresses it into dst. It reports whether dst was
// produced.
func extractSibling(dst string) (bool, error) {
	dir, base := filepath.Dir(dst), filepath.Base(dst)
	for _, ext := range archiveExts {
		src, err := FindFile(dir, base+ext)
		if err != nil {
			return false, err
		}
		if src == "" {
			continue
		}
		data, err := os.ReadFile(src)
		if err != nil {
			return false, err
		}

		var tile []byte
		if ext == ".zip" {
			tile, err = ExtractZip(data)
		} else {
			tile, err = Gunzip(data)
		}
		if err != nil {
			return false, fmt.Errorf("%s: %w", src, err)
		}
		if err := WriteFileAtomic(dst, tile); err != nil {
			return false, fmt.Errorf("failed to write %s: %w", dst, err)
		}
		return true, nil
	}
	return false, nil
}
