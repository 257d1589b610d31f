package hgt

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractZip(t *testing.T) {
	data := zipBytes(t, map[string][]byte{
		"__MACOSX/._N35E138.hgt": []byte("resource fork"),
		"README.txt":             []byte("hello"),
		"N35E138.hgt":            []byte("tile"),
	})
	got, err := ExtractZip(data)
	require.NoError(t, err)
	assert.Equal(t, []byte("tile"), got)

	_, err = ExtractZip(zipBytes(t, map[string][]byte{"README.txt": []byte("hello")}))
	assert.ErrorIs(t, err, ErrNoTileInArchive)

	_, err = ExtractZip([]byte("not a zip"))
	assert.Error(t, err)
}

func TestGunzip(t *testing.T) {
	got, err := Gunzip(gzipBytes(t, []byte("tile")))
	require.NoError(t, err)
	assert.Equal(t, []byte("tile"), got)

	_, err = Gunzip([]byte("not gzip"))
	assert.Error(t, err)
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "nested", "N35E138.hgt")

	require.NoError(t, WriteFileAtomic(dst, []byte("first")))
	require.NoError(t, WriteFileAtomic(dst, []byte("second")))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), got)

	entries, err := os.ReadDir(filepath.Dir(dst))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestExtractSibling(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "N35E138.hgt")

	ok, err := extractSibling(dst)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, os.WriteFile(dst+".gz", gzipBytes(t, []byte("tile")), 0o644))
	ok, err = extractSibling(dst)
	require.NoError(t, err)
	assert.True(t, ok)
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, []byte("tile"), got)

	bad := filepath.Join(dir, "N36E138.hgt")
	require.NoError(t, os.WriteFile(bad+".zip", []byte("corrupt"), 0o644))
	ok, err = extractSibling(bad)
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestFindFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "n35e138.hgt"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "N36E138.hgt"), nil, 0o644))

	path, err := FindFile(dir, "N35E138.hgt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "n35e138.hgt"), path)

	path, err = FindFile(dir, "N36E138.hgt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "N36E138.hgt"), path)

	path, err = FindFile(dir, "N37E138.hgt")
	require.NoError(t, err)
	assert.Empty(t, path)

	path, err = FindFile(filepath.Join(dir, "missing"), "N35E138.hgt")
	require.NoError(t, err)
	assert.Empty(t, path)
}
