package fetch

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob"

	"github.com/akhenakh/hgtapi/hgt"
)

// fileBucket returns a file:// bucket URL seeded with objects.
func fileBucket(t *testing.T, objects map[string][]byte) string {
	t.Helper()
	url := "file://" + t.TempDir()
	ctx := context.Background()
	b, err := blob.OpenBucket(ctx, url)
	require.NoError(t, err)
	defer b.Close()
	for key, data := range objects {
		require.NoError(t, b.WriteAll(ctx, key, data, nil))
	}
	return url
}

func openTestBucket(t *testing.T, cfg Config) *BucketAcquirer {
	t.Helper()
	b, err := OpenBucket(context.Background(), cfg, nil)
	require.NoError(t, err)
	b.retryer.BaseDelay = time.Millisecond
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestBucketAcquirerPlain(t *testing.T) {
	url := fileBucket(t, map[string][]byte{"N35E138.hgt": tileBytes(77)})
	b := openTestBucket(t, Config{Bucket: url})

	key, err := b.Key("N35E138.hgt")
	require.NoError(t, err)
	assert.Equal(t, "N35E138.hgt", key)

	dir := t.TempDir()
	require.NoError(t, b.Acquire(context.Background(), "N35E138.hgt", dir))
	data, err := os.ReadFile(filepath.Join(dir, "N35E138.hgt"))
	require.NoError(t, err)
	assert.Len(t, data, srtm3Bytes)
}

func TestBucketAcquirerCompressedLayout(t *testing.T) {
	url := fileBucket(t, map[string][]byte{
		"srtm/S13/S13W078.hgt.gz":  gzipTile(t, tileBytes(3)),
		"srtm/N35/N35E138.hgt.zip": zipTile(t, "N35E138.hgt", tileBytes(4)),
	})

	gz := openTestBucket(t, Config{Bucket: url, URL: "srtm/{lat_prefix}{lat}/{filename}.hgt.gz", Compression: "auto"})
	dir := t.TempDir()
	require.NoError(t, gz.Acquire(context.Background(), "S13W078.hgt", dir))
	assert.FileExists(t, filepath.Join(dir, "S13W078.hgt"))

	zipped := openTestBucket(t, Config{Bucket: url, URL: "srtm/{lat_prefix}{lat}/{filename}.hgt.zip"})
	require.NoError(t, zipped.Acquire(context.Background(), "N35E138.hgt", dir))
	assert.FileExists(t, filepath.Join(dir, "N35E138.hgt"))
}

func TestBucketAcquirerMissingObject(t *testing.T) {
	url := fileBucket(t, nil)
	b := openTestBucket(t, Config{Bucket: url, MaxRetries: 3})

	dir := t.TempDir()
	err := b.Acquire(context.Background(), "N35E138.hgt", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoFileExists(t, filepath.Join(dir, "N35E138.hgt"))
}

func TestBucketAcquirerFeedsService(t *testing.T) {
	url := fileBucket(t, map[string][]byte{"N35E138.hgt": tileBytes(888)})
	acq, err := New(context.Background(), Config{Bucket: url}, nil)
	require.NoError(t, err)
	require.IsType(t, &BucketAcquirer{}, acq)
	closer, ok := acq.(io.Closer)
	require.True(t, ok)
	defer closer.Close()

	s := hgt.New(t.TempDir(), hgt.WithAcquirer(acq))
	defer s.Close()

	v, ok, err := s.Elevation(35.5, 138.5)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int16(888), v)

	// Tiles missing from the bucket read as no data.
	_, ok, err = s.Elevation(36.5, 138.5)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOpenBucketValidation(t *testing.T) {
	_, err := OpenBucket(context.Background(), Config{}, nil)
	assert.Error(t, err)

	_, err = OpenBucket(context.Background(), Config{Bucket: "nosuchscheme://bucket"}, nil)
	assert.Error(t, err)
}
