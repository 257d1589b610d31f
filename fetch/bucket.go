package fetch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"

	"github.com/akhenakh/hgtapi/hgt"
)

// DefaultBucketKey is the object key template used when none is configured.
const DefaultBucketKey = "{filename}.hgt"

// BucketAcquirer copies missing tiles from a blob bucket (S3 or a local
// directory served through file://).
type BucketAcquirer struct {
	cfg     Config
	bucket  *blob.Bucket
	keyTmpl string
	retryer *Retryer
	logger  *slog.Logger
}

// OpenBucket opens cfg.Bucket. cfg.URL is the object key template.
func OpenBucket(ctx context.Context, cfg Config, logger *slog.Logger) (*BucketAcquirer, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket source requires a bucket URL")
	}
	keyTmpl := cfg.URL
	if keyTmpl == "" {
		keyTmpl = DefaultBucketKey
	}
	if _, err := cfg.compressionFor(SourceBucket, keyTmpl); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	bucket, err := blob.OpenBucket(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to open bucket %s: %w", cfg.Bucket, err)
	}
	b := &BucketAcquirer{
		cfg:     cfg,
		bucket:  bucket,
		keyTmpl: keyTmpl,
		retryer: NewRetryer(cfg.MaxRetries),
		logger:  logger,
	}
	b.retryer.OnRetry = func(attempt int, err error, delay time.Duration) {
		b.logger.Warn("bucket read failed, retrying", "attempt", attempt, "delay", delay, "error", err)
	}
	return b, nil
}

// Key returns the object key of the tile named by filename.
func (b *BucketAcquirer) Key(filename string) (string, error) {
	return BuildURL(SourceBucket, b.keyTmpl, filename)
}

// Acquire copies filename into dir. An existing file is left untouched.
func (b *BucketAcquirer) Acquire(ctx context.Context, filename, dir string) error {
	dst := filepath.Join(dir, filename)
	if _, err := os.Stat(dst); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	key, err := b.Key(filename)
	if err != nil {
		return err
	}
	compression, err := b.cfg.compressionFor(SourceBucket, key)
	if err != nil {
		return err
	}

	start := time.Now()
	var data []byte
	err = b.retryer.Do(ctx, func(ctx context.Context) error {
		payload, err := b.bucket.ReadAll(ctx, key)
		if err != nil {
			if gcerrors.Code(err) == gcerrors.NotFound {
				return Permanent(fmt.Errorf("object %s not found: %w", key, err))
			}
			return fmt.Errorf("failed to read object %s: %w", key, err)
		}
		data, err = decodeTile(compression, payload)
		return err
	})
	if err != nil {
		return err
	}

	if err := hgt.WriteFileAtomic(dst, data); err != nil {
		return fmt.Errorf("failed to write %s: %w", dst, err)
	}
	b.logger.Info("tile copied from bucket",
		"tile", filename,
		"key", key,
		"compression", compression.String(),
		"bytes", len(data),
		"duration", time.Since(start))
	return nil
}

// Close closes the bucket.
func (b *BucketAcquirer) Close() error {
	return b.bucket.Close()
}
