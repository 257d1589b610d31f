// Package fetch provides hgt.Acquirer implementations that download missing
// tiles over HTTP or copy them from a blob bucket.
package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/akhenakh/hgtapi/hgt"
)

// Config describes how missing tiles are acquired. It is read from the
// environment with the HGT_DOWNLOAD_ prefix.
type Config struct {
	// Source is one of ardupilot, ardupilot-srtm1, ardupilot-srtm3, nasa,
	// custom or bucket. When empty it is inferred from Bucket and URL.
	Source string `env:"SOURCE"`

	// URL is the download template for the custom source, or the object key
	// template for the bucket source.
	URL string `env:"URL"`

	// Compression is auto, none, gzip or zip.
	Compression string `env:"COMPRESSION" envDefault:"auto"`

	// Gzip forces gzip decompression.
	Gzip bool `env:"GZIP"`

	Timeout    time.Duration `env:"TIMEOUT" envDefault:"300s"`
	MaxRetries int           `env:"MAX_RETRIES" envDefault:"3"`

	// Username and Password are sent as HTTP basic auth, as NASA Earthdata
	// requires.
	Username string `env:"USERNAME"`
	Password string `env:"PASSWORD" json:"-"`

	// Bucket is a gocloud.dev blob URL such as s3://bucket?region=eu-west-1
	// or file:///srv/tiles.
	Bucket string `env:"BUCKET"`
}

// Enabled reports whether cfg selects any source.
func (c Config) Enabled() bool {
	src, err := c.source()
	return err == nil && src != SourceNone
}

func (c Config) source() (Source, error) {
	switch strings.ToLower(strings.TrimSpace(c.Source)) {
	case "":
		switch {
		case c.Bucket != "":
			return SourceBucket, nil
		case c.URL != "":
			return SourceCustom, nil
		}
		return SourceNone, nil
	case "none":
		return SourceNone, nil
	case "ardupilot", "ardupilot-srtm1":
		return SourceArduPilotSRTM1, nil
	case "ardupilot-srtm3":
		return SourceArduPilotSRTM3, nil
	case "nasa", "earthdata":
		return SourceNASA, nil
	case "custom":
		return SourceCustom, nil
	case "bucket":
		return SourceBucket, nil
	}
	return SourceNone, fmt.Errorf("unknown download source %q", c.Source)
}

// compressionFor picks the decoder for a payload fetched from location.
func (c Config) compressionFor(src Source, location string) (Compression, error) {
	if c.Gzip {
		return CompressionGzip, nil
	}
	switch strings.ToLower(strings.TrimSpace(c.Compression)) {
	case "", "auto":
		if src == SourceArduPilotSRTM1 || src == SourceArduPilotSRTM3 || src == SourceNASA {
			return CompressionZip, nil
		}
		return CompressionFromName(location), nil
	case "none":
		return CompressionNone, nil
	case "gzip", "gz":
		return CompressionGzip, nil
	case "zip":
		return CompressionZip, nil
	}
	return CompressionNone, fmt.Errorf("unknown compression %q", c.Compression)
}

// New returns the acquirer selected by cfg, or nil when acquisition is
// disabled. The bucket acquirer holds an open bucket; callers close it through
// io.Closer.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (hgt.Acquirer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	src, err := cfg.source()
	if err != nil {
		return nil, err
	}
	switch src {
	case SourceNone:
		return nil, nil
	case SourceBucket:
		return OpenBucket(ctx, cfg, logger)
	}
	return NewDownloader(cfg, logger)
}
