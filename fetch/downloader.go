package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/akhenakh/hgtapi/hgt"
)

// maxPayload bounds a downloaded archive; an SRTM1 zip is about 25MB.
const maxPayload = 64 << 20

// Downloader fetches missing tiles over HTTP.
type Downloader struct {
	cfg     Config
	source  Source
	client  *http.Client
	retryer *Retryer
	logger  *slog.Logger
}

// NewDownloader returns a Downloader for the HTTP sources of cfg.
func NewDownloader(cfg Config, logger *slog.Logger) (*Downloader, error) {
	src, err := cfg.source()
	if err != nil {
		return nil, err
	}
	switch src {
	case SourceNone, SourceBucket:
		return nil, fmt.Errorf("source %s is not served over HTTP", src)
	case SourceCustom:
		if cfg.URL == "" {
			return nil, errors.New("custom source requires a download URL template")
		}
	}
	if _, err := cfg.compressionFor(src, cfg.URL); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 300 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	d := &Downloader{
		cfg:     cfg,
		source:  src,
		client:  &http.Client{Timeout: cfg.Timeout},
		retryer: NewRetryer(cfg.MaxRetries),
		logger:  logger,
	}
	d.retryer.OnRetry = func(attempt int, err error, delay time.Duration) {
		d.logger.Warn("download failed, retrying", "attempt", attempt, "delay", delay, "error", err)
	}
	return d, nil
}

// Source returns the configured source.
func (d *Downloader) Source() Source { return d.source }

// URL returns the address the tile named by filename is downloaded from.
func (d *Downloader) URL(filename string) (string, error) {
	return BuildURL(d.source, d.cfg.URL, filename)
}

// Acquire downloads filename into dir. An existing file is left untouched.
func (d *Downloader) Acquire(ctx context.Context, filename, dir string) error {
	dst := filepath.Join(dir, filename)
	if _, err := os.Stat(dst); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	url, err := d.URL(filename)
	if err != nil {
		return err
	}
	compression, err := d.cfg.compressionFor(d.source, url)
	if err != nil {
		return err
	}

	start := time.Now()
	var data []byte
	err = d.retryer.Do(ctx, func(ctx context.Context) error {
		payload, err := d.get(ctx, url)
		if err != nil {
			return err
		}
		data, err = decodeTile(compression, payload)
		return err
	})
	if err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}

	if err := hgt.WriteFileAtomic(dst, data); err != nil {
		return fmt.Errorf("failed to write %s: %w", dst, err)
	}
	d.logger.Info("tile downloaded",
		"tile", filename,
		"url", url,
		"compression", compression.String(),
		"bytes", len(data),
		"duration", time.Since(start))
	return nil
}

func (d *Downloader) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	if d.cfg.Username != "" {
		req.SetBasicAuth(d.cfg.Username, d.cfg.Password)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("bad status: %s", resp.Status)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
			resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests {
			return nil, Permanent(err)
		}
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPayload+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	if len(data) > maxPayload {
		return nil, Permanent(fmt.Errorf("payload exceeds %d bytes", maxPayload))
	}
	return data, nil
}

// decodeTile decompresses payload and checks that the result is a tile.
// Corrupt payloads are not retried.
func decodeTile(c Compression, payload []byte) ([]byte, error) {
	data, err := c.decode(payload)
	if err != nil {
		return nil, Permanent(err)
	}
	if err := hgt.CheckSize(int64(len(data))); err != nil {
		return nil, Permanent(err)
	}
	return data, nil
}
