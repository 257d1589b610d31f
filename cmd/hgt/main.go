// Command hgt queries SRTM elevation tiles from the command line.
package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/caarlos0/env/v11"

	"github.com/akhenakh/hgtapi/fetch"
	"github.com/akhenakh/hgtapi/hgt"
)

// Config is read from the same environment variables as the service.
type Config struct {
	LogLevel  string       `env:"LOG_LEVEL" envDefault:"WARN"`
	DataDir   string       `env:"HGT_DATA_DIR" envDefault:"."`
	CacheSize int64        `env:"HGT_CACHE_SIZE" envDefault:"100"`
	Download  fetch.Config `envPrefix:"HGT_DOWNLOAD_"`
}

const usage = `usage: hgt [-data-dir dir] <command> [arguments]

commands:
  query [-interpolate] [-floor] <lat> <lon>   elevation of one point
  batch [-interpolate] [-default n] [file]    CSV lat,lon rows to lat,lon,elevation
  info <file.hgt>...                          resolution and sample range of tiles
  list                                        tiles available in the data directory
  preload [-bbox minLat,minLon,maxLat,maxLon]...  load tiles and report statistics
`

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		fmt.Fprintf(stderr, "failed to parse config: %v\n", err)
		return 1
	}

	fs := flag.NewFlagSet("hgt", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usage) }
	fs.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory holding .hgt tiles")
	fs.Int64Var(&cfg.CacheSize, "cache-size", cfg.CacheSize, "maximum number of resident tiles")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	logger := createLogger(cfg.LogLevel, stderr)
	cmd, cmdArgs := fs.Arg(0), fs.Args()[1:]

	if cmd == "info" {
		return exit(stderr, info(cmdArgs, stdout))
	}
	if cmd == "list" {
		return exit(stderr, list(cfg.DataDir, stdout))
	}

	svc, closer, err := newService(ctx, cfg, logger)
	if err != nil {
		return exit(stderr, err)
	}
	defer closer()

	switch cmd {
	case "query":
		err = query(svc, cmdArgs, stdout, stderr)
	case "batch":
		err = batch(svc, cmdArgs, stdin, stdout, stderr)
	case "preload":
		err = preload(ctx, svc, cmdArgs, stdout, stderr)
	default:
		fs.Usage()
		return 2
	}
	return exit(stderr, err)
}

func exit(stderr io.Writer, err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, flag.ErrHelp) {
		return 2
	}
	fmt.Fprintf(stderr, "hgt: %v\n", err)
	return 1
}

func createLogger(level string, w io.Writer) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		l = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l}))
}

func newService(ctx context.Context, cfg Config, logger *slog.Logger) (*hgt.Service, func(), error) {
	opts := []hgt.Option{hgt.WithCacheSize(cfg.CacheSize), hgt.WithLogger(logger)}
	acquirer, err := fetch.New(ctx, cfg.Download, logger)
	if err != nil {
		return nil, nil, err
	}
	if acquirer != nil {
		opts = append(opts, hgt.WithAcquirer(acquirer))
	}
	svc := hgt.New(cfg.DataDir, opts...)
	return svc, func() {
		svc.Close()
		if c, ok := acquirer.(io.Closer); ok {
			_ = c.Close()
		}
	}, nil
}

func parseCoord(lat, lon string) (float64, float64, error) {
	la, err := strconv.ParseFloat(strings.TrimSpace(lat), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid latitude %q", lat)
	}
	lo, err := strconv.ParseFloat(strings.TrimSpace(lon), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid longitude %q", lon)
	}
	return la, lo, nil
}

func query(svc *hgt.Service, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	fs.SetOutput(stderr)
	interpolate := fs.Bool("interpolate", false, "bilinear interpolation of the four surrounding samples")
	floor := fs.Bool("floor", false, "snap to the sample north-west of the point instead of the nearest")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return errors.New("query expects <lat> <lon>")
	}
	lat, lon, err := parseCoord(fs.Arg(0), fs.Arg(1))
	if err != nil {
		return err
	}

	if *interpolate {
		v, ok, err := svc.ElevationInterpolated(lat, lon)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(stdout, "no data")
			return nil
		}
		fmt.Fprintf(stdout, "%.2f\n", v)
		return nil
	}

	r := hgt.DefaultRounding
	if *floor {
		r = hgt.RoundFloor
	}
	v, ok, err := svc.ElevationWithRounding(lat, lon, r)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(stdout, "no data")
		return nil
	}
	fmt.Fprintln(stdout, v)
	return nil
}

// batch reads lat,lon rows and writes lat,lon,elevation rows. A first row
// that does not parse is treated as a header. Points without data get the
// default value, or an empty field when none is set.
func batch(svc *hgt.Service, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("batch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	interpolate := fs.Bool("interpolate", false, "bilinear interpolation")
	def := fs.String("default", "", "value written for points without data")
	if err := fs.Parse(args); err != nil {
		return err
	}

	in := stdin
	if fs.NArg() > 0 {
		f, err := os.Open(fs.Arg(0))
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	r := csv.NewReader(in)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		return fmt.Errorf("failed to read CSV: %w", err)
	}

	var points []hgt.Point
	for i, rec := range records {
		if len(rec) < 2 {
			return fmt.Errorf("line %d: expected lat,lon", i+1)
		}
		lat, lon, err := parseCoord(rec[0], rec[1])
		if err != nil {
			if i == 0 {
				continue
			}
			return fmt.Errorf("line %d: %w", i+1, err)
		}
		points = append(points, hgt.Point{Lat: lat, Lon: lon})
	}

	values := make([]string, len(points))
	if *interpolate {
		for i, v := range svc.ElevationsInterpolated(points, math.NaN()) {
			values[i] = *def
			if !math.IsNaN(v) {
				values[i] = strconv.FormatFloat(v, 'f', 2, 64)
			}
		}
	} else {
		for i, v := range svc.Elevations(points, hgt.Void) {
			values[i] = *def
			if v != hgt.Void {
				values[i] = strconv.Itoa(int(v))
			}
		}
	}

	w := csv.NewWriter(stdout)
	if err := w.Write([]string{"lat", "lon", "elevation"}); err != nil {
		return err
	}
	for i, p := range points {
		row := []string{
			strconv.FormatFloat(p.Lat, 'f', -1, 64),
			strconv.FormatFloat(p.Lon, 'f', -1, 64),
			values[i],
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func info(args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return errors.New("info expects at least one tile file")
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TILE\tRESOLUTION\tSAMPLES\tMIN\tMAX\tVOIDS")
	for _, path := range args {
		key, ok := hgt.ParseFilename(path)
		if !ok {
			return fmt.Errorf("%s: not a tile file name", path)
		}
		t, err := hgt.OpenTile(path, key.Lat, key.Lon)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		s := t.Summary()
		fmt.Fprintf(tw, "%s\t%s (%gm)\t%d\t%d\t%d\t%d\n",
			key.Name(), t.Resolution(), t.Resolution().Meters(), t.Samples(), s.Min, s.Max, s.Voids)
	}
	return tw.Flush()
}

// list prints the tiles of dir. A tile present only as an archive has no
// resolution until it is extracted.
func list(dir string, stdout io.Writer) error {
	names, err := hgt.ScanTileFiles(dir)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TILE\tRESOLUTION\tSIZE")
	for _, name := range names {
		path, err := hgt.FindFile(dir, name)
		if err != nil {
			return err
		}
		if path == "" {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", name, "compressed", "-")
			continue
		}
		st, err := os.Stat(path)
		if err != nil {
			return err
		}
		res := "invalid"
		if r, err := hgt.ResolutionForSize(st.Size()); err == nil {
			res = r.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\n", name, res, st.Size())
	}
	fmt.Fprintf(tw, "%d tiles\n", len(names))
	return tw.Flush()
}

// boxList collects repeated -bbox flags.
type boxList []hgt.BoundingBox

func (b *boxList) String() string { return fmt.Sprint(*b) }

func (b *boxList) Set(s string) error {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return errors.New("expected minLat,minLon,maxLat,maxLon")
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return fmt.Errorf("invalid number %q", p)
		}
		v[i] = f
	}
	if v[0] > v[2] || v[1] > v[3] {
		return errors.New("min corner exceeds max corner")
	}
	*b = append(*b, hgt.BoundingBox{MinLat: v[0], MinLon: v[1], MaxLat: v[2], MaxLon: v[3]})
	return nil
}

func preload(ctx context.Context, svc *hgt.Service, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("preload", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var boxes boxList
	fs.Var(&boxes, "bbox", "minLat,minLon,maxLat,maxLon (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var bounds []hgt.BoundingBox
	if len(boxes) > 0 {
		bounds = boxes
	}
	stats, err := svc.Preload(ctx, bounds)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "matched %d, loaded %d, already cached %d, failed %d in %s\n",
		stats.Matched, stats.Loaded, stats.AlreadyCached, stats.Failed, stats.Elapsed)
	return nil
}
