package main

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/akhenakh/hgtapi/geojson"
	"github.com/akhenakh/hgtapi/hgt"
)

// maxBodySize bounds request bodies of the POST endpoints.
const maxBodySize = 32 << 20

//go:embed static
var staticFS embed.FS

// API serves the elevation REST endpoints.
type API struct {
	svc     *hgt.Service
	logger  *slog.Logger
	metrics *httpMetrics
}

func newAPI(svc *hgt.Service, logger *slog.Logger, reg prometheus.Registerer) *API {
	return &API{svc: svc, logger: logger, metrics: newHTTPMetrics(reg)}
}

func (a *API) routes() (http.Handler, error) {
	mux := http.NewServeMux()
	handle := func(pattern, name string, h http.HandlerFunc) {
		mux.Handle(pattern, a.metrics.instrument(name, h))
	}

	handle("GET /elevation", "elevation", a.getElevation)
	handle("POST /elevation", "geojson", a.postGeoJSON)
	handle("POST /elevations", "elevations", a.postElevations)
	handle("POST /profile", "profile", a.postProfile)
	handle("POST /preload", "preload", a.postPreload)
	handle("GET /stats", "stats", a.getStats)
	handle("GET /health", "health", a.getHealth)

	// Handle embedded Web UI
	contentFS, err := fs.Sub(staticFS, "static")
	if err != nil {
		return nil, fmt.Errorf("failed to create sub-filesystem for web UI: %w", err)
	}
	mux.Handle("GET /", http.FileServer(http.FS(contentFS)))

	return a.requestID(mux), nil
}

// requestID tags every request with an id, echoed in X-Request-ID and in the
// access log.
func (a *API) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		start := time.Now()
		next.ServeHTTP(w, r)
		a.logger.Debug("http request",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start))
	})
}

type elevationResponse struct {
	Lat          float64  `json:"lat"`
	Lon          float64  `json:"lon"`
	Elevation    *float64 `json:"elevation"`
	Interpolated bool     `json:"interpolated"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (a *API) getElevation(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, errors.New("invalid or missing lat"))
		return
	}
	lon, err := strconv.ParseFloat(q.Get("lon"), 64)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, errors.New("invalid or missing lon"))
		return
	}
	interpolated, err := parseBool(q.Get("interpolated"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, errors.New("invalid interpolated flag"))
		return
	}
	rounding, err := parseRounding(q.Get("rounding"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	resp := elevationResponse{Lat: lat, Lon: lon, Interpolated: interpolated}
	if interpolated {
		v, ok, err := a.svc.ElevationInterpolated(lat, lon)
		if err != nil {
			a.writeQueryError(w, err)
			return
		}
		if ok {
			resp.Elevation = &v
		}
	} else {
		v, ok, err := a.svc.ElevationWithRounding(lat, lon, rounding)
		if err != nil {
			a.writeQueryError(w, err)
			return
		}
		if ok {
			f := float64(v)
			resp.Elevation = &f
		}
	}
	a.writeJSON(w, http.StatusOK, resp)
}

func (a *API) postGeoJSON(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		a.writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}
	out, err := geojson.AddElevations(a.svc, body)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	_, _ = w.Write(out)
}

type elevationsResponse struct {
	Elevations []*float64 `json:"elevations"`
}

// postElevations evaluates a [[lat, lon], ...] body. Points without data are
// null unless a default is given.
func (a *API) postElevations(w http.ResponseWriter, r *http.Request) {
	points, err := decodePoints(w, r)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	q := r.URL.Query()
	interpolated, err := parseBool(q.Get("interpolated"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, errors.New("invalid interpolated flag"))
		return
	}
	rounding, err := parseRounding(q.Get("rounding"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	var def *float64
	if s := q.Get("default"); s != "" {
		v, err := strconv.ParseInt(s, 10, 16)
		if err != nil {
			a.writeError(w, http.StatusBadRequest, errors.New("default must be a 16-bit integer"))
			return
		}
		f := float64(v)
		def = &f
	}

	resp := elevationsResponse{Elevations: make([]*float64, len(points))}
	if interpolated {
		for i, v := range a.svc.ElevationsInterpolated(points, math.NaN()) {
			if !math.IsNaN(v) {
				resp.Elevations[i] = &v
			} else {
				resp.Elevations[i] = def
			}
		}
	} else {
		var values []int16
		if rounding == hgt.RoundFloor {
			values = a.svc.ElevationsFloor(points, hgt.Void)
		} else {
			values = a.svc.Elevations(points, hgt.Void)
		}
		for i, v := range values {
			if v != hgt.Void {
				f := float64(v)
				resp.Elevations[i] = &f
			} else {
				resp.Elevations[i] = def
			}
		}
	}
	a.writeJSON(w, http.StatusOK, resp)
}

func (a *API) postProfile(w http.ResponseWriter, r *http.Request) {
	points, err := decodePoints(w, r)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	step := 0.0
	if s := r.URL.Query().Get("step"); s != "" {
		step, err = strconv.ParseFloat(s, 64)
		if err != nil || step <= 0 {
			a.writeError(w, http.StatusBadRequest, errors.New("step must be a positive number of degrees"))
			return
		}
	}
	profile, err := a.svc.Profile(points, step)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	a.writeJSON(w, http.StatusOK, profile)
}

// postPreload warms the cache. An empty body preloads every local tile;
// otherwise the body is a list of bounding boxes.
func (a *API) postPreload(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		a.writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}
	var bounds []hgt.BoundingBox
	if len(strings.TrimSpace(string(body))) > 0 {
		bounds = []hgt.BoundingBox{}
		if err := json.Unmarshal(body, &bounds); err != nil {
			a.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid bounding boxes: %w", err))
			return
		}
	}
	stats, err := a.svc.Preload(r.Context(), bounds)
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	a.writeJSON(w, http.StatusOK, stats)
}

type statsResponse struct {
	hgt.CacheStats
	HitRate  float64 `json:"hit_rate"`
	Capacity uint64  `json:"capacity"`
}

func (a *API) getStats(w http.ResponseWriter, _ *http.Request) {
	stats := a.svc.CacheStats()
	a.writeJSON(w, http.StatusOK, statsResponse{
		CacheStats: stats,
		HitRate:    stats.HitRate(),
		Capacity:   a.svc.CacheCapacity(),
	})
}

func (a *API) getHealth(w http.ResponseWriter, _ *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodePoints reads a [[lat, lon], ...] body.
func decodePoints(w http.ResponseWriter, r *http.Request) ([]hgt.Point, error) {
	var raw [][]float64
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&raw); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}
	points := make([]hgt.Point, len(raw))
	for i, p := range raw {
		if len(p) != 2 {
			return nil, fmt.Errorf("point %d: expected [lat, lon]", i)
		}
		points[i] = hgt.Point{Lat: p[0], Lon: p[1]}
	}
	return points, nil
}

func parseBool(s string) (bool, error) {
	if s == "" {
		return false, nil
	}
	return strconv.ParseBool(s)
}

func parseRounding(s string) (hgt.Rounding, error) {
	switch strings.ToLower(s) {
	case "":
		return hgt.DefaultRounding, nil
	case "nearest":
		return hgt.RoundNearest, nil
	case "floor":
		return hgt.RoundFloor, nil
	}
	return 0, fmt.Errorf("unknown rounding %q", s)
}

// writeQueryError maps service errors to status codes.
func (a *API) writeQueryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, hgt.ErrOutOfBounds):
		a.writeError(w, http.StatusBadRequest, err)
	default:
		a.logger.Error("elevation query failed", "error", err)
		a.writeError(w, http.StatusInternalServerError, err)
	}
}

func (a *API) writeError(w http.ResponseWriter, code int, err error) {
	a.writeJSON(w, code, errorResponse{Error: err.Error()})
}

func (a *API) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Warn("failed to encode response", "error", err)
	}
}
