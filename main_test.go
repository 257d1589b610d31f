package main

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akhenakh/hgtapi/hgt"
)

// writeTile writes an SRTM3 tile filled with 100 and a 500 sample at its
// center.
func writeTile(t *testing.T, dir, name string) {
	t.Helper()
	const n = 1201
	data := make([]byte, n*n*2)
	for off := 0; off < len(data); off += 2 {
		binary.BigEndian.PutUint16(data[off:], 100)
	}
	binary.BigEndian.PutUint16(data[(600*n+600)*2:], 500)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
}

type testEnv struct {
	svc *hgt.Service
	api *API
	srv *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	writeTile(t, dir, "N35E138.hgt")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "N10E010.hgt"), make([]byte, 1000), 0o644))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := hgt.New(dir, hgt.WithCacheSize(10), hgt.WithLogger(logger))
	t.Cleanup(svc.Close)

	api := newAPI(svc, logger, prometheus.NewRegistry())
	handler, err := api.routes()
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &testEnv{svc: svc, api: api, srv: srv}
}

func (e *testEnv) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(e.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func (e *testEnv) post(t *testing.T, path, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(e.srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}

func TestGetElevation(t *testing.T) {
	env := newTestEnv(t)

	testCases := []struct {
		name     string
		query    string
		wantCode int
		wantBody string
	}{
		{"nearest", "lat=35.5&lon=138.5", http.StatusOK,
			`{"lat":35.5,"lon":138.5,"elevation":500,"interpolated":false}`},
		{"floor", "lat=35.5&lon=138.5&rounding=floor", http.StatusOK,
			`{"lat":35.5,"lon":138.5,"elevation":500,"interpolated":false}`},
		{"interpolated", "lat=35.5&lon=138.5&interpolated=true", http.StatusOK,
			`{"lat":35.5,"lon":138.5,"elevation":500,"interpolated":true}`},
		{"no data", "lat=50&lon=50", http.StatusOK,
			`{"lat":50,"lon":50,"elevation":null,"interpolated":false}`},
		{"out of bounds", "lat=91&lon=0", http.StatusBadRequest, ""},
		{"missing lat", "lon=0", http.StatusBadRequest, ""},
		{"bad rounding", "lat=35.5&lon=138.5&rounding=up", http.StatusBadRequest, ""},
		{"bad flag", "lat=35.5&lon=138.5&interpolated=maybe", http.StatusBadRequest, ""},
		{"corrupt tile", "lat=10.5&lon=10.5", http.StatusInternalServerError, ""},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := env.get(t, "/elevation?"+tc.query)
			assert.Equal(t, tc.wantCode, resp.StatusCode, string(body))
			assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
			if tc.wantBody != "" {
				assert.JSONEq(t, tc.wantBody, string(body))
			} else {
				var e errorResponse
				require.NoError(t, json.Unmarshal(body, &e))
				assert.NotEmpty(t, e.Error)
			}
		})
	}
}

func TestPostElevations(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.post(t, "/elevations", `[[35.5, 138.5], [50, 50], [91, 0]]`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"elevations":[500,null,null]}`, string(body))

	resp, body = env.post(t, "/elevations?default=-1", `[[35.5, 138.5], [50, 50]]`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"elevations":[500,-1]}`, string(body))

	resp, body = env.post(t, "/elevations?interpolated=true&default=0", `[[35.5, 138.5], [50, 50]]`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"elevations":[500,0]}`, string(body))

	resp, _ = env.post(t, "/elevations?default=99999", `[[35.5, 138.5]]`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.post(t, "/elevations", `[[35.5]]`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.post(t, "/elevations", `{`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// The tile is loaded by the first batch and reused afterwards.
	stats := env.svc.CacheStats()
	assert.Equal(t, uint64(1), stats.Entries)
	assert.Equal(t, uint64(2), stats.Hits)
}

func TestPostGeoJSON(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.post(t, "/elevation", `{"type":"LineString","coordinates":[[138.5,35.5],[50,50]]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/geo+json", resp.Header.Get("Content-Type"))
	assert.JSONEq(t, `{"type":"LineString","coordinates":[[138.5,35.5,500],[50,50,null]]}`, string(body))

	resp, _ = env.post(t, "/elevation", `{"type":"Topology"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPostProfile(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.post(t, "/profile?step=0.1", `[[35.2, 138.5], [35.8, 138.5]]`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var profile []hgt.ProfilePoint
	require.NoError(t, json.Unmarshal(body, &profile))
	require.Len(t, profile, 7)
	assert.InDelta(t, 500, profile[3].Elevation, 1e-6)
	assert.InDelta(t, 100, profile[0].Elevation, 1e-6)

	resp, _ = env.post(t, "/profile", `[[35.2, 138.5]]`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.post(t, "/profile?step=-1", `[[35.2, 138.5], [35.8, 138.5]]`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = env.post(t, "/profile?step=1e-7", `[[-60, -180], [60, 180]]`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "maximum number of samples")
}

func TestPostPreload(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.post(t, "/preload", `[{"min_lat":35.1,"min_lon":138.1,"max_lat":35.9,"max_lon":138.9}]`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats hgt.PreloadStats
	require.NoError(t, json.Unmarshal(body, &stats))
	assert.Equal(t, 1, stats.Matched)
	assert.Equal(t, 1, stats.Loaded)

	resp, body = env.post(t, "/preload", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &stats))
	assert.Equal(t, 2, stats.Matched)
	assert.Equal(t, 1, stats.AlreadyCached)
	assert.Equal(t, 1, stats.Failed)

	resp, body = env.post(t, "/preload", `[]`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &stats))
	assert.Equal(t, 0, stats.Matched)

	resp, _ = env.post(t, "/preload", `{"min_lat":1}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatsAndHealth(t *testing.T) {
	env := newTestEnv(t)

	env.get(t, "/elevation?lat=35.5&lon=138.5")
	env.get(t, "/elevation?lat=35.6&lon=138.6")

	resp, body := env.get(t, "/stats")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"entry_count":1,"hit_count":1,"miss_count":1,"hit_rate":0.5,"capacity":10}`, string(body))

	resp, body = env.get(t, "/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestRequestID(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.get(t, "/health")
	assert.Len(t, resp.Header.Get("X-Request-ID"), 36)

	req, err := http.NewRequest(http.MethodGet, env.srv.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "abc-123")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "abc-123", resp.Header.Get("X-Request-ID"))
}

func TestStaticUI(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.get(t, "/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "<title>HGT Elevation</title>")
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t)
	env.get(t, "/elevation?lat=35.5&lon=138.5")
	env.get(t, "/elevation?lat=35.5&lon=138.5")

	collector := newCacheCollector(env.svc)
	assert.Equal(t, 4, testutil.CollectAndCount(collector))
	err := testutil.CollectAndCompare(collector, bytes.NewBufferString(`
# HELP hgt_cache_hits_total Tile lookups served from the cache.
# TYPE hgt_cache_hits_total counter
hgt_cache_hits_total 1
# HELP hgt_cache_misses_total Tile lookups that required a load.
# TYPE hgt_cache_misses_total counter
hgt_cache_misses_total 1
`), "hgt_cache_hits_total", "hgt_cache_misses_total")
	assert.NoError(t, err)

	assert.Equal(t, 2.0, testutil.ToFloat64(env.api.metrics.requests.WithLabelValues("elevation", "get", "200")))
}

func TestLoadRegions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "regions.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
regions:
  - name: fuji
    min_lat: 35
    min_lon: 138
    max_lat: 36
    max_lon: 139
  - name: andes
    min_lat: -14
    min_lon: -79
    max_lat: -12
    max_lon: -77
`), 0o644))

	boxes, err := loadRegions(path)
	require.NoError(t, err)
	assert.Equal(t, []hgt.BoundingBox{
		{MinLat: 35, MinLon: 138, MaxLat: 36, MaxLon: 139},
		{MinLat: -14, MinLon: -79, MaxLat: -12, MaxLon: -77},
	}, boxes)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("regions:\n  - name: x\n    min_lat: 5\n    max_lat: 1\n"), 0o644))
	_, err = loadRegions(bad)
	assert.Error(t, err)

	unknown := filepath.Join(dir, "unknown.yaml")
	require.NoError(t, os.WriteFile(unknown, []byte("regions:\n  - name: x\n    north: 5\n"), 0o644))
	_, err = loadRegions(unknown)
	assert.Error(t, err)

	_, err = loadRegions(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestCreateLogger(t *testing.T) {
	testCases := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}
	for _, tc := range testCases {
		t.Run(tc.level, func(t *testing.T) {
			logger := createLogger(Config{LogLevel: tc.level}, appName)
			assert.True(t, logger.Enabled(t.Context(), tc.want))
			if tc.want > slog.LevelDebug {
				assert.False(t, logger.Enabled(t.Context(), tc.want-1))
			}
		})
	}
}

func TestSetupService(t *testing.T) {
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	svc, acq, err := setupService(t.Context(), Config{DataDir: dir, CacheSize: 5, CacheItemsToPrune: 1, PreloadWorkers: 2}, logger)
	require.NoError(t, err)
	defer svc.Close()
	assert.Nil(t, acq)
	assert.False(t, svc.HasAcquirer())
	assert.Equal(t, uint64(5), svc.CacheCapacity())

	cfg := Config{DataDir: dir, CacheSize: 5}
	cfg.Download.Source = "ardupilot-srtm3"
	svc2, acq, err := setupService(t.Context(), cfg, logger)
	require.NoError(t, err)
	defer svc2.Close()
	assert.NotNil(t, acq)
	assert.True(t, svc2.HasAcquirer())

	_, _, err = setupService(t.Context(), Config{DataDir: filepath.Join(dir, "missing")}, logger)
	assert.Error(t, err)
}
