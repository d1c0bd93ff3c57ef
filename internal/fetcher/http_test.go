package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

const emptyCollection = `{"type":"FeatureCollection","features":[]}`

// datasetServer serves emptyCollection at /geo.geojson and answers the
// status queued in failures before succeeding.
func datasetServer(t *testing.T, failures ...int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(hits.Add(1))
		if n <= len(failures) {
			w.WriteHeader(failures[n-1])
			return
		}
		if r.URL.Path != "/geo.geojson" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/geo+json")
		_, _ = w.Write([]byte(emptyCollection))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestHTTPFetcher_Download(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte(emptyCollection))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{UserAgent: "apl-test/0.1", Timeout: 5 * time.Second})
	body, err := f.Download(context.Background(), srv.URL+"/geo.geojson")
	require.NoError(t, err)
	defer body.Close() //nolint:errcheck

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, emptyCollection, string(data))
	assert.Equal(t, "apl-test/0.1", gotUA)
}

func TestHTTPFetcher_DownloadToFile(t *testing.T) {
	srv, _ := datasetServer(t)
	f := NewHTTPFetcher(HTTPOptions{})

	path := filepath.Join(t.TempDir(), "geo.geojson")
	n, err := f.DownloadToFile(context.Background(), srv.URL+"/geo.geojson", path)
	require.NoError(t, err)
	assert.Equal(t, int64(len(emptyCollection)), n)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, emptyCollection, string(data))
}

func TestHTTPFetcher_Defaults(t *testing.T) {
	f := NewHTTPFetcher(HTTPOptions{})
	assert.Equal(t, 60*time.Second, f.opts.Timeout)
	assert.Equal(t, 1, f.opts.MaxRetries)
	assert.Equal(t, "apl-dashboard/1.0", f.opts.UserAgent)
	assert.Equal(t, rate.Limit(5), f.opts.DefaultRate)
}

func TestHTTPFetcher_Statuses(t *testing.T) {
	tests := []struct {
		name       string
		maxRetries int
		failures   []int
		path       string
		wantErr    string
		wantHits   int32
	}{
		{name: "single attempt by default", failures: []int{500}, path: "/geo.geojson", wantErr: "http 500", wantHits: 1},
		{name: "retry recovers", maxRetries: 2, failures: []int{502}, path: "/geo.geojson", wantHits: 2},
		{name: "retries exhausted", maxRetries: 2, failures: []int{503, 503}, path: "/geo.geojson", wantErr: "all retries exhausted", wantHits: 2},
		{name: "429 is retried", maxRetries: 2, failures: []int{429}, path: "/geo.geojson", wantHits: 2},
		{name: "403 is not retried", maxRetries: 3, failures: []int{403}, path: "/geo.geojson", wantErr: "unexpected status 403", wantHits: 1},
		{name: "missing dataset", path: "/missing.geojson", wantErr: "unexpected status 404", wantHits: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, hits := datasetServer(t, tt.failures...)
			f := NewHTTPFetcher(HTTPOptions{MaxRetries: tt.maxRetries, Timeout: 5 * time.Second})

			body, err := f.Download(context.Background(), srv.URL+tt.path)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				if tt.maxRetries <= 1 {
					assert.NotContains(t, err.Error(), "all retries exhausted")
				}
			} else {
				require.NoError(t, err)
				_ = body.Close()
			}
			assert.Equal(t, tt.wantHits, hits.Load())
		})
	}
}

func TestHTTPFetcher_ContextCancelled(t *testing.T) {
	srv, hits := datasetServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewHTTPFetcher(HTTPOptions{}).Download(ctx, srv.URL+"/geo.geojson")
	require.Error(t, err)
	assert.Equal(t, int32(0), hits.Load())
}

func TestHTTPFetcher_DownloadToFileError(t *testing.T) {
	srv, _ := datasetServer(t)
	path := filepath.Join(t.TempDir(), "out")

	_, err := NewHTTPFetcher(HTTPOptions{}).DownloadToFile(context.Background(), srv.URL+"/missing", path)
	require.Error(t, err)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "no file is created for a failed download")
}

func TestHTTPFetcher_RateLimitedHost(t *testing.T) {
	var mu sync.Mutex
	var seen []time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, time.Now())
		mu.Unlock()
		_, _ = w.Write([]byte(emptyCollection))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{
		RateLimiters: map[string]*rate.Limiter{
			srv.Listener.Addr().String(): rate.NewLimiter(2, 1),
		},
	})

	for range 3 {
		body, err := f.Download(context.Background(), srv.URL+"/geo.geojson")
		require.NoError(t, err)
		_ = body.Close()
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 3)
	assert.GreaterOrEqual(t, seen[2].Sub(seen[0]), 900*time.Millisecond, "2 req/s with burst 1")
}

func TestHTTPFetcher_LimiterPerHost(t *testing.T) {
	f := NewHTTPFetcher(HTTPOptions{DefaultRate: 3, DefaultBurst: 2})

	a := f.limiterFor("https://medical-deserts-project.s3.eu-north-1.amazonaws.com/geo.geojson")
	b := f.limiterFor("https://medical-deserts-project.s3.eu-north-1.amazonaws.com/2024.zip")
	c := f.limiterFor("https://data.drees.solidarites-sante.gouv.fr/apl.zip")
	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.InDelta(t, 3.0, float64(a.Limit()), 0.001)
	assert.Equal(t, 2, a.Burst())

	assert.NotNil(t, f.limiterFor("://invalid-url"))
}
