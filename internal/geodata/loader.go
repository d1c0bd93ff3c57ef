package geodata

import (
	"context"
	"errors"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/medical-deserts/apl-dashboard/internal/fetcher"
	"github.com/medical-deserts/apl-dashboard/internal/resilience"
)

// LoaderOptions configures a Loader.
type LoaderOptions struct {
	// Target is the CRS every loaded dataset is reprojected into.
	Target CRS
	// TempDir holds downloads and extracted archives while decoding.
	TempDir string
	// Breakers, when set, stops fetching a source after repeated failures.
	Breakers *resilience.Breakers
	// LoadTimeout bounds one shared fetch and decode. Zero means
	// DefaultLoadTimeout.
	LoadTimeout time.Duration
}

// DefaultLoadTimeout bounds a shared load when LoaderOptions sets none.
const DefaultLoadTimeout = 5 * time.Minute

// Loader fetches, decodes and reprojects datasets, memoizing them in a
// DatasetCache. Concurrent loads of one URL share a single fetch.
type Loader struct {
	fetcher     fetcher.Fetcher
	cache       *DatasetCache
	target      CRS
	tempDir     string
	breakers    *resilience.Breakers
	loadTimeout time.Duration
	group       singleflight.Group
}

// NewLoader creates a Loader. A nil cache gets a process-lifetime cache and
// a zero Target means EPSG:4326.
func NewLoader(f fetcher.Fetcher, cache *DatasetCache, opts LoaderOptions) *Loader {
	if cache == nil {
		cache = NewDatasetCache(DefaultCacheEntries, 0)
	}
	if opts.Target == 0 {
		opts.Target = EPSG4326
	}
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = DefaultLoadTimeout
	}
	return &Loader{
		fetcher:     f,
		cache:       cache,
		target:      opts.Target,
		tempDir:     opts.TempDir,
		breakers:    opts.Breakers,
		loadTimeout: opts.LoadTimeout,
	}
}

// Cache returns the loader's dataset cache.
func (l *Loader) Cache() *DatasetCache {
	return l.cache
}

// Target returns the CRS loaded datasets are expressed in.
func (l *Loader) Target() CRS {
	return l.target
}

// Breakers returns the per-source breakers, or nil when disabled.
func (l *Loader) Breakers() *resilience.Breakers {
	return l.breakers
}

// Load returns the dataset at rawURL in the loader's target CRS. Failures
// are reported as *DataUnavailableError and are never cached.
//
// The fetch is shared by every concurrent caller and is not tied to any one
// of them: a caller whose ctx ends gets ctx's error back while the fetch
// carries on for the others, bounded by the load timeout.
func (l *Loader) Load(ctx context.Context, rawURL string) (*Dataset, error) {
	if ds := l.cache.Get(rawURL); ds != nil {
		return ds, nil
	}

	ch := l.group.DoChan(rawURL, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.loadTimeout)
		defer cancel()

		ds, err := l.guardedFetch(fctx, rawURL)
		if err != nil {
			return nil, err
		}
		l.cache.Put(rawURL, ds)
		return ds, nil
	})

	select {
	case <-ctx.Done():
		return nil, eris.Wrap(ctx.Err(), "geodata: load abandoned")
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			zap.L().Debug("geodata: joined in-flight load", zap.String("url", rawURL))
		}
		return res.Val.(*Dataset), nil
	}
}

func (l *Loader) guardedFetch(ctx context.Context, rawURL string) (*Dataset, error) {
	if l.breakers == nil {
		return l.fetch(ctx, rawURL)
	}
	ds, err := resilience.Call(ctx, l.breakers.Get(rawURL), func(ctx context.Context) (*Dataset, error) {
		return l.fetch(ctx, rawURL)
	})
	if errors.Is(err, resilience.ErrOpen) {
		zap.L().Debug("geodata: source breaker open, load skipped", zap.String("url", rawURL))
		return nil, unavailable(rawURL, err)
	}
	return ds, err
}

func (l *Loader) fetch(ctx context.Context, rawURL string) (*Dataset, error) {
	log := zap.L().With(
		zap.String("component", "geodata.loader"),
		zap.String("url", rawURL),
	)
	start := time.Now()
	log.Info("loading dataset")

	if err := os.MkdirAll(l.tempDir, 0o755); err != nil {
		return nil, unavailable(rawURL, eris.Wrap(err, "geodata: create temp dir"))
	}
	dir, err := os.MkdirTemp(l.tempDir, "dataset-*")
	if err != nil {
		return nil, unavailable(rawURL, eris.Wrap(err, "geodata: create work dir"))
	}
	defer func() { _ = os.RemoveAll(dir) }()

	dst := filepath.Join(dir, downloadName(rawURL))
	n, err := l.fetcher.DownloadToFile(ctx, rawURL, dst)
	if err != nil {
		log.Warn("dataset download failed", zap.Error(err))
		return nil, unavailable(rawURL, err)
	}
	log.Debug("dataset downloaded", zap.Int64("bytes", n))

	ds, err := decodeFile(dst, dir, rawURL)
	if err != nil {
		log.Warn("dataset decode failed", zap.Error(err))
		return nil, unavailable(rawURL, err)
	}

	src := ds.CRS
	out, err := Reproject(ds, l.target)
	if err != nil {
		return nil, unavailable(rawURL, err)
	}

	log.Info("dataset loaded",
		zap.Int("features", out.Len()),
		zap.Int("columns", len(out.Columns)),
		zap.Stringer("source_crs", src),
		zap.Stringer("crs", out.CRS),
		zap.Duration("elapsed", time.Since(start)),
	)
	return out, nil
}

// decodeFile picks the decoder from the file name, then the ZIP magic.
func decodeFile(file, workDir, source string) (*Dataset, error) {
	zipped := strings.EqualFold(filepath.Ext(file), ".zip")
	if !zipped {
		head, err := readHead(file, 4)
		if err != nil {
			return nil, err
		}
		zipped = fetcher.IsZIP(head)
	}

	if zipped {
		paths, err := fetcher.ExtractZIP(file, filepath.Join(workDir, "extract"))
		if err != nil {
			return nil, eris.Wrap(err, "geodata: extract archive")
		}
		shps := fetcher.FindByExt(paths, ".shp")
		if len(shps) == 0 {
			if gj := fetcher.FindByExt(paths, ".geojson"); len(gj) > 0 {
				return readGeoJSONFile(gj[0], source)
			}
			return nil, eris.New("geodata: archive contains no .shp file")
		}
		return ReadShapefile(shps[0], source)
	}
	return readGeoJSONFile(file, source)
}

func readGeoJSONFile(file, source string) (*Dataset, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, eris.Wrap(err, "geodata: read geojson")
	}
	return DecodeGeoJSON(data, source)
}

func readHead(file string, n int) ([]byte, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, eris.Wrap(err, "geodata: open download")
	}
	defer f.Close() //nolint:errcheck

	head := make([]byte, n)
	m, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, eris.Wrap(err, "geodata: read download")
	}
	return head[:m], nil
}

// downloadName derives a local file name from the URL path, keeping its
// extension for format detection.
func downloadName(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		p = u.Path
	}
	name := path.Base(filepath.ToSlash(p))
	if name == "" || name == "." || name == "/" {
		return "dataset"
	}
	return name
}
