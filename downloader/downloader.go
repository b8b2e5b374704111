// Package downloader implements the Downloader of spec §4.7: turning a
// resolved closure into a name@version -> store path mapping, splitting
// already-cached packages from ones that need a tarball fetch, and
// issuing the fetches in permit-bounded batches with singleflight-style
// per-fingerprint deduplication.
package downloader

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/pacmjs/pacm/cacheindex"
	"github.com/pacmjs/pacm/graphresolver"
	"github.com/pacmjs/pacm/hostconfig"
	"github.com/pacmjs/pacm/metrics"
	"github.com/pacmjs/pacm/pacmerr"
	"github.com/pacmjs/pacm/store"
)

const tarballRequestTimeout = 5 * time.Minute

// Stored is one entry of the downloader's result: the resolved package
// alongside the store path its contents now live at, and whether this
// invocation actually fetched it (vs. a pre-existing cache hit) — the
// latter drives install_all's post-install-hook and finish-message
// policies (spec §4.8).
type Stored struct {
	Package        *graphresolver.ResolvedPackage
	PackageDir     string
	FreshlyFetched bool
}

// Downloader fetches tarballs for resolved packages not already present
// in the cache index, storing each into the content-addressed store.
type Downloader struct {
	log     *slog.Logger
	http    *http.Client
	store   *store.Store
	index   *cacheindex.Index
	tuning  hostconfig.Tuning
	metrics metrics.Metrics

	group singleflight.Group
}

// New constructs a Downloader. m records cache-miss and download counters
// (SPEC_FULL.md §11); its zero value is a safe no-op.
func New(log *slog.Logger, st *store.Store, index *cacheindex.Index, tuning hostconfig.Tuning, m metrics.Metrics) *Downloader {
	return &Downloader{
		log:     log,
		http:    &http.Client{Timeout: tarballRequestTimeout},
		store:   st,
		index:   index,
		tuning:  tuning,
		metrics: m,
	}
}

// Fetch resolves packages into store paths, fetching only what the
// cache index does not already have. Batches of the to-download set are
// issued concurrently, bounded by tuning.ParallelDownloads; a batch
// failure is awaited out (no goroutine leak) before the error
// propagates (spec §4.7 "structured parallelism").
func (d *Downloader) Fetch(ctx context.Context, closure []*graphresolver.ResolvedPackage) (map[string]Stored, error) {
	result := make(map[string]Stored, len(closure))
	var toDownload []*graphresolver.ResolvedPackage

	for _, pkg := range closure {
		key := pkg.Key()
		if dir, ok := d.index.Get(key); ok {
			result[key] = Stored{Package: pkg, PackageDir: dir, FreshlyFetched: false}
			continue
		}
		d.metrics.IncrementCacheMiss(ctx, pkg.Name)
		toDownload = append(toDownload, pkg)
	}

	if len(toDownload) == 0 {
		return result, nil
	}

	batchSize := d.tuning.DependencyBatchSize
	if batchSize < 1 {
		batchSize = 1
	}
	sem := make(chan struct{}, max(d.tuning.ParallelDownloads, 1))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)

	for start := 0; start < len(toDownload); start += batchSize {
		end := min(start+batchSize, len(toDownload))
		batch := toDownload[start:end]
		g.Go(func() error {
			for _, pkg := range batch {
				select {
				case sem <- struct{}{}:
				case <-gctx.Done():
					return gctx.Err()
				}
				stored, err := d.fetchOne(gctx, pkg)
				<-sem
				if err != nil {
					return err
				}
				mu.Lock()
				result[pkg.Key()] = stored
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

// fetchOne downloads and stores a single package, deduplicating
// concurrent requests for the same fingerprint within this invocation
// (spec §4.7 step 4).
func (d *Downloader) fetchOne(ctx context.Context, pkg *graphresolver.ResolvedPackage) (Stored, error) {
	key := pkg.Key()
	v, err, _ := d.group.Do(key, func() (any, error) {
		if dir, ok := d.index.Get(key); ok {
			return Stored{Package: pkg, PackageDir: dir, FreshlyFetched: false}, nil
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pkg.TarballURL, nil)
		if err != nil {
			return nil, &pacmerr.DownloadFailed{Name: pkg.Name, Version: pkg.Version, Reason: err.Error()}
		}
		resp, err := d.http.Do(req)
		if err != nil {
			return nil, &pacmerr.DownloadFailed{Name: pkg.Name, Version: pkg.Version, Reason: err.Error()}
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, &pacmerr.DownloadFailed{Name: pkg.Name, Version: pkg.Version, Reason: fmt.Sprintf("unexpected status %s", resp.Status)}
		}

		counted := &countingReader{r: resp.Body}
		dir, err := d.store.Extract(ctx, pkg.Name, pkg.Version, counted)
		if err != nil {
			return nil, err
		}
		d.index.Put(key, dir)
		d.metrics.IncrementDownload(ctx, pkg.Name, counted.n)
		d.log.Debug("downloader fetched package", slog.String("package", pkg.Name), slog.String("version", pkg.Version), slog.String("path", dir), slog.Int64("bytes", counted.n))
		return Stored{Package: pkg, PackageDir: dir, FreshlyFetched: true}, nil
	})
	if err != nil {
		return Stored{}, err
	}
	return v.(Stored), nil
}

// countingReader tallies bytes read so IncrementDownload can record the
// tarball payload size without the store needing to know about metrics.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
