package downloader

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/pacmjs/pacm/cacheindex"
	"github.com/pacmjs/pacm/graphresolver"
	"github.com/pacmjs/pacm/hostconfig"
	"github.com/pacmjs/pacm/metrics"
	"github.com/pacmjs/pacm/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func buildTarball(t *testing.T, name, content string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	body := []byte(content)
	if err := tw.WriteHeader(&tar.Header{Name: "package/index.js", Mode: 0o644, Size: int64(len(body))}); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	if _, err := tw.Write(body); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar Close: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("gzip Close: %v", err)
	}
	return buf.Bytes()
}

func TestFetchSplitsCachedFromDownload(t *testing.T) {
	root := t.TempDir()
	st := store.New(discardLogger(), root, nil, metrics.Metrics{})
	idx := cacheindex.New(discardLogger(), root, nil)
	if err := idx.Build(t.Context()); err != nil {
		t.Fatalf("Build: %v", err)
	}

	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write(buildTarball(t, "fresh", "console.log('fresh')"))
	}))
	defer srv.Close()

	// Pre-seed "cached" directly via the store, then register it with the
	// index, to simulate a package already present before this invocation.
	cachedDir, err := st.Extract(t.Context(), "cached", "1.0.0", bytes.NewReader(buildTarball(t, "cached", "cached")))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	idx.Put("cached@1.0.0", cachedDir)

	d := New(discardLogger(), st, idx, hostconfig.Derive(), metrics.Metrics{})
	closure := []*graphresolver.ResolvedPackage{
		{Name: "cached", Version: "1.0.0"},
		{Name: "fresh", Version: "1.0.0", TarballURL: srv.URL + "/fresh-1.0.0.tgz"},
	}

	result, err := d.Fetch(t.Context(), closure)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(result) != 2 {
		t.Fatalf("expected 2 results, got %d", len(result))
	}
	if result["cached@1.0.0"].FreshlyFetched {
		t.Errorf("expected cached entry to not be freshly fetched")
	}
	if !result["fresh@1.0.0"].FreshlyFetched {
		t.Errorf("expected fresh entry to be freshly fetched")
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Errorf("expected exactly 1 HTTP fetch, got %d", hits)
	}
}

func TestFetchDeduplicatesConcurrentRequestsForSameFingerprint(t *testing.T) {
	root := t.TempDir()
	st := store.New(discardLogger(), root, nil, metrics.Metrics{})
	idx := cacheindex.New(discardLogger(), root, nil)
	if err := idx.Build(t.Context()); err != nil {
		t.Fatalf("Build: %v", err)
	}

	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write(buildTarball(t, "dup", "console.log('dup')"))
	}))
	defer srv.Close()

	d := New(discardLogger(), st, idx, hostconfig.Derive(), metrics.Metrics{})
	pkg := &graphresolver.ResolvedPackage{Name: "dup", Version: "1.0.0", TarballURL: srv.URL + "/dup-1.0.0.tgz"}

	results := make([]Stored, 5)
	errs := make([]error, 5)
	done := make(chan int, 5)
	for i := 0; i < 5; i++ {
		i := i
		go func() {
			s, err := d.fetchOne(t.Context(), pkg)
			results[i] = s
			errs[i] = err
			done <- i
		}()
	}
	for i := 0; i < 5; i++ {
		<-done
	}
	for i, err := range errs {
		if err != nil {
			t.Fatalf("fetchOne[%d]: %v", i, err)
		}
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Errorf("expected exactly 1 HTTP fetch across 5 concurrent callers, got %d", hits)
	}
}

func TestFetchPropagatesDownloadErrors(t *testing.T) {
	root := t.TempDir()
	st := store.New(discardLogger(), root, nil, metrics.Metrics{})
	idx := cacheindex.New(discardLogger(), root, nil)
	if err := idx.Build(t.Context()); err != nil {
		t.Fatalf("Build: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := New(discardLogger(), st, idx, hostconfig.Derive(), metrics.Metrics{})
	closure := []*graphresolver.ResolvedPackage{
		{Name: "broken", Version: "1.0.0", TarballURL: srv.URL + "/broken-1.0.0.tgz"},
	}
	if _, err := d.Fetch(t.Context(), closure); err == nil {
		t.Fatalf("expected an error for a failing tarball fetch")
	}
}
