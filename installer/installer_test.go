package installer

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/pacmjs/pacm/cacheindex"
	"github.com/pacmjs/pacm/downloader"
	"github.com/pacmjs/pacm/graphresolver"
	"github.com/pacmjs/pacm/hostconfig"
	"github.com/pacmjs/pacm/manifest"
	"github.com/pacmjs/pacm/metrics"
	"github.com/pacmjs/pacm/registry"
	"github.com/pacmjs/pacm/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func packageTarball(t *testing.T, name, version string, deps map[string]string) []byte {
	t.Helper()
	manifestJSON, err := json.Marshal(struct {
		Name         string            `json:"name"`
		Version      string            `json:"version"`
		Dependencies map[string]string `json:"dependencies,omitempty"`
	}{Name: name, Version: version, Dependencies: deps})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	if err := tw.WriteHeader(&tar.Header{Name: "package/package.json", Mode: 0o644, Size: int64(len(manifestJSON))}); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	if _, err := tw.Write(manifestJSON); err != nil {
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

// testEnv wires a full installer against an httptest registry serving
// "leaf" (no deps) and "root" (depends on leaf) packages.
type testEnv struct {
	inst       *Installer
	projectDir string
	srv        *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("/leaf", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"name":"leaf","dist-tags":{"latest":"1.0.0"},"versions":{"1.0.0":{"name":"leaf","version":"1.0.0","dist":{"tarball":"`+srv.URL+`/tarballs/leaf-1.0.0.tgz"}}}}`)
	})
	mux.HandleFunc("/root-pkg", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"name":"root-pkg","dist-tags":{"latest":"1.0.0"},"versions":{"1.0.0":{"name":"root-pkg","version":"1.0.0","dependencies":{"leaf":"^1.0.0"},"dist":{"tarball":"`+srv.URL+`/tarballs/root-pkg-1.0.0.tgz"}}}}`)
	})
	mux.HandleFunc("/tarballs/leaf-1.0.0.tgz", func(w http.ResponseWriter, r *http.Request) {
		w.Write(packageTarball(t, "leaf", "1.0.0", nil))
	})
	mux.HandleFunc("/tarballs/root-pkg-1.0.0.tgz", func(w http.ResponseWriter, r *http.Request) {
		w.Write(packageTarball(t, "root-pkg", "1.0.0", map[string]string{"leaf": "^1.0.0"}))
	})

	log := discardLogger()
	tuning := hostconfig.Derive()
	client := registry.New(log, tuning, registry.WithBaseURL(srv.URL))
	resolver := graphresolver.New(client, tuning)

	storeRoot := t.TempDir()
	st := store.New(log, storeRoot, nil, metrics.Metrics{})
	index := cacheindex.New(log, storeRoot, nil)
	dl := downloader.New(log, st, index, tuning, metrics.Metrics{})

	inst := New(log, client, resolver, dl, st, index, metrics.Metrics{})

	projectDir := t.TempDir()
	m := manifest.New("consumer", "1.0.0")
	if err := m.Save(projectDir); err != nil {
		t.Fatalf("Save manifest: %v", err)
	}

	return &testEnv{inst: inst, projectDir: projectDir, srv: srv}
}

func TestInstallOneDownloadsResolvesLinksAndRecords(t *testing.T) {
	env := newTestEnv(t)

	summary, err := env.inst.InstallOne(t.Context(), env.projectDir, "root-pkg", "^1.0.0", manifest.Dependencies, false, false, false, false)
	if err != nil {
		t.Fatalf("InstallOne: %v", err)
	}
	if summary.Downloaded != 1 {
		t.Errorf("expected 1 downloaded package, got %+v", summary)
	}

	link := filepath.Join(env.projectDir, "node_modules", "root-pkg")
	if _, err := os.Lstat(link); err != nil {
		t.Fatalf("expected symlink at %s: %v", link, err)
	}

	nestedLeaf := filepath.Join(env.projectDir, "node_modules", "root-pkg")
	target, err := os.Readlink(nestedLeaf)
	if err != nil {
		t.Fatalf("Readlink: %v", err)
	}
	if _, err := os.Stat(filepath.Join(target, "node_modules", "leaf")); err != nil {
		t.Fatalf("expected leaf linked under root-pkg's own node_modules: %v", err)
	}

	man, err := manifest.Load(env.projectDir)
	if err != nil {
		t.Fatalf("Load manifest: %v", err)
	}
	if _, _, ok := man.Find("root-pkg"); !ok {
		t.Errorf("expected root-pkg recorded in manifest")
	}

	lockPath := filepath.Join(env.projectDir, "pacm.lock")
	if _, err := os.Stat(lockPath); err != nil {
		t.Fatalf("expected pacm.lock written: %v", err)
	}
}

func TestInstallOneIsIdempotentWhenAlreadyPresent(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.inst.InstallOne(t.Context(), env.projectDir, "leaf", "^1.0.0", manifest.Dependencies, false, false, false, false); err != nil {
		t.Fatalf("first InstallOne: %v", err)
	}
	summary, err := env.inst.InstallOne(t.Context(), env.projectDir, "leaf", "^1.0.0", manifest.Dependencies, false, false, false, false)
	if err != nil {
		t.Fatalf("second InstallOne: %v", err)
	}
	if summary.Downloaded != 0 || summary.LinkedFromCache != 0 {
		t.Errorf("expected a no-op idempotent result, got %+v", summary)
	}
}

func TestRemoveUnlinksAndPrunesManifestAndLockfile(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.inst.InstallOne(t.Context(), env.projectDir, "leaf", "^1.0.0", manifest.Dependencies, false, false, false, false); err != nil {
		t.Fatalf("InstallOne: %v", err)
	}

	if err := env.inst.Remove(t.Context(), env.projectDir, []string{"leaf"}, false); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if _, err := os.Lstat(filepath.Join(env.projectDir, "node_modules", "leaf")); !os.IsNotExist(err) {
		t.Errorf("expected leaf unlinked, err = %v", err)
	}
	man, err := manifest.Load(env.projectDir)
	if err != nil {
		t.Fatalf("Load manifest: %v", err)
	}
	if _, _, ok := man.Find("leaf"); ok {
		t.Errorf("expected leaf removed from manifest")
	}
	if _, err := os.Stat(filepath.Join(env.projectDir, "pacm.lock")); !os.IsNotExist(err) {
		t.Errorf("expected pacm.lock removed once empty")
	}
}

func TestListReportsCacheLinkedStatus(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.inst.InstallOne(t.Context(), env.projectDir, "leaf", "^1.0.0", manifest.Dependencies, false, false, false, false); err != nil {
		t.Fatalf("InstallOne: %v", err)
	}

	entries, err := env.inst.List(t.Context(), env.projectDir)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "leaf" || !entries[0].CacheLinked {
		t.Fatalf("List = %+v", entries)
	}
}

func TestPlanReportsWithoutSideEffects(t *testing.T) {
	env := newTestEnv(t)

	plan, err := env.inst.Plan(t.Context(), env.projectDir)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plan.ToLink) != 0 || len(plan.ToDownload) != 0 {
		t.Fatalf("expected an empty plan for a manifest with no dependencies, got %+v", plan)
	}

	if _, err := os.Lstat(filepath.Join(env.projectDir, "node_modules")); !os.IsNotExist(err) {
		t.Errorf("Plan must not create node_modules")
	}
}
