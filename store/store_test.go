package store

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/pacmjs/pacm/metrics"
)

func buildTarball(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		hdr := &tar.Header{
			Name: "package/" + name,
			Mode: 0o644,
			Size: int64(len(content)),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("WriteHeader: %v", err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar Close: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("gzip Close: %v", err)
	}
	return buf.Bytes()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 100}))
}

func TestExtractIsIdempotent(t *testing.T) {
	root := t.TempDir()
	s := New(discardLogger(), root, nil, metrics.Metrics{})
	tarball := buildTarball(t, map[string]string{"package.json": `{"name":"x","version":"1.0.0"}`})

	p1, err := s.Extract(context.Background(), "x", "1.0.0", bytes.NewReader(tarball))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	p2, err := s.Extract(context.Background(), "x", "1.0.0", bytes.NewReader(tarball))
	if err != nil {
		t.Fatalf("Extract (again): %v", err)
	}
	if p1 != p2 {
		t.Fatalf("paths differ across idempotent calls: %s vs %s", p1, p2)
	}
	if _, err := os.Stat(filepath.Join(p1, "package.json")); err != nil {
		t.Fatalf("expected extracted file: %v", err)
	}
}

func TestExtractContentAddressing(t *testing.T) {
	root := t.TempDir()
	s := New(discardLogger(), root, nil, metrics.Metrics{})

	t1 := buildTarball(t, map[string]string{"package.json": `{"name":"x","version":"1.0.0"}`})
	t2 := buildTarball(t, map[string]string{"package.json": `{"name":"x","version":"1.0.0","extra":true}`})

	p1, err := s.Extract(context.Background(), "x", "1.0.0", bytes.NewReader(t1))
	if err != nil {
		t.Fatalf("Extract t1: %v", err)
	}
	p2, err := s.Extract(context.Background(), "x", "1.0.0", bytes.NewReader(t2))
	if err != nil {
		t.Fatalf("Extract t2: %v", err)
	}
	if p1 == p2 {
		t.Fatalf("expected distinct paths for distinct tarball bytes, got %s for both", p1)
	}
}

func TestScopedNameSanitization(t *testing.T) {
	root := t.TempDir()
	s := New(discardLogger(), root, nil, metrics.Metrics{})
	tarball := buildTarball(t, map[string]string{"index.js": "module.exports = {}"})

	p, err := s.Extract(context.Background(), "@types/node", "18.11.0", bytes.NewReader(tarball))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	rel, err := filepath.Rel(filepath.Join(root, "npm"), p)
	if err != nil {
		t.Fatalf("Rel: %v", err)
	}
	if got, want := filepath.Dir(rel), Sanitize("@types/node")+"@18.11.0-"+hashSuffix(t, tarball); got != want {
		t.Fatalf("entry dir = %q, want %q", got, want)
	}
}

func hashSuffix(t *testing.T, tarball []byte) string {
	t.Helper()
	s := New(discardLogger(), t.TempDir(), nil, metrics.Metrics{})
	p, err := s.Extract(context.Background(), "probe", "0.0.0", bytes.NewReader(tarball))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	dir := filepath.Base(filepath.Dir(p))
	idx := bytes.LastIndexByte([]byte(dir), '-')
	return dir[idx+1:]
}
