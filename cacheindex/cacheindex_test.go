package cacheindex

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 100}))
}

func TestBuildScansStoreDirectories(t *testing.T) {
	root := t.TempDir()
	npmRoot := filepath.Join(root, "npm")
	entry := filepath.Join(npmRoot, "lodash@4.17.21-"+repeat64("a"))
	if err := os.MkdirAll(filepath.Join(entry, "package"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	idx := New(discardLogger(), root, nil)
	if err := idx.Build(context.Background()); err != nil {
		t.Fatalf("Build: %v", err)
	}

	p, ok := idx.Get("lodash@4.17.21")
	if !ok {
		t.Fatalf("expected lodash@4.17.21 in index")
	}
	if p != filepath.Join(entry, "package") {
		t.Fatalf("path = %q, want %q", p, filepath.Join(entry, "package"))
	}
}

func TestBuildIsIdempotentAndIgnoresStrayDirs(t *testing.T) {
	root := t.TempDir()
	npmRoot := filepath.Join(root, "npm")
	if err := os.MkdirAll(filepath.Join(npmRoot, "not-a-store-entry"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	idx := New(discardLogger(), root, nil)
	if err := idx.Build(context.Background()); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if idx.Len() != 0 {
		t.Fatalf("expected 0 entries for malformed dir names, got %d", idx.Len())
	}
	if err := idx.Build(context.Background()); err != nil {
		t.Fatalf("Build (second call): %v", err)
	}
}

func TestAllPresentAndBatchGet(t *testing.T) {
	idx := New(discardLogger(), t.TempDir(), nil)
	idx.Put("a@1.0.0", "/store/a")
	idx.Put("b@1.0.0", "/store/b")

	if !idx.AllPresent([]string{"a@1.0.0", "b@1.0.0"}) {
		t.Errorf("expected AllPresent true")
	}
	if idx.AllPresent([]string{"a@1.0.0", "c@1.0.0"}) {
		t.Errorf("expected AllPresent false")
	}

	got := idx.BatchGet([]string{"a@1.0.0", "c@1.0.0"})
	if len(got) != 1 || got["a@1.0.0"] != "/store/a" {
		t.Errorf("BatchGet = %v", got)
	}
}

func repeat64(s string) string {
	out := ""
	for i := 0; i < 64; i++ {
		out += s
	}
	return out
}
