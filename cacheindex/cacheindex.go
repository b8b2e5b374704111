// Package cacheindex implements the Cache Index of spec §4.6: a
// name@version -> store-entry-path map built lazily by scanning the
// store, shared across the concurrent tasks of one installer invocation
// under a single-writer/many-reader discipline (spec §9).
package cacheindex

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/pacmjs/pacm/store"
)

// entryPattern recognizes the hashed-layout directory name
// "<sanitized>@<version>-<64 hex chars>" this package's store writes.
var entryPattern = regexp.MustCompile(`^(.+)@([^@]+)-([0-9a-f]{64})$`)

// Index is the in-memory name@version -> store path map. It is safe for
// concurrent use: Build acquires a write lock, all lookups a read lock.
type Index struct {
	log  *slog.Logger
	root string

	mu      sync.RWMutex
	entries map[string]string
	built   bool

	persist Persister
}

// Persister is the optional acceleration layer of SPEC_FULL.md §11: a
// kv.Store (sqlite, rqlite or postgres, chosen by OpenPersister) that
// lets a later process start skip the filesystem walk. It is never consulted for correctness — Build always
// remains the authoritative source — only to warm the map before the
// walk confirms it.
type Persister interface {
	Load(ctx context.Context) (map[string]string, error)
	Save(ctx context.Context, entries map[string]string) error
}

// New constructs an empty Index rooted at the given store.
func New(log *slog.Logger, storeRoot string, persist Persister) *Index {
	return &Index{log: log, root: storeRoot, entries: make(map[string]string), persist: persist}
}

// Build scans <store>/npm/ once, populating the map. It is idempotent: a
// second call is a no-op unless Invalidate was called first. Per spec
// §4.6, "building is single-writer and idempotent".
func (idx *Index) Build(ctx context.Context) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.built {
		return nil
	}

	if idx.persist != nil {
		if warm, err := idx.persist.Load(ctx); err == nil {
			for k, v := range warm {
				idx.entries[k] = v
			}
		} else {
			idx.log.Debug("cache index persistence warm load failed, falling back to scan", slog.Any("error", err))
		}
	}

	npmRoot := filepath.Join(idx.root, "npm")
	dirEntries, err := os.ReadDir(npmRoot)
	if err != nil {
		if os.IsNotExist(err) {
			idx.built = true
			return nil
		}
		return err
	}

	for _, de := range dirEntries {
		if !de.IsDir() {
			continue
		}
		m := entryPattern.FindStringSubmatch(de.Name())
		if m == nil {
			continue
		}
		name := store.Unsanitize(m[1])
		version := m[2]
		packageDir := filepath.Join(npmRoot, de.Name(), "package")
		if info, statErr := os.Stat(packageDir); statErr != nil || !info.IsDir() {
			continue
		}
		idx.entries[name+"@"+version] = packageDir
	}

	idx.built = true
	if idx.persist != nil {
		snapshot := make(map[string]string, len(idx.entries))
		for k, v := range idx.entries {
			snapshot[k] = v
		}
		if err := idx.persist.Save(ctx, snapshot); err != nil {
			idx.log.Debug("cache index persistence save failed", slog.Any("error", err))
		}
	}
	return nil
}

// Invalidate forces the next Build to re-scan.
func (idx *Index) Invalidate() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.built = false
}

// Get returns the store path for "name@version".
func (idx *Index) Get(key string) (string, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	p, ok := idx.entries[key]
	return p, ok
}

// Contains is the cheaper boolean form of Get.
func (idx *Index) Contains(key string) bool {
	_, ok := idx.Get(key)
	return ok
}

// BatchGet performs a multi-key lookup. It returns a map holding only the
// keys that are present; the order of keys is not preserved.
func (idx *Index) BatchGet(keys []string) map[string]string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if p, ok := idx.entries[k]; ok {
			out[k] = p
		}
	}
	return out
}

// AllPresent is the fast-path predicate the installer uses to decide
// whether resolution can be skipped entirely (spec §4.8 step 3).
func (idx *Index) AllPresent(keys []string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	for _, k := range keys {
		if _, ok := idx.entries[k]; !ok {
			return false
		}
	}
	return true
}

// Put registers a freshly-stored entry, called by the downloader after a
// successful extraction so a later package in the same batch observes it
// without a re-scan.
func (idx *Index) Put(key, path string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries[key] = path
	if idx.built && idx.persist != nil {
		snapshot := make(map[string]string, len(idx.entries))
		for k, v := range idx.entries {
			snapshot[k] = v
		}
		go func() {
			if err := idx.persist.Save(context.Background(), snapshot); err != nil {
				idx.log.Debug("cache index persistence save failed", slog.Any("error", err))
			}
		}()
	}
}

// Len reports the number of entries currently known.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}
