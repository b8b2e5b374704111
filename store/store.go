// Package store implements the Store of spec §4.3: a content-addressed
// directory per (name, version, tarball-bytes-hash), extracted from a
// gzip-compressed tar stream via a staged-directory rename for atomicity
// (spec §3 I1, P3, P4).
//
// Of the two layouts spec §4.3 describes (hashed-suffix vs
// name/version/), this implementation picks the hashed layout — see
// DESIGN.md's Q1 entry — because it gives P4 (distinct bytes for the
// same (name, version) produce distinct store paths) for free, which the
// versioned layout cannot express without an extra indirection.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pacmjs/pacm/metrics"
	"github.com/pacmjs/pacm/pacmerr"
)

const HashLen = 64 // len(hex.EncodeToString(sha256.Sum256(nil)))

// Mirror is an optional secondary write target for a store entry's
// extracted contents, e.g. an S3-compatible bucket for a shared store
// across machines (SPEC_FULL.md §11). It is never consulted for reads:
// the local filesystem remains the sole source of truth.
type Mirror interface {
	MirrorDir(ctx context.Context, key string, root string) error
}

// Store is the global content-addressed package store rooted at a
// directory, by default "$HOME/.pacm/store" (spec §6).
type Store struct {
	log     *slog.Logger
	root    string
	mirror  Mirror
	metrics metrics.Metrics
}

// New constructs a Store rooted at root. root is discovered once at
// process start and treated as immutable configuration for the process's
// lifetime (spec §9 "Global store as process-wide state"). m records
// store-growth metrics (SPEC_FULL.md §11); its zero value is a safe
// no-op.
func New(log *slog.Logger, root string, mirror Mirror, m metrics.Metrics) *Store {
	return &Store{log: log, root: root, mirror: mirror, metrics: m}
}

// DefaultRoot returns "$HOME/.pacm/store", honoring PACM_STORE_DIR.
func DefaultRoot() (string, error) {
	if dir := os.Getenv("PACM_STORE_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".pacm", "store"), nil
}

// npmRoot is the "npm/" subdirectory of the store root (spec §6).
func (s *Store) npmRoot() string {
	return filepath.Join(s.root, "npm")
}

// EntryDir computes the deterministic directory name for (name, version,
// tarballHash) without touching disk — used by EntryPath and as the
// mirror key for an extracted entry.
func EntryDir(name, version, tarballHashHex string) string {
	return fmt.Sprintf("%s@%s-%s", Sanitize(name), version, tarballHashHex)
}

// EntryPath returns the full path to the entry directory.
func (s *Store) EntryPath(name, version, tarballHashHex string) string {
	return filepath.Join(s.npmRoot(), EntryDir(name, version, tarballHashHex))
}

// Extract stores a gzip-compressed tar stream under the deterministic
// path for (name, version, sha256(tarball bytes)), returning the
// extracted "package/" directory. Idempotent: a second call with
// identical bytes is a no-op that returns the existing path (spec P3).
func (s *Store) Extract(ctx context.Context, name, version string, tarball io.Reader) (packageDir string, err error) {
	if err := os.MkdirAll(s.npmRoot(), 0o755); err != nil {
		return "", &pacmerr.StorageFailed{Name: name, Reason: err.Error()}
	}

	rawFile, err := os.CreateTemp(s.npmRoot(), "download-*.tgz")
	if err != nil {
		return "", &pacmerr.StorageFailed{Name: name, Reason: err.Error()}
	}
	rawPath := rawFile.Name()
	defer os.Remove(rawPath)
	defer rawFile.Close()

	hasher := sha256.New()
	if _, err := io.Copy(rawFile, io.TeeReader(tarball, hasher)); err != nil {
		return "", &pacmerr.StorageFailed{Name: name, Reason: fmt.Sprintf("buffering tarball: %v", err)}
	}
	hashHex := hex.EncodeToString(hasher.Sum(nil))

	entryPath := s.EntryPath(name, version, hashHex)
	packageDir = filepath.Join(entryPath, "package")
	if info, statErr := os.Stat(packageDir); statErr == nil && info.IsDir() {
		s.log.Debug("store extract short-circuit: entry already present", slog.String("package", name), slog.String("version", version), slog.String("path", entryPath))
		return packageDir, nil
	}

	if _, err := rawFile.Seek(0, io.SeekStart); err != nil {
		return "", &pacmerr.StorageFailed{Name: name, Reason: err.Error()}
	}

	staging, err := os.MkdirTemp(s.npmRoot(), "staging-*")
	if err != nil {
		return "", &pacmerr.StorageFailed{Name: name, Reason: err.Error()}
	}
	defer os.RemoveAll(staging)

	written, err := extractTarGz(rawFile, staging)
	if err != nil {
		return "", &pacmerr.StorageFailed{Name: name, Reason: err.Error()}
	}

	if err := os.MkdirAll(filepath.Dir(entryPath), 0o755); err != nil {
		return "", &pacmerr.StorageFailed{Name: name, Reason: err.Error()}
	}
	if err := os.Rename(staging, entryPath); err != nil {
		// A concurrent writer (this process or another) may have raced us
		// to the same deterministic path; per spec §5 that is fine as long
		// as the destination now has a package/ child.
		if info, statErr := os.Stat(packageDir); statErr == nil && info.IsDir() {
			return packageDir, nil
		}
		return "", &pacmerr.StorageFailed{Name: name, Reason: err.Error()}
	}
	s.metrics.IncrementStoreBytesWritten(ctx, name, written)

	if s.mirror != nil {
		if err := s.mirror.MirrorDir(ctx, EntryDir(name, version, hashHex), packageDir); err != nil {
			s.log.Warn("store mirror failed", slog.String("package", name), slog.String("version", version), slog.Any("error", err))
		}
	}

	return packageDir, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string { return s.root }

// Size walks the entire store and totals the on-disk byte size of its
// contents, grounded on the original's calculate_directory_size, for the
// clean operation's report (spec §4.10, §12 "Store size accounting"). It
// walks the filesystem directly and does not consult the cache index.
func (s *Store) Size(ctx context.Context) (int64, error) {
	var total int64
	err := filepath.Walk(s.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, &pacmerr.IoError{Msg: err.Error()}
	}
	return total, nil
}

// RemoveAll deletes the entire store directory, then recreates the root
// so subsequent installs have somewhere to write (spec §4.10 clean).
func (s *Store) RemoveAll() error {
	if err := os.RemoveAll(s.root); err != nil {
		return &pacmerr.IoError{Msg: err.Error()}
	}
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return &pacmerr.IoError{Msg: err.Error()}
	}
	return nil
}
