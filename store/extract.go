package store

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// extractTarGz gunzips and untars src into dest/package, stripping the
// tarball's single top-level directory component so that dest/package
// holds the contents of spec §4.3's "package/" sub-directory (the
// registry always wraps a published version's files in exactly that
// directory). It returns the
// total bytes written across all regular files, for the store's
// bytes-written accounting.
func extractTarGz(src io.Reader, dest string) (int64, error) {
	gz, err := gzip.NewReader(src)
	if err != nil {
		return 0, fmt.Errorf("opening gzip stream: %w", err)
	}
	defer gz.Close()

	packageDir := filepath.Join(dest, "package")
	if err := os.MkdirAll(packageDir, 0o755); err != nil {
		return 0, err
	}

	var written int64
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			return written, fmt.Errorf("reading tar entry: %w", err)
		}

		name := stripTopLevel(hdr.Name)
		if name == "" {
			continue
		}
		target := filepath.Join(packageDir, name)
		if !strings.HasPrefix(target, filepath.Clean(packageDir)+string(os.PathSeparator)) && target != filepath.Clean(packageDir) {
			return written, fmt.Errorf("tar entry escapes package directory: %s", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return written, err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return written, err
			}
			n, err := writeFile(tr, target, hdr.FileInfo().Mode())
			written += n
			if err != nil {
				return written, err
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return written, err
			}
			_ = os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return written, err
			}
		default:
			// Skip device files, hardlinks, and other entry kinds a
			// published npm tarball has no legitimate reason to contain.
		}
	}
}

func writeFile(r io.Reader, target string, mode os.FileMode) (int64, error) {
	if mode == 0 {
		mode = 0o644
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return io.Copy(f, r)
}

// stripTopLevel removes the leading "package/" (or any single top-level
// directory component, for tarballs that don't literally use that name)
// from a tar entry path.
func stripTopLevel(name string) string {
	name = strings.TrimPrefix(name, "./")
	idx := strings.Index(name, "/")
	if idx < 0 {
		return ""
	}
	return name[idx+1:]
}
