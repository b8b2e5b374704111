// Package linker implements the Linker of spec §4.4: materializing one
// store entry into a project's node_modules via a symlink, atomically
// replacing whatever was there before.
package linker

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pacmjs/pacm/pacmerr"
)

// TargetPath returns the node_modules path a package name links at:
// <scope>/<name> for a scoped name. It creates no directories.
func TargetPath(nodeModulesDir, name string) string {
	if idx := strings.Index(name, "/"); idx >= 0 && strings.HasPrefix(name, "@") {
		return filepath.Join(nodeModulesDir, name[:idx], name[idx+1:])
	}
	return filepath.Join(nodeModulesDir, name)
}

// Link creates nodeModulesDir/<name> (or nodeModulesDir/<scope>/<name>)
// as a symlink to storePackageDir, replacing any existing entry. The new
// link is created under a temporary name and renamed over the target, so
// an existing file or symlink is swapped atomically and a failure leaves
// either the old state or the new one (spec P5). An existing real
// directory cannot be renamed over, so it is removed right before the
// rename.
func Link(nodeModulesDir, name, storePackageDir string) error {
	target := TargetPath(nodeModulesDir, name)

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return &pacmerr.LinkingFailed{Name: name, Reason: err.Error()}
	}

	tmp := target + ".pacm-tmp"
	_ = os.RemoveAll(tmp)
	if err := os.Symlink(storePackageDir, tmp); err != nil {
		return &pacmerr.LinkingFailed{Name: name, Reason: err.Error()}
	}
	if info, err := os.Lstat(target); err == nil && info.IsDir() {
		if err := os.RemoveAll(target); err != nil {
			_ = os.RemoveAll(tmp)
			return &pacmerr.LinkingFailed{Name: name, Reason: err.Error()}
		}
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.RemoveAll(tmp)
		return &pacmerr.LinkingFailed{Name: name, Reason: err.Error()}
	}
	return nil
}

// Unlink removes nodeModulesDir/<name> (recursively for a scoped
// package's leaf directory), matching spec §4.10 remove's "unlink...
// (recursive for nested scope directories)".
func Unlink(nodeModulesDir, name string) error {
	target := TargetPath(nodeModulesDir, name)
	if err := os.RemoveAll(target); err != nil {
		return &pacmerr.LinkingFailed{Name: name, Reason: err.Error()}
	}
	if strings.HasPrefix(name, "@") {
		scopeDir := filepath.Dir(target)
		if entries, err := os.ReadDir(scopeDir); err == nil && len(entries) == 0 {
			_ = os.Remove(scopeDir)
		}
	}
	return nil
}

// Resolved reports the name's current link target, or "" if absent or
// dangling. Spec I3: "dangling links are treated as absent".
func Resolved(nodeModulesDir, name string) string {
	target := TargetPath(nodeModulesDir, name)
	dest, err := os.Readlink(target)
	if err != nil {
		return ""
	}
	if _, err := os.Stat(dest); err != nil {
		return ""
	}
	return dest
}

// InstalledVersion inspects nodeModulesDir/<name>/package.json and
// returns its "version" field, used by install_all to skip dependencies
// already satisfied under node_modules (spec §4.8 step 2).
func InstalledVersion(nodeModulesDir, name string) (string, bool) {
	dest := Resolved(nodeModulesDir, name)
	if dest == "" {
		return "", false
	}
	raw, err := os.ReadFile(filepath.Join(dest, "package.json"))
	if err != nil {
		return "", false
	}
	version := extractJSONStringField(raw, "version")
	if version == "" {
		return "", false
	}
	return version, true
}

// extractJSONStringField is a tiny, allocation-light scan for one string
// field: it takes the first occurrence of the quoted key anywhere in the
// document, not only at top level. The linker never needs the rest of
// package.json here, so a full decode would be wasted work.
func extractJSONStringField(raw []byte, field string) string {
	needle := []byte(`"` + field + `"`)
	idx := indexOf(raw, needle)
	if idx < 0 {
		return ""
	}
	rest := raw[idx+len(needle):]
	colon := indexOf(rest, []byte{':'})
	if colon < 0 {
		return ""
	}
	rest = rest[colon+1:]
	start := -1
	for i, b := range rest {
		if b == '"' {
			start = i
			break
		}
		if b != ' ' && b != '\t' && b != '\n' {
			return ""
		}
	}
	if start < 0 {
		return ""
	}
	rest = rest[start+1:]
	end := indexOf(rest, []byte{'"'})
	if end < 0 {
		return ""
	}
	return string(rest[:end])
}

func indexOf(haystack, needle []byte) int {
	return strings.Index(string(haystack), string(needle))
}
