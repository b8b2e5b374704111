// Package pacmlock implements the Lockfile Codec of spec §4.9: the
// project's pacm.lock snapshot of direct dependencies (spec §3's "Open
// question" on direct-vs-transitive scope is resolved in DESIGN.md under
// Q4 — this codec records direct dependencies only).
package pacmlock

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/pacmjs/pacm/pacmerr"
)

const fileName = "pacm.lock"

// Entry is one dependency's pinned identity, matching spec §6's schema.
type Entry struct {
	Version   string `json:"version"`
	Resolved  string `json:"resolved"`
	Integrity string `json:"integrity"`
}

// Lockfile is the parsed pacm.lock document.
type Lockfile struct {
	Dependencies map[string]Entry `json:"dependencies"`
}

// Path returns the pacm.lock path under projectDir.
func Path(projectDir string) string {
	return filepath.Join(projectDir, fileName)
}

// Load returns the parsed lockfile, or an empty one if the file is
// absent (spec §4.9).
func Load(projectDir string) (*Lockfile, error) {
	raw, err := os.ReadFile(Path(projectDir))
	if err != nil {
		if os.IsNotExist(err) {
			return &Lockfile{Dependencies: make(map[string]Entry)}, nil
		}
		return nil, &pacmerr.LockfileError{Msg: err.Error()}
	}
	var lf Lockfile
	if err := json.Unmarshal(raw, &lf); err != nil {
		return nil, &pacmerr.LockfileError{Msg: err.Error()}
	}
	if lf.Dependencies == nil {
		lf.Dependencies = make(map[string]Entry)
	}
	return &lf, nil
}

// Update upserts name's entry.
func (lf *Lockfile) Update(name string, e Entry) {
	if lf.Dependencies == nil {
		lf.Dependencies = make(map[string]Entry)
	}
	lf.Dependencies[name] = e
}

// Remove deletes name's entry, reporting whether it was present.
func (lf *Lockfile) Remove(name string) bool {
	if _, ok := lf.Dependencies[name]; !ok {
		return false
	}
	delete(lf.Dependencies, name)
	return true
}

// Get returns name's pinned entry.
func (lf *Lockfile) Get(name string) (Entry, bool) {
	e, ok := lf.Dependencies[name]
	return e, ok
}

// Empty reports whether the lockfile has no dependencies, the condition
// under which §4.10's remove deletes pacm.lock entirely.
func (lf *Lockfile) Empty() bool {
	return len(lf.Dependencies) == 0
}

// Save writes the lockfile as pretty-printed JSON with deterministic
// (sorted) key order, per spec §4.9.
func (lf *Lockfile) Save(projectDir string) error {
	ordered := make(map[string]Entry, len(lf.Dependencies))
	names := make([]string, 0, len(lf.Dependencies))
	for name, e := range lf.Dependencies {
		names = append(names, name)
		ordered[name] = e
	}
	sort.Strings(names)

	var buf []byte
	buf = append(buf, "{\n  \"dependencies\": {"...)
	for i, name := range names {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, "\n    "...)
		nb, _ := json.Marshal(name)
		buf = append(buf, nb...)
		buf = append(buf, ": "...)
		eb, err := json.MarshalIndent(ordered[name], "    ", "  ")
		if err != nil {
			return &pacmerr.LockfileError{Msg: err.Error()}
		}
		buf = append(buf, eb...)
	}
	if len(names) > 0 {
		buf = append(buf, "\n  "...)
	}
	buf = append(buf, "}\n}\n"...)

	if err := os.WriteFile(Path(projectDir), buf, 0o644); err != nil {
		return &pacmerr.LockfileError{Msg: err.Error()}
	}
	return nil
}

// Delete removes pacm.lock from projectDir if present.
func Delete(projectDir string) error {
	err := os.Remove(Path(projectDir))
	if err != nil && !os.IsNotExist(err) {
		return &pacmerr.LockfileError{Msg: err.Error()}
	}
	return nil
}
