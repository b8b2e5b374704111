package installer

import (
	"context"
	"os"
	"sort"
	"strings"

	"github.com/pacmjs/pacm/linker"
	"github.com/pacmjs/pacm/manifest"
	"github.com/pacmjs/pacm/pacmerr"
	"github.com/pacmjs/pacm/pacmlock"
)

// Remove implements spec §4.10 remove.
func (inst *Installer) Remove(ctx context.Context, projectDir string, names []string, devOnly bool) error {
	man, err := manifest.Load(projectDir)
	if err != nil {
		return err
	}
	lock, err := pacmlock.Load(projectDir)
	if err != nil {
		return err
	}
	nmDir := nodeModulesDir(projectDir)

	for _, name := range names {
		if err := linker.Unlink(nmDir, name); err != nil {
			return err
		}
		if devOnly {
			if man.DevDependencies != nil {
				man.DevDependencies.Delete(name)
				man.PruneEmptyGroup(manifest.DevDependencies)
			}
		} else {
			man.RemoveDependency(name)
		}
		lock.Remove(name)
	}

	if err := man.Save(projectDir); err != nil {
		return err
	}
	if lock.Empty() {
		if err := pacmlock.Delete(projectDir); err != nil {
			return err
		}
	} else if err := lock.Save(projectDir); err != nil {
		return err
	}

	removeNodeModulesIfEmpty(nmDir)
	return nil
}

// Update implements spec §4.10 update: re-resolve to the latest
// compatible version and reinstall. An empty names selects every entry
// of dependencies, devDependencies and optionalDependencies
// (peerDependencies are not updated); a non-empty names restricts the
// scope.
func (inst *Installer) Update(ctx context.Context, projectDir string, names []string, debug bool) (Summary, error) {
	man, err := manifest.Load(projectDir)
	if err != nil {
		return Summary{}, err
	}

	targets := names
	if len(targets) == 0 {
		seen := make(map[string]bool)
		for _, g := range []*manifest.OrderedMap{man.Dependencies, man.DevDependencies, man.OptionalDependencies} {
			if g == nil {
				continue
			}
			for _, name := range g.Keys() {
				if !seen[name] {
					seen[name] = true
					targets = append(targets, name)
				}
			}
		}
	}

	total := Summary{}
	for _, name := range targets {
		depType, _, ok := man.Find(name)
		if !ok {
			depType = manifest.Dependencies
		}
		s, err := inst.InstallOne(ctx, projectDir, name, "latest", depType, false, false, true, debug)
		if err != nil {
			return total, err
		}
		total.LinkedFromCache += s.LinkedFromCache
		total.Downloaded += s.Downloaded
		total.Warnings = append(total.Warnings, s.Warnings...)
	}
	return total, nil
}

// CleanReport summarizes what spec §4.10 clean removed.
type CleanReport struct {
	StoreBytesRemoved  int64
	NodeModulesRemoved bool
}

// Clean implements spec §4.10 clean: removing the store, the project's
// node_modules, or both. Confirmation is the external CLI collaborator's
// responsibility (spec §4.10); by the time Clean is called the caller
// has already decided.
func (inst *Installer) Clean(ctx context.Context, projectDir string, cleanStore, cleanNodeModules bool) (CleanReport, error) {
	var report CleanReport
	if cleanStore {
		size, err := inst.store.Size(ctx)
		if err != nil {
			return report, err
		}
		report.StoreBytesRemoved = size
		if err := inst.store.RemoveAll(); err != nil {
			return report, err
		}
		inst.index.Invalidate()
	}
	if cleanNodeModules {
		if err := os.RemoveAll(nodeModulesDir(projectDir)); err != nil {
			return report, &pacmerr.IoError{Msg: err.Error()}
		}
		report.NodeModulesRemoved = true
	}
	return report, nil
}

// ListEntry is one row of the supplemented list operation (SPEC_FULL.md
// §12): a direct dependency's pinned identity and whether it currently
// resolves to a store entry without any registry traffic.
type ListEntry struct {
	Name        string
	Version     string
	CacheLinked bool
}

// List reports the resolved top-level dependency tree from the
// lockfile and cache index, performing no registry traffic.
func (inst *Installer) List(ctx context.Context, projectDir string) ([]ListEntry, error) {
	lock, err := pacmlock.Load(projectDir)
	if err != nil {
		return nil, err
	}
	if err := inst.index.Build(ctx); err != nil {
		return nil, err
	}

	entries := make([]ListEntry, 0, len(lock.Dependencies))
	for name, e := range lock.Dependencies {
		entries = append(entries, ListEntry{Name: name, Version: e.Version, CacheLinked: inst.index.Contains(name + "@" + e.Version)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// PlanReport is the supplemented dry-run preview (SPEC_FULL.md §12):
// which packages an install_all would link straight from cache versus
// download, without performing either.
type PlanReport struct {
	ToLink     []string
	ToDownload []string
}

// Plan reuses install_all's resolve/cache-split stages without their
// side effects.
func (inst *Installer) Plan(ctx context.Context, projectDir string) (PlanReport, error) {
	man, err := manifest.Load(projectDir)
	if err != nil {
		return PlanReport{}, err
	}
	lock, err := pacmlock.Load(projectDir)
	if err != nil {
		return PlanReport{}, err
	}
	roots, pinned := directRoots(man, lock)

	if err := inst.index.Build(ctx); err != nil {
		return PlanReport{}, err
	}

	var report PlanReport
	if allPinned(roots, pinned) {
		for _, root := range roots {
			key := root.Name + "@" + pinned[root.Name]
			if inst.index.Contains(key) {
				report.ToLink = append(report.ToLink, key)
			} else {
				report.ToDownload = append(report.ToDownload, key)
			}
		}
		return report, nil
	}

	result, err := inst.resolver.Resolve(ctx, roots)
	if err != nil {
		return report, err
	}
	for _, pkg := range result.Closure {
		if inst.index.Contains(pkg.Key()) {
			report.ToLink = append(report.ToLink, pkg.Key())
		} else {
			report.ToDownload = append(report.ToDownload, pkg.Key())
		}
	}
	return report, nil
}

// removeNodeModulesIfEmpty deletes nmDir if it contains no non-hidden
// children (spec §4.10 remove's cleanup step).
func removeNodeModulesIfEmpty(nmDir string) {
	entries, err := os.ReadDir(nmDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), ".") {
			return
		}
	}
	_ = os.RemoveAll(nmDir)
}
