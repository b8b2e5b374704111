// Package installer implements the Installer of spec §4.8
// (install_all/install_one/install_many), §4.10 (remove/update/clean),
// and SPEC_FULL.md §12's supplemented list/plan operations: the
// orchestration layer composing the manifest codec, lockfile codec,
// graph resolver, downloader, store, and linker into the project-level
// operations a CLI entrypoint drives.
package installer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/pacmjs/pacm/cacheindex"
	"github.com/pacmjs/pacm/downloader"
	"github.com/pacmjs/pacm/graphresolver"
	"github.com/pacmjs/pacm/linker"
	"github.com/pacmjs/pacm/manifest"
	"github.com/pacmjs/pacm/metrics"
	"github.com/pacmjs/pacm/pacmerr"
	"github.com/pacmjs/pacm/pacmlock"
	"github.com/pacmjs/pacm/pacmspec"
	"github.com/pacmjs/pacm/registry"
	"github.com/pacmjs/pacm/store"
)

// Summary is the finish-message policy of spec §4.8: a human-readable
// count distinguishing packages linked from cache from packages actually
// downloaded.
type Summary struct {
	LinkedFromCache int
	Downloaded      int
	Warnings        []error
}

// Message renders the finish-message text.
func (s Summary) Message() string {
	return fmt.Sprintf("%d package(s) linked from cache, %d downloaded and installed", s.LinkedFromCache, s.Downloaded)
}

// Installer composes the core primitives into project-level operations.
type Installer struct {
	log        *slog.Logger
	client     *registry.Client
	resolver   *graphresolver.Resolver
	downloader *downloader.Downloader
	store      *store.Store
	index      *cacheindex.Index
	metrics    metrics.Metrics
}

// New constructs an Installer over an already-wired set of primitives.
func New(log *slog.Logger, client *registry.Client, resolver *graphresolver.Resolver, dl *downloader.Downloader, st *store.Store, index *cacheindex.Index, m metrics.Metrics) *Installer {
	return &Installer{log: log, client: client, resolver: resolver, downloader: dl, store: st, index: index, metrics: m}
}

func nodeModulesDir(projectDir string) string {
	return filepath.Join(projectDir, "node_modules")
}

// InstallAll implements spec §4.8 install_all.
func (inst *Installer) InstallAll(ctx context.Context, projectDir string, debug bool) (Summary, error) {
	man, err := manifest.Load(projectDir)
	if err != nil {
		return Summary{}, err
	}
	lock, err := pacmlock.Load(projectDir)
	if err != nil {
		return Summary{}, err
	}

	roots, pinnedVersions := directRoots(man, lock)

	nmDir := nodeModulesDir(projectDir)
	pending := make([]graphresolver.Root, 0, len(roots))
	for _, root := range roots {
		if pinned, ok := pinnedVersions[root.Name]; ok {
			if installed, ok := linker.InstalledVersion(nmDir, root.Name); ok && installed == pinned {
				// Step 2: already satisfied at the pinned version, nothing to do.
				continue
			}
		}
		pending = append(pending, root)
	}
	if len(pending) == 0 {
		return Summary{}, nil
	}

	if err := inst.index.Build(ctx); err != nil {
		return Summary{}, err
	}

	// Step 3: short-circuit when every pinned root is already cached —
	// skip resolution entirely.
	if allPinned(pending, pinnedVersions) {
		keys := make([]string, 0, len(pending))
		for _, root := range pending {
			keys = append(keys, root.Name+"@"+pinnedVersions[root.Name])
		}
		if inst.index.AllPresent(keys) {
			summary := Summary{}
			for _, root := range pending {
				dir, _ := inst.index.Get(root.Name + "@" + pinnedVersions[root.Name])
				if err := linker.Link(nmDir, root.Name, dir); err != nil {
					return Summary{}, err
				}
				inst.metrics.IncrementLinkOperation(ctx, root.Name)
				inst.metrics.IncrementCacheHit(ctx, root.Name)
				summary.LinkedFromCache++
			}
			return summary, nil
		}
	}

	result, err := inst.resolver.Resolve(ctx, pending)
	if err != nil {
		return Summary{}, err
	}
	stored, err := inst.downloader.Fetch(ctx, result.Closure)
	if err != nil {
		return Summary{}, err
	}

	if err := inst.linkClosure(ctx, nmDir, result.Closure, stored); err != nil {
		return Summary{}, err
	}

	summary := Summary{Warnings: result.Warnings}
	var newlyDownloaded []*graphresolver.ResolvedPackage
	for _, pkg := range result.Closure {
		s := stored[pkg.Key()]
		if s.FreshlyFetched {
			summary.Downloaded++
			newlyDownloaded = append(newlyDownloaded, pkg)
		} else {
			summary.LinkedFromCache++
		}
	}

	for _, root := range pending {
		version, ok := result.RootVersions[root.Name]
		if !ok {
			continue
		}
		s, ok := stored[root.Name+"@"+version]
		if !ok {
			continue
		}
		if err := linker.Link(nmDir, root.Name, s.PackageDir); err != nil {
			return Summary{}, err
		}
		inst.metrics.IncrementLinkOperation(ctx, root.Name)
	}

	if err := updateLockfileFromRoots(projectDir, lock, pending, result); err != nil {
		return Summary{}, err
	}

	inst.runPostInstallHooks(ctx, newlyDownloaded, stored, debug)
	return summary, nil
}

// InstallOne implements spec §4.8 install_one.
func (inst *Installer) InstallOne(ctx context.Context, projectDir, name, rangeExpr string, depType manifest.DependencyType, saveExact, noSave, force, debug bool) (Summary, error) {
	man, err := manifest.Load(projectDir)
	if err != nil {
		return Summary{}, err
	}

	if existingType, _, ok := man.Find(name); ok && !force {
		if existingType == depType || noSave {
			return Summary{}, nil // idempotent: already installed, nothing to do
		}
		// dep_type mismatch: move the entry by falling through to a full
		// re-resolve so the manifest is rewritten under the new group.
	}

	nmDir := nodeModulesDir(projectDir)
	if err := inst.index.Build(ctx); err != nil {
		return Summary{}, err
	}

	doc, err := inst.client.FetchDocument(ctx, name)
	if err != nil {
		return Summary{}, err
	}
	version, err := resolveExactVersion(name, rangeExpr, doc)
	if err != nil {
		return Summary{}, err
	}

	key := name + "@" + version
	summary := Summary{}
	var packageDir string
	if dir, ok := inst.index.Get(key); ok {
		packageDir = dir
		summary.LinkedFromCache = 1
		inst.metrics.IncrementCacheHit(ctx, name)
	} else {
		result, err := inst.resolver.Resolve(ctx, []graphresolver.Root{{Name: name, Range: rangeExpr}})
		if err != nil {
			return Summary{}, err
		}
		stored, err := inst.downloader.Fetch(ctx, result.Closure)
		if err != nil {
			return Summary{}, err
		}
		if err := inst.linkClosure(ctx, nmDir, result.Closure, stored); err != nil {
			return Summary{}, err
		}
		s, ok := stored[key]
		if !ok {
			return Summary{}, &pacmerr.VersionResolutionFailed{Name: name, Reason: fmt.Sprintf("resolved closure missing %s", key)}
		}
		packageDir = s.PackageDir
		if s.FreshlyFetched {
			summary.Downloaded = 1
			inst.runPostInstallHooks(ctx, []*graphresolver.ResolvedPackage{s.Package}, stored, debug)
		} else {
			summary.LinkedFromCache = 1
		}
	}

	if err := linker.Link(nmDir, name, packageDir); err != nil {
		return Summary{}, err
	}
	inst.metrics.IncrementLinkOperation(ctx, name)

	if !noSave {
		written := manifest.FormatDependencyRange(version, rangeExpr, saveExact)
		man.Group(depType).Set(name, written)
		if err := man.Save(projectDir); err != nil {
			return Summary{}, err
		}
	}

	lock, err := pacmlock.Load(projectDir)
	if err != nil {
		return Summary{}, err
	}
	dist := doc.Versions[version].Dist
	lock.Update(name, pacmlock.Entry{Version: version, Resolved: dist.Tarball, Integrity: dist.Integrity})
	if err := lock.Save(projectDir); err != nil {
		return Summary{}, err
	}

	return summary, nil
}

// InstallMany implements spec §4.8 install_many by calling InstallOne for
// each spec in turn and summing the summaries. Registry fetches and
// downloads are not batched across specs, and it stops at the first
// spec that fails.
func (inst *Installer) InstallMany(ctx context.Context, projectDir string, specs []pacmspec.Spec, depType manifest.DependencyType, saveExact, noSave, force, debug bool) (Summary, error) {
	total := Summary{}
	for _, spec := range specs {
		s, err := inst.InstallOne(ctx, projectDir, spec.Name, spec.Range, depType, saveExact, noSave, force, debug)
		if err != nil {
			return total, fmt.Errorf("installing %s: %w", spec.String(), err)
		}
		total.LinkedFromCache += s.LinkedFromCache
		total.Downloaded += s.Downloaded
		total.Warnings = append(total.Warnings, s.Warnings...)
	}
	return total, nil
}

// linkClosure links every closure entry's own resolved dependencies into
// its package/node_modules directory (flat, non-hoisted per the
// original's linker model), independent of which entries are direct
// roots; direct-root linking into the project's node_modules happens
// separately once the caller knows the resolved root versions.
func (inst *Installer) linkClosure(ctx context.Context, nmDir string, closure []*graphresolver.ResolvedPackage, stored map[string]downloader.Stored) error {
	for _, pkg := range closure {
		s, ok := stored[pkg.Key()]
		if !ok {
			continue
		}
		depsDir := filepath.Join(s.PackageDir, "node_modules")
		for depName, depKey := range pkg.ResolvedDeps {
			depStored, ok := stored[depKey]
			if !ok {
				continue
			}
			if linker.Resolved(depsDir, depName) == depStored.PackageDir {
				continue
			}
			if err := linker.Link(depsDir, depName, depStored.PackageDir); err != nil {
				return err
			}
			inst.metrics.IncrementLinkOperation(ctx, depName)
		}
	}
	return nil
}

// runPostInstallHooks executes scripts.postinstall for every freshly
// downloaded package (spec §4.8): a shell spawned with cwd at the
// extracted package directory, failure surfaced as a warning only.
func (inst *Installer) runPostInstallHooks(ctx context.Context, freshlyDownloaded []*graphresolver.ResolvedPackage, stored map[string]downloader.Stored, debug bool) {
	for _, pkg := range freshlyDownloaded {
		s, ok := stored[pkg.Key()]
		if !ok {
			continue
		}
		script, ok := readPostInstallScript(s.PackageDir)
		if !ok {
			continue
		}
		if err := runShell(ctx, script, s.PackageDir); err != nil {
			inst.log.Warn("postinstall hook failed", slog.String("package", pkg.Name), slog.String("version", pkg.Version), slog.Any("error", err))
		} else if debug {
			inst.log.Debug("postinstall hook ran", slog.String("package", pkg.Name), slog.String("version", pkg.Version))
		}
	}
}

func readPostInstallScript(packageDir string) (string, bool) {
	raw, err := os.ReadFile(filepath.Join(packageDir, "package.json"))
	if err != nil {
		return "", false
	}
	m, err := manifest.Parse(raw)
	if err != nil || m.Scripts == nil {
		return "", false
	}
	script, ok := m.Scripts.Get("postinstall")
	if !ok || script == "" {
		return "", false
	}
	return script, true
}

// runShell executes script via POSIX sh -c on non-Windows hosts and
// cmd /C on Windows (spec §4.8).
func runShell(ctx context.Context, script, cwd string) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "cmd", "/C", script)
	} else {
		cmd = exec.CommandContext(ctx, "sh", "-c", script)
	}
	cmd.Dir = cwd
	return cmd.Run()
}
