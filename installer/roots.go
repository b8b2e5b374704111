package installer

import (
	"github.com/Masterminds/semver/v3"

	"github.com/pacmjs/pacm/graphresolver"
	"github.com/pacmjs/pacm/manifest"
	"github.com/pacmjs/pacm/pacmlock"
	"github.com/pacmjs/pacm/registry"
	"github.com/pacmjs/pacm/semverrange"
)

// directRoots implements spec §4.8 install_all step 1: source direct
// dependencies and their pinned versions from the lockfile if one
// exists, otherwise fall back to the manifest's dependencies ∪
// devDependencies groups.
func directRoots(man *manifest.Manifest, lock *pacmlock.Lockfile) (roots []graphresolver.Root, pinned map[string]string) {
	pinned = make(map[string]string)
	if !lock.Empty() {
		for name, entry := range lock.Dependencies {
			roots = append(roots, graphresolver.Root{Name: name, Range: entry.Version})
			pinned[name] = entry.Version
		}
		return roots, pinned
	}

	seen := make(map[string]bool)
	for _, g := range []*manifest.OrderedMap{man.Dependencies, man.DevDependencies} {
		if g == nil {
			continue
		}
		for _, name := range g.Keys() {
			if seen[name] {
				continue
			}
			seen[name] = true
			rangeExpr, _ := g.Get(name)
			roots = append(roots, graphresolver.Root{Name: name, Range: rangeExpr})
		}
	}
	return roots, pinned
}

// allPinned reports whether every root in roots has a known pinned
// version, the precondition for install_all's cache short-circuit.
func allPinned(roots []graphresolver.Root, pinned map[string]string) bool {
	if len(pinned) == 0 {
		return false
	}
	for _, root := range roots {
		if _, ok := pinned[root.Name]; !ok {
			return false
		}
	}
	return true
}

// resolveExactVersion resolves name's range against an already-fetched
// document, used by install_one's fast path where a full graph-resolver
// invocation would be overkill for a single package.
func resolveExactVersion(name, rangeExpr string, doc *registry.Document) (string, error) {
	candidates := make([]*semver.Version, 0, len(doc.Versions))
	for v := range doc.Versions {
		if sv, err := semver.NewVersion(v); err == nil {
			candidates = append(candidates, sv)
		}
	}
	resolved, err := semverrange.Resolve(name, rangeExpr, candidates, doc.DistTags)
	if err != nil {
		return "", err
	}
	version := resolved.Original()
	if version == "" {
		version = resolved.String()
	}
	if _, ok := doc.Versions[version]; !ok {
		version = resolved.String()
	}
	return version, nil
}

// updateLockfileFromRoots records each resolved direct root's pinned
// identity in the lockfile (spec §4.9 update), then saves it.
func updateLockfileFromRoots(projectDir string, lock *pacmlock.Lockfile, roots []graphresolver.Root, result graphresolver.Result) error {
	byKey := make(map[string]*graphresolver.ResolvedPackage, len(result.Closure))
	for _, pkg := range result.Closure {
		byKey[pkg.Key()] = pkg
	}
	for _, root := range roots {
		version, ok := result.RootVersions[root.Name]
		if !ok {
			continue
		}
		pkg, ok := byKey[root.Name+"@"+version]
		if !ok {
			continue
		}
		lock.Update(root.Name, pacmlock.Entry{Version: pkg.Version, Resolved: pkg.TarballURL, Integrity: pkg.Integrity})
	}
	return lock.Save(projectDir)
}
