// Package graphresolver implements the Graph Resolver of spec §4.5:
// expanding a set of root (name, range) requirements into the
// deduplicated transitive closure of resolved packages, with cycle
// detection via a seen set, per-(name, range) memoization, and bounded
// concurrent recursion over an errgroup-backed worker pool.
package graphresolver

import (
	"context"
	"fmt"
	"sync"

	"github.com/Masterminds/semver/v3"
	"golang.org/x/sync/errgroup"

	"github.com/pacmjs/pacm/hostconfig"
	"github.com/pacmjs/pacm/registry"
	"github.com/pacmjs/pacm/semverrange"
)

// ResolvedPackage is spec §3's "Resolved package": the unit the graph
// resolver produces.
type ResolvedPackage struct {
	Name             string
	Version          string
	TarballURL       string
	Integrity        string
	Deps             map[string]string // regular + optional, literal registry ranges
	ResolvedDeps     map[string]string // depName -> exact "name@version" chosen for Deps[depName]
	PeerDeps         map[string]string // recorded, never fetched (spec §4.5)
	OptionalDepNames map[string]bool   // subset of Deps that are optional
}

// Key returns the "name@version" fingerprint (spec GLOSSARY).
func (p *ResolvedPackage) Key() string { return p.Name + "@" + p.Version }

// Root is one direct requirement to expand.
type Root struct {
	Name  string
	Range string
}

// RootError pairs a root with the error resolving it produced, so that
// "partial success of other roots is preserved for reporting" (spec
// §4.5 Failure) even when one root fails outright.
type RootError struct {
	Root Root
	Err  error
}

// Result is the outcome of one Resolve call.
type Result struct {
	Closure  []*ResolvedPackage
	Warnings []error // optional-dependency resolution failures (spec §4.5 tie-breaks)
	Failed   []RootError
	// RootVersions maps each successfully resolved root's Name to the
	// exact version chosen, letting callers (the installer) find which
	// Closure entry a given root corresponds to without re-deriving the
	// range-to-version choice themselves.
	RootVersions map[string]string
}

// Resolver expands roots into a transitive closure against a registry
// client.
type Resolver struct {
	client *registry.Client
	tuning hostconfig.Tuning
}

// New constructs a Resolver.
func New(client *registry.Client, tuning hostconfig.Tuning) *Resolver {
	return &Resolver{client: client, tuning: tuning}
}

// state carries the per-invocation seen set, in-flight "visiting" guard,
// and memoization cache shared across concurrent recursions (spec §9's
// "sum type with variants {Visiting, Resolved(pkg)} per name-version").
type state struct {
	mu       sync.Mutex
	done     map[string]*ResolvedPackage // name@version -> resolved, recursion complete
	visiting map[string]bool             // name@version -> currently being recursed into
	memo     map[string]string           // name@range -> resolved exact version
	warnings []error
	sem      chan struct{}
}

// Resolve expands roots into the transitive closure. Each root is
// resolved concurrently in its own goroutine; the roots themselves are
// not bounded, only the dependency recursions beneath them are (by the
// host-derived ParallelResolutions). A non-optional root failure is
// recorded in Result.Failed without aborting the other roots.
func (r *Resolver) Resolve(ctx context.Context, roots []Root) (Result, error) {
	st := &state{
		done:     make(map[string]*ResolvedPackage),
		visiting: make(map[string]bool),
		memo:     make(map[string]string),
		sem:      make(chan struct{}, max(r.tuning.ParallelResolutions, 1)),
	}

	var mu sync.Mutex
	var failed []RootError

	var wg sync.WaitGroup
	for _, root := range roots {
		root := root
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.resolveOne(ctx, st, root.Name, root.Range, false); err != nil {
				mu.Lock()
				failed = append(failed, RootError{Root: root, Err: err})
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	closure := make([]*ResolvedPackage, 0, len(st.done))
	for _, pkg := range st.done {
		closure = append(closure, pkg)
	}

	failedRoots := make(map[string]bool, len(failed))
	for _, f := range failed {
		failedRoots[f.Root.Name] = true
	}
	rootVersions := make(map[string]string, len(roots))
	for _, root := range roots {
		if failedRoots[root.Name] {
			continue
		}
		if version, ok := st.memo[root.Name+"@"+root.Range]; ok {
			rootVersions[root.Name] = version
		}
	}

	var err error
	if len(failed) > 0 {
		err = fmt.Errorf("%d of %d roots failed to resolve: %w", len(failed), len(roots), failed[0].Err)
	}
	return Result{Closure: closure, Warnings: st.warnings, Failed: failed, RootVersions: rootVersions}, err
}

// resolveOne resolves (name, rangeExpr) to an exact version and, unless
// that version is already done or in-flight elsewhere in the recursion
// stack (a cycle), recurses into its dependencies. optional controls
// whether a failure here is fatal (regular/root) or a warning
// (optionalDependencies, spec §4.5).
func (r *Resolver) resolveOne(ctx context.Context, st *state, name, rangeExpr string, optional bool) error {
	memoKey := name + "@" + rangeExpr

	st.mu.Lock()
	if version, ok := st.memo[memoKey]; ok {
		key := name + "@" + version
		alreadyHandled := st.done[key] != nil || st.visiting[key]
		st.mu.Unlock()
		if alreadyHandled {
			return nil
		}
	} else {
		st.mu.Unlock()
	}

	doc, err := r.client.FetchDocument(ctx, name)
	if err != nil {
		return r.fail(st, optional, err)
	}

	candidates := make([]*semver.Version, 0, len(doc.Versions))
	for vs := range doc.Versions {
		if sv, err := semver.NewVersion(vs); err == nil {
			candidates = append(candidates, sv)
		}
	}
	resolved, err := semverrange.Resolve(name, rangeExpr, candidates, doc.DistTags)
	if err != nil {
		return r.fail(st, optional, err)
	}
	version := resolved.Original()
	if version == "" {
		version = resolved.String()
	}
	if _, ok := doc.Versions[version]; !ok {
		// semver normalizes "v1.2.3" -> "1.2.3"; fall back to the
		// stringified form if the literal registry key differs.
		version = resolved.String()
	}

	key := name + "@" + version

	st.mu.Lock()
	st.memo[memoKey] = version
	if st.done[key] != nil || st.visiting[key] {
		st.mu.Unlock()
		return nil
	}
	st.visiting[key] = true
	st.mu.Unlock()

	meta := doc.Versions[version]
	pkg := &ResolvedPackage{
		Name:             name,
		Version:          version,
		TarballURL:       meta.Dist.Tarball,
		Integrity:        meta.Dist.Integrity,
		Deps:             make(map[string]string, len(meta.Dependencies)+len(meta.OptionalDependencies)),
		PeerDeps:         meta.PeerDependencies,
		OptionalDepNames: make(map[string]bool, len(meta.OptionalDependencies)),
	}
	for depName, depRange := range meta.Dependencies {
		if depRange == "" {
			depRange = "*"
		}
		pkg.Deps[depName] = depRange
	}
	for depName, depRange := range meta.OptionalDependencies {
		if depRange == "" {
			depRange = "*"
		}
		pkg.Deps[depName] = depRange
		pkg.OptionalDepNames[depName] = true
	}

	if err := r.recurseDeps(ctx, st, pkg); err != nil {
		st.mu.Lock()
		delete(st.visiting, key)
		st.mu.Unlock()
		return r.fail(st, optional, err)
	}

	st.mu.Lock()
	pkg.ResolvedDeps = make(map[string]string, len(pkg.Deps))
	for depName, depRange := range pkg.Deps {
		if depVersion, ok := st.memo[depName+"@"+depRange]; ok {
			pkg.ResolvedDeps[depName] = depName + "@" + depVersion
		}
	}
	delete(st.visiting, key)
	st.done[key] = pkg
	st.mu.Unlock()
	return nil
}

func (r *Resolver) recurseDeps(ctx context.Context, st *state, pkg *ResolvedPackage) error {
	g, gctx := errgroup.WithContext(ctx)
	for depName, depRange := range pkg.Deps {
		depName, depRange := depName, depRange
		optional := pkg.OptionalDepNames[depName]
		g.Go(func() error {
			select {
			case st.sem <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			defer func() { <-st.sem }()
			return r.resolveOne(gctx, st, depName, depRange, optional)
		})
	}
	return g.Wait()
}

// fail turns a dependency-resolution error into either a recorded
// warning (optionalDependencies degrade rather than abort, spec §4.5)
// or a propagated error.
func (r *Resolver) fail(st *state, optional bool, err error) error {
	if optional {
		st.mu.Lock()
		st.warnings = append(st.warnings, err)
		st.mu.Unlock()
		return nil
	}
	return err
}
