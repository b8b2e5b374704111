package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/alecthomas/kong"

	"github.com/pacmjs/pacm/cacheindex"
	"github.com/pacmjs/pacm/downloader"
	"github.com/pacmjs/pacm/graphresolver"
	"github.com/pacmjs/pacm/hostconfig"
	"github.com/pacmjs/pacm/installer"
	"github.com/pacmjs/pacm/manifest"
	"github.com/pacmjs/pacm/metrics"
	"github.com/pacmjs/pacm/pacmspec"
	"github.com/pacmjs/pacm/registry"
	"github.com/pacmjs/pacm/store"
)

type CLI struct {
	Globals
	Version VersionCmd `cmd:"" help:"Show version information"`
	Install InstallCmd `cmd:"" help:"Install dependencies"`
	Remove  RemoveCmd  `cmd:"" help:"Remove one or more dependencies"`
	Update  UpdateCmd  `cmd:"" help:"Re-resolve dependencies to their latest compatible versions"`
	Clean   CleanCmd   `cmd:"" help:"Remove the global store and/or the project's node_modules"`
	List    ListCmd    `cmd:"" aliases:"ls" help:"List the project's installed direct dependencies"`
}

var Version = "dev"

// VersionCmd prints the build version, matching the teacher's
// cmd/depot VersionCmd.
type VersionCmd struct{}

func (cmd *VersionCmd) Run(g *Globals) error {
	fmt.Println(Version)
	return nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("pacm"),
		kong.Description("A content-addressed, npm-compatible package manager core."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli.Globals))
}

// setup wires the core primitives for one invocation, following the
// teacher's subcommand Run methods constructing their own logger and
// collaborators inline rather than through a shared container. The
// returned cleanup func must be called (typically deferred) by the
// caller once the invocation is done; it is a no-op unless an optional
// collaborator (currently the cache-index persister) opened a
// resource that needs closing.
func setup(g *Globals) (inst *installer.Installer, projectDir string, cleanup func(), err error) {
	cleanup = func() {}

	opts := &slog.HandlerOptions{}
	if g.Verbose {
		opts.Level = slog.LevelDebug
	}
	log := slog.New(slog.NewJSONHandler(os.Stderr, opts))

	projectDir, err = os.Getwd()
	if err != nil {
		return nil, "", cleanup, err
	}

	ctx := context.Background()

	tuning := hostconfig.Derive()
	var registryOpts []registry.Option
	if g.RegistryURL != "" {
		registryOpts = append(registryOpts, registry.WithBaseURL(g.RegistryURL))
	}
	client := registry.New(log, tuning, registryOpts...)
	resolver := graphresolver.New(client, tuning)

	storeRoot, err := store.DefaultRoot()
	if err != nil {
		return nil, "", cleanup, err
	}

	var m metrics.Metrics
	if mm, merr := metrics.New(); merr == nil {
		m = mm
		if g.MetricsListenAddr != "" {
			go func() {
				if err := metrics.ListenAndServe(g.MetricsListenAddr); err != nil {
					log.Error("metrics server exited", slog.String("addr", g.MetricsListenAddr), slog.Any("error", err))
				}
			}()
		}
	} else {
		log.Debug("metrics disabled", slog.Any("error", merr))
	}

	var mirror store.Mirror
	if g.S3Bucket != "" {
		s3Mirror, merr := store.NewS3Mirror(ctx, store.S3MirrorConfig{
			Bucket:   g.S3Bucket,
			Prefix:   g.S3Prefix,
			Region:   g.S3Region,
			Endpoint: g.S3Endpoint,
		})
		if merr != nil {
			return nil, "", cleanup, fmt.Errorf("configuring S3 mirror: %w", merr)
		}
		mirror = s3Mirror
	}
	st := store.New(log, storeRoot, mirror, m)

	var persist cacheindex.Persister
	if g.CacheIndexDSN != "" {
		p, closeDB, perr := cacheindex.OpenPersister(ctx, g.CacheIndexDSN)
		if perr != nil {
			return nil, "", cleanup, fmt.Errorf("opening cache index DSN %q: %w", g.CacheIndexDSN, perr)
		}
		persist = p
		cleanup = func() {
			if err := closeDB(); err != nil {
				log.Debug("cache index DSN close failed", slog.Any("error", err))
			}
		}
	}
	index := cacheindex.New(log, storeRoot, persist)
	dl := downloader.New(log, st, index, tuning, m)

	return installer.New(log, client, resolver, dl, st, index, m), projectDir, cleanup, nil
}

// InstallCmd is spec §4.8 install_all/install_one/install_many behind
// one CLI surface: no arguments reinstalls from the manifest/lockfile,
// one or more "name[@range]" arguments installs exactly those.
type InstallCmd struct {
	Packages     []string `arg:"" optional:"" help:"Package specs to install (name, name@range, @scope/name@range)"`
	SaveDev      bool     `name:"save-dev" short:"D" help:"Save to devDependencies"`
	SaveOptional bool     `name:"save-optional" short:"O" help:"Save to optionalDependencies"`
	SaveExact    bool     `name:"save-exact" short:"E" help:"Pin the exact resolved version instead of a caret range"`
	NoSave       bool     `name:"no-save" help:"Do not modify package.json"`
	Force        bool     `help:"Reinstall even if the package already appears in the manifest"`
}

func (cmd *InstallCmd) Run(g *Globals) error {
	inst, projectDir, cleanup, err := setup(g)
	if err != nil {
		return err
	}
	defer cleanup()
	ctx := context.Background()

	if len(cmd.Packages) == 0 {
		summary, err := inst.InstallAll(ctx, projectDir, g.Verbose)
		if err != nil {
			return err
		}
		fmt.Println(summary.Message())
		return nil
	}

	depType := manifest.Dependencies
	switch {
	case cmd.SaveDev:
		depType = manifest.DevDependencies
	case cmd.SaveOptional:
		depType = manifest.OptionalDependencies
	}

	specs := make([]pacmspec.Spec, 0, len(cmd.Packages))
	for _, raw := range cmd.Packages {
		spec, err := pacmspec.Parse(raw)
		if err != nil {
			return err
		}
		specs = append(specs, spec)
	}

	summary, err := inst.InstallMany(ctx, projectDir, specs, depType, cmd.SaveExact, cmd.NoSave, cmd.Force, g.Verbose)
	if err != nil {
		return err
	}
	fmt.Println(summary.Message())
	return nil
}

// RemoveCmd implements spec §4.10 remove.
type RemoveCmd struct {
	Packages []string `arg:"" help:"Package names to remove"`
	DevOnly  bool     `name:"dev-only" help:"Only remove from devDependencies"`
}

func (cmd *RemoveCmd) Run(g *Globals) error {
	inst, projectDir, cleanup, err := setup(g)
	if err != nil {
		return err
	}
	defer cleanup()
	if err := inst.Remove(context.Background(), projectDir, cmd.Packages, cmd.DevOnly); err != nil {
		return err
	}
	fmt.Printf("removed %d package(s)\n", len(cmd.Packages))
	return nil
}

// UpdateCmd implements spec §4.10 update.
type UpdateCmd struct {
	Packages []string `arg:"" optional:"" help:"Restrict the update to these package names"`
}

func (cmd *UpdateCmd) Run(g *Globals) error {
	inst, projectDir, cleanup, err := setup(g)
	if err != nil {
		return err
	}
	defer cleanup()
	summary, err := inst.Update(context.Background(), projectDir, cmd.Packages, g.Verbose)
	if err != nil {
		return err
	}
	fmt.Println(summary.Message())
	return nil
}

// CleanCmd implements spec §4.10 clean: the confirmation gate is this
// CLI's responsibility, per spec's "guarded by confirmation flags
// handled by the external CLI collaborator".
type CleanCmd struct {
	Store       bool `help:"Remove the global content-addressed store"`
	NodeModules bool `name:"node-modules" help:"Remove the project's node_modules directory"`
	Yes         bool `short:"y" help:"Skip the confirmation prompt"`
}

func (cmd *CleanCmd) Run(g *Globals) error {
	cleanStore, cleanNodeModules := cmd.Store, cmd.NodeModules
	if !cleanStore && !cleanNodeModules {
		cleanStore, cleanNodeModules = true, true
	}

	if !cmd.Yes && !confirm(fmt.Sprintf("remove store=%v node_modules=%v? [y/N] ", cleanStore, cleanNodeModules)) {
		fmt.Println("aborted")
		return nil
	}

	inst, projectDir, cleanup, err := setup(g)
	if err != nil {
		return err
	}
	defer cleanup()
	report, err := inst.Clean(context.Background(), projectDir, cleanStore, cleanNodeModules)
	if err != nil {
		return err
	}
	if cleanStore {
		fmt.Printf("removed %d bytes from the store\n", report.StoreBytesRemoved)
	}
	if report.NodeModulesRemoved {
		fmt.Println("removed node_modules")
	}
	return nil
}

func confirm(prompt string) bool {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

// ListCmd implements SPEC_FULL.md §12's supplemented list operation.
type ListCmd struct{}

func (cmd *ListCmd) Run(g *Globals) error {
	inst, projectDir, cleanup, err := setup(g)
	if err != nil {
		return err
	}
	defer cleanup()
	entries, err := inst.List(context.Background(), projectDir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		status := "download"
		if e.CacheLinked {
			status = "cached"
		}
		fmt.Printf("%s@%s\t%s\n", e.Name, e.Version, status)
	}
	return nil
}
