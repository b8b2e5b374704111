// Package pacmerr defines the error taxonomy produced by the installer core.
//
// Each kind is a distinct type so callers can discriminate with errors.As
// instead of parsing messages, matching the struct-per-kind shape used by
// the dependency resolver's ConflictError/CycleError pair.
package pacmerr

import (
	"errors"
	"fmt"
)

// ErrNotFound is a field-less not-found sentinel for errors.Is checks.
// No function in this module returns it: the cache index reports an
// absent key with a boolean instead.
var ErrNotFound = errors.New("pacm: not found")

// PackageNotFound is returned when the registry reports 404. A 404 is not
// a transient failure, so it is returned on the first attempt without
// retrying.
type PackageNotFound struct {
	Name string
}

func (e *PackageNotFound) Error() string {
	return fmt.Sprintf("package not found: %s", e.Name)
}

// VersionResolutionFailed is returned when no candidate version satisfies
// a range, or when resolution of a graph root otherwise fails.
type VersionResolutionFailed struct {
	Name   string
	Reason string
}

func (e *VersionResolutionFailed) Error() string {
	return fmt.Sprintf("could not resolve %s: %s", e.Name, e.Reason)
}

// DownloadFailed is returned when a tarball fetch fails. The downloader
// makes a single attempt per package; it does not retry.
type DownloadFailed struct {
	Name    string
	Version string
	Reason  string
}

func (e *DownloadFailed) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("failed to download %s@%s", e.Name, e.Version)
	}
	return fmt.Sprintf("failed to download %s@%s: %s", e.Name, e.Version, e.Reason)
}

// StorageFailed is returned when tarball extraction or a store write fails.
type StorageFailed struct {
	Name   string
	Reason string
}

func (e *StorageFailed) Error() string {
	return fmt.Sprintf("store failed for %s: %s", e.Name, e.Reason)
}

// LinkingFailed is returned when creating or removing a node_modules
// symlink fails.
type LinkingFailed struct {
	Name   string
	Reason string
}

func (e *LinkingFailed) Error() string {
	return fmt.Sprintf("linking failed for %s: %s", e.Name, e.Reason)
}

// LockfileError is returned on a lockfile parse or write failure.
type LockfileError struct {
	Msg string
}

func (e *LockfileError) Error() string { return "lockfile error: " + e.Msg }

// ManifestError is returned on a manifest parse or write failure.
type ManifestError struct {
	Msg string
}

func (e *ManifestError) Error() string { return "manifest error: " + e.Msg }

// ManifestExists is returned when init runs against a directory that
// already has a manifest.
type ManifestExists struct {
	Path string
}

func (e *ManifestExists) Error() string {
	return fmt.Sprintf("manifest already exists: %s", e.Path)
}

// NetworkError is a registry failure: a transient failure surfaced after
// the registry client's retry budget is exhausted, or, without retrying,
// a malformed document or a non-retryable HTTP status other than 404.
type NetworkError struct {
	Msg string
}

func (e *NetworkError) Error() string { return "network error: " + e.Msg }

// InvalidPackageSpec is returned when an argument like "name@range" fails
// to parse.
type InvalidPackageSpec struct {
	Spec string
}

func (e *InvalidPackageSpec) Error() string {
	return fmt.Sprintf("invalid package spec: %q", e.Spec)
}

// DependencyConflict is reserved for future hoisting work; the flat
// resolver (spec §4.5, Q3) never constructs one today.
type DependencyConflict struct {
	Name    string
	Details string
}

func (e *DependencyConflict) Error() string {
	return fmt.Sprintf("dependency conflict for %s: %s", e.Name, e.Details)
}

// IoError wraps any other filesystem error that doesn't fit a more
// specific kind above.
type IoError struct {
	Msg string
}

func (e *IoError) Error() string { return "io error: " + e.Msg }
