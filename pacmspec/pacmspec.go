// Package pacmspec parses CLI/manifest-facing package specifications of
// the form "name", "name@range", "@scope/name", or "@scope/name@range"
// into a name and a range. This is deliberately a separate concern from
// the range grammar itself (package semverrange): the teacher's own
// download package draws exactly this boundary between parsing an
// argument spec and parsing a version range.
package pacmspec

import (
	"strings"

	"github.com/pacmjs/pacm/pacmerr"
)

// Spec is a parsed "name[@range]" argument.
type Spec struct {
	Name  string
	Range string
}

// Parse splits spec into name and range, defaulting an absent range to
// "latest". Scoped names ("@scope/name") are recognized so that the '@'
// introducing the scope is not mistaken for the '@' introducing a range.
func Parse(spec string) (Spec, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return Spec{}, &pacmerr.InvalidPackageSpec{Spec: spec}
	}

	scoped := strings.HasPrefix(spec, "@")
	search := spec
	if scoped {
		search = spec[1:]
	}

	if idx := strings.Index(search, "@"); idx >= 0 {
		name := spec[:idx+boolToInt(scoped)]
		rangeExpr := spec[idx+boolToInt(scoped)+1:]
		if name == "" || rangeExpr == "" {
			return Spec{}, &pacmerr.InvalidPackageSpec{Spec: spec}
		}
		return Spec{Name: name, Range: rangeExpr}, nil
	}

	if scoped && !strings.Contains(spec, "/") {
		return Spec{}, &pacmerr.InvalidPackageSpec{Spec: spec}
	}
	return Spec{Name: spec, Range: "latest"}, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// String renders the spec back to "name@range" form.
func (s Spec) String() string {
	return s.Name + "@" + s.Range
}
