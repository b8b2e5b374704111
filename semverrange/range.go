// Package semverrange implements the npm-style range grammar described in
// spec §4.1: a disjunction ("||") of conjunctions (whitespace-separated
// comparators) over semantic versions, plus dist-tag and prerelease
// opt-in resolution against a registry document's version set.
//
// Version ordering and equality delegate to Masterminds/semver/v3, the
// same library the dependency resolver's constraint evaluation is built
// on; this package owns only the range grammar itself, since that grammar
// needs structured, position-aware parse errors the upstream library's
// generic constraint parser doesn't provide.
package semverrange

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/pacmjs/pacm/pacmerr"
)

// Op identifies one comparator kind recognized by the grammar.
type Op int

const (
	OpEq Op = iota
	OpGt
	OpGte
	OpLt
	OpLte
)

func (op Op) String() string {
	switch op {
	case OpEq:
		return "="
	case OpGt:
		return ">"
	case OpGte:
		return ">="
	case OpLt:
		return "<"
	case OpLte:
		return "<="
	default:
		return "?"
	}
}

// Comparator is one atomic test against a candidate version.
type Comparator struct {
	Op      Op
	Version *semver.Version
}

func (c Comparator) matches(v *semver.Version) bool {
	cmp := v.Compare(c.Version)
	switch c.Op {
	case OpEq:
		return cmp == 0
	case OpGt:
		return cmp > 0
	case OpGte:
		return cmp >= 0
	case OpLt:
		return cmp < 0
	case OpLte:
		return cmp <= 0
	default:
		return false
	}
}

// conjunction is an AND of comparators; an empty conjunction is the
// wildcard ("*" or "") and matches any version.
type conjunction []Comparator

func (c conjunction) matches(v *semver.Version) bool {
	for _, cmp := range c {
		if !cmp.matches(v) {
			return false
		}
	}
	return true
}

// Range is a parsed disjunction of conjunctions, retaining the literal
// text for prerelease opt-in detection (spec §4.1 step 2).
type Range struct {
	literal      string
	disjunctions []conjunction
}

// ParseError names the byte offset and offending token of a rejected
// range expression, matching the "structured error naming the position"
// requirement in spec §4.1.
type ParseError struct {
	Expr     string
	Position int
	Token    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid range %q at position %d: unrecognized token %q", e.Expr, e.Position, e.Token)
}

// Parse builds a Range from an npm-style range expression.
func Parse(expr string) (*Range, error) {
	r := &Range{literal: expr}
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		r.disjunctions = []conjunction{{}}
		return r, nil
	}

	offset := 0
	for _, alt := range strings.Split(expr, "||") {
		conj, err := parseConjunction(expr, alt, offset)
		if err != nil {
			return nil, err
		}
		r.disjunctions = append(r.disjunctions, conj)
		offset += len(alt) + len("||")
	}
	return r, nil
}

// Matches reports whether v satisfies any conjunction in the disjunction.
func (r *Range) Matches(v *semver.Version) bool {
	for _, c := range r.disjunctions {
		if c.matches(v) {
			return true
		}
	}
	return false
}

// HasPrereleaseOptIn reports whether the literal range text itself
// references a prerelease (contains '-'), per spec §4.1 step 2.
func (r *Range) HasPrereleaseOptIn() bool {
	return strings.Contains(r.literal, "-")
}

// String returns the original, unparsed range text.
func (r *Range) String() string { return r.literal }

// Resolve implements the version-resolution procedure of spec §4.1: a
// range equal to a dist-tag name resolves to that tag's version directly;
// otherwise the range is parsed, prerelease candidates are dropped unless
// the range literal opts in, and the greatest remaining candidate wins.
func Resolve(name, rangeExpr string, candidates []*semver.Version, distTags map[string]string) (*semver.Version, error) {
	if v, ok := distTags[rangeExpr]; ok {
		sv, err := semver.NewVersion(v)
		if err != nil {
			return nil, &pacmerr.VersionResolutionFailed{Name: name, Reason: "dist-tag " + rangeExpr + " points to invalid version " + v}
		}
		return sv, nil
	}

	rng, err := Parse(rangeExpr)
	if err != nil {
		return nil, err
	}

	var best *semver.Version
	for _, v := range candidates {
		if v.Prerelease() != "" && !rng.HasPrereleaseOptIn() {
			continue
		}
		if !rng.Matches(v) {
			continue
		}
		if best == nil || v.GreaterThan(best) {
			best = v
		}
	}
	if best == nil {
		return nil, &pacmerr.VersionResolutionFailed{Name: name, Reason: "no candidate satisfies " + rangeExpr}
	}
	return best, nil
}

func parseConjunction(fullExpr, alt string, baseOffset int) (conjunction, error) {
	trimmed := strings.TrimSpace(alt)
	if trimmed == "" || trimmed == "*" {
		return conjunction{}, nil
	}

	tokens := strings.Fields(trimmed)
	conj := make(conjunction, 0, len(tokens))
	for _, tok := range tokens {
		pos := baseOffset + strings.Index(alt, tok)
		comps, err := parseToken(fullExpr, tok, pos)
		if err != nil {
			return nil, err
		}
		conj = append(conj, comps...)
	}
	return conj, nil
}

// parseToken expands one whitespace-delimited token (which may itself
// carry an operator prefix such as ^, ~, >=, <=, >, <, =, or none) into
// one or more comparators.
func parseToken(fullExpr, tok string, pos int) ([]Comparator, error) {
	switch {
	case tok == "*" || tok == "x" || tok == "X":
		return nil, nil
	case strings.HasPrefix(tok, ">="):
		return parseSimpleComparator(fullExpr, tok[2:], OpGte, pos+2)
	case strings.HasPrefix(tok, "<="):
		return parseSimpleComparator(fullExpr, tok[2:], OpLte, pos+2)
	case strings.HasPrefix(tok, ">"):
		return parseSimpleComparator(fullExpr, tok[1:], OpGt, pos+1)
	case strings.HasPrefix(tok, "<"):
		return parseSimpleComparator(fullExpr, tok[1:], OpLt, pos+1)
	case strings.HasPrefix(tok, "="):
		return parseSimpleComparator(fullExpr, tok[1:], OpEq, pos+1)
	case strings.HasPrefix(tok, "^"):
		return expandCaret(fullExpr, tok[1:], pos+1)
	case strings.HasPrefix(tok, "~"):
		return expandTilde(fullExpr, tok[1:], pos+1)
	default:
		return parseSimpleComparator(fullExpr, tok, OpEq, pos)
	}
}

func parseSimpleComparator(fullExpr, versionText string, op Op, pos int) ([]Comparator, error) {
	pv, err := parsePartial(versionText)
	if err != nil {
		return nil, &ParseError{Expr: fullExpr, Position: pos, Token: versionText}
	}
	if !pv.hasMinor || !pv.hasPatch {
		// Partial version: the missing trailing components are filled
		// with zero, matching npm's treatment of e.g. ">=1.2" as
		// ">=1.2.0"; expandPartialComparator handles the "<=" case.
		return expandPartialComparator(pv, op)
	}
	return []Comparator{{Op: op, Version: pv.version()}}, nil
}

// expandPartialComparator handles a comparator applied to a partial
// version such as ">=1.2" or "<1": the missing trailing components are
// filled with zero, so "<1.2" becomes "<1.2.0" and excludes the whole
// 1.2.x line. Only "<=" widens: its bound becomes an exclusive "<" at the
// next unit, so "<=1.2" becomes "<1.3.0".
func expandPartialComparator(pv partialVersion, op Op) ([]Comparator, error) {
	lo := pv.version()
	switch op {
	case OpLt:
		return []Comparator{{Op: OpLt, Version: lo}}, nil
	case OpLte:
		return []Comparator{{Op: OpLt, Version: pv.nextUnit()}}, nil
	default:
		return []Comparator{{Op: op, Version: lo}}, nil
	}
}

// expandCaret implements "^v" per spec §4.1: lower bound v, upper bound
// the next "significant" release relative to the leading nonzero
// component.
func expandCaret(fullExpr, versionText string, pos int) ([]Comparator, error) {
	pv, err := parsePartial(versionText)
	if err != nil {
		return nil, &ParseError{Expr: fullExpr, Position: pos, Token: versionText}
	}
	lo := pv.version()
	var upper *semver.Version
	switch {
	case pv.major > 0:
		upper = mustVersion(pv.major+1, 0, 0)
	case pv.hasMinor && pv.minor > 0:
		upper = mustVersion(0, pv.minor+1, 0)
	default:
		upper = mustVersion(0, 0, pv.patch+1)
	}
	return []Comparator{
		{Op: OpGte, Version: lo},
		{Op: OpLt, Version: upper},
	}, nil
}

// expandTilde implements "~v" per spec §4.1: lower bound v, upper bound
// the next minor (or next major, if only a major was given).
func expandTilde(fullExpr, versionText string, pos int) ([]Comparator, error) {
	pv, err := parsePartial(versionText)
	if err != nil {
		return nil, &ParseError{Expr: fullExpr, Position: pos, Token: versionText}
	}
	lo := pv.version()
	var upper *semver.Version
	if pv.hasMinor {
		upper = mustVersion(pv.major, pv.minor+1, 0)
	} else {
		upper = mustVersion(pv.major+1, 0, 0)
	}
	return []Comparator{
		{Op: OpGte, Version: lo},
		{Op: OpLt, Version: upper},
	}, nil
}

// partialVersion is a version literal with possibly-omitted trailing
// components, as spec §4.1 requires ("1", "1.2" expand with zero
// components").
type partialVersion struct {
	major, minor, patch uint64
	hasMinor, hasPatch  bool
	prerelease, build   string
}

func (pv partialVersion) version() *semver.Version {
	return mustVersionFull(pv.major, pv.minor, pv.patch, pv.prerelease, pv.build)
}

// nextUnit returns the version one unit above pv at its most specific
// present component, used to translate a partial "<=" bound into an
// exclusive "<" bound.
func (pv partialVersion) nextUnit() *semver.Version {
	switch {
	case pv.hasPatch:
		return mustVersion(pv.major, pv.minor, pv.patch+1)
	case pv.hasMinor:
		return mustVersion(pv.major, pv.minor+1, 0)
	default:
		return mustVersion(pv.major+1, 0, 0)
	}
}

func parsePartial(s string) (partialVersion, error) {
	var pv partialVersion
	s = strings.TrimPrefix(s, "v")

	core := s
	if i := strings.IndexAny(s, "-+"); i >= 0 {
		core = s[:i]
		rest := s[i:]
		if strings.HasPrefix(rest, "-") {
			rest = rest[1:]
			if j := strings.Index(rest, "+"); j >= 0 {
				pv.prerelease = rest[:j]
				pv.build = rest[j+1:]
			} else {
				pv.prerelease = rest
			}
		} else if strings.HasPrefix(rest, "+") {
			pv.build = rest[1:]
		}
	}

	parts := strings.Split(core, ".")
	if len(parts) == 0 || parts[0] == "" {
		return pv, fmt.Errorf("empty version")
	}
	var err error
	if pv.major, err = strconv.ParseUint(parts[0], 10, 64); err != nil {
		return pv, err
	}
	if len(parts) > 1 {
		if pv.minor, err = strconv.ParseUint(parts[1], 10, 64); err != nil {
			return pv, err
		}
		pv.hasMinor = true
	}
	if len(parts) > 2 {
		if pv.patch, err = strconv.ParseUint(parts[2], 10, 64); err != nil {
			return pv, err
		}
		pv.hasPatch = true
	}
	if len(parts) > 3 {
		return pv, fmt.Errorf("too many version components")
	}
	return pv, nil
}

func mustVersion(major, minor, patch uint64) *semver.Version {
	return mustVersionFull(major, minor, patch, "", "")
}

func mustVersionFull(major, minor, patch uint64, pre, build string) *semver.Version {
	text := fmt.Sprintf("%d.%d.%d", major, minor, patch)
	if pre != "" {
		text += "-" + pre
	}
	if build != "" {
		text += "+" + build
	}
	v, err := semver.NewVersion(text)
	if err != nil {
		// Components are all produced internally from validated numeric
		// parses, so construction cannot fail; a panic here indicates a
		// bug in this package, not bad input.
		panic(err)
	}
	return v
}
