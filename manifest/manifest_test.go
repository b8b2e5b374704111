package manifest

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseRoundTripPreservesOrderAndUnknownKeys(t *testing.T) {
	src := `{
  "name": "p",
  "customField": {"x": 1},
  "version": "1.0.0",
  "dependencies": {
    "b": "^1.0.0",
    "a": "^2.0.0"
  }
}
`
	m, err := Parse([]byte(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	out, err := m.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	wantOrder := []string{"name", "customField", "version", "dependencies"}
	gotOrder := m.order
	if len(gotOrder) != len(wantOrder) {
		t.Fatalf("key order = %v, want %v", gotOrder, wantOrder)
	}
	for i, k := range wantOrder {
		if gotOrder[i] != k {
			t.Fatalf("key order = %v, want %v", gotOrder, wantOrder)
		}
	}

	if !strings.Contains(string(out), `"customField"`) {
		t.Errorf("unknown key dropped from output: %s", out)
	}
	depOrder := m.Dependencies.Keys()
	if len(depOrder) != 2 || depOrder[0] != "b" || depOrder[1] != "a" {
		t.Errorf("dependencies order = %v, want [b a]", depOrder)
	}
}

func TestGroupCreatesAndTracksOrder(t *testing.T) {
	m := New("p", "1.0.0")
	g := m.Group(Dependencies)
	g.Set("lodash", "^4.17.21")

	if v, ok := m.Dependencies.Get("lodash"); !ok || v != "^4.17.21" {
		t.Fatalf("Dependencies.Get(lodash) = %q, %v", v, ok)
	}

	typ, version, ok := m.Find("lodash")
	if !ok || typ != Dependencies || version != "^4.17.21" {
		t.Fatalf("Find(lodash) = %v, %v, %v", typ, version, ok)
	}
}

func TestRemoveDependencyPrunesEmptyGroup(t *testing.T) {
	m := New("p", "1.0.0")
	m.Group(Dependencies).Set("lodash", "^4.17.21")

	typ, ok := m.RemoveDependency("lodash")
	if !ok || typ != Dependencies {
		t.Fatalf("RemoveDependency = %v, %v", typ, ok)
	}
	if m.Dependencies != nil {
		t.Errorf("expected dependencies group pruned, got %v", m.Dependencies)
	}
	out, err := m.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if strings.Contains(string(out), "dependencies") {
		t.Errorf("expected no dependencies key in output, got %s", out)
	}
}

func TestFindDoesNotMutateAnUnrelatedManifest(t *testing.T) {
	before, err := Parse([]byte(`{"name":"p","version":"1.0.0","dependencies":{"lodash":"^4.17.21"}}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	after, err := Parse([]byte(`{"name":"p","version":"1.0.0","dependencies":{"lodash":"^4.17.21"}}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	after.Find("lodash")
	after.Find("some-package-not-present")

	opts := cmp.Options{cmp.AllowUnexported(Manifest{}, OrderedMap{})}
	if diff := cmp.Diff(before, after, opts...); diff != "" {
		t.Errorf("Find mutated the manifest (-before +after):\n%s", diff)
	}
}

func TestFormatDependencyRange(t *testing.T) {
	tests := []struct {
		resolved, requested string
		exact                bool
		want                 string
	}{
		{"4.17.21", "^4.17.0", false, "^4.17.0"},
		{"4.17.21", "latest", false, "^4.17.21"},
		{"4.17.21", "latest", true, "4.17.21"},
		{"1.2.3", "~1.2.0", false, "~1.2.0"},
	}
	for _, tt := range tests {
		got := FormatDependencyRange(tt.resolved, tt.requested, tt.exact)
		if got != tt.want {
			t.Errorf("FormatDependencyRange(%q, %q, %v) = %q, want %q", tt.resolved, tt.requested, tt.exact, got, tt.want)
		}
	}
}
