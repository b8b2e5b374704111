package graphresolver

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pacmjs/pacm/hostconfig"
	"github.com/pacmjs/pacm/registry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fixtureServer serves a fixed map of package name -> registry document
// JSON, the same httptest.NewServer shape registry/client_test.go uses.
func fixtureServer(t *testing.T, docs map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Path[1:]
		body, ok := docs[name]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, body)
	}))
}

func doc(name string, versions map[string]map[string]string) string {
	type dist struct {
		Tarball string `json:"tarball"`
	}
	type vm struct {
		Name         string            `json:"name"`
		Version      string            `json:"version"`
		Dist         dist              `json:"dist"`
		Dependencies map[string]string `json:"dependencies,omitempty"`
	}
	out := struct {
		Name     string            `json:"name"`
		DistTags map[string]string `json:"dist-tags"`
		Versions map[string]vm     `json:"versions"`
	}{Name: name, DistTags: map[string]string{}, Versions: map[string]vm{}}

	latest := ""
	for v, deps := range versions {
		out.Versions[v] = vm{
			Name:         name,
			Version:      v,
			Dist:         dist{Tarball: "https://example.com/" + name + "-" + v + ".tgz"},
			Dependencies: deps,
		}
		latest = v
	}
	out.DistTags["latest"] = latest
	raw, _ := json.Marshal(out)
	return string(raw)
}

func TestResolveLinearChain(t *testing.T) {
	srv := fixtureServer(t, map[string]string{
		"a": doc("a", map[string]map[string]string{"1.0.0": {"b": "^1.0.0"}}),
		"b": doc("b", map[string]map[string]string{"1.0.0": {"c": "^1.0.0"}}),
		"c": doc("c", map[string]map[string]string{"1.0.0": {}}),
	})
	defer srv.Close()

	client := registry.New(testLogger(), hostconfig.Derive(), registry.WithBaseURL(srv.URL))
	r := New(client, hostconfig.Derive())

	result, err := r.Resolve(t.Context(), []Root{{Name: "a", Range: "^1.0.0"}})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(result.Failed) != 0 {
		t.Fatalf("unexpected root failures: %+v", result.Failed)
	}
	if len(result.Closure) != 3 {
		t.Fatalf("expected closure of 3, got %d: %+v", len(result.Closure), result.Closure)
	}
	byKey := map[string]*ResolvedPackage{}
	for _, p := range result.Closure {
		byKey[p.Key()] = p
	}
	for _, want := range []string{"a@1.0.0", "b@1.0.0", "c@1.0.0"} {
		if _, ok := byKey[want]; !ok {
			t.Errorf("expected %s in closure", want)
		}
	}
}

// TestResolveCycleTerminates exercises the a -> b -> a cycle scenario:
// resolution must terminate with both packages present exactly once,
// never looping forever or duplicating entries.
func TestResolveCycleTerminates(t *testing.T) {
	srv := fixtureServer(t, map[string]string{
		"a": doc("a", map[string]map[string]string{"1.0.0": {"b": "^1.0.0"}}),
		"b": doc("b", map[string]map[string]string{"1.0.0": {"a": "^1.0.0"}}),
	})
	defer srv.Close()

	client := registry.New(testLogger(), hostconfig.Derive(), registry.WithBaseURL(srv.URL))
	r := New(client, hostconfig.Derive())

	result, err := r.Resolve(t.Context(), []Root{{Name: "a", Range: "^1.0.0"}})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(result.Closure) != 2 {
		t.Fatalf("expected closure of 2 (a, b), got %d: %+v", len(result.Closure), result.Closure)
	}
}

func TestResolveSharedDependencyIsNotDuplicated(t *testing.T) {
	srv := fixtureServer(t, map[string]string{
		"a": doc("a", map[string]map[string]string{"1.0.0": {"c": "^1.0.0"}}),
		"b": doc("b", map[string]map[string]string{"1.0.0": {"c": "^1.0.0"}}),
		"c": doc("c", map[string]map[string]string{"1.0.0": {}}),
	})
	defer srv.Close()

	client := registry.New(testLogger(), hostconfig.Derive(), registry.WithBaseURL(srv.URL))
	r := New(client, hostconfig.Derive())

	result, err := r.Resolve(t.Context(), []Root{
		{Name: "a", Range: "^1.0.0"},
		{Name: "b", Range: "^1.0.0"},
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(result.Closure) != 3 {
		t.Fatalf("expected 3 deduplicated packages (a, b, c), got %d: %+v", len(result.Closure), result.Closure)
	}
}

func TestResolveMissingRootIsReportedNotFatalToOthers(t *testing.T) {
	srv := fixtureServer(t, map[string]string{
		"a": doc("a", map[string]map[string]string{"1.0.0": {}}),
	})
	defer srv.Close()

	client := registry.New(testLogger(), hostconfig.Derive(), registry.WithBaseURL(srv.URL))
	r := New(client, hostconfig.Derive())

	result, err := r.Resolve(t.Context(), []Root{
		{Name: "a", Range: "^1.0.0"},
		{Name: "missing", Range: "^1.0.0"},
	})
	if err == nil {
		t.Fatalf("expected an aggregate error reporting the missing root")
	}
	if len(result.Failed) != 1 || result.Failed[0].Root.Name != "missing" {
		t.Fatalf("expected exactly one failed root for 'missing', got %+v", result.Failed)
	}
	found := false
	for _, p := range result.Closure {
		if p.Key() == "a@1.0.0" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected root 'a' to still resolve despite 'missing' failing")
	}
}
