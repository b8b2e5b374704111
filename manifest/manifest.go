package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pacmjs/pacm/pacmerr"
)

const fileName = "package.json"

// DependencyType names one of the four dependency groups a package spec
// can be recorded under (spec §3, §4.8 install_one's dep_type parameter).
type DependencyType string

const (
	Dependencies         DependencyType = "dependencies"
	DevDependencies      DependencyType = "devDependencies"
	PeerDependencies     DependencyType = "peerDependencies"
	OptionalDependencies DependencyType = "optionalDependencies"
)

// recognizedKeys lists the distinguished manifest keys of spec §3. It does
// not decide output order: a key read from disk keeps the position it was
// read at, and a newly created key is appended at the end (see Group).
var recognizedKeys = []string{
	"name", "version", "description", "license", "main", "scripts",
	"dependencies", "devDependencies", "peerDependencies", "optionalDependencies",
}

// Manifest is the project manifest (package.json) of spec §3: the
// distinguished keys plus a verbatim remainder of unknown keys, with
// top-level key order preserved for an untouched round trip (I5).
type Manifest struct {
	Name        string
	Version     string
	Description string
	License     string
	Main        string
	Scripts     *OrderedMap

	Dependencies         *OrderedMap
	DevDependencies      *OrderedMap
	PeerDependencies     *OrderedMap
	OptionalDependencies *OrderedMap

	// order is the sequence of top-level keys as they appeared on the
	// wire (or, for keys created fresh by this process, the order they
	// were first set in, appended after everything read from disk).
	order []string
	// extra holds unknown top-level keys verbatim, keyed by name.
	extra map[string]json.RawMessage
}

// New returns an empty Manifest with only name and version set.
func New(name, version string) *Manifest {
	return &Manifest{
		Name:    name,
		Version: version,
		order:   []string{"name", "version"},
		extra:   make(map[string]json.RawMessage),
	}
}

// Path returns the package.json path under projectDir.
func Path(projectDir string) string {
	return filepath.Join(projectDir, fileName)
}

// Exists reports whether a manifest is present under projectDir.
func Exists(projectDir string) bool {
	_, err := os.Stat(Path(projectDir))
	return err == nil
}

// Load reads and parses the manifest at projectDir/package.json.
func Load(projectDir string) (*Manifest, error) {
	raw, err := os.ReadFile(Path(projectDir))
	if err != nil {
		return nil, &pacmerr.ManifestError{Msg: err.Error()}
	}
	return Parse(raw)
}

// Parse decodes manifest JSON bytes, recording top-level key order and
// preserving unrecognized keys verbatim (spec I5).
func Parse(raw []byte) (*Manifest, error) {
	m := &Manifest{extra: make(map[string]json.RawMessage)}

	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, &pacmerr.ManifestError{Msg: err.Error()}
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, &pacmerr.ManifestError{Msg: "package.json is not a JSON object"}
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, &pacmerr.ManifestError{Msg: err.Error()}
		}
		key := keyTok.(string)
		var rawVal json.RawMessage
		if err := dec.Decode(&rawVal); err != nil {
			return nil, &pacmerr.ManifestError{Msg: fmt.Sprintf("decoding %q: %v", key, err)}
		}
		m.order = append(m.order, key)
		if err := m.setRecognized(key, rawVal); err != nil {
			return nil, err
		}
	}
	if _, err := dec.Token(); err != nil {
		return nil, &pacmerr.ManifestError{Msg: err.Error()}
	}
	return m, nil
}

func (m *Manifest) setRecognized(key string, raw json.RawMessage) error {
	switch key {
	case "name":
		return jsonInto(key, raw, &m.Name)
	case "version":
		return jsonInto(key, raw, &m.Version)
	case "description":
		return jsonInto(key, raw, &m.Description)
	case "license":
		return jsonInto(key, raw, &m.License)
	case "main":
		return jsonInto(key, raw, &m.Main)
	case "scripts":
		m.Scripts = NewOrderedMap()
		return jsonInto(key, raw, m.Scripts)
	case "dependencies":
		m.Dependencies = NewOrderedMap()
		return jsonInto(key, raw, m.Dependencies)
	case "devDependencies":
		m.DevDependencies = NewOrderedMap()
		return jsonInto(key, raw, m.DevDependencies)
	case "peerDependencies":
		m.PeerDependencies = NewOrderedMap()
		return jsonInto(key, raw, m.PeerDependencies)
	case "optionalDependencies":
		m.OptionalDependencies = NewOrderedMap()
		return jsonInto(key, raw, m.OptionalDependencies)
	default:
		m.extra[key] = raw
		return nil
	}
}

func jsonInto(key string, raw json.RawMessage, dest any) error {
	if err := json.Unmarshal(raw, dest); err != nil {
		return &pacmerr.ManifestError{Msg: fmt.Sprintf("decoding %q: %v", key, err)}
	}
	return nil
}

// Group returns the named dependency group, creating and registering it
// (at the end of the key order) if absent.
func (m *Manifest) Group(t DependencyType) *OrderedMap {
	switch t {
	case Dependencies:
		return m.ensure(&m.Dependencies, string(t))
	case DevDependencies:
		return m.ensure(&m.DevDependencies, string(t))
	case PeerDependencies:
		return m.ensure(&m.PeerDependencies, string(t))
	case OptionalDependencies:
		return m.ensure(&m.OptionalDependencies, string(t))
	default:
		return nil
	}
}

func (m *Manifest) ensure(slot **OrderedMap, key string) *OrderedMap {
	if *slot == nil {
		*slot = NewOrderedMap()
		m.order = append(m.order, key)
	}
	return *slot
}

// PruneEmptyGroup removes key from the top-level key order if its group
// is empty, so a group emptied by remove (spec §4.10) disappears from the
// written manifest rather than round-tripping as "{}".
func (m *Manifest) PruneEmptyGroup(t DependencyType) {
	g := m.groupOrNil(t)
	if g != nil && g.Len() == 0 {
		m.removeKey(string(t))
		switch t {
		case Dependencies:
			m.Dependencies = nil
		case DevDependencies:
			m.DevDependencies = nil
		case PeerDependencies:
			m.PeerDependencies = nil
		case OptionalDependencies:
			m.OptionalDependencies = nil
		}
	}
}

func (m *Manifest) removeKey(key string) {
	for i, k := range m.order {
		if k == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}

// groupOrNil returns the named group without creating it, unlike Group.
func (m *Manifest) groupOrNil(t DependencyType) *OrderedMap {
	switch t {
	case Dependencies:
		return m.Dependencies
	case DevDependencies:
		return m.DevDependencies
	case PeerDependencies:
		return m.PeerDependencies
	case OptionalDependencies:
		return m.OptionalDependencies
	default:
		return nil
	}
}

// Find reports which dependency group (if any) already lists name,
// grounded on the original's DependencyManager::has_dep. It never
// mutates the manifest, so a read-only lookup cannot introduce an empty
// group into a manifest that otherwise round-trips untouched (I5).
func (m *Manifest) Find(name string) (DependencyType, string, bool) {
	for _, t := range []DependencyType{Dependencies, DevDependencies, PeerDependencies, OptionalDependencies} {
		if g := m.groupOrNil(t); g.Len() > 0 {
			if v, ok := g.Get(name); ok {
				return t, v, true
			}
		}
	}
	return "", "", false
}

// RemoveDependency deletes name from whichever group contains it,
// reporting the group it was removed from.
func (m *Manifest) RemoveDependency(name string) (DependencyType, bool) {
	for _, t := range []DependencyType{Dependencies, DevDependencies, PeerDependencies, OptionalDependencies} {
		g := m.groupOrNil(t)
		if g != nil && g.Delete(name) {
			m.PruneEmptyGroup(t)
			return t, true
		}
	}
	return "", false
}

// FormatDependencyRange implements the written-range rule of spec §6: a
// caret prefix by default, a bare version when saveExact is set, and the
// requested range text verbatim when it already carries an explicit
// prefix (so "~1.2.0" or a prerelease opt-in isn't silently widened).
func FormatDependencyRange(resolvedExact, requestedRange string, saveExact bool) string {
	if saveExact {
		return resolvedExact
	}
	if strings.HasPrefix(requestedRange, "^") || strings.HasPrefix(requestedRange, "~") ||
		strings.ContainsAny(requestedRange, "<>=|") || strings.Contains(requestedRange, "-") {
		return requestedRange
	}
	return "^" + resolvedExact
}

// Save writes the manifest back to projectDir/package.json as pretty-
// printed, two-space-indented JSON (spec §6), preserving key order.
func (m *Manifest) Save(projectDir string) error {
	raw, err := m.Marshal()
	if err != nil {
		return err
	}
	if err := os.WriteFile(Path(projectDir), raw, 0o644); err != nil {
		return &pacmerr.ManifestError{Msg: err.Error()}
	}
	return nil
}

// Marshal renders the manifest as pretty-printed JSON, honoring the
// recorded top-level key order (I5).
func (m *Manifest) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range m.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, _ := json.Marshal(key)
		buf.Write(kb)
		buf.WriteByte(':')
		val, err := m.marshalKey(key)
		if err != nil {
			return nil, &pacmerr.ManifestError{Msg: err.Error()}
		}
		buf.Write(val)
	}
	buf.WriteByte('}')

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, buf.Bytes(), "", "  "); err != nil {
		return nil, &pacmerr.ManifestError{Msg: err.Error()}
	}
	pretty.WriteByte('\n')
	return pretty.Bytes(), nil
}

func (m *Manifest) marshalKey(key string) ([]byte, error) {
	switch key {
	case "name":
		return json.Marshal(m.Name)
	case "version":
		return json.Marshal(m.Version)
	case "description":
		return json.Marshal(m.Description)
	case "license":
		return json.Marshal(m.License)
	case "main":
		return json.Marshal(m.Main)
	case "scripts":
		return m.Scripts.MarshalJSON()
	case "dependencies":
		return m.Dependencies.MarshalJSON()
	case "devDependencies":
		return m.DevDependencies.MarshalJSON()
	case "peerDependencies":
		return m.PeerDependencies.MarshalJSON()
	case "optionalDependencies":
		return m.OptionalDependencies.MarshalJSON()
	default:
		if raw, ok := m.extra[key]; ok {
			return raw, nil
		}
		return []byte("null"), nil
	}
}
