// Package manifest parses the resource manifest: a YAML mapping from
// resource name to an object that may carry a `url` field.
package manifest

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/schaermu/assetsync/internal/fetch"
)

// Entry is a named resource. URL is empty when the manifest gives no locator.
type Entry struct {
	Name string
	URL  string
}

// HasLocator reports whether the entry can be fetched.
func (e Entry) HasLocator() bool {
	return e.URL != ""
}

// Manifest holds entries in document order.
type Manifest struct {
	Entries []Entry
	index   map[string]int
}

// ParseError reports a manifest that is not well-formed.
type ParseError struct {
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse manifest: line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("parse manifest: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// entryFields is the subset of a manifest object we care about.
type entryFields struct {
	URL string `yaml:"url"`
}

// Parse decodes data into a Manifest. An empty document yields an empty
// manifest.
func Parse(data []byte) (*Manifest, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &ParseError{Err: err}
	}

	m := &Manifest{index: make(map[string]int)}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return m, nil
	}

	root := resolve(doc.Content[0])
	if root.Kind == yaml.ScalarNode && root.Tag == "!!null" {
		return m, nil
	}
	if root.Kind != yaml.MappingNode {
		return nil, &ParseError{Line: root.Line, Err: fmt.Errorf("expected a mapping of names, got %s", kindName(root.Kind))}
	}

	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i], resolve(root.Content[i+1])
		if key.Kind != yaml.ScalarNode {
			return nil, &ParseError{Line: key.Line, Err: fmt.Errorf("resource name must be a scalar, got %s", kindName(key.Kind))}
		}

		name := strings.TrimSpace(key.Value)
		if name == "" {
			return nil, &ParseError{Line: key.Line, Err: fmt.Errorf("empty resource name")}
		}
		if _, dup := m.index[name]; dup {
			return nil, &ParseError{Line: key.Line, Err: fmt.Errorf("duplicate resource name %q", name)}
		}

		entry := Entry{Name: name}
		if value.Kind == yaml.MappingNode {
			var fields entryFields
			if err := value.Decode(&fields); err != nil {
				return nil, &ParseError{Line: value.Line, Err: fmt.Errorf("resource %q: %w", name, err)}
			}
			entry.URL = strings.TrimSpace(fields.URL)
		}

		m.index[name] = len(m.Entries)
		m.Entries = append(m.Entries, entry)
	}

	return m, nil
}

// Load reads the manifest from a local path, or through getter when source
// is an http(s) URL.
func Load(ctx context.Context, source string, getter fetch.Getter) (*Manifest, error) {
	var (
		data []byte
		err  error
	)
	if IsRemote(source) {
		if getter == nil {
			return nil, fmt.Errorf("read manifest %s: no getter for remote source", source)
		}
		data, err = getter.Get(ctx, source)
	} else {
		data, err = os.ReadFile(os.ExpandEnv(source))
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", source, err)
	}

	return Parse(data)
}

// IsRemote reports whether source names an http(s) URL.
func IsRemote(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

// Lookup returns the entry with the given name.
func (m *Manifest) Lookup(name string) (Entry, bool) {
	i, ok := m.index[name]
	if !ok {
		return Entry{}, false
	}
	return m.Entries[i], true
}

// Len returns the number of entries, with or without a locator.
func (m *Manifest) Len() int {
	return len(m.Entries)
}

// Fetchable returns the entries that carry a locator, in document order.
func (m *Manifest) Fetchable() []Entry {
	out := make([]Entry, 0, len(m.Entries))
	for _, e := range m.Entries {
		if e.HasLocator() {
			out = append(out, e)
		}
	}
	return out
}

func resolve(n *yaml.Node) *yaml.Node {
	for n.Kind == yaml.AliasNode && n.Alias != nil {
		n = n.Alias
	}
	return n
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.DocumentNode:
		return "document"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "unknown"
	}
}
