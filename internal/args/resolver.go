// Package args resolves batch run options from a named base file plus
// ordered key=value overrides against a typed schema.
package args

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Extensions tried, in order, when a base name has none.
var baseExtensions = []string{".toml", ".json", ".yaml", ".yml"}

// Override is one key=value pair from the command line
type Override struct {
	Key   string
	Value string
}

func (o Override) String() string {
	return o.Key + "=" + o.Value
}

// ParseOverrides splits key=value strings, preserving order.
func ParseOverrides(raw []string) ([]Override, error) {
	out := make([]Override, 0, len(raw))
	for _, r := range raw {
		key, value, ok := strings.Cut(r, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, &InvalidArgumentError{Key: r, Reason: "overrides must be in the form key=value"}
		}
		out = append(out, Override{Key: key, Value: value})
	}
	return out, nil
}

// Resolver reads base argument files from Dir
type Resolver struct {
	Dir string
}

// NewResolver creates a resolver over an argument directory.
func NewResolver(dir string) *Resolver {
	return &Resolver{Dir: dir}
}

// Resolve loads the base file, applies overrides left to right and
// validates the result. It reads nothing but the base file.
func (r *Resolver) Resolve(baseName string, overrides []Override) (RunConfiguration, error) {
	values := make(map[string]any, len(schema))
	for name, k := range schema {
		values[name] = k.Default
	}

	base, err := r.loadBase(baseName)
	if err != nil {
		return RunConfiguration{}, err
	}
	names := make([]string, 0, len(base))
	for name := range base {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := apply(values, name, base[name]); err != nil {
			return RunConfiguration{}, err
		}
	}

	for _, o := range overrides {
		if err := apply(values, o.Key, o.Value); err != nil {
			return RunConfiguration{}, err
		}
	}

	return newRunConfiguration(baseName, values)
}

func apply(values map[string]any, name string, raw any) error {
	k, ok := schema[name]
	if !ok {
		return &InvalidArgumentError{Key: name, Value: fmt.Sprint(raw), Reason: "unknown key"}
	}
	v, err := k.Coerce(raw)
	if err != nil {
		return err
	}
	values[name] = v
	return nil
}

func (r *Resolver) locate(name string) (string, error) {
	if name == "" {
		return "", &ConfigNotFoundError{Name: name, Dir: r.Dir}
	}
	candidates := []string{}
	if filepath.Ext(name) != "" {
		candidates = append(candidates, name, filepath.Join(r.Dir, name))
	} else {
		for _, ext := range baseExtensions {
			candidates = append(candidates, filepath.Join(r.Dir, name+ext))
		}
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c, nil
		}
	}
	return "", &ConfigNotFoundError{Name: name, Dir: r.Dir}
}

func (r *Resolver) loadBase(name string) (map[string]any, error) {
	path, err := r.locate(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	out := make(map[string]any)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, &out)
	default:
		// yaml.v3 also reads JSON documents
		if len(bytes.TrimSpace(data)) > 0 {
			err = yaml.Unmarshal(data, &out)
		}
	}
	if err != nil {
		return nil, &InvalidArgumentError{Key: filepath.Base(path), Reason: fmt.Sprintf("parsing base file: %v", err)}
	}
	return out, nil
}
