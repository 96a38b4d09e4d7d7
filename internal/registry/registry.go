// Package registry loads the static lake catalogue and answers lookups.
package registry

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/hochfrequenz/lake-orchestrator/internal/domain"
	"gopkg.in/yaml.v3"
)

// TypeChecker reports whether a forcing binding type has a provider.
type TypeChecker interface {
	Supports(bindingType string) bool
}

// RegistryError means the registry file is unusable as a whole
type RegistryError struct {
	Path     string
	Problems []string
}

func (e *RegistryError) Error() string {
	return fmt.Sprintf("registry %s: %s", e.Path, strings.Join(e.Problems, "; "))
}

// NotFoundError is returned for an unknown lake key
type NotFoundError struct {
	Key string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("lake %q not found in registry", e.Key)
}

// Registry is an immutable, keyed set of lakes. Lakes are copied in and
// out so workers can share one registry without locks.
type Registry struct {
	path  string
	lakes map[string]domain.LakeParameters
	keys  []string
}

// Load reads a JSON or YAML list of lakes. Any invalid entry fails the
// whole load. known may be nil to skip binding type checks.
func Load(path string, known TypeChecker) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &RegistryError{Path: path, Problems: []string{err.Error()}}
	}
	return Parse(path, data, known)
}

// Parse builds a registry from raw file content.
func Parse(path string, data []byte, known TypeChecker) (*Registry, error) {
	var entries []domain.LakeParameters
	if len(bytes.TrimSpace(data)) > 0 {
		if err := yaml.Unmarshal(data, &entries); err != nil {
			return nil, &RegistryError{Path: path, Problems: []string{fmt.Sprintf("decoding: %v", err)}}
		}
	}
	return New(path, entries, known)
}

// New validates entries and builds a registry.
func New(path string, entries []domain.LakeParameters, known TypeChecker) (*Registry, error) {
	r := &Registry{
		path:  path,
		lakes: make(map[string]domain.LakeParameters, len(entries)),
	}

	var problems []string
	for i, lake := range entries {
		label := lake.Key
		if label == "" {
			label = fmt.Sprintf("entry %d", i)
		}
		if errs := validate(lake, known); len(errs) > 0 {
			for _, e := range errs {
				problems = append(problems, label+": "+e)
			}
			continue
		}
		if _, dup := r.lakes[lake.Key]; dup {
			problems = append(problems, fmt.Sprintf("%s: duplicate key", lake.Key))
			continue
		}
		r.lakes[lake.Key] = lake.Clone().WithDefaults()
		r.keys = append(r.keys, lake.Key)
	}
	if len(problems) > 0 {
		return nil, &RegistryError{Path: path, Problems: problems}
	}

	sort.Strings(r.keys)
	return r, nil
}

func validate(lake domain.LakeParameters, known TypeChecker) []string {
	var errs []string
	if !domain.ValidLakeKey(lake.Key) {
		errs = append(errs, fmt.Sprintf("invalid key %q", lake.Key))
	}
	if len(lake.Forcing) == 0 {
		errs = append(errs, "no forcing bindings")
	}
	if lake.SurfaceArea <= 0 {
		errs = append(errs, "surface_area must be positive")
	}
	if lake.Latitude < -90 || lake.Latitude > 90 || lake.Longitude < -180 || lake.Longitude > 180 {
		errs = append(errs, "latitude/longitude out of range")
	}
	if _, err := lake.Reference(); err != nil {
		errs = append(errs, "reference_date must be YYYYMMDD")
	}
	if b := lake.Bathymetry; b != nil && len(b.Depth) != len(b.Area) {
		errs = append(errs, "bathymetry depth and area lengths differ")
	}
	for _, b := range lake.Bindings() {
		if err := b.Validate(); err != nil {
			errs = append(errs, err.Error())
			continue
		}
		if known != nil && !known.Supports(b.Type) {
			errs = append(errs, fmt.Sprintf("unsupported binding type %q", b.Type))
		}
	}
	if f := lake.Forecast; f != nil {
		if f.Source == "" || f.Model == "" {
			errs = append(errs, "forecast needs source and model")
		} else if known != nil && !known.Supports(f.Product()) {
			errs = append(errs, fmt.Sprintf("unsupported forecast %q", f.Product()))
		}
		if f.HorizonDays < 0 {
			errs = append(errs, "forecast days must not be negative")
		}
	}
	return errs
}

// Path returns the file the registry was loaded from.
func (r *Registry) Path() string {
	return r.path
}

// Len returns the number of lakes.
func (r *Registry) Len() int {
	return len(r.keys)
}

// List returns every lake sorted by key.
func (r *Registry) List() []domain.LakeParameters {
	out := make([]domain.LakeParameters, 0, len(r.keys))
	for _, k := range r.keys {
		out = append(out, r.lakes[k].Clone())
	}
	return out
}

// Get returns the lake with the given key.
func (r *Registry) Get(key string) (domain.LakeParameters, error) {
	lake, ok := r.lakes[key]
	if !ok {
		return domain.LakeParameters{}, &NotFoundError{Key: key}
	}
	return lake.Clone(), nil
}

// Select resolves keys to lakes, preserving registry order and
// dropping duplicates. An empty list selects every lake.
func (r *Registry) Select(keys []string) ([]domain.LakeParameters, error) {
	if len(keys) == 0 {
		return r.List(), nil
	}
	wanted := make(map[string]bool, len(keys))
	for _, k := range keys {
		if _, ok := r.lakes[k]; !ok {
			return nil, &NotFoundError{Key: k}
		}
		wanted[k] = true
	}
	out := make([]domain.LakeParameters, 0, len(wanted))
	for _, k := range r.keys {
		if wanted[k] {
			out = append(out, r.lakes[k].Clone())
		}
	}
	return out, nil
}

// Marshal writes the registry back out as YAML.
func (r *Registry) Marshal() ([]byte, error) {
	return yaml.Marshal(r.List())
}
