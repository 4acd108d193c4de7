// Package modelreg manages the registry of available embedding models. The
// registry is backed by a YAML file, keeps exactly one default model, and
// persists mutations crash-safely (temp file + rename) under a mutex.
package modelreg

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when no model matches the requested provider/model.
var ErrNotFound = errors.New("embedding model not found")

// Model is one embedding-model registry entry.
type Model struct {
	Provider        string `yaml:"provider" json:"provider"`
	Model           string `yaml:"model" json:"model"`
	Version         string `yaml:"version" json:"version"`
	Timestamp       string `yaml:"timestamp" json:"timestamp"`
	Dimensions      int    `yaml:"dimensions" json:"dimensions"`
	IsDefault       bool   `yaml:"isDefault" json:"isDefault"`
	IsDeprecated    bool   `yaml:"isDeprecated" json:"isDeprecated"`
	DeprecationDate string `yaml:"deprecationDate,omitempty" json:"deprecationDate,omitempty"`
}

// FullModel builds the pinned model string "timestamp@version@provider/model".
func (m Model) FullModel() string {
	return fmt.Sprintf("%s@%s@%s/%s", m.Timestamp, m.Version, m.Provider, m.Model)
}

// ParseFullModel splits a full model string into its provider and model
// parts. The input must carry exactly two "@" separators and one "/" in the
// final part.
func ParseFullModel(full string) (provider, model string, err error) {
	parts := strings.SplitN(full, "@", 3)
	if len(parts) != 3 {
		return "", "", fmt.Errorf("modelreg: malformed full model string %q", full)
	}
	provider, model, ok := strings.Cut(parts[2], "/")
	if !ok || provider == "" || model == "" {
		return "", "", fmt.Errorf("modelreg: malformed provider/model in %q", full)
	}
	return provider, model, nil
}

// registryFile is the YAML shape of the backing file.
type registryFile struct {
	Models []Model `yaml:"models"`
}

// Registry is the mutable, file-backed embedding-model registry.
type Registry struct {
	path string

	mu     sync.Mutex
	models []Model
}

// Load reads the registry from path. A file without a default model loads
// with a warning; PATCHes can set one later.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("modelreg: read %s: %w", path, err)
	}
	var rf registryFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("modelreg: parse %s: %w", path, err)
	}

	reg := &Registry{path: path, models: rf.Models}
	if _, ok := reg.defaultLocked(); !ok {
		slog.Warn("no default embedding model configured", "file", path)
	}
	slog.Info("embedding model registry loaded", "file", path, "models", len(rf.Models))
	return reg, nil
}

// Listing is the API response shape for the full registry.
type Listing struct {
	Models  []ListedModel `json:"models"`
	Default string        `json:"default,omitempty"`
}

// ListedModel is a Model with its derived full model string.
type ListedModel struct {
	Model
	FullModel string `json:"fullModel"`
}

// All returns every model plus the current default full-model string.
func (r *Registry) All() Listing {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := Listing{Models: make([]ListedModel, 0, len(r.models))}
	for _, m := range r.models {
		out.Models = append(out.Models, ListedModel{Model: m, FullModel: m.FullModel()})
	}
	if def, ok := r.defaultLocked(); ok {
		out.Default = def.FullModel()
	}
	return out
}

// Default returns the default model and whether one is configured.
func (r *Registry) Default() (Model, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.defaultLocked()
}

// defaultLocked finds the default entry. Callers must hold r.mu (or be the
// only goroutine, during Load).
func (r *Registry) defaultLocked() (Model, bool) {
	for _, m := range r.models {
		if m.IsDefault {
			return m, true
		}
	}
	return Model{}, false
}

// Get returns the entry for provider/model.
func (r *Registry) Get(provider, model string) (Model, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.models {
		if m.Provider == provider && m.Model == model {
			return m, nil
		}
	}
	return Model{}, fmt.Errorf("%w: %s/%s", ErrNotFound, provider, model)
}

// SetDefault makes provider/model the single default and persists the
// registry. Deprecated models cannot become the default.
func (r *Registry) SetDefault(provider, model string) (Model, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := -1
	for i, m := range r.models {
		if m.Provider == provider && m.Model == model {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Model{}, fmt.Errorf("%w: %s/%s", ErrNotFound, provider, model)
	}
	if r.models[idx].IsDeprecated {
		return Model{}, fmt.Errorf("modelreg: %s/%s is deprecated and cannot be the default", provider, model)
	}

	for i := range r.models {
		r.models[i].IsDefault = i == idx
	}
	if err := r.saveLocked(); err != nil {
		return Model{}, err
	}
	slog.Info("default embedding model changed", "provider", provider, "model", model)
	return r.models[idx], nil
}

// Deprecate marks provider/model as deprecated, stamps the deprecation date,
// and persists the registry. The current default cannot be deprecated.
func (r *Registry) Deprecate(provider, model string) (Model, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := -1
	for i, m := range r.models {
		if m.Provider == provider && m.Model == model {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Model{}, fmt.Errorf("%w: %s/%s", ErrNotFound, provider, model)
	}
	if r.models[idx].IsDefault {
		return Model{}, fmt.Errorf("modelreg: %s/%s is the default model and cannot be deprecated", provider, model)
	}

	r.models[idx].IsDeprecated = true
	r.models[idx].DeprecationDate = time.Now().UTC().Format(time.RFC3339)
	if err := r.saveLocked(); err != nil {
		return Model{}, err
	}
	slog.Info("embedding model deprecated", "provider", provider, "model", model)
	return r.models[idx], nil
}

// saveLocked writes the registry to a sibling temp file and renames it over
// the original. Callers must hold r.mu.
func (r *Registry) saveLocked() error {
	data, err := yaml.Marshal(registryFile{Models: r.models})
	if err != nil {
		return fmt.Errorf("modelreg: marshal: %w", err)
	}

	dir := filepath.Dir(r.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(r.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("modelreg: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("modelreg: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("modelreg: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("modelreg: rename temp file: %w", err)
	}
	return nil
}
