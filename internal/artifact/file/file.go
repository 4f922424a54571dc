// Package file implements artifact.Repository on top of a JSON or YAML
// manifest exported by the importer.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/GilbertoAbrao/wxcode-sub008/internal/artifact"
	"gopkg.in/yaml.v3"
)

// Manifest is the on-disk layout.
type Manifest struct {
	Project   string              `json:"project" yaml:"project"`
	Artifacts []artifact.Artifact `json:"artifacts" yaml:"artifacts"`
}

// Repository serves artifacts from a manifest file and writes dependency
// sets back into the same file.
type Repository struct {
	path string

	mu       sync.Mutex
	manifest *Manifest
}

// New opens the manifest at path.
func New(path string) (*Repository, error) {
	r := &Repository{path: path}
	m, err := r.read()
	if err != nil {
		return nil, err
	}
	r.manifest = m
	return r, nil
}

func (r *Repository) isYAML() bool {
	ext := strings.ToLower(filepath.Ext(r.path))
	return ext == ".yaml" || ext == ".yml"
}

func (r *Repository) read() (*Manifest, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	var m Manifest
	if r.isYAML() {
		err = yaml.Unmarshal(data, &m)
	} else {
		err = json.Unmarshal(data, &m)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", r.path, err)
	}
	for i := range m.Artifacts {
		kind, err := artifact.ParseKind(string(m.Artifacts[i].Kind))
		if err != nil {
			return nil, fmt.Errorf("artifact %q: %w", m.Artifacts[i].Name, err)
		}
		m.Artifacts[i].Kind = kind
		if err := artifact.Validate(m.Artifacts[i]); err != nil {
			return nil, err
		}
	}
	return &m, nil
}

func (r *Repository) write() error {
	var (
		data []byte
		err  error
	)
	if r.isYAML() {
		data, err = yaml.Marshal(r.manifest)
	} else {
		data, err = json.MarshalIndent(r.manifest, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return os.Rename(tmp, r.path)
}

func (r *Repository) matches(projectID string) bool {
	return r.manifest.Project == "" || projectID == "" || r.manifest.Project == projectID
}

// List implements artifact.Repository.
func (r *Repository) List(_ context.Context, projectID string) ([]artifact.Artifact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.matches(projectID) {
		return nil, fmt.Errorf("%w: project %q not in %s", artifact.ErrNotFound, projectID, r.path)
	}
	out := make([]artifact.Artifact, len(r.manifest.Artifacts))
	for i, a := range r.manifest.Artifacts {
		a.ProjectID = projectID
		a.Code = append([]artifact.CodeBody(nil), a.Code...)
		if a.Dependencies != nil {
			deps := *a.Dependencies
			a.Dependencies = &deps
		}
		out[i] = a
	}
	return out, nil
}

// SaveDependencies implements artifact.Repository.
func (r *Repository) SaveDependencies(_ context.Context, projectID string, kind artifact.Kind, name string, deps artifact.DependencySet, codeHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.matches(projectID) {
		return fmt.Errorf("%w: project %q", artifact.ErrNotFound, projectID)
	}
	for i := range r.manifest.Artifacts {
		a := &r.manifest.Artifacts[i]
		if a.Kind == kind && a.Name == name {
			d := deps
			a.Dependencies = &d
			a.CodeHash = codeHash
			return r.write()
		}
	}
	return fmt.Errorf("%w: %s:%s", artifact.ErrNotFound, kind, name)
}

// SaveDependenciesBatch implements artifact.BatchSaver. The manifest is
// rewritten once for the whole batch.
func (r *Repository) SaveDependenciesBatch(_ context.Context, projectID string, updates []artifact.DependencyUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.matches(projectID) {
		return fmt.Errorf("%w: project %q", artifact.ErrNotFound, projectID)
	}
	if len(updates) == 0 {
		return nil
	}
	pos := make(map[string]int, len(r.manifest.Artifacts))
	for i, a := range r.manifest.Artifacts {
		pos[string(a.Kind)+":"+a.Name] = i
	}
	targets := make([]int, len(updates))
	for j, u := range updates {
		i, ok := pos[string(u.Kind)+":"+u.Name]
		if !ok {
			return fmt.Errorf("%w: %s:%s", artifact.ErrNotFound, u.Kind, u.Name)
		}
		targets[j] = i
	}
	for j, u := range updates {
		a := &r.manifest.Artifacts[targets[j]]
		d := u.Deps
		a.Dependencies = &d
		a.CodeHash = u.CodeHash
	}
	return r.write()
}

// Ping implements artifact.Repository.
func (r *Repository) Ping(context.Context) error {
	_, err := os.Stat(r.path)
	return err
}

// Close implements artifact.Repository.
func (r *Repository) Close() error { return nil }

var (
	_ artifact.Repository = (*Repository)(nil)
	_ artifact.BatchSaver = (*Repository)(nil)
)
