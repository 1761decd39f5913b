package prompts

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// VersionInfo describes one registered template version.
type VersionInfo struct {
	Version            string             `json:"version"`
	CreatedAt          time.Time          `json:"created_at"`
	Description        string             `json:"description"`
	Author             string             `json:"author"`
	TemplateHash       string             `json:"template_hash"`
	PerformanceMetrics map[string]float64 `json:"performance_metrics"`
	IsActive           bool               `json:"is_active"`
	DeprecatedAt       *time.Time         `json:"deprecated_at,omitempty"`
}

// registryState is the shape persisted to versions.json.
type registryState struct {
	Versions       map[string]map[string]*VersionInfo `json:"versions"`
	ActiveVersions map[string]string                  `json:"active_versions"`
}

// Registry tracks every registered template version, persists metadata to
// <dir>/versions.json and template bodies to <dir>/<name>/<version>.txt.
// One version per template name is active at a time.
type Registry struct {
	dir string

	mu        sync.Mutex
	versions  map[string]map[string]*VersionInfo
	templates map[string]map[string]*Template
	active    map[string]string
}

// NewRegistry loads (or initializes) a registry rooted at dir.
func NewRegistry(dir string) (*Registry, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create prompt version directory: %w", err)
	}

	r := &Registry{
		dir:       dir,
		versions:  map[string]map[string]*VersionInfo{},
		templates: map[string]map[string]*Template{},
		active:    map[string]string{},
	}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

func templateHash(t *Template) string {
	sum := sha256.Sum256([]byte(t.Text + t.Name + t.Version))
	return hex.EncodeToString(sum[:])[:16]
}

// Register adds a template version. Re-registering the same (name, version)
// with identical content is a no-op; different content is an error.
func (r *Registry) Register(t *Template, description, author string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	hash := templateHash(t)

	if r.versions[t.Name] == nil {
		r.versions[t.Name] = map[string]*VersionInfo{}
		r.templates[t.Name] = map[string]*Template{}
	}

	if existing, ok := r.versions[t.Name][t.Version]; ok {
		if existing.TemplateHash != hash {
			return "", fmt.Errorf("version %s of %q already exists with different content", t.Version, t.Name)
		}
		return t.Version, nil
	}

	r.versions[t.Name][t.Version] = &VersionInfo{
		Version:            t.Version,
		CreatedAt:          time.Now(),
		Description:        description,
		Author:             author,
		TemplateHash:       hash,
		PerformanceMetrics: map[string]float64{},
		IsActive:           true,
	}
	r.templates[t.Name][t.Version] = t

	if _, ok := r.active[t.Name]; !ok {
		r.active[t.Name] = t.Version
	}

	return t.Version, r.save()
}

// Active returns the active version of a template, or nil.
func (r *Registry) Active(name string) *Template {
	r.mu.Lock()
	defer r.mu.Unlock()
	version, ok := r.active[name]
	if !ok {
		return nil
	}
	return r.templates[name][version]
}

// Get returns a specific version, or nil.
func (r *Registry) Get(name, version string) *Template {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.templates[name][version]
}

// SetActive switches the active version for a template name.
func (r *Registry) SetActive(name, version string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.versions[name][version]; !ok {
		return fmt.Errorf("template version %s:%s not found", name, version)
	}
	r.active[name] = version
	return r.save()
}

// Deprecate marks a version inactive; if it was active, the newest remaining
// non-deprecated version becomes active.
func (r *Registry) Deprecate(name, version, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.versions[name][version]
	if !ok {
		return fmt.Errorf("template version %s:%s not found", name, version)
	}
	now := time.Now()
	info.IsActive = false
	info.DeprecatedAt = &now
	if reason != "" {
		info.Description += " [DEPRECATED: " + reason + "]"
	}

	if r.active[name] == version {
		var newest *VersionInfo
		for _, candidate := range r.versions[name] {
			if !candidate.IsActive {
				continue
			}
			if newest == nil || candidate.CreatedAt.After(newest.CreatedAt) {
				newest = candidate
			}
		}
		if newest != nil {
			r.active[name] = newest.Version
		} else {
			delete(r.active, name)
		}
	}

	return r.save()
}

// RecordMetrics merges performance metrics into a version's record.
func (r *Registry) RecordMetrics(name, version string, metrics map[string]float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.versions[name][version]
	if !ok {
		return fmt.Errorf("template version %s:%s not found", name, version)
	}
	for k, v := range metrics {
		info.PerformanceMetrics[k] = v
	}
	return r.save()
}

// List returns version info for one template, newest first.
func (r *Registry) List(name string) []*VersionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*VersionInfo
	for _, info := range r.versions[name] {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Names returns every registered template name, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.versions))
	for name := range r.versions {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Compare reports field-by-field differences between two versions.
func (r *Registry) Compare(name, versionA, versionB string) (map[string]interface{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, okA := r.versions[name][versionA]
	b, okB := r.versions[name][versionB]
	if !okA || !okB {
		return nil, fmt.Errorf("both versions of %q must exist to compare", name)
	}

	return map[string]interface{}{
		"template":       name,
		"version_a":      a,
		"version_b":      b,
		"same_content":   a.TemplateHash == b.TemplateHash,
		"active_version": r.active[name],
	}, nil
}

func (r *Registry) versionsFile() string {
	return filepath.Join(r.dir, "versions.json")
}

func (r *Registry) save() error {
	state := registryState{Versions: r.versions, ActiveVersions: r.active}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(r.versionsFile(), data, 0o644); err != nil {
		return fmt.Errorf("failed to persist versions.json: %w", err)
	}

	for name, byVersion := range r.templates {
		dir := filepath.Join(r.dir, name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		for version, tpl := range byVersion {
			path := filepath.Join(dir, version+".txt")
			if _, err := os.Stat(path); err == nil {
				continue
			}
			if err := os.WriteFile(path, []byte(tpl.Text), 0o644); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Registry) load() error {
	data, err := os.ReadFile(r.versionsFile())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var state registryState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("corrupt versions.json: %w", err)
	}
	if state.Versions != nil {
		r.versions = state.Versions
	}
	if state.ActiveVersions != nil {
		r.active = state.ActiveVersions
	}

	for name, byVersion := range r.versions {
		r.templates[name] = map[string]*Template{}
		for version := range byVersion {
			body, err := os.ReadFile(filepath.Join(r.dir, name, version+".txt"))
			if err != nil {
				continue
			}
			r.templates[name][version] = NewTemplate(name, version, string(body))
		}
	}
	return nil
}
