package addon

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/addongw/internal/cache"
)

// Manifest describes a declarative addon loaded from manifest.yaml. It
// doubles as the descriptor served by the "addon" action.
type Manifest struct {
	ID          string        `yaml:"id" json:"id"`
	Type        string        `yaml:"type" json:"type"`
	Name        string        `yaml:"name" json:"name"`
	Version     string        `yaml:"version" json:"version"`
	Description string        `yaml:"description,omitempty" json:"description,omitempty"`
	Actions     []string      `yaml:"actions" json:"actions"`
	CacheTTL    time.Duration `yaml:"cache_ttl,omitempty" json:"-"`
}

// LoadManifest reads and parses a manifest.yaml file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return &m, nil
}

func (m *Manifest) validate() error {
	if m.ID == "" {
		return fmt.Errorf("id is required")
	}
	if !idPattern.MatchString(m.ID) {
		return fmt.Errorf("id %q is not a valid slug", m.ID)
	}
	if !validType(m.Type) {
		return fmt.Errorf("type %q is unknown", m.Type)
	}
	if m.Version == "" {
		return fmt.Errorf("version is required")
	}
	return nil
}

// SupportsAction reports whether the manifest declares action.
func (m *Manifest) SupportsAction(action string) bool {
	for _, a := range m.Actions {
		if a == action {
			return true
		}
	}
	return false
}

// Descriptor builds a descriptor addon from the manifest: it serves the
// "addon" action with the manifest itself, so clients can fetch addon
// metadata without authentication.
func (m *Manifest) Descriptor() *Basic {
	b := NewBasic(m.ID, m.Type)
	b.SetDefaultCacheOptions(cache.Options{TTL: m.CacheTTL})
	b.HandleFunc(ActionAddon, func(_ context.Context, _ any, _ *Context) (any, error) {
		return m, nil
	})
	return b
}

// NewRepository assembles a repository addon that lists the given manifests
// through the "repository" action and describes itself through "addon".
func NewRepository(id, name string, children []*Manifest) *Basic {
	self := &Manifest{
		ID:      id,
		Type:    TypeRepository,
		Name:    name,
		Version: "1.0.0",
		Actions: []string{ActionAddon, ActionRepository},
	}

	b := NewBasic(id, TypeRepository)
	b.HandleFunc(ActionAddon, func(_ context.Context, _ any, _ *Context) (any, error) {
		return self, nil
	})
	b.HandleFunc(ActionRepository, func(_ context.Context, _ any, _ *Context) (any, error) {
		return children, nil
	})
	return b
}
