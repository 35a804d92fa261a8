package ml

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ArtifactVersion is one published artifact of a model.
type ArtifactVersion struct {
	Version   string             `json:"version"`
	Path      string             `json:"path"`
	RunID     string             `json:"run_id,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
	IsActive  bool               `json:"is_active"`
}

// ArtifactManager publishes versioned artifacts under an artifact root and
// keeps the active version at the path the Registry reads from.
type ArtifactManager struct {
	root         string
	versionsFile string
	now          func() time.Time

	mu       sync.Mutex
	versions map[string][]ArtifactVersion // newest first
}

// NewArtifactManager opens root, creating it if needed.
func NewArtifactManager(root string) (*ArtifactManager, error) {
	if err := os.MkdirAll(filepath.Join(root, "versions"), 0o755); err != nil {
		return nil, fmt.Errorf("create artifact root: %w", err)
	}
	m := &ArtifactManager{
		root:         root,
		versionsFile: filepath.Join(root, "model_versions.json"),
		now:          time.Now,
		versions:     make(map[string][]ArtifactVersion),
	}
	if err := m.loadVersions(); err != nil {
		log.Warn().Err(err).Msg("Failed to load model versions, starting fresh")
	}
	return m, nil
}

// Publish stores data as a new version of name and activates it.
func (m *ArtifactManager) Publish(name string, data []byte, metrics map[string]float64, runID string) (ArtifactVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	v := ArtifactVersion{
		Version:   fmt.Sprintf("%s.%d", now.Format("20060102-150405"), len(m.versions[name])+1),
		RunID:     runID,
		CreatedAt: now,
		Metrics:   metrics,
	}
	dir := filepath.Join(m.root, "versions", name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ArtifactVersion{}, err
	}
	v.Path = filepath.Join(dir, v.Version+".json")
	if err := os.WriteFile(v.Path, data, 0o644); err != nil {
		return ArtifactVersion{}, fmt.Errorf("write artifact version: %w", err)
	}

	list := append([]ArtifactVersion{v}, m.versions[name]...)
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	m.versions[name] = list
	if err := m.activate(name, v.Version); err != nil {
		return ArtifactVersion{}, err
	}
	return v, nil
}

// Activate makes version the live artifact of name.
func (m *ArtifactManager) Activate(name, version string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activate(name, version)
}

func (m *ArtifactManager) activate(name, version string) error {
	list := m.versions[name]
	idx := -1
	for i := range list {
		if list[i].Version == version {
			idx = i
		}
	}
	if idx == -1 {
		return fmt.Errorf("version %s of %s not found", version, name)
	}

	data, err := os.ReadFile(list[idx].Path)
	if err != nil {
		return fmt.Errorf("read artifact version: %w", err)
	}
	live := ArtifactPath(m.root, name)
	tmp := live + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, live); err != nil {
		return err
	}

	for i := range list {
		list[i].IsActive = i == idx
	}
	log.Info().Str("model", name).Str("version", version).Msg("Artifact version activated")
	return m.saveVersions()
}

// Rollback activates the version published before the active one.
func (m *ArtifactManager) Rollback(name string) (ArtifactVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.versions[name]
	if len(list) < 2 {
		return ArtifactVersion{}, fmt.Errorf("no previous version of %s available for rollback", name)
	}
	current := -1
	for i, v := range list {
		if v.IsActive {
			current = i
			break
		}
	}
	if current == -1 {
		return ArtifactVersion{}, fmt.Errorf("no active version of %s", name)
	}
	if current+1 >= len(list) {
		return ArtifactVersion{}, fmt.Errorf("no previous version of %s available", name)
	}
	prev := list[current+1]
	if err := m.activate(name, prev.Version); err != nil {
		return ArtifactVersion{}, err
	}
	prev.IsActive = true
	return prev, nil
}

// Active returns the live version of name.
func (m *ArtifactManager) Active(name string) (ArtifactVersion, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.versions[name] {
		if v.IsActive {
			return v, true
		}
	}
	return ArtifactVersion{}, false
}

// Versions lists the versions of name, newest first.
func (m *ArtifactManager) Versions(name string) []ArtifactVersion {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ArtifactVersion(nil), m.versions[name]...)
}

func (m *ArtifactManager) loadVersions() error {
	data, err := os.ReadFile(m.versionsFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, &m.versions)
}

func (m *ArtifactManager) saveVersions() error {
	data, err := json.MarshalIndent(m.versions, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.versionsFile, data, 0o600)
}
