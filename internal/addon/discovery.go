package addon

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mattjoyce/addongw/internal/log"
)

const manifestFilename = "manifest.yaml"

// Discover scans addonsDir for subdirectories carrying a manifest.yaml and
// returns their manifests in directory order. Invalid manifests are logged
// and skipped; an unreadable root is fatal.
func Discover(addonsDir string) ([]*Manifest, error) {
	logger := log.WithComponent("addon")

	absRoot, err := filepath.Abs(addonsDir)
	if err != nil {
		return nil, fmt.Errorf("resolve addons dir %q: %w", addonsDir, err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("addons dir %s: %w", absRoot, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("addons dir is not a directory: %s", absRoot)
	}

	entries, err := os.ReadDir(absRoot)
	if err != nil {
		return nil, fmt.Errorf("read addons dir: %w", err)
	}

	var manifests []*Manifest
	seen := make(map[string]string)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(absRoot, entry.Name(), manifestFilename)
		if _, err := os.Stat(path); err != nil {
			continue
		}

		m, err := LoadManifest(path)
		if err != nil {
			logger.Warn("skipping invalid addon", "dir", entry.Name(), "error", err)
			continue
		}
		if prev, dup := seen[m.ID]; dup {
			logger.Warn("duplicate addon id, keeping first", "id", m.ID, "first", prev, "skipped", entry.Name())
			continue
		}
		seen[m.ID] = entry.Name()
		manifests = append(manifests, m)
		logger.Info("discovered addon", "id", m.ID, "type", m.Type, "version", m.Version)
	}

	return manifests, nil
}
