package pipeline

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/JonMunkholm/datastage/internal/tables"
	"github.com/JonMunkholm/datastage/internal/warehouse"
	"gopkg.in/yaml.v3"
)

// ManifestName is the manifest file written at the dataset root.
const ManifestName = "manifest.yaml"

// Manifest records what the last successful run produced.
type Manifest struct {
	RunID       string             `json:"run_id" yaml:"run_id"`
	Archive     string             `json:"archive" yaml:"archive"`
	GeneratedAt time.Time          `json:"generated_at" yaml:"generated_at"`
	Tables      []tables.TableFile `json:"tables" yaml:"tables"`
	Skipped     []string           `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Warehouse   []warehouse.Output `json:"warehouse,omitempty" yaml:"warehouse,omitempty"`
}

// WriteManifest writes m to <root>/manifest.yaml, replacing any previous one.
func WriteManifest(root string, m Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	path := filepath.Join(root, ManifestName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publish manifest: %w", err)
	}
	return nil
}

// ReadManifest loads <root>/manifest.yaml. It returns nil and no error when
// no run has completed yet.
func ReadManifest(root string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(root, ManifestName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &m, nil
}
