package modules

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Manifest describes one custom promise module: the promise type it
// handles, where its WASM binary lives, and what it is allowed to
// touch on the host.
type Manifest struct {
	Name         string   `yaml:"name"`
	Version      string   `yaml:"version"`
	PromiseType  string   `yaml:"promise_type"`
	Entrypoint   string   `yaml:"entrypoint"`
	Checksum     string   `yaml:"checksum,omitempty"`
	Capabilities []string `yaml:"capabilities,omitempty"`

	// wasmPath is Entrypoint resolved against the manifest's directory.
	wasmPath string
}

// Key identifies one module version for the registry.
func (m *Manifest) Key() string { return m.Name + "@" + m.Version }

// Loader loads module manifests from a directory tree: one
// subdirectory per module, each containing a manifest.yaml next to its
// compiled WASM entrypoint.
type Loader struct {
	BaseDir string
}

// NewLoader builds a Loader rooted at baseDir.
func NewLoader(baseDir string) *Loader {
	return &Loader{BaseDir: baseDir}
}

// LoadFromFile parses one manifest.yaml and resolves its WASM path.
func (l *Loader) LoadFromFile(path string) (*Manifest, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("modules: reading manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, nil, fmt.Errorf("modules: parsing manifest: %w", err)
	}
	if err := validate(&m); err != nil {
		return nil, nil, fmt.Errorf("modules: invalid manifest %s: %w", path, err)
	}

	if filepath.IsAbs(m.Entrypoint) {
		m.wasmPath = m.Entrypoint
	} else {
		m.wasmPath = filepath.Join(filepath.Dir(path), m.Entrypoint)
	}

	wasm, err := os.ReadFile(m.wasmPath)
	if err != nil {
		return nil, nil, fmt.Errorf("modules: reading WASM entrypoint %s: %w", m.wasmPath, err)
	}
	if m.Checksum != "" {
		if err := verifyChecksum(m.Checksum, wasm); err != nil {
			return nil, nil, fmt.Errorf("modules: %s: %w", m.Key(), err)
		}
	}
	return &m, wasm, nil
}

// ScanDirectory walks every immediate subdirectory of dir looking for
// a manifest.yaml, loading and returning each one found. A subdirectory
// that fails to load is skipped with its error reported through errFn
// rather than aborting the whole scan.
func (l *Loader) ScanDirectory(dir string, errFn func(path string, err error)) ([]*Manifest, [][]byte, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("modules: scanning %s: %w", dir, err)
	}

	var manifests []*Manifest
	var wasms [][]byte
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		manifestPath := filepath.Join(dir, entry.Name(), "manifest.yaml")
		if _, err := os.Stat(manifestPath); err != nil {
			continue
		}
		m, wasm, err := l.LoadFromFile(manifestPath)
		if err != nil {
			if errFn != nil {
				errFn(manifestPath, err)
			}
			continue
		}
		manifests = append(manifests, m)
		wasms = append(wasms, wasm)
	}
	return manifests, wasms, nil
}

func validate(m *Manifest) error {
	if m.Name == "" {
		return fmt.Errorf("name is required")
	}
	if m.Version == "" {
		return fmt.Errorf("version is required")
	}
	if m.PromiseType == "" {
		return fmt.Errorf("promise_type is required")
	}
	if m.Entrypoint == "" {
		return fmt.Errorf("entrypoint is required")
	}
	return nil
}

func verifyChecksum(want string, wasm []byte) error {
	sum := sha256.Sum256(wasm)
	got := hex.EncodeToString(sum[:])
	if got != want {
		return fmt.Errorf("WASM checksum mismatch: expected %s, got %s", want, got)
	}
	return nil
}
