package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	profileFileName = "profile.json"
	appDirName      = "kuntur"
)

// Store persists the registered profile.
type Store interface {
	Load() (*Profile, error)
	Save(p *Profile) error
	Clear() error
}

// FileStore keeps the profile as JSON in a single file. It is loaded from
// ~/.local/state/kuntur/profile.json by default (respecting XDG_STATE_HOME).
type FileStore struct {
	path string
}

// NewFileStore returns a store for path. An empty path uses the default
// XDG state location.
func NewFileStore(path string) *FileStore {
	if path == "" {
		path = filepath.Join(defaultStateDir(), profileFileName)
	}
	return &FileStore{path: path}
}

func (s *FileStore) Path() string { return s.path }

// Load returns the stored profile, or nil when none has been saved.
func (s *FileStore) Load() (*Profile, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading profile: %w", err)
	}

	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing profile: %w", err)
	}
	return &p, nil
}

// Save writes the profile using an atomic temp-file-then-rename. The
// directory is created if it does not already exist.
func (s *FileStore) Save(p *Profile) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating profile dir: %w", err)
	}

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling profile: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(dir, ".profile-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("renaming profile file: %w", err)
	}
	committed = true

	return nil
}

// Clear removes the stored profile. Clearing an empty store is not an error.
func (s *FileStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing profile: %w", err)
	}
	return nil
}

func defaultStateDir() string {
	if base := os.Getenv("XDG_STATE_HOME"); base != "" {
		return filepath.Join(base, appDirName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, ".local", "state", appDirName)
}
