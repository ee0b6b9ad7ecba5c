package persistence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/cachewire/cachewire-go/pkg/engine"
)

// stateVersion is bumped when the file layout changes. Files with a
// different version are ignored on load.
const stateVersion = 1

type stateFile struct {
	Version   int                `json:"version"`
	SavedAt   time.Time          `json:"savedAt"`
	Mutations []*engine.Mutation `json:"mutations"`
}

// Save writes the mutation queue to path, creating parent directories
// as needed. An empty queue removes the file.
func Save(path string, mutations []*engine.Mutation) error {
	if len(mutations) == 0 {
		err := os.Remove(path)
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(stateFile{
		Version:   stateVersion,
		SavedAt:   time.Now(),
		Mutations: mutations,
	}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Load reads the mutation queue from path. A missing, unreadable, or
// version-mismatched file yields an empty queue and no error.
func Load(path string) ([]*engine.Mutation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var state stateFile
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, nil
	}
	if state.Version != stateVersion {
		return nil, nil
	}
	return state.Mutations, nil
}
