package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const credsFile = "creds.json"

// CredStore persists gateway session credentials to a local directory so the
// operator does not have to re-scan the pairing code after a restart.
type CredStore struct {
	dir string
}

// NewCredStore creates the credential directory if needed.
func NewCredStore(dir string) (*CredStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create auth directory: %w", err)
	}
	return &CredStore{dir: dir}, nil
}

// Load returns the stored credential blob, or nil when no session has been
// paired yet.
func (s *CredStore) Load() (json.RawMessage, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, credsFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	return json.RawMessage(data), nil
}

// Save replaces the stored credential blob. The gateway pushes updated
// credentials during a session; the latest blob always wins.
func (s *CredStore) Save(creds json.RawMessage) error {
	path := filepath.Join(s.dir, credsFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, creds, 0600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace credentials: %w", err)
	}
	return nil
}
