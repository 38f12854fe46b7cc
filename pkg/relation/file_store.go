package relation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/canonical/kafkacl/pkg/errors"
	"github.com/canonical/kafkacl/pkg/json"
)

// FileStore implements Store on the local filesystem.
//
// Layout:
//
//	<dir>/relation-<id>.json         plain fields, 0644
//	<dir>/relation-<id>.secret.json  secret fields, 0600
type FileStore struct {
	dir     string
	secrets map[string]bool

	mu sync.Mutex
}

// NewFileStore creates a store in dir, creating it if needed. Fields named in
// secretFields go to the secret document.
func NewFileStore(dir string, secretFields ...string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStore, "failed to create store dir").
			WithDetail("dir", dir)
	}
	return &FileStore{dir: dir, secrets: toSet(secretFields)}, nil
}

// IsSecret reports whether field is stored as a secret
func (s *FileStore) IsSecret(field string) bool {
	return s.secrets[field]
}

func (s *FileStore) path(relationID int, secret bool) string {
	if secret {
		return filepath.Join(s.dir, fmt.Sprintf("relation-%d.secret.json", relationID))
	}
	return filepath.Join(s.dir, fmt.Sprintf("relation-%d.json", relationID))
}

func (s *FileStore) read(relationID int, secret bool) (map[string]string, error) {
	fields := map[string]string{}
	data, err := os.ReadFile(s.path(relationID, secret))
	if os.IsNotExist(err) {
		return fields, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStore, "failed to read relation data")
	}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStore, "corrupt relation data").
			WithDetail("path", s.path(relationID, secret))
	}
	return fields, nil
}

// write replaces a document atomically (temp file + rename)
func (s *FileStore) write(relationID int, secret bool, fields map[string]string) error {
	path := s.path(relationID, secret)
	if len(fields) == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, errors.ErrorTypeStore, "failed to remove relation data")
		}
		return nil
	}

	data, err := json.Marshal(fields)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeStore, "failed to encode relation data")
	}

	perm := os.FileMode(0o644)
	if secret {
		perm = 0o600
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return errors.Wrap(err, errors.ErrorTypeStore, "failed to write relation data")
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrap(err, errors.ErrorTypeStore, "failed to rename relation data")
	}
	return nil
}

// Get implements Store
func (s *FileStore) Get(_ context.Context, relationID int, field string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fields, err := s.read(relationID, s.secrets[field])
	if err != nil {
		return "", false, err
	}
	v, ok := fields[field]
	return v, ok, nil
}

// All implements Store
func (s *FileStore) All(_ context.Context, relationID int) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	plain, err := s.read(relationID, false)
	if err != nil {
		return nil, err
	}
	secret, err := s.read(relationID, true)
	if err != nil {
		return nil, err
	}
	for k, v := range secret {
		plain[k] = v
	}
	return plain, nil
}

// Set implements Store
func (s *FileStore) Set(_ context.Context, relationID int, fields map[string]string) error {
	return s.update(relationID, func(doc map[string]string, secret bool) bool {
		changed := false
		for k, v := range fields {
			if s.secrets[k] == secret {
				doc[k] = v
				changed = true
			}
		}
		return changed
	})
}

// Delete implements Store
func (s *FileStore) Delete(_ context.Context, relationID int, fields ...string) error {
	return s.update(relationID, func(doc map[string]string, secret bool) bool {
		changed := false
		for _, f := range fields {
			if _, ok := doc[f]; ok && s.secrets[f] == secret {
				delete(doc, f)
				changed = true
			}
		}
		return changed
	})
}

func (s *FileStore) update(relationID int, fn func(doc map[string]string, secret bool) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, secret := range []bool{false, true} {
		doc, err := s.read(relationID, secret)
		if err != nil {
			return err
		}
		if !fn(doc, secret) {
			continue
		}
		if err := s.write(relationID, secret, doc); err != nil {
			return err
		}
	}
	return nil
}
