package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/oauth2"
)

// FilePerms restricts state files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the state directory.
const DirPerms = 0o700

// fileState is the on-disk format of a FileStore.
type fileState struct {
	Token       *oauth2.Token     `json:"token,omitempty"`
	Client      ClientCredentials `json:"client"`
	FolderCache FolderCache       `json:"folder_cache,omitempty"`
}

// FileStore keeps all state in a single JSON document, rewritten atomically
// on every change. A missing file reads as empty state.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a FileStore backed by the JSON file at path. The file
// and its directory are created on the first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load()
	if err != nil {
		return nil, err
	}

	return st.Token, nil
}

func (s *FileStore) SaveToken(tok *oauth2.Token) error {
	return s.update(func(st *fileState) {
		st.Token = tok
	})
}

func (s *FileStore) ClearToken() error {
	return s.update(func(st *fileState) {
		st.Token = nil
	})
}

func (s *FileStore) ClientCredentials() (ClientCredentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load()
	if err != nil {
		return ClientCredentials{}, err
	}

	return st.Client, nil
}

func (s *FileStore) SaveClientCredentials(creds ClientCredentials) error {
	return s.update(func(st *fileState) {
		st.Client = creds
	})
}

func (s *FileStore) FolderCache() (FolderCache, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load()
	if err != nil {
		return nil, err
	}

	return st.FolderCache.Clone(), nil
}

func (s *FileStore) SaveFolderCache(cache FolderCache) error {
	return s.update(func(st *fileState) {
		st.FolderCache = cache.Clone()
	})
}

// Close is a no-op; every write is already durable.
func (s *FileStore) Close() error {
	return nil
}

// update applies fn to the current state and writes the result. The mutex
// covers the whole read-modify-write so concurrent updates never interleave.
func (s *FileStore) update(fn func(st *fileState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load()
	if err != nil {
		return err
	}

	fn(st)

	return s.save(st)
}

func (s *FileStore) load() (*fileState, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return &fileState{}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("store: reading %s: %w", s.path, err)
	}

	var st fileState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("store: decoding %s: %w", s.path, err)
	}

	return &st, nil
}

// save writes the state atomically (write-to-temp + rename) with 0600
// permissions. Never logs token values.
func (s *FileStore) save(st *fileState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encoding: %w", err)
	}

	dir := filepath.Dir(s.path)
	if mkErr := os.MkdirAll(dir, DirPerms); mkErr != nil {
		return fmt.Errorf("store: creating directory %s: %w", dir, mkErr)
	}

	// Same directory guarantees same filesystem for rename(2).
	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("store: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("store: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("store: writing: %w", err)
	}

	// Flush before rename so a power loss cannot leave a partial file at the
	// final path.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("store: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: closing: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("store: renaming: %w", err)
	}

	success = true

	return nil
}
