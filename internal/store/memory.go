package store

import (
	"sync"

	"golang.org/x/oauth2"
)

// MemoryStore keeps state in process memory. Useful for embedders that
// manage persistence themselves, and for tests.
type MemoryStore struct {
	mu     sync.Mutex
	token  *oauth2.Token
	client ClientCredentials
	cache  FolderCache
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cache: make(FolderCache)}
}

func (m *MemoryStore) Token() (*oauth2.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token == nil {
		return nil, nil //nolint:nilnil // sentinel for "not stored"
	}

	tok := *m.token

	return &tok, nil
}

func (m *MemoryStore) SaveToken(tok *oauth2.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tok == nil {
		m.token = nil
		return nil
	}

	cp := *tok
	m.token = &cp

	return nil
}

func (m *MemoryStore) ClearToken() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.token = nil

	return nil
}

func (m *MemoryStore) ClientCredentials() (ClientCredentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.client, nil
}

func (m *MemoryStore) SaveClientCredentials(creds ClientCredentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.client = creds

	return nil
}

func (m *MemoryStore) FolderCache() (FolderCache, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.cache.Clone(), nil
}

func (m *MemoryStore) SaveFolderCache(cache FolderCache) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cache = cache.Clone()

	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
