package session

import (
	"context"
	"sync"

	"blogfront/internal/auth/models"
)

// InMemoryStore keeps sessions in a process-local map using the same key
// layout as RedisStore. Scoped views created with WithScope share the map.
type InMemoryStore struct {
	shared *memoryData
	prefix string
	scope  string
}

type memoryData struct {
	mu   sync.RWMutex
	data map[string]string
}

// New returns an empty in-memory store bound to DefaultScope.
func New() *InMemoryStore {
	return &InMemoryStore{
		shared: &memoryData{data: make(map[string]string)},
		prefix: DefaultPrefix,
		scope:  DefaultScope,
	}
}

// WithScope returns a view of the same data bound to scope.
func (s *InMemoryStore) WithScope(scope string) *InMemoryStore {
	return &InMemoryStore{shared: s.shared, prefix: s.prefix, scope: scope}
}

func (s *InMemoryStore) Save(_ context.Context, token string, user models.User) error {
	userJSON, err := encode(token, user)
	if err != nil {
		return err
	}
	s.shared.mu.Lock()
	defer s.shared.mu.Unlock()
	s.shared.data[tokenKey(s.prefix, s.scope)] = token
	s.shared.data[userKey(s.prefix, s.scope)] = userJSON
	return nil
}

func (s *InMemoryStore) Load(_ context.Context) (*models.Session, error) {
	s.shared.mu.RLock()
	defer s.shared.mu.RUnlock()
	return decode(s.shared.data[tokenKey(s.prefix, s.scope)], s.shared.data[userKey(s.prefix, s.scope)]), nil
}

func (s *InMemoryStore) Clear(_ context.Context) error {
	s.shared.mu.Lock()
	defer s.shared.mu.Unlock()
	delete(s.shared.data, tokenKey(s.prefix, s.scope))
	delete(s.shared.data, userKey(s.prefix, s.scope))
	return nil
}

// Put writes a raw value under the scope's key for suffix ("token" or
// "user"), bypassing validation. Tests use it to seed partial or corrupted
// state.
func (s *InMemoryStore) Put(suffix, value string) {
	s.shared.mu.Lock()
	defer s.shared.mu.Unlock()
	s.shared.data[s.prefix+s.scope+":"+suffix] = value
}

// Len returns the number of raw keys held across all scopes.
func (s *InMemoryStore) Len() int {
	s.shared.mu.RLock()
	defer s.shared.mu.RUnlock()
	return len(s.shared.data)
}
