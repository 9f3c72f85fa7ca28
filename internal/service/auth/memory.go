package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/lumenchat/backend/internal/model/user"
)

// MemoryStore implements UserStore with in-memory maps, suitable for tests
// and credential-free local runs.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]user.User
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]user.User)}
}

// CreateUser stores a new account.
func (s *MemoryStore) CreateUser(_ context.Context, u user.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	return nil
}

// GetUserByID retrieves an account by identity.
func (s *MemoryStore) GetUserByID(_ context.Context, id string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return user.User{}, ErrUserNotFound
	}
	return u, nil
}

// GetUserByEmail retrieves an account by email.
func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return user.User{}, ErrUserNotFound
}

// UserExists reports whether the username or email is already taken.
func (s *MemoryStore) UserExists(_ context.Context, username, email string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Username, username) || u.Email == email {
			return true, nil
		}
	}
	return false, nil
}

// UpdateUsage records the daily call counter and last-call timestamp.
func (s *MemoryStore) UpdateUsage(_ context.Context, id string, apiCalls int, lastCall time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.APICalls = apiCalls
	u.LastAPICall = lastCall
	s.users[id] = u
	return nil
}
