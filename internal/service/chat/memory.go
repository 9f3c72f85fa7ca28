package chat

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lumenchat/backend/internal/model/chat"
)

// MemoryStore implements Store with an in-memory map, suitable for tests
// and credential-free local runs.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]chat.Conversation
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{conversations: make(map[string]chat.Conversation)}
}

// CreateConversation stores a new conversation.
func (s *MemoryStore) CreateConversation(_ context.Context, conv chat.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[conv.ID] = conv
	return nil
}

// GetConversation retrieves a conversation by identity and owner.
func (s *MemoryStore) GetConversation(_ context.Context, id, userID string) (chat.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok || conv.UserID != userID {
		return chat.Conversation{}, ErrConversationNotFound
	}
	copied := conv
	copied.Messages = append([]chat.Message(nil), conv.Messages...)
	return copied, nil
}

// ListConversations returns summaries for the user, most recent first.
func (s *MemoryStore) ListConversations(_ context.Context, userID string) ([]chat.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	summaries := make([]chat.Summary, 0, len(s.conversations))
	for _, conv := range s.conversations {
		if conv.UserID != userID {
			continue
		}
		summaries = append(summaries, chat.Summary{ID: conv.ID, Title: conv.Title, UpdatedAt: conv.UpdatedAt})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})
	return summaries, nil
}

// AppendMessages appends messages to the conversation under one lock, so
// concurrent turns against the same conversation cannot lose updates.
func (s *MemoryStore) AppendMessages(_ context.Context, conversationID string, messages ...chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return ErrConversationNotFound
	}
	conv.Messages = append(conv.Messages, messages...)
	conv.UpdatedAt = time.Now().UTC()
	s.conversations[conversationID] = conv
	return nil
}

// DeleteConversation removes an owned conversation.
func (s *MemoryStore) DeleteConversation(_ context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok || conv.UserID != userID {
		return ErrConversationNotFound
	}
	delete(s.conversations, id)
	return nil
}
