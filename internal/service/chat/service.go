package chat

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lumenchat/backend/internal/model/chat"
)

var (
	ErrUserRequired         = errors.New("user id is required")
	ErrConversationNotFound = errors.New("conversation not found")
)

// Store is the persistence collaborator for conversations. AppendMessages
// must be atomic per conversation so concurrent turns against the same
// identity serialize in the store rather than in the pipeline.
type Store interface {
	CreateConversation(ctx context.Context, conv chat.Conversation) error
	GetConversation(ctx context.Context, id, userID string) (chat.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]chat.Summary, error)
	AppendMessages(ctx context.Context, conversationID string, messages ...chat.Message) error
	DeleteConversation(ctx context.Context, id, userID string) error
}

// Service encapsulates conversation state management over a Store.
type Service struct {
	store Store
}

// NewService wraps the supplied store.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Resolve loads the conversation by identity and owner, or lazily creates a
// new one titled from the initial user text when no identity is supplied or
// the supplied one is not found for this caller.
func (s *Service) Resolve(ctx context.Context, userID, conversationID, initialText string) (chat.Conversation, error) {
	if userID == "" {
		return chat.Conversation{}, ErrUserRequired
	}

	if conversationID != "" {
		conv, err := s.store.GetConversation(ctx, conversationID, userID)
		if err == nil {
			return conv, nil
		}
		if !errors.Is(err, ErrConversationNotFound) {
			return chat.Conversation{}, err
		}
	}

	now := time.Now().UTC()
	conv := chat.Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     chat.DeriveTitle(initialText),
		Messages:  make([]chat.Message, 0, 2),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return chat.Conversation{}, err
	}
	return conv, nil
}

// Append stamps identity and creation time onto the messages and appends
// them to the conversation in one atomic store operation.
func (s *Service) Append(ctx context.Context, conversationID string, messages ...chat.Message) error {
	if conversationID == "" {
		return ErrConversationNotFound
	}
	stamped := make([]chat.Message, len(messages))
	for i, msg := range messages {
		msg.ID = uuid.NewString()
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = time.Now().UTC()
		}
		stamped[i] = msg
	}
	return s.store.AppendMessages(ctx, conversationID, stamped...)
}

// Get retrieves an owned conversation with its full transcript.
func (s *Service) Get(ctx context.Context, id, userID string) (chat.Conversation, error) {
	return s.store.GetConversation(ctx, id, userID)
}

// List returns conversation summaries for the user, most recent first.
func (s *Service) List(ctx context.Context, userID string) ([]chat.Summary, error) {
	return s.store.ListConversations(ctx, userID)
}

// Delete removes an owned conversation.
func (s *Service) Delete(ctx context.Context, id, userID string) error {
	return s.store.DeleteConversation(ctx, id, userID)
}
