package chat

import "time"

// TitleLimit bounds the auto-derived conversation title length.
const TitleLimit = 50

// Conversation is an ordered, append-only message history owned by one user.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Summary is the projection returned by conversation listings.
type Summary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DeriveTitle builds a conversation title from the first user text,
// truncated with an ellipsis marker when it exceeds TitleLimit.
func DeriveTitle(text string) string {
	runes := []rune(text)
	if len(runes) <= TitleLimit {
		return text
	}
	return string(runes[:TitleLimit]) + "..."
}
