package chat

import "time"

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// SearchResult is one web search hit attached to a message, in backend order.
type SearchResult struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	URL     string `json:"url"`
}

// Message is one immutable entry in a conversation transcript.
type Message struct {
	ID            string         `json:"id"`
	Role          string         `json:"role"`
	Content       string         `json:"content"`
	HasImage      bool           `json:"hasImage,omitempty"`
	SearchResults []SearchResult `json:"searchResults,omitempty"`
	Reasoning     string         `json:"reasoning,omitempty"`
	Model         string         `json:"model,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
}
