package openrouter

import (
	"encoding/json"
	"fmt"
)

// Message is one entry of the completion context sent upstream. Plain text
// messages carry Content; multimodal messages carry Parts instead, which is
// what the wire format expects for vision prompts.
type Message struct {
	Role    string
	Content string
	Parts   []Part
}

// Part is one element of a multimodal message content array.
type Part struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL wraps an image reference, here always a base64 data URI.
type ImageURL struct {
	URL string `json:"url"`
}

// SystemMessage builds a system-role text message.
func SystemMessage(content string) Message {
	return Message{Role: "system", Content: content}
}

// UserMessage builds a user-role text message.
func UserMessage(content string) Message {
	return Message{Role: "user", Content: content}
}

// AssistantMessage builds an assistant-role text message.
func AssistantMessage(content string) Message {
	return Message{Role: "assistant", Content: content}
}

// TextPart builds a text element for a multimodal message.
func TextPart(text string) Part {
	return Part{Type: "text", Text: text}
}

// ImagePart builds an inline image element from raw bytes.
func ImagePart(mimeType string, base64Data string) Part {
	return Part{
		Type:     "image_url",
		ImageURL: &ImageURL{URL: fmt.Sprintf("data:%s;base64,%s", mimeType, base64Data)},
	}
}

// MarshalJSON emits either a string or a parts array for content,
// matching the OpenRouter chat completion schema.
func (m Message) MarshalJSON() ([]byte, error) {
	if len(m.Parts) > 0 {
		return json.Marshal(struct {
			Role    string `json:"role"`
			Content []Part `json:"content"`
		}{Role: m.Role, Content: m.Parts})
	}
	return json.Marshal(struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}{Role: m.Role, Content: m.Content})
}
