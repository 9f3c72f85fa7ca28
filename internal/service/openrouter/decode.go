package openrouter

import (
	"encoding/json"
	"strings"
)

// doneSentinel is the backend's authoritative end-of-stream marker. After
// it arrives no further frames carry content, even if the transport stays
// open briefly longer.
const doneSentinel = "[DONE]"

// FrameKind classifies one decoded wire frame.
type FrameKind int

const (
	// FrameSkip marks a frame carrying nothing: blank lines, non-data
	// fields, malformed JSON, or deltas without content.
	FrameSkip FrameKind = iota
	// FrameToken carries an incremental text token.
	FrameToken
	// FrameDone is the terminator sentinel.
	FrameDone
)

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// DecodeFrame parses one raw line of the backend's SSE framing into a text
// token or a termination signal. Callers buffer until a full line is
// available; everything unparseable decodes to FrameSkip, never an error.
func DecodeFrame(line string) (string, FrameKind) {
	line = strings.TrimRight(line, "\r")
	if !strings.HasPrefix(line, "data:") {
		return "", FrameSkip
	}

	data := strings.TrimSpace(line[len("data:"):])
	if data == "" {
		return "", FrameSkip
	}
	if data == doneSentinel {
		return "", FrameDone
	}

	var chunk streamChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return "", FrameSkip
	}
	if len(chunk.Choices) == 0 {
		return "", FrameSkip
	}
	token := chunk.Choices[0].Delta.Content
	if token == "" {
		return "", FrameSkip
	}
	return token, FrameToken
}
