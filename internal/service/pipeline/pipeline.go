// Package pipeline orchestrates one chat turn: capability gating, optional
// web search, an optional reasoning pre-pass, the streamed answer call, and
// finalization of the conversation transcript.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"regexp"
	"strings"

	"github.com/lumenchat/backend/internal/model/ai"
	"github.com/lumenchat/backend/internal/model/chat"
	"github.com/lumenchat/backend/internal/service/openrouter"
	"github.com/lumenchat/backend/internal/service/search"
)

// Validation failures. Reported before any event stream opens.
var (
	ErrEmptyTurn          = errors.New("a message or image is required")
	ErrUnknownModel       = errors.New("invalid model selected")
	ErrCapabilityMismatch = errors.New("selected model does not support image analysis")
)

const (
	answerSystemPrompt = "You are an expert assistant. Your response must be in English. " +
		"Provide a comprehensive, well-structured, and expertly written response in clean, " +
		"well-formatted Markdown. Include code blocks, lists, and bold text where appropriate. " +
		"Do not include the reasoning tags in your final output."

	defaultVisionPrompt = "Describe this image in detail. Respond in English."

	// fallbackReasoning substitutes for a reasoning response without the
	// expected marker pair; marker absence never fails the turn.
	fallbackReasoning = "Starting analysis..."

	visionMaxTokens = 2000

	clientErrorMessage = "An error occurred while processing your request."
)

var reasoningPattern = regexp.MustCompile(`(?s)<reasoning>(.*?)</reasoning>`)

// Turn is one user request against a conversation.
type Turn struct {
	UserID           string
	ConversationID   string
	Text             string
	ImageBase64      string
	ImageMime        string
	ImageName        string
	ModelKey         string
	SearchEnabled    bool
	ReasoningEnabled bool
}

// HasImage reports whether an image is attached.
func (t Turn) HasImage() bool {
	return t.ImageBase64 != ""
}

// FrameStream is a lazy, finite, non-restartable sequence of raw wire frames.
type FrameStream interface {
	Next() (string, error)
	Close() error
}

// Backend is the remote completion service consumed by the pipeline.
type Backend interface {
	Complete(ctx context.Context, model string, messages []openrouter.Message, opts openrouter.Options) (string, error)
	StreamComplete(ctx context.Context, model string, messages []openrouter.Message, opts openrouter.Options) (FrameStream, error)
}

// Searcher is the web search collaborator.
type Searcher interface {
	Search(ctx context.Context, query string, opts search.Options) ([]chat.SearchResult, error)
}

// Conversations is the persistence collaborator. Appends must be atomic per
// conversation; the pipeline itself never coordinates concurrent turns.
type Conversations interface {
	Resolve(ctx context.Context, userID, conversationID, initialText string) (chat.Conversation, error)
	Append(ctx context.Context, conversationID string, messages ...chat.Message) error
}

// openrouterBackend adapts *openrouter.Client to the Backend interface.
type openrouterBackend struct {
	client *openrouter.Client
}

// NewOpenRouterBackend wraps the concrete client for pipeline use.
func NewOpenRouterBackend(client *openrouter.Client) Backend {
	return openrouterBackend{client: client}
}

func (b openrouterBackend) Complete(ctx context.Context, model string, messages []openrouter.Message, opts openrouter.Options) (string, error) {
	return b.client.Complete(ctx, model, messages, opts)
}

func (b openrouterBackend) StreamComplete(ctx context.Context, model string, messages []openrouter.Message, opts openrouter.Options) (FrameStream, error) {
	stream, err := b.client.StreamComplete(ctx, model, messages, opts)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

// Pipeline sequences one turn end to end. It holds no per-turn state; every
// in-flight turn runs on its own goroutine with its own sink.
type Pipeline struct {
	registry       ai.Registry
	backend        Backend
	searcher       Searcher
	conversations  Conversations
	reasoningModel string
}

// New wires the orchestrator. reasoningModel is the backend-native
// identifier used for the reasoning pre-pass.
func New(registry ai.Registry, backend Backend, searcher Searcher, conversations Conversations, reasoningModel string) *Pipeline {
	return &Pipeline{
		registry:       registry,
		backend:        backend,
		searcher:       searcher,
		conversations:  conversations,
		reasoningModel: reasoningModel,
	}
}

// Validate gates a turn before any stream or backend call. Callers must
// report failures as plain responses, never over an event stream.
func (p *Pipeline) Validate(turn Turn) (ai.Descriptor, error) {
	if strings.TrimSpace(turn.Text) == "" && !turn.HasImage() {
		return ai.Descriptor{}, ErrEmptyTurn
	}
	desc, ok := p.registry.Lookup(turn.ModelKey)
	if !ok {
		return ai.Descriptor{}, ErrUnknownModel
	}
	if turn.HasImage() && !desc.Supports(ai.CapVision) {
		return ai.Descriptor{}, ErrCapabilityMismatch
	}
	return desc, nil
}

// VisionResult is the synchronous answer of an image turn.
type VisionResult struct {
	ConversationID string `json:"conversationId"`
	Message        string `json:"message"`
}

// RunVision handles the image branch: one blocking completion, no event
// stream.
func (p *Pipeline) RunVision(ctx context.Context, turn Turn) (VisionResult, error) {
	desc, err := p.Validate(turn)
	if err != nil {
		return VisionResult{}, err
	}

	userText := turn.Text
	if strings.TrimSpace(userText) == "" {
		userText = "Image analysis"
	}
	conv, err := p.conversations.Resolve(ctx, turn.UserID, turn.ConversationID, userText)
	if err != nil {
		return VisionResult{}, err
	}

	userContent := turn.Text
	if strings.TrimSpace(userContent) == "" {
		userContent = fmt.Sprintf("[Image Uploaded: %s]", turn.ImageName)
	}
	if err := p.conversations.Append(ctx, conv.ID, chat.Message{
		Role:     chat.RoleUser,
		Content:  userContent,
		HasImage: true,
	}); err != nil {
		return VisionResult{}, err
	}

	prompt := turn.Text
	if strings.TrimSpace(prompt) == "" {
		prompt = defaultVisionPrompt
	}
	answer, err := p.backend.Complete(ctx, desc.Model, []openrouter.Message{{
		Role: "user",
		Parts: []openrouter.Part{
			openrouter.TextPart(prompt),
			openrouter.ImagePart(turn.ImageMime, turn.ImageBase64),
		},
	}}, openrouter.Options{MaxTokens: visionMaxTokens})
	if err != nil {
		return VisionResult{}, err
	}

	if err := p.conversations.Append(ctx, conv.ID, chat.Message{
		Role:    chat.RoleAssistant,
		Content: answer,
		Model:   turn.ModelKey,
	}); err != nil {
		return VisionResult{}, err
	}
	return VisionResult{ConversationID: conv.ID, Message: answer}, nil
}

// stage is one optional step of the text pipeline, evaluated in declaration
// order by a single loop.
type stage struct {
	step    string
	enabled bool
	run     func(ctx context.Context) error
}

// Run handles the text branch against an already-opened sink. Events are
// emitted in stage order; the sink is closed exactly once before Run
// returns, whichever path terminates the turn.
func (p *Pipeline) Run(ctx context.Context, turn Turn, sink Sink) error {
	defer sink.Close()

	desc, err := p.Validate(turn)
	if err != nil {
		// Callers validate before opening the sink; failing here means the
		// turn raced a registry change, so report it on the stream.
		return p.fail(sink, err)
	}

	conv, err := p.conversations.Resolve(ctx, turn.UserID, turn.ConversationID, turn.Text)
	if err != nil {
		return p.fail(sink, fmt.Errorf("resolve conversation: %w", err))
	}
	// The user message lands before any backend call so the transcript
	// reflects the attempt even if the turn fails downstream.
	if err := p.conversations.Append(ctx, conv.ID, chat.Message{
		Role:    chat.RoleUser,
		Content: turn.Text,
	}); err != nil {
		return p.fail(sink, fmt.Errorf("append user message: %w", err))
	}

	if err := sink.Send(metadataEvent(conv.ID)); err != nil {
		return fmt.Errorf("send metadata: %w", err)
	}

	var (
		results          []chat.SearchResult
		reasoningSummary string
	)
	stages := []stage{
		{
			step:    "Searching the web...",
			enabled: turn.SearchEnabled,
			run: func(ctx context.Context) error {
				found, err := p.searcher.Search(ctx, turn.Text, search.Options{})
				if err != nil {
					if errors.Is(err, search.ErrNotConfigured) {
						// The feature was explicitly requested; a missing
						// credential is an operator error, not a miss.
						return err
					}
					log.Printf("[pipeline] search degraded to empty results: %v", err)
				}
				results = found
				return sink.Send(searchResultsEvent(results))
			},
		},
		{
			step:    "Reasoning about the answer...",
			enabled: turn.ReasoningEnabled,
			run: func(ctx context.Context) error {
				prompt := reasoningPrompt(turn.Text, results)
				raw, err := p.backend.Complete(ctx, p.reasoningModel, []openrouter.Message{openrouter.UserMessage(prompt)}, openrouter.Options{})
				if err != nil {
					return fmt.Errorf("reasoning call: %w", err)
				}
				reasoningSummary = extractReasoning(raw)
				return sink.Send(reasoningEvent(reasoningSummary))
			},
		},
	}
	for _, st := range stages {
		if !st.enabled {
			continue
		}
		if err := sink.Send(thinkingEvent(st.step)); err != nil {
			return fmt.Errorf("send thinking: %w", err)
		}
		if err := st.run(ctx); err != nil {
			return p.fail(sink, err)
		}
	}

	stream, err := p.backend.StreamComplete(ctx, desc.Model, answerContext(turn.Text, results, reasoningSummary), openrouter.Options{})
	if err != nil {
		return p.fail(sink, fmt.Errorf("open answer stream: %w", err))
	}
	defer stream.Close()

	var answer strings.Builder
	terminated := false
	for !terminated {
		frame, err := stream.Next()
		if err != nil {
			if err == io.EOF {
				break
			}
			return p.fail(sink, fmt.Errorf("read answer stream: %w", err))
		}
		token, kind := openrouter.DecodeFrame(frame)
		switch kind {
		case openrouter.FrameToken:
			answer.WriteString(token)
			if err := sink.Send(tokenEvent(token)); err != nil {
				return fmt.Errorf("send token: %w", err)
			}
		case openrouter.FrameDone:
			terminated = true
		}
	}

	if !terminated {
		// Transport cut before the terminator: the partial accumulator is
		// discarded, never persisted.
		log.Printf("[pipeline] answer stream for conversation=%s cut before terminator, discarding %d chars", conv.ID, answer.Len())
		return p.fail(sink, errors.New("answer stream ended before terminator"))
	}

	if err := sink.Send(doneEvent()); err != nil {
		return fmt.Errorf("send done: %w", err)
	}

	assistant := chat.Message{
		Role:      chat.RoleAssistant,
		Content:   answer.String(),
		Reasoning: reasoningSummary,
		Model:     turn.ModelKey,
	}
	if turn.SearchEnabled {
		assistant.SearchResults = results
	}
	if err := p.conversations.Append(ctx, conv.ID, assistant); err != nil {
		log.Printf("[pipeline] failed to persist assistant message for conversation=%s: %v", conv.ID, err)
		return fmt.Errorf("append assistant message: %w", err)
	}

	log.Printf("[pipeline] completed turn for conversation=%s model=%s length=%d", conv.ID, turn.ModelKey, answer.Len())
	return nil
}

// fail emits the single terminal error event and surfaces the cause to the
// caller for logging. The generic client message never leaks internals.
func (p *Pipeline) fail(sink Sink, err error) error {
	log.Printf("[pipeline] turn failed: %v", err)
	if sendErr := sink.Send(errorEvent(clientErrorMessage)); sendErr != nil {
		log.Printf("[pipeline] failed to deliver error event: %v", sendErr)
	}
	return err
}

func reasoningPrompt(userText string, results []chat.SearchResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User's query: %q\n", userText)
	if len(results) > 0 {
		serialized, err := json.Marshal(results)
		if err == nil {
			fmt.Fprintf(&b, "Search results to consider: %s\n", serialized)
		}
	}
	b.WriteString("Think step-by-step about how to provide the best possible answer in English. ")
	b.WriteString("Consider the user's intent, key topics, and the ideal structure for the response ")
	b.WriteString("(e.g., explanation, code examples, summary).\n")
	b.WriteString("Wrap your entire thought process in <reasoning> XML tags.")
	return b.String()
}

// extractReasoning pulls the summary between the reasoning markers,
// substituting a fixed placeholder when the markers are absent.
func extractReasoning(raw string) string {
	match := reasoningPattern.FindStringSubmatch(raw)
	if match == nil {
		return fallbackReasoning
	}
	return strings.TrimSpace(match[1])
}

// answerContext builds the final completion context in fixed order: system
// instruction, optional search context, optional reasoning plan, user text.
func answerContext(userText string, results []chat.SearchResult, reasoningSummary string) []openrouter.Message {
	messages := make([]openrouter.Message, 0, 4)
	messages = append(messages, openrouter.SystemMessage(answerSystemPrompt))
	if len(results) > 0 {
		if serialized, err := json.Marshal(results); err == nil {
			messages = append(messages, openrouter.SystemMessage(
				"Web search results relevant to the user's query: "+string(serialized)))
		}
	}
	if reasoningSummary != "" {
		messages = append(messages, openrouter.UserMessage(
			"Based on the user's query and this reasoning plan, provide the final answer.\n\nREASONING PLAN:\n"+reasoningSummary))
	}
	messages = append(messages, openrouter.UserMessage(userText))
	return messages
}
