package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/lumenchat/backend/internal/model/ai"
	"github.com/lumenchat/backend/internal/model/chat"
	chatservice "github.com/lumenchat/backend/internal/service/chat"
	"github.com/lumenchat/backend/internal/service/openrouter"
	"github.com/lumenchat/backend/internal/service/search"
)

func testRegistry() ai.Registry {
	return ai.NewStaticRegistry([]ai.Descriptor{
		{Key: "m1", Name: "Model One", Model: "test/model-1", Capabilities: []ai.Capability{ai.CapText}},
		{Key: "mv", Name: "Vision Model", Model: "test/vision", Capabilities: []ai.Capability{ai.CapText, ai.CapVision}},
	})
}

type fakeStream struct {
	frames []string
	idx    int
	// endErr is returned after the frames run out; io.EOF models a clean
	// transport close, anything else a connection drop.
	endErr error
	closed bool
}

func (s *fakeStream) Next() (string, error) {
	if s.idx >= len(s.frames) {
		return "", s.endErr
	}
	frame := s.frames[s.idx]
	s.idx++
	return frame, nil
}

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

type fakeBackend struct {
	completeResponse string
	completeErr      error
	completeCalls    []string // prompts of blocking calls
	completeModels   []string

	stream        *fakeStream
	streamOpenErr error
	streamModel   string
	streamContext []openrouter.Message
	streamCalls   int
}

func (b *fakeBackend) Complete(_ context.Context, model string, messages []openrouter.Message, _ openrouter.Options) (string, error) {
	prompt := ""
	if len(messages) > 0 {
		prompt = messages[len(messages)-1].Content
	}
	b.completeCalls = append(b.completeCalls, prompt)
	b.completeModels = append(b.completeModels, model)
	return b.completeResponse, b.completeErr
}

func (b *fakeBackend) StreamComplete(_ context.Context, model string, messages []openrouter.Message, _ openrouter.Options) (FrameStream, error) {
	b.streamCalls++
	b.streamModel = model
	b.streamContext = messages
	if b.streamOpenErr != nil {
		return nil, b.streamOpenErr
	}
	return b.stream, nil
}

type fakeSearcher struct {
	results []chat.SearchResult
	err     error
	calls   int
	queries []string
}

func (s *fakeSearcher) Search(_ context.Context, query string, _ search.Options) ([]chat.SearchResult, error) {
	s.calls++
	s.queries = append(s.queries, query)
	return s.results, s.err
}

type recordSink struct {
	events []Event
	closes int
}

func (s *recordSink) Send(event Event) error {
	s.events = append(s.events, event)
	return nil
}

func (s *recordSink) Close() error {
	s.closes++
	return nil
}

func (s *recordSink) names() []string {
	names := make([]string, len(s.events))
	for i, e := range s.events {
		names[i] = e.Name
	}
	return names
}

func tokenFrame(token string) string {
	return fmt.Sprintf(`data: {"choices":[{"delta":{"content":%q}}]}`, token)
}

type fixture struct {
	pipeline *Pipeline
	backend  *fakeBackend
	searcher *fakeSearcher
	chats    *chatservice.Service
	sink     *recordSink
}

func newFixture(backend *fakeBackend, searcher *fakeSearcher) *fixture {
	chats := chatservice.NewService(chatservice.NewMemoryStore())
	return &fixture{
		pipeline: New(testRegistry(), backend, searcher, chats, "test/reasoner"),
		backend:  backend,
		searcher: searcher,
		chats:    chats,
		sink:     &recordSink{},
	}
}

func (f *fixture) conversation(t *testing.T, userID string) chat.Conversation {
	t.Helper()
	var meta map[string]string
	for _, e := range f.sink.events {
		if e.Name == EventMetadata {
			meta = e.Data.(map[string]string)
		}
	}
	if meta == nil {
		t.Fatal("no metadata event emitted")
	}
	conv, err := f.chats.Get(context.Background(), meta["conversationId"], userID)
	if err != nil {
		t.Fatalf("load conversation: %v", err)
	}
	return conv
}

func assertEventOrder(t *testing.T, sink *recordSink, want []string) {
	t.Helper()
	got := sink.names()
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: expected %s, got %s (all: %v)", i, want[i], got[i], got)
		}
	}
}

func TestRunPlainTurnStreamsAndPersists(t *testing.T) {
	backend := &fakeBackend{stream: &fakeStream{
		frames: []string{tokenFrame("Paris"), "", "data: [DONE]", ""},
		endErr: io.EOF,
	}}
	f := newFixture(backend, &fakeSearcher{})

	turn := Turn{UserID: "u1", Text: "capital of France?", ModelKey: "m1"}
	if err := f.pipeline.Run(context.Background(), turn, f.sink); err != nil {
		t.Fatalf("Run err: %v", err)
	}

	assertEventOrder(t, f.sink, []string{EventMetadata, EventToken, EventDone})
	if got := f.sink.events[1].Data.(map[string]string)["token"]; got != "Paris" {
		t.Fatalf("expected token Paris, got %q", got)
	}
	if backend.streamModel != "test/model-1" {
		t.Fatalf("expected backend-native model id, got %q", backend.streamModel)
	}
	if len(backend.completeCalls) != 0 {
		t.Fatal("plain turn must not perform blocking completions")
	}
	if f.searcher.calls != 0 {
		t.Fatal("plain turn must not call the search adapter")
	}

	conv := f.conversation(t, "u1")
	if len(conv.Messages) != 2 {
		t.Fatalf("expected user+assistant messages, got %d", len(conv.Messages))
	}
	if conv.Messages[0].Role != chat.RoleUser || conv.Messages[0].Content != "capital of France?" {
		t.Fatalf("unexpected user message: %+v", conv.Messages[0])
	}
	if conv.Messages[1].Content != "Paris" || conv.Messages[1].Model != "m1" {
		t.Fatalf("unexpected assistant message: %+v", conv.Messages[1])
	}
	if f.sink.closes != 1 {
		t.Fatalf("sink must close exactly once, closed %d times", f.sink.closes)
	}
}

func TestRunAccumulatesTokensInArrivalOrder(t *testing.T) {
	backend := &fakeBackend{stream: &fakeStream{
		frames: []string{
			tokenFrame("Go "),
			"event: noise",
			tokenFrame("is "),
			"data: {broken json",
			`data: {"choices":[{"delta":{"role":"assistant"}}]}`,
			tokenFrame("fun"),
			"data: [DONE]",
		},
		endErr: io.EOF,
	}}
	f := newFixture(backend, &fakeSearcher{})

	if err := f.pipeline.Run(context.Background(), Turn{UserID: "u1", Text: "opinion?", ModelKey: "m1"}, f.sink); err != nil {
		t.Fatalf("Run err: %v", err)
	}

	conv := f.conversation(t, "u1")
	if got := conv.Messages[1].Content; got != "Go is fun" {
		t.Fatalf("persisted content must equal token concatenation, got %q", got)
	}
	assertEventOrder(t, f.sink, []string{EventMetadata, EventToken, EventToken, EventToken, EventDone})
}

func TestValidateUnknownModel(t *testing.T) {
	f := newFixture(&fakeBackend{}, &fakeSearcher{})
	_, err := f.pipeline.Validate(Turn{UserID: "u1", Text: "hi", ModelKey: "nope"})
	if !errors.Is(err, ErrUnknownModel) {
		t.Fatalf("expected ErrUnknownModel, got %v", err)
	}
	if f.backend.streamCalls != 0 || len(f.backend.completeCalls) != 0 {
		t.Fatal("validation must not reach the backend")
	}
}

func TestValidateEmptyTurn(t *testing.T) {
	f := newFixture(&fakeBackend{}, &fakeSearcher{})
	if _, err := f.pipeline.Validate(Turn{UserID: "u1", ModelKey: "m1"}); !errors.Is(err, ErrEmptyTurn) {
		t.Fatalf("expected ErrEmptyTurn, got %v", err)
	}
}

func TestValidateVisionCapabilityMismatch(t *testing.T) {
	f := newFixture(&fakeBackend{}, &fakeSearcher{})
	turn := Turn{UserID: "u1", ImageBase64: "aGk=", ImageMime: "image/png", ModelKey: "m1"}
	if _, err := f.pipeline.Validate(turn); !errors.Is(err, ErrCapabilityMismatch) {
		t.Fatalf("expected ErrCapabilityMismatch, got %v", err)
	}
	if _, err := f.pipeline.RunVision(context.Background(), turn); !errors.Is(err, ErrCapabilityMismatch) {
		t.Fatalf("expected ErrCapabilityMismatch from RunVision, got %v", err)
	}
	if len(f.backend.completeCalls) != 0 {
		t.Fatal("capability mismatch must not reach the backend")
	}
}

func TestRunSearchOnlyEventOrder(t *testing.T) {
	backend := &fakeBackend{stream: &fakeStream{
		frames: []string{tokenFrame("answer"), "data: [DONE]"},
		endErr: io.EOF,
	}}
	searcher := &fakeSearcher{results: []chat.SearchResult{{Title: "hit", Snippet: "snip", URL: "https://x.example"}}}
	f := newFixture(backend, searcher)

	turn := Turn{UserID: "u1", Text: "latest news", ModelKey: "m1", SearchEnabled: true}
	if err := f.pipeline.Run(context.Background(), turn, f.sink); err != nil {
		t.Fatalf("Run err: %v", err)
	}

	assertEventOrder(t, f.sink, []string{EventMetadata, EventThinking, EventSearchResults, EventToken, EventDone})
	if searcher.calls != 1 {
		t.Fatalf("search must run exactly once per turn, ran %d times", searcher.calls)
	}
	if len(backend.completeCalls) != 0 {
		t.Fatal("reasoning disabled must skip the blocking completion")
	}

	conv := f.conversation(t, "u1")
	if len(conv.Messages[1].SearchResults) != 1 || conv.Messages[1].SearchResults[0].Title != "hit" {
		t.Fatalf("assistant message must carry search results: %+v", conv.Messages[1])
	}
}

func TestRunReasoningOnlyEventOrder(t *testing.T) {
	backend := &fakeBackend{
		completeResponse: "preamble <reasoning>plan the answer in two steps</reasoning> trailer",
		stream: &fakeStream{
			frames: []string{tokenFrame("ok"), "data: [DONE]"},
			endErr: io.EOF,
		},
	}
	f := newFixture(backend, &fakeSearcher{})

	turn := Turn{UserID: "u1", Text: "explain generics", ModelKey: "m1", ReasoningEnabled: true}
	if err := f.pipeline.Run(context.Background(), turn, f.sink); err != nil {
		t.Fatalf("Run err: %v", err)
	}

	assertEventOrder(t, f.sink, []string{EventMetadata, EventThinking, EventReasoning, EventToken, EventDone})
	if f.searcher.calls != 0 {
		t.Fatal("search disabled must not call the adapter")
	}
	if got := f.sink.events[2].Data.(map[string]string)["reasoning"]; got != "plan the answer in two steps" {
		t.Fatalf("unexpected reasoning summary %q", got)
	}
	if len(backend.completeModels) != 1 || backend.completeModels[0] != "test/reasoner" {
		t.Fatalf("reasoning must use the dedicated model, got %v", backend.completeModels)
	}

	// Final context: system instruction, reasoning plan, then user text.
	ctxMsgs := backend.streamContext
	if len(ctxMsgs) != 3 {
		t.Fatalf("expected 3 context messages, got %d", len(ctxMsgs))
	}
	if ctxMsgs[0].Role != "system" {
		t.Fatalf("context must open with the system instruction, got %s", ctxMsgs[0].Role)
	}
	if !strings.Contains(ctxMsgs[1].Content, "plan the answer in two steps") {
		t.Fatalf("reasoning plan missing from context: %q", ctxMsgs[1].Content)
	}
	if ctxMsgs[2].Content != "explain generics" {
		t.Fatalf("context must end with the raw user text, got %q", ctxMsgs[2].Content)
	}
}

func TestRunSearchFeedsReasoningPrompt(t *testing.T) {
	backend := &fakeBackend{
		completeResponse: "<reasoning>use the sources</reasoning>",
		stream: &fakeStream{
			frames: []string{tokenFrame("done"), "data: [DONE]"},
			endErr: io.EOF,
		},
	}
	searcher := &fakeSearcher{results: []chat.SearchResult{{Title: "quantum paper", URL: "https://arxiv.example"}}}
	f := newFixture(backend, searcher)

	turn := Turn{UserID: "u1", Text: "quantum news", ModelKey: "m1", SearchEnabled: true, ReasoningEnabled: true}
	if err := f.pipeline.Run(context.Background(), turn, f.sink); err != nil {
		t.Fatalf("Run err: %v", err)
	}

	assertEventOrder(t, f.sink, []string{
		EventMetadata, EventThinking, EventSearchResults, EventThinking, EventReasoning, EventToken, EventDone,
	})
	if len(backend.completeCalls) != 1 || !strings.Contains(backend.completeCalls[0], "quantum paper") {
		t.Fatalf("reasoning prompt must embed search results, got %q", backend.completeCalls)
	}
}

func TestRunReasoningMarkerFallback(t *testing.T) {
	backend := &fakeBackend{
		completeResponse: "no markers in this response",
		stream: &fakeStream{
			frames: []string{tokenFrame("hi"), "data: [DONE]"},
			endErr: io.EOF,
		},
	}
	f := newFixture(backend, &fakeSearcher{})

	turn := Turn{UserID: "u1", Text: "hello", ModelKey: "m1", ReasoningEnabled: true}
	if err := f.pipeline.Run(context.Background(), turn, f.sink); err != nil {
		t.Fatalf("Run err: %v", err)
	}
	if got := f.sink.events[2].Data.(map[string]string)["reasoning"]; got != fallbackReasoning {
		t.Fatalf("expected placeholder summary, got %q", got)
	}
}

func TestRunSearchCredentialMissingFailsTurn(t *testing.T) {
	backend := &fakeBackend{}
	f := newFixture(backend, &fakeSearcher{err: search.ErrNotConfigured})

	turn := Turn{UserID: "u1", Text: "hello", ModelKey: "m1", SearchEnabled: true}
	err := f.pipeline.Run(context.Background(), turn, f.sink)
	if !errors.Is(err, search.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}

	assertEventOrder(t, f.sink, []string{EventMetadata, EventThinking, EventError})
	if backend.streamCalls != 0 {
		t.Fatal("failed search config must abort before the answer stream")
	}
	if f.sink.closes != 1 {
		t.Fatalf("sink must close exactly once, closed %d times", f.sink.closes)
	}
}

func TestRunSearchOutageDegradesToEmptyResults(t *testing.T) {
	backend := &fakeBackend{stream: &fakeStream{
		frames: []string{tokenFrame("still works"), "data: [DONE]"},
		endErr: io.EOF,
	}}
	f := newFixture(backend, &fakeSearcher{err: fmt.Errorf("%w: timeout", search.ErrUnavailable)})

	turn := Turn{UserID: "u1", Text: "hello", ModelKey: "m1", SearchEnabled: true}
	if err := f.pipeline.Run(context.Background(), turn, f.sink); err != nil {
		t.Fatalf("Run err: %v", err)
	}

	assertEventOrder(t, f.sink, []string{EventMetadata, EventThinking, EventSearchResults, EventToken, EventDone})
	results := f.sink.events[2].Data.([]chat.SearchResult)
	if len(results) != 0 {
		t.Fatalf("expected empty degraded result set, got %+v", results)
	}
}

func TestRunStreamCutDiscardsPartialAnswer(t *testing.T) {
	backend := &fakeBackend{stream: &fakeStream{
		frames: []string{tokenFrame("Par")},
		endErr: errors.New("connection reset"),
	}}
	f := newFixture(backend, &fakeSearcher{})

	turn := Turn{UserID: "u1", Text: "capital of France?", ModelKey: "m1"}
	if err := f.pipeline.Run(context.Background(), turn, f.sink); err == nil {
		t.Fatal("expected error for cut stream")
	}

	assertEventOrder(t, f.sink, []string{EventMetadata, EventToken, EventError})
	conv := f.conversation(t, "u1")
	if len(conv.Messages) != 1 {
		t.Fatalf("partial answer must not be persisted, transcript: %+v", conv.Messages)
	}
	if conv.Messages[0].Role != chat.RoleUser {
		t.Fatalf("only the user message should remain, got %+v", conv.Messages[0])
	}
	if !backend.stream.closed {
		t.Fatal("backend stream must be closed")
	}
	if f.sink.closes != 1 {
		t.Fatalf("sink must close exactly once, closed %d times", f.sink.closes)
	}
}

func TestRunCleanEOFWithoutSentinelDiscards(t *testing.T) {
	backend := &fakeBackend{stream: &fakeStream{
		frames: []string{tokenFrame("Par")},
		endErr: io.EOF,
	}}
	f := newFixture(backend, &fakeSearcher{})

	if err := f.pipeline.Run(context.Background(), Turn{UserID: "u1", Text: "hi", ModelKey: "m1"}, f.sink); err == nil {
		t.Fatal("expected error when transport closes before the terminator")
	}
	conv := f.conversation(t, "u1")
	if len(conv.Messages) != 1 {
		t.Fatalf("partial answer must not be persisted, transcript: %+v", conv.Messages)
	}
}

func TestRunUpstreamUnavailableOnStreamOpen(t *testing.T) {
	backend := &fakeBackend{streamOpenErr: &openrouter.APIError{Status: 502}}
	f := newFixture(backend, &fakeSearcher{})

	err := f.pipeline.Run(context.Background(), Turn{UserID: "u1", Text: "hi", ModelKey: "m1"}, f.sink)
	var apiErr *openrouter.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	assertEventOrder(t, f.sink, []string{EventMetadata, EventError})
	conv := f.conversation(t, "u1")
	if len(conv.Messages) != 1 {
		t.Fatalf("no assistant message expected, transcript: %+v", conv.Messages)
	}
}

func TestRunReasoningUpstreamFailureIsFatal(t *testing.T) {
	backend := &fakeBackend{completeErr: &openrouter.APIError{Status: 503}}
	f := newFixture(backend, &fakeSearcher{})

	turn := Turn{UserID: "u1", Text: "hi", ModelKey: "m1", ReasoningEnabled: true}
	if err := f.pipeline.Run(context.Background(), turn, f.sink); err == nil {
		t.Fatal("expected reasoning failure to abort the turn")
	}
	assertEventOrder(t, f.sink, []string{EventMetadata, EventThinking, EventError})
	if backend.streamCalls != 0 {
		t.Fatal("answer stream must not open after a fatal reasoning failure")
	}
}

func TestRunVisionBlockingAnswer(t *testing.T) {
	backend := &fakeBackend{completeResponse: "a small orange cat"}
	f := newFixture(backend, &fakeSearcher{})

	turn := Turn{
		UserID:      "u1",
		Text:        "what animal is this?",
		ImageBase64: "aGVsbG8=",
		ImageMime:   "image/png",
		ImageName:   "cat.png",
		ModelKey:    "mv",
	}
	result, err := f.pipeline.RunVision(context.Background(), turn)
	if err != nil {
		t.Fatalf("RunVision err: %v", err)
	}
	if result.Message != "a small orange cat" {
		t.Fatalf("unexpected answer %q", result.Message)
	}
	if backend.streamCalls != 0 {
		t.Fatal("vision branch must not open a stream")
	}
	if len(backend.completeModels) != 1 || backend.completeModels[0] != "test/vision" {
		t.Fatalf("vision must use the selected model, got %v", backend.completeModels)
	}

	conv, err := f.chats.Get(context.Background(), result.ConversationID, "u1")
	if err != nil {
		t.Fatalf("load conversation: %v", err)
	}
	if len(conv.Messages) != 2 {
		t.Fatalf("expected user+assistant messages, got %d", len(conv.Messages))
	}
	if !conv.Messages[0].HasImage {
		t.Fatal("user message must be flagged as carrying an image")
	}
	if conv.Messages[1].Model != "mv" {
		t.Fatalf("assistant message must record the model key, got %q", conv.Messages[1].Model)
	}
}

func TestRunContinuesExistingConversation(t *testing.T) {
	backend := &fakeBackend{stream: &fakeStream{
		frames: []string{tokenFrame("second"), "data: [DONE]"},
		endErr: io.EOF,
	}}
	f := newFixture(backend, &fakeSearcher{})
	ctx := context.Background()

	conv, err := f.chats.Resolve(ctx, "u1", "", "first turn")
	if err != nil {
		t.Fatalf("Resolve err: %v", err)
	}
	turn := Turn{UserID: "u1", ConversationID: conv.ID, Text: "second turn", ModelKey: "m1"}
	if err := f.pipeline.Run(ctx, turn, f.sink); err != nil {
		t.Fatalf("Run err: %v", err)
	}

	meta := f.sink.events[0].Data.(map[string]string)
	if meta["conversationId"] != conv.ID {
		t.Fatalf("metadata must carry the existing conversation id, got %q", meta["conversationId"])
	}
}

func TestExtractReasoning(t *testing.T) {
	if got := extractReasoning("<reasoning>  keep this  </reasoning>"); got != "keep this" {
		t.Fatalf("expected trimmed summary, got %q", got)
	}
	if got := extractReasoning("nothing here"); got != fallbackReasoning {
		t.Fatalf("expected fallback, got %q", got)
	}
	multiline := "<reasoning>line one\nline two</reasoning>"
	if got := extractReasoning(multiline); got != "line one\nline two" {
		t.Fatalf("expected multiline summary, got %q", got)
	}
}
