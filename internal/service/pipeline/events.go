package pipeline

import "github.com/lumenchat/backend/internal/model/chat"

// Event names on the client-facing wire, in the order a text turn can emit
// them: metadata, then thinking/search_results and thinking/reasoning for
// the enabled stages, then token repeated, then done or error.
const (
	EventMetadata      = "metadata"
	EventThinking      = "thinking"
	EventSearchResults = "search_results"
	EventReasoning     = "reasoning"
	EventToken         = "token"
	EventDone          = "done"
	EventError         = "error"
)

// Event is one framed message emitted to the client during a turn. It only
// exists on the wire and has no persisted representation.
type Event struct {
	Name string
	Data any
}

// Sink is the write-only outbound channel to the client for one turn. The
// pipeline closes it exactly once, regardless of which stage fails.
type Sink interface {
	Send(event Event) error
	Close() error
}

func metadataEvent(conversationID string) Event {
	return Event{Name: EventMetadata, Data: map[string]string{"conversationId": conversationID}}
}

func thinkingEvent(step string) Event {
	return Event{Name: EventThinking, Data: map[string]string{"step": step}}
}

func searchResultsEvent(results []chat.SearchResult) Event {
	if results == nil {
		results = []chat.SearchResult{}
	}
	return Event{Name: EventSearchResults, Data: results}
}

func reasoningEvent(summary string) Event {
	return Event{Name: EventReasoning, Data: map[string]string{"reasoning": summary}}
}

func tokenEvent(token string) Event {
	return Event{Name: EventToken, Data: map[string]string{"token": token}}
}

func doneEvent() Event {
	return Event{Name: EventDone, Data: struct{}{}}
}

func errorEvent(message string) Event {
	return Event{Name: EventError, Data: map[string]string{"message": message}}
}
