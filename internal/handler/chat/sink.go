package chat

import (
	"net/http"

	"github.com/lumenchat/backend/internal/service/pipeline"
	"github.com/lumenchat/backend/pkg/utils"
)

// sseSink writes pipeline events as named SSE events on the open response.
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (s *sseSink) Send(event pipeline.Event) error {
	return utils.SendSSEEvent(s.w, s.flusher, event.Name, event.Data)
}

// Close flushes the tail of the stream. The connection itself ends when the
// handler returns.
func (s *sseSink) Close() error {
	s.flusher.Flush()
	return nil
}
