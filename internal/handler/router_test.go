package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/lumenchat/backend/internal/model/ai"
	authservice "github.com/lumenchat/backend/internal/service/auth"
	chatservice "github.com/lumenchat/backend/internal/service/chat"
	"github.com/lumenchat/backend/internal/service/openrouter"
	"github.com/lumenchat/backend/internal/service/pipeline"
	"github.com/lumenchat/backend/internal/service/search"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\n")
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(backend.Close)

	client := openrouter.NewClient(openrouter.Config{APIKey: "test-key", BaseURL: backend.URL})
	authSvc := authservice.NewService(authservice.NewMemoryStore(), "test-secret", time.Hour)
	chatSvc := chatservice.NewService(chatservice.NewMemoryStore())
	registry := ai.NewStaticRegistry(ai.Seed())
	pipe := pipeline.New(registry, pipeline.NewOpenRouterBackend(client),
		search.NewSerpClient(search.Config{}), chatSvc, "test/reasoner")

	return NewRouter(authSvc, chatSvc, pipe, registry, Options{
		DefaultModel: "deepseek-r1",
		RateLimit:    rate.Limit(1000),
		RateBurst:    1000,
	})
}

func TestHealthEndpoint(t *testing.T) {
	r := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "ok") {
		t.Fatalf("unexpected body: %s", resp.Body.String())
	}
}

func TestChatRequiresAuth(t *testing.T) {
	r := newTestRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestRegisterThenChatFlow(t *testing.T) {
	r := newTestRouter(t)

	payload, _ := json.Marshal(map[string]string{
		"username": "alice", "email": "alice@example.com", "password": "hunter22",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	registered := httptest.NewRecorder()
	r.ServeHTTP(registered, req)
	if registered.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d: %s", registered.Code, registered.Body.String())
	}

	var auth struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(registered.Body.Bytes(), &auth); err != nil {
		t.Fatalf("decode register response: %v", err)
	}

	turn, _ := json.Marshal(map[string]string{"message": "say hi", "model": "deepseek-r1"})
	req = httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewReader(turn))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+auth.Token)
	streamed := httptest.NewRecorder()
	r.ServeHTTP(streamed, req)

	if streamed.Code != http.StatusOK {
		t.Fatalf("chat: expected 200, got %d: %s", streamed.Code, streamed.Body.String())
	}
	body := streamed.Body.String()
	for _, want := range []string{"event: metadata", "event: token", "event: done"} {
		if !strings.Contains(body, want) {
			t.Fatalf("stream missing %q:\n%s", want, body)
		}
	}

	// The transcript is now visible through the conversations API.
	req = httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	req.Header.Set("Authorization", "Bearer "+auth.Token)
	listed := httptest.NewRecorder()
	r.ServeHTTP(listed, req)
	if listed.Code != http.StatusOK {
		t.Fatalf("conversations: expected 200, got %d", listed.Code)
	}
	if !strings.Contains(listed.Body.String(), "say hi") {
		t.Fatalf("expected conversation summary, got %s", listed.Body.String())
	}
}
