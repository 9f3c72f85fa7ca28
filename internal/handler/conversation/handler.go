// Package conversation exposes transcript listing, retrieval, and deletion.
package conversation

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lumenchat/backend/internal/middleware"
	chatservice "github.com/lumenchat/backend/internal/service/chat"
	"github.com/lumenchat/backend/pkg/utils"
)

// Handler serves conversation history endpoints.
type Handler struct {
	chatSvc *chatservice.Service
}

// New creates the conversation handler.
func New(chatSvc *chatservice.Service) *Handler {
	return &Handler{chatSvc: chatSvc}
}

// RegisterRoutes mounts the conversation routes. All of them require an
// authenticated user.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Get("/{conversationID}", h.handleGet)
	r.Delete("/{conversationID}", h.handleDelete)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	account, ok := middleware.UserFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "unauthorized request: no token provided")
		return
	}

	summaries, err := h.chatSvc.List(r.Context(), account.ID)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"conversations": summaries})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	account, ok := middleware.UserFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "unauthorized request: no token provided")
		return
	}

	conv, err := h.chatSvc.Get(r.Context(), chi.URLParam(r, "conversationID"), account.ID)
	if err != nil {
		if errors.Is(err, chatservice.ErrConversationNotFound) {
			utils.RespondError(w, http.StatusNotFound, "conversation not found")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}
	utils.RespondJSON(w, http.StatusOK, conv)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	account, ok := middleware.UserFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "unauthorized request: no token provided")
		return
	}

	err := h.chatSvc.Delete(r.Context(), chi.URLParam(r, "conversationID"), account.ID)
	if err != nil {
		if errors.Is(err, chatservice.ErrConversationNotFound) {
			utils.RespondError(w, http.StatusNotFound, "conversation not found")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, "failed to delete conversation")
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
