// Package chat exposes the chat turn endpoint: JSON or multipart in, a
// Server-Sent Events stream (or a synchronous JSON body for image turns) out.
package chat

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lumenchat/backend/internal/middleware"
	"github.com/lumenchat/backend/internal/model/ai"
	"github.com/lumenchat/backend/internal/service/openrouter"
	"github.com/lumenchat/backend/internal/service/pipeline"
	"github.com/lumenchat/backend/pkg/utils"
)

// maxUploadBytes caps attached images at 10MB, matching the upload limit
// advertised to clients.
const maxUploadBytes = 10 << 20

// Handler serves chat turns and the model catalog.
type Handler struct {
	pipe         *pipeline.Pipeline
	registry     ai.Registry
	defaultModel string
}

// New creates the chat handler. defaultModel is the registry key applied
// when a request omits the model field.
func New(pipe *pipeline.Pipeline, registry ai.Registry, defaultModel string) *Handler {
	return &Handler{pipe: pipe, registry: registry, defaultModel: defaultModel}
}

// RegisterRoutes mounts the turn endpoint on the given router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.handleTurn)
}

// RegisterCatalogRoutes mounts the model catalog endpoint.
func (h *Handler) RegisterCatalogRoutes(r chi.Router) {
	r.Get("/models", h.handleListModels)
}

func (h *Handler) handleListModels(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{"models": h.registry.List()})
}

func (h *Handler) handleTurn(w http.ResponseWriter, r *http.Request) {
	account, ok := middleware.UserFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "unauthorized request: no token provided")
		return
	}

	turn, err := h.parseTurn(r)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	turn.UserID = account.ID
	if turn.ModelKey == "" {
		turn.ModelKey = h.defaultModel
	}

	// Validation failures are plain 400s; the event stream never opens for
	// a request that cannot run.
	if _, err := h.pipe.Validate(turn); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if turn.HasImage() {
		h.handleVisionTurn(w, r, turn)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	utils.SetupSSEHeaders(w)

	sink := &sseSink{w: w, flusher: flusher}
	if err := h.pipe.Run(r.Context(), turn, sink); err != nil {
		// Already reported on the stream; log for the server side.
		log.Printf("[chat] turn failed user=%s model=%s: %v", account.ID, turn.ModelKey, err)
	}
}

func (h *Handler) handleVisionTurn(w http.ResponseWriter, r *http.Request, turn pipeline.Turn) {
	result, err := h.pipe.RunVision(r.Context(), turn)
	if err != nil {
		log.Printf("[chat] vision turn failed user=%s model=%s: %v", turn.UserID, turn.ModelKey, err)
		var apiErr *openrouter.APIError
		switch {
		case errors.Is(err, openrouter.ErrNotConfigured):
			utils.RespondError(w, http.StatusServiceUnavailable, "ai backend not configured")
		case errors.As(err, &apiErr):
			utils.RespondError(w, http.StatusBadGateway, "image analysis failed")
		default:
			utils.RespondError(w, http.StatusInternalServerError, "image analysis failed")
		}
		return
	}
	utils.RespondJSON(w, http.StatusOK, result)
}

// parseTurn reads either a JSON body or a multipart form with an optional
// image attachment into a turn.
func (h *Handler) parseTurn(r *http.Request) (pipeline.Turn, error) {
	contentType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if contentType == "multipart/form-data" {
		return h.parseMultipartTurn(r)
	}

	var payload struct {
		Message          string `json:"message"`
		ConversationID   string `json:"conversationId"`
		Model            string `json:"model"`
		SearchEnabled    bool   `json:"enableSearch"`
		ReasoningEnabled bool   `json:"enableReasoning"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return pipeline.Turn{}, errors.New("invalid request body")
	}
	return pipeline.Turn{
		ConversationID:   payload.ConversationID,
		Text:             payload.Message,
		ModelKey:         payload.Model,
		SearchEnabled:    payload.SearchEnabled,
		ReasoningEnabled: payload.ReasoningEnabled,
	}, nil
}

func (h *Handler) parseMultipartTurn(r *http.Request) (pipeline.Turn, error) {
	if err := r.ParseMultipartForm(maxUploadBytes + 512*1024); err != nil {
		return pipeline.Turn{}, errors.New("invalid multipart body")
	}

	turn := pipeline.Turn{
		ConversationID:   r.FormValue("conversationId"),
		Text:             r.FormValue("message"),
		ModelKey:         r.FormValue("model"),
		SearchEnabled:    parseBoolField(r.FormValue("enableSearch")),
		ReasoningEnabled: parseBoolField(r.FormValue("enableReasoning")),
	}

	file, header, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return turn, nil
	}
	if err != nil {
		return pipeline.Turn{}, errors.New("invalid image upload")
	}
	defer file.Close()

	if header.Size > maxUploadBytes {
		return pipeline.Turn{}, errors.New("image exceeds the 10MB upload limit")
	}
	imageMime := header.Header.Get("Content-Type")
	if !strings.HasPrefix(imageMime, "image/") {
		return pipeline.Turn{}, errors.New("only image uploads are supported")
	}

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		return pipeline.Turn{}, errors.New("failed to read image upload")
	}
	if int64(len(data)) > maxUploadBytes {
		return pipeline.Turn{}, errors.New("image exceeds the 10MB upload limit")
	}

	turn.ImageBase64 = base64.StdEncoding.EncodeToString(data)
	turn.ImageMime = imageMime
	turn.ImageName = header.Filename
	return turn, nil
}

func parseBoolField(v string) bool {
	parsed, err := strconv.ParseBool(v)
	return err == nil && parsed
}
