// Package auth exposes account registration, login, and the profile lookup.
package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lumenchat/backend/internal/middleware"
	"github.com/lumenchat/backend/internal/model/user"
	authservice "github.com/lumenchat/backend/internal/service/auth"
	"github.com/lumenchat/backend/pkg/utils"
)

// Handler serves the account endpoints.
type Handler struct {
	authSvc *authservice.Service
}

// New creates the auth handler.
func New(authSvc *authservice.Service) *Handler {
	return &Handler{authSvc: authSvc}
}

// RegisterRoutes mounts the public account routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/register", h.handleRegister)
	r.Post("/login", h.handleLogin)
}

// RegisterProtectedRoutes mounts routes that require authentication.
func (h *Handler) RegisterProtectedRoutes(r chi.Router) {
	r.Get("/profile", h.handleProfile)
}

// profilePayload is the client-facing account shape. The password hash never
// leaves the server.
type profilePayload struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	Subscription string `json:"subscription"`
	APICalls     int    `json:"apiCalls"`
	DailyLimit   int    `json:"dailyLimit"`
}

func toProfile(account user.User) profilePayload {
	return profilePayload{
		ID:           account.ID,
		Username:     account.Username,
		Email:        account.Email,
		Subscription: account.Subscription,
		APICalls:     account.APICalls,
		DailyLimit:   account.DailyLimit,
	}
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	account, token, err := h.authSvc.Register(r.Context(), payload.Username, payload.Email, payload.Password)
	if err != nil {
		switch {
		case errors.Is(err, authservice.ErrFieldsRequired):
			utils.RespondError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, authservice.ErrUserExists):
			utils.RespondError(w, http.StatusConflict, err.Error())
		default:
			utils.RespondError(w, http.StatusInternalServerError, "registration failed")
		}
		return
	}

	utils.RespondJSON(w, http.StatusCreated, map[string]any{
		"user":  toProfile(account),
		"token": token,
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	account, token, err := h.authSvc.Login(r.Context(), payload.Email, payload.Password)
	if err != nil {
		switch {
		case errors.Is(err, authservice.ErrFieldsRequired):
			utils.RespondError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, authservice.ErrInvalidCredentials):
			utils.RespondError(w, http.StatusUnauthorized, err.Error())
		default:
			utils.RespondError(w, http.StatusInternalServerError, "login failed")
		}
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"user":  toProfile(account),
		"token": token,
	})
}

func (h *Handler) handleProfile(w http.ResponseWriter, r *http.Request) {
	account, ok := middleware.UserFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "unauthorized request: no token provided")
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"user": toProfile(account)})
}
