package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	authHandler "github.com/lumenchat/backend/internal/handler/auth"
	chatHandler "github.com/lumenchat/backend/internal/handler/chat"
	conversationHandler "github.com/lumenchat/backend/internal/handler/conversation"
	wsHandler "github.com/lumenchat/backend/internal/handler/ws"
	"github.com/lumenchat/backend/internal/middleware"
	"github.com/lumenchat/backend/internal/model/ai"
	authservice "github.com/lumenchat/backend/internal/service/auth"
	chatservice "github.com/lumenchat/backend/internal/service/chat"
	"github.com/lumenchat/backend/internal/service/pipeline"
	"github.com/lumenchat/backend/pkg/utils"
)

// version is reported by the health endpoint.
const version = "1.0.0"

// Options carries the router knobs that are not services.
type Options struct {
	DefaultModel string
	CORSOrigin   string
	// Burst limiter per user on the chat endpoints; zero values fall back
	// to one request per second with a burst of five.
	RateLimit rate.Limit
	RateBurst int
}

// NewRouter wires HTTP routes to core services.
func NewRouter(authSvc *authservice.Service, chatSvc *chatservice.Service, pipe *pipeline.Pipeline, registry ai.Registry, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	origin := opts.CORSOrigin
	if origin == "" {
		origin = "*"
	}
	r.Use(middleware.CORS(origin))

	limit := opts.RateLimit
	if limit <= 0 {
		limit = rate.Limit(1)
	}
	burst := opts.RateBurst
	if burst <= 0 {
		burst = 5
	}
	limiters := middleware.NewRateLimiters(limit, burst)

	requireAuth := middleware.Auth(authSvc)
	chargeQuota := middleware.Quota(authSvc, limiters)

	accounts := authHandler.New(authSvc)
	chats := chatHandler.New(pipe, registry, opts.DefaultModel)
	conversations := conversationHandler.New(chatSvc)
	sockets := wsHandler.New(pipe, opts.DefaultModel)

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			utils.RespondJSON(w, http.StatusOK, map[string]string{
				"status":  "ok",
				"time":    time.Now().UTC().Format(time.RFC3339),
				"version": version,
			})
		})

		api.Route("/auth", func(ar chi.Router) {
			accounts.RegisterRoutes(ar)
			ar.Group(func(pr chi.Router) {
				pr.Use(requireAuth)
				accounts.RegisterProtectedRoutes(pr)
			})
		})

		api.Route("/chat", func(cr chi.Router) {
			cr.Use(requireAuth)
			chats.RegisterCatalogRoutes(cr)
			cr.Group(func(tr chi.Router) {
				tr.Use(chargeQuota)
				chats.RegisterRoutes(tr)
				sockets.RegisterRoutes(tr)
			})
		})

		api.Route("/conversations", func(vr chi.Router) {
			vr.Use(requireAuth)
			conversations.RegisterRoutes(vr)
		})
	})

	return r
}
