package middleware

import (
	"errors"
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/lumenchat/backend/internal/service/auth"
	"github.com/lumenchat/backend/pkg/utils"
)

// RateLimiters keeps one token bucket per user so a single client cannot
// burst the chat endpoint even while under its daily quota.
type RateLimiters struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewRateLimiters builds a per-user limiter pool allowing limit requests
// per second with the given burst.
func NewRateLimiters(limit rate.Limit, burst int) *RateLimiters {
	return &RateLimiters{
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
		burst:    burst,
	}
}

func (p *RateLimiters) get(userID string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.limiters[userID]
	if !ok {
		l = rate.NewLimiter(p.limit, p.burst)
		p.limiters[userID] = l
	}
	return l
}

// Quota charges one chat turn against the authenticated user's daily limit
// and applies the short-term burst limiter. Must run after Auth.
func Quota(authSvc *auth.Service, limiters *RateLimiters) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			account, ok := UserFrom(r.Context())
			if !ok {
				utils.RespondError(w, http.StatusUnauthorized, "unauthorized request: no token provided")
				return
			}

			if !limiters.get(account.ID).Allow() {
				utils.RespondError(w, http.StatusTooManyRequests, "Too many requests. Please slow down.")
				return
			}

			if err := authSvc.ConsumeQuota(r.Context(), account.ID); err != nil {
				if errors.Is(err, auth.ErrQuotaExceeded) {
					utils.RespondError(w, http.StatusTooManyRequests, "Daily API limit exceeded. Please try again tomorrow.")
					return
				}
				utils.RespondError(w, http.StatusInternalServerError, "failed to check usage limit")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
