package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/lumenchat/backend/internal/model/user"
	"github.com/lumenchat/backend/internal/service/auth"
	"github.com/lumenchat/backend/pkg/utils"
)

type contextKey int

const userKey contextKey = iota

// Auth verifies the bearer token and stashes the account on the request
// context. WebSocket handshakes may carry the token as a query parameter
// instead, since browsers cannot set headers on an upgrade request.
func Auth(authSvc *auth.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if token == "" {
				token = r.URL.Query().Get("token")
			}
			if token == "" {
				utils.RespondError(w, http.StatusUnauthorized, "unauthorized request: no token provided")
				return
			}

			account, err := authSvc.Authenticate(r.Context(), token)
			if err != nil {
				utils.RespondError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), userKey, account)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserFrom returns the authenticated account stored by Auth.
func UserFrom(ctx context.Context) (user.User, bool) {
	account, ok := ctx.Value(userKey).(user.User)
	return account, ok
}
