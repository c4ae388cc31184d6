// Package auth authenticates API requests from the session cookie or a
// bearer token and stores the caller in the request context.
package auth

import (
	"context"
	"net/http"
	"strings"

	appauth "fintrack/internal/auth"
)

type ContextKey string

const (
	UserIDKey   ContextKey = "user_id"
	UsernameKey ContextKey = "username"
)

// CookieName is the session cookie set by /login.
const CookieName = "session"

// Validator checks a session token. *appauth.Sessions implements it.
type Validator interface {
	Validate(token string) (*appauth.Claims, error)
}

// Unauthorized writes the rejection response.
type Unauthorized func(w http.ResponseWriter, r *http.Request, reason string)

// Require rejects requests without a valid session.
func Require(v Validator, onUnauthorized Unauthorized) func(http.Handler) http.Handler {
	if onUnauthorized == nil {
		onUnauthorized = func(w http.ResponseWriter, _ *http.Request, reason string) {
			http.Error(w, reason, http.StatusUnauthorized)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var token string

			// Browsers send the cookie, API clients the Authorization header.
			if cookie, err := r.Cookie(CookieName); err == nil && cookie.Value != "" {
				token = cookie.Value
			} else {
				header := r.Header.Get("Authorization")
				if header == "" {
					onUnauthorized(w, r, "authentication required")
					return
				}
				parts := strings.SplitN(header, " ", 2)
				if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
					onUnauthorized(w, r, "invalid authorization header format")
					return
				}
				token = strings.TrimSpace(parts[1])
			}

			claims, err := v.Validate(token)
			if err != nil {
				onUnauthorized(w, r, "invalid or expired session")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), claims.UserID, claims.Username)))
		})
	}
}

func WithUser(ctx context.Context, userID int64, username string) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, userID)
	return context.WithValue(ctx, UsernameKey, username)
}

// UserID returns the authenticated user, if any.
func UserID(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(UserIDKey).(int64)
	return id, ok
}

func Username(ctx context.Context) string {
	name, _ := ctx.Value(UsernameKey).(string)
	return name
}
