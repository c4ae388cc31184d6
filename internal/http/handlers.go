package http

import (
	"net/http"
	"time"

	"fintrack/internal/core"
	applog "fintrack/internal/log"
	mwauth "fintrack/internal/middleware/auth"
)

type accountBody struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

func newAccountBody(a core.Account) accountBody {
	return accountBody{ID: a.ID, Username: a.Username, CreatedAt: a.CreatedAt}
}

type loginBody struct {
	Token     string      `json:"token"`
	TokenType string      `json:"token_type"`
	ExpiresIn int64       `json:"expires_in"`
	Account   accountBody `json:"account"`
}

// parseBody parses the request body, writing a 400 on malformed input.
func parseBody(w http.ResponseWriter, r *http.Request) (*RequestBodyParser, bool) {
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		applog.FromContext(r.Context()).WarnContext(r.Context(), "Malformed request body",
			applog.FieldPath, r.URL.Path, applog.FieldError, err)
		BadRequestError("invalid request body").Write(w)
		return nil, false
	}
	return p, true
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	p, ok := parseBody(w, r)
	if !ok {
		return
	}
	account, err := s.accounts.Register(r.Context(), p.Get("username"), p.Get("password"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	NewJSONResponse().Status(http.StatusCreated).JSON(newAccountBody(account)).Write(w)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	p, ok := parseBody(w, r)
	if !ok {
		return
	}
	account, err := s.accounts.Authenticate(r.Context(), p.Get("username"), p.Get("password"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	token, err := s.sessions.Issue(account.ID, account.Username)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	ttl := s.sessions.TTL()
	applog.FromContext(r.Context()).InfoContext(r.Context(), "User logged in",
		applog.FieldOperation, applog.OpLogin,
		applog.FieldUserID, account.ID)
	NewJSONResponse().
		Cookie(s.sessionCookie(token, int(ttl.Seconds()))).
		JSON(loginBody{
			Token:     token,
			TokenType: "Bearer",
			ExpiresIn: int64(ttl.Seconds()),
			Account:   newAccountBody(account),
		}).
		Write(w)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().
		Status(http.StatusNoContent).
		Cookie(s.sessionCookie("", -1)).
		Write(w)
}

// sessionCookie builds the session cookie; a negative maxAge deletes it.
func (s *Server) sessionCookie(token string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     mwauth.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
	}
}

// currentUser returns the authenticated user set by the auth middleware.
func currentUser(r *http.Request) int64 {
	id, _ := mwauth.UserID(r.Context())
	return id
}
