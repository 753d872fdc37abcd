package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mytube/apiserver/internal/auth"
	"github.com/mytube/apiserver/internal/services"
	"github.com/mytube/apiserver/types"
)

// AuthHandler provides the session endpoints: password login, identity
// sign-in, refresh and logout.
type AuthHandler struct {
	sessions *services.SessionService
	identity *services.IdentityService
	cookies  CookieOptions
	logger   *slog.Logger
}

// CookieOptions controls the session cookies.
type CookieOptions struct {
	Secure     bool
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// NewAuthHandler constructs an AuthHandler with the provided dependencies.
func NewAuthHandler(
	sessions *services.SessionService,
	identity *services.IdentityService,
	cookies CookieOptions,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		sessions: sessions,
		identity: identity,
		cookies:  cookies,
		logger:   logger,
	}
}

// AuthRouter registers identity sign-in routes on the given router.
func AuthRouter(r chi.Router, handler *AuthHandler) {
	r.Post("/google-signin", handler.GoogleSignIn)
}

// Login verifies a password and starts a session.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	result, err := h.sessions.Login(r.Context(), req.Login, req.Password)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	h.writeSession(w, http.StatusOK, result)
}

// GoogleSignIn exchanges a Google ID token for a session.
func (h *AuthHandler) GoogleSignIn(w http.ResponseWriter, r *http.Request) {
	var req GoogleSignInRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	result, err := h.identity.SignInWithIdentity(r.Context(), req.IDToken)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	h.writeSession(w, http.StatusOK, result)
}

// Refresh rotates the session. The refresh token is read from the body or,
// failing that, from the refresh token cookie.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	token := strings.TrimSpace(req.RefreshToken)
	if token == "" {
		if cookie, err := r.Cookie(auth.RefreshTokenCookie); err == nil {
			token = cookie.Value
		}
	}

	result, err := h.sessions.Refresh(r.Context(), token)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	h.writeSession(w, http.StatusOK, result)
}

// Logout clears the refresh slot of the authenticated user.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.SubjectFromContext(r.Context())
	if err != nil {
		Unauthorized(w, r)
		return
	}

	if err := h.sessions.Logout(r.Context(), userID); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	h.clearCookies(w)
	writeJSON(w, http.StatusOK, MessageResponse{Message: "user logged out"})
}

func (h *AuthHandler) writeSession(w http.ResponseWriter, status int, result services.SignInResult) {
	http.SetCookie(w, h.cookie(auth.AccessTokenCookie, result.Tokens.AccessToken, h.cookies.AccessTTL))
	http.SetCookie(w, h.cookie(auth.RefreshTokenCookie, result.Tokens.RefreshToken, h.cookies.RefreshTTL))
	writeJSON(w, status, SessionResponse{
		User:         result.User,
		AccessToken:  result.Tokens.AccessToken,
		RefreshToken: result.Tokens.RefreshToken,
	})
}

func (h *AuthHandler) clearCookies(w http.ResponseWriter) {
	for _, name := range []string{auth.AccessTokenCookie, auth.RefreshTokenCookie} {
		c := h.cookie(name, "", 0)
		c.MaxAge = -1
		http.SetCookie(w, c)
	}
}

func (h *AuthHandler) cookie(name, value string, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

type LoginRequest struct {
	// Login is an email address or username.
	Login    string `json:"login"`
	Password string `json:"password"`
}

type GoogleSignInRequest struct {
	IDToken string `json:"idToken"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type SessionResponse struct {
	User         types.User `json:"user"`
	AccessToken  string     `json:"accessToken"`
	RefreshToken string     `json:"refreshToken"`
}
