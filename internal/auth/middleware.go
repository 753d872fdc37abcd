package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// AccessTokenCookie and RefreshTokenCookie name the session cookies.
const (
	AccessTokenCookie  = "accessToken"
	RefreshTokenCookie = "refreshToken"
)

type contextKey string

const contextSubjectKey contextKey = "sub"

// Unauthorized writes the response for requests without a valid session.
type Unauthorized func(w http.ResponseWriter, r *http.Request)

// RequireAuth accepts a bearer token or the access token cookie and injects
// the token subject into the request context.
func RequireAuth(issuer *Issuer, deny Unauthorized) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, err := requestToken(r)
			if err != nil {
				deny(w, r)
				return
			}

			claims, err := issuer.ParseAccess(tokenString)
			if err != nil {
				deny(w, r)
				return
			}

			ctx := WithSubject(r.Context(), claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithSubject stores the authenticated user ID on the context.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, contextSubjectKey, subject)
}

// SubjectFromContext returns the authenticated user ID.
func SubjectFromContext(ctx context.Context) (string, error) {
	subject, ok := ctx.Value(contextSubjectKey).(string)
	if !ok || strings.TrimSpace(subject) == "" {
		return "", errors.New("missing subject")
	}
	return subject, nil
}

func requestToken(r *http.Request) (string, error) {
	if token, err := bearerToken(r); err == nil {
		return token, nil
	}
	cookie, err := r.Cookie(AccessTokenCookie)
	if err != nil {
		return "", errors.New("missing authorization")
	}
	token := strings.TrimSpace(cookie.Value)
	if token == "" {
		return "", errors.New("missing authorization")
	}
	return token, nil
}

func bearerToken(r *http.Request) (string, error) {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return "", errors.New("missing authorization")
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("invalid authorization")
	}
	return token, nil
}
