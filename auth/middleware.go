package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

type contextKey int

const (
	claimsKey contextKey = iota
	tokenKey
)

// WithClaims returns a copy of ctx carrying claims and the raw session token.
func WithClaims(ctx context.Context, c *Claims, token string) context.Context {
	ctx = context.WithValue(ctx, claimsKey, c)
	return context.WithValue(ctx, tokenKey, token)
}

// ClaimsFromContext returns the claims stored by Middleware.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*Claims)
	return c, ok && c != nil
}

// UserID returns the authenticated user ID, or "" when there is none.
func UserID(ctx context.Context) string {
	if c, ok := ClaimsFromContext(ctx); ok {
		return c.Subject
	}
	return ""
}

// TokenFromContext returns the raw bearer token of the request, which the
// relay forwards to the chat backend.
func TokenFromContext(ctx context.Context) string {
	t, _ := ctx.Value(tokenKey).(string)
	return t
}

// Middleware rejects requests without a valid bearer token and stores the
// claims in the request context.
func Middleware(v *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			claims, err := v.Verify(raw)
			if err != nil {
				slog.Debug("auth: rejected request", "path", r.URL.Path, "error", err)
				msg := "unauthorized"
				if errors.Is(err, ErrExpiredToken) {
					msg = "token expired"
				}
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("WWW-Authenticate", `Bearer realm="mindforge"`)
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims, raw)))
		})
	}
}

// bearerToken extracts the token from the Authorization header, falling back
// to the "__session" cookie set by the identity provider's front-end SDK.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
			return strings.TrimSpace(h[7:])
		}
		return ""
	}
	if c, err := r.Cookie("__session"); err == nil {
		return c.Value
	}
	return ""
}
