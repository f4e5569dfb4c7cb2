package myMiddleware

import (
	"context"
	"net/http"
	"strings"
)

// 1. Define Context Keys (Exported so other packages can read them)
type contextKey string

const (
	UserKey     contextKey = "user_id"
	UsernameKey contextKey = "username"
)

// 2. Define what we need from the identity provider.
// This interface decouples 'middleware' from 'identity'.
type TokenValidator interface {
	ValidateToken(tokenString string) (string, string, error)
}

// 3. The Middleware Structure
type AuthMiddleware struct {
	validator TokenValidator
}

func NewAuthMiddleware(v TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: v}
}

// Identify attaches the caller's identity when a token is present. Requests without a
// token pass through as guests; requests with a bad token are rejected.
func (am *AuthMiddleware) Identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := tokenFrom(r)
		if tokenString == "" || am.validator == nil {
			next.ServeHTTP(w, r)
			return
		}

		userID, username, err := am.validator.ValidateToken(tokenString)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), userID, username)))
	})
}

// WithIdentity injects a user into ctx.
func WithIdentity(ctx context.Context, userID, username string) context.Context {
	ctx = context.WithValue(ctx, UserKey, userID)
	return context.WithValue(ctx, UsernameKey, username)
}

// IdentityFrom returns the user attached by Identify, if any.
func IdentityFrom(ctx context.Context) (userID, username string, ok bool) {
	userID, ok1 := ctx.Value(UserKey).(string)
	username, ok2 := ctx.Value(UsernameKey).(string)
	if !ok1 || !ok2 || userID == "" {
		return "", "", false
	}
	return userID, username, true
}

func tokenFrom(r *http.Request) string {
	// Check Authorization Header
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
	}
	// Fallback: Check Query Param (browsers cannot set headers on websocket upgrades)
	return r.URL.Query().Get("token")
}
