package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ayush/library-catalog/backend/internal/auth"
	"github.com/ayush/library-catalog/backend/internal/models"
)

const bearerPrefix = "bearer "

type contextKey string

const currentUserKey = contextKey("current_user")

// TokenVerifier decodes session tokens.
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// UserLookup resolves the user named by a token.
type UserLookup interface {
	GetUserByID(ctx context.Context, id string) (*models.User, error)
}

// WithCurrentUser returns ctx carrying u as the request's current user.
func WithCurrentUser(ctx context.Context, u *models.User) context.Context {
	return context.WithValue(ctx, currentUserKey, u)
}

// CurrentUser returns the user attached by Session, or nil when anonymous.
func CurrentUser(ctx context.Context) *models.User {
	u, _ := ctx.Value(currentUserKey).(*models.User)
	return u
}

// ResolveSession turns an authorization header value into the current user.
// An empty or non-bearer value is anonymous (nil, nil). A bearer token that
// fails verification returns an error wrapping auth.ErrInvalidToken. A valid
// token whose user no longer exists is anonymous.
func ResolveSession(ctx context.Context, header string, tokens TokenVerifier, users UserLookup) (*models.User, error) {
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return nil, nil
	}
	claims, err := tokens.Verify(header[len(bearerPrefix):])
	if err != nil {
		return nil, err
	}
	return users.GetUserByID(ctx, claims.ID)
}

// Session builds the per-request session context. It never rejects
// anonymous requests; only an invalid bearer token aborts the request.
func Session(tokens TokenVerifier, users UserLookup, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := ResolveSession(r.Context(), r.Header.Get("Authorization"), tokens, users)
			switch {
			case errors.Is(err, auth.ErrInvalidToken):
				logger.Info("rejected bearer token", zap.Error(err), zap.String("request_id", RequestID(r.Context())))
				writeGraphQLError(w, http.StatusUnauthorized, "invalid token", "INVALID_TOKEN")
				return
			case err != nil:
				logger.Error("session user lookup failed", zap.Error(err), zap.String("request_id", RequestID(r.Context())))
				writeGraphQLError(w, http.StatusInternalServerError, "internal error", "INTERNAL_SERVER_ERROR")
				return
			}

			ctx := r.Context()
			if user != nil {
				ctx = WithCurrentUser(ctx, user)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeGraphQLError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"errors": []map[string]any{{
			"message":    message,
			"extensions": map[string]any{"code": code},
		}},
	})
}
