package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// ContextKey is the key type for context values
type ContextKey string

const (
	// UserContextKey is the context key for user information
	UserContextKey ContextKey = "user"
)

// Middleware authenticates gateway requests with a bearer JWT or an API key.
type Middleware struct {
	apiKeys    *APIKeys
	jwtManager *JWTManager
	skipAuth   bool // For development/testing
	logger     *zap.Logger
}

// NewMiddleware creates a new authentication middleware
func NewMiddleware(apiKeys *APIKeys, jwtManager *JWTManager, skipAuth bool, logger *zap.Logger) *Middleware {
	if skipAuth {
		logger.Warn("Authentication is disabled, every request runs as the dev admin")
	}
	return &Middleware{
		apiKeys:    apiKeys,
		jwtManager: jwtManager,
		skipAuth:   skipAuth,
		logger:     logger,
	}
}

var devUser = &UserContext{
	Subject:   "dev",
	Role:      RoleAdmin,
	Scopes:    ScopesForRole(RoleAdmin),
	TokenType: "dev",
}

// HTTPMiddleware provides HTTP authentication middleware
func (m *Middleware) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipAuth {
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), devUser)))
			return
		}

		user, err := m.authenticate(r)
		if err != nil {
			m.logger.Debug("Rejected request", zap.String("path", r.URL.Path), zap.Error(err))
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

func (m *Middleware) authenticate(r *http.Request) (*UserContext, error) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		token, err := ExtractBearerToken(authHeader)
		if err != nil {
			return nil, ErrInvalidToken
		}
		return m.jwtManager.ValidateAccessToken(token)
	}
	if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
		return m.apiKeys.Validate(apiKey)
	}
	// Browser EventSource and WebSocket clients cannot set headers.
	if strings.HasPrefix(r.URL.Path, "/stream/") || strings.HasSuffix(r.URL.Path, "/stream") {
		if q := r.URL.Query().Get("api_key"); q != "" {
			return m.apiKeys.Validate(q)
		}
		if q := r.URL.Query().Get("token"); q != "" {
			return m.jwtManager.ValidateAccessToken(q)
		}
	}
	return nil, ErrUnauthenticated
}

// RequireScope wraps a handler so it answers 403 unless the caller holds scope.
func RequireScope(scope string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := RequireScopes(r.Context(), scope); err != nil {
			status := http.StatusForbidden
			if errors.Is(err, ErrUnauthenticated) {
				status = http.StatusUnauthorized
			}
			http.Error(w, err.Error(), status)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireScopes checks if the user has required scopes
func RequireScopes(ctx context.Context, requiredScopes ...string) error {
	user, err := GetUserContext(ctx)
	if err != nil {
		return err
	}
	for _, s := range requiredScopes {
		if !user.HasScope(s) {
			return ErrForbidden
		}
	}
	return nil
}

// WithUser returns ctx carrying user.
func WithUser(ctx context.Context, user *UserContext) context.Context {
	return context.WithValue(ctx, UserContextKey, user)
}

// GetUserContext extracts user context from context
func GetUserContext(ctx context.Context) (*UserContext, error) {
	user, ok := ctx.Value(UserContextKey).(*UserContext)
	if !ok || user == nil {
		return nil, ErrUnauthenticated
	}
	return user, nil
}
