package middleware

import (
	"context"
	"errors"

	"github.com/ascend-app/ascend/internal/domain/progression"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONTEXT KEYS
// ══════════════════════════════════════════════════════════════════════════════

type contextKey string

const userContextKey contextKey = "user"

// ContextWithUser stores the authenticated user in ctx.
func ContextWithUser(ctx context.Context, u *progression.User) context.Context {
	return context.WithValue(ctx, userContextKey, u)
}

// UserFromContext returns the user stored by ContextWithUser.
func UserFromContext(ctx context.Context) (*progression.User, bool) {
	u, ok := ctx.Value(userContextKey).(*progression.User)
	return u, ok && u != nil
}

// ══════════════════════════════════════════════════════════════════════════════
// AUTH MIDDLEWARE
// Checks that the sender has a profile before protected routes run.
// Unknown users are pointed at /start instead of getting an error.
// ══════════════════════════════════════════════════════════════════════════════

// NeedsOnboardingMessage is sent to users that have no profile yet.
const NeedsOnboardingMessage = "👋 You don't have a character yet. Send /start to begin."

// AuthConfig holds configuration for the auth middleware.
type AuthConfig struct {
	// PublicRoutes run without a profile.
	PublicRoutes map[string]bool
}

// DefaultAuthConfig returns sensible defaults for auth middleware.
func DefaultAuthConfig() AuthConfig {
	return AuthConfig{
		PublicRoutes: map[string]bool{
			"start": true,
			"help":  true,
		},
	}
}

// AuthResult represents the result of an authentication check.
type AuthResult struct {
	// User is nil on public routes and for unknown users.
	User *progression.User

	// ShouldContinue is false when ResponseMessage must be sent instead.
	ShouldContinue  bool
	ResponseMessage string
}

// AuthMiddleware loads the sender's profile.
type AuthMiddleware struct {
	users  progression.UserRepository
	config AuthConfig
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(users progression.UserRepository, config AuthConfig) *AuthMiddleware {
	if config.PublicRoutes == nil {
		config = DefaultAuthConfig()
	}
	return &AuthMiddleware{users: users, config: config}
}

// Authenticate resolves telegramID for route. A store failure is returned as
// an error; an unknown user is not an error.
func (m *AuthMiddleware) Authenticate(ctx context.Context, telegramID int64, route string) (*AuthResult, error) {
	if m.config.PublicRoutes[route] {
		return &AuthResult{ShouldContinue: true}, nil
	}

	u, err := m.users.GetByID(ctx, telegramID)
	switch {
	case errors.Is(err, progression.ErrUserNotFound):
		return &AuthResult{ResponseMessage: NeedsOnboardingMessage}, nil
	case err != nil:
		return nil, err
	}
	return &AuthResult{User: u, ShouldContinue: true}, nil
}
