package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// ══════════════════════════════════════════════════════════════════════════════
// AUTHENTICATION
// Caller identity comes from a header. In trusted_header mode a gateway in
// front of the API has already verified Telegram init data and sets the
// header; this process never sees the raw init data.
// ══════════════════════════════════════════════════════════════════════════════

const (
	// HeaderDevUserID carries the caller's user id in dev mode.
	HeaderDevUserID = "X-Dev-User-Id"

	// HeaderTelegramUserID carries the verified user id in trusted_header mode.
	HeaderTelegramUserID = "X-Telegram-User-Id"

	// HeaderTelegramUsername and HeaderTelegramFirstName optionally describe
	// the caller for lazy registration.
	HeaderTelegramUsername  = "X-Telegram-Username"
	HeaderTelegramFirstName = "X-Telegram-First-Name"
)

// ErrUnauthenticated is returned when the request carries no usable identity.
var ErrUnauthenticated = errors.New("unauthenticated")

// Identity is the resolved caller.
type Identity struct {
	UserID    int64
	Username  string
	FirstName string
}

// Authenticator resolves the caller of a request.
type Authenticator interface {
	Authenticate(r *http.Request) (Identity, error)
}

// HeaderAuthenticator reads the user id from a single header.
type HeaderAuthenticator struct {
	header string
}

// NewHeaderAuthenticator creates an authenticator reading header.
func NewHeaderAuthenticator(header string) *HeaderAuthenticator {
	return &HeaderAuthenticator{header: header}
}

// NewAuthenticator returns the authenticator for an AUTH_MODE value.
func NewAuthenticator(mode string) (Authenticator, error) {
	switch mode {
	case "dev":
		return NewHeaderAuthenticator(HeaderDevUserID), nil
	case "trusted_header":
		return NewHeaderAuthenticator(HeaderTelegramUserID), nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", mode)
	}
}

// Authenticate implements Authenticator.
func (a *HeaderAuthenticator) Authenticate(r *http.Request) (Identity, error) {
	raw := strings.TrimSpace(r.Header.Get(a.header))
	if raw == "" {
		return Identity{}, fmt.Errorf("%w: missing %s", ErrUnauthenticated, a.header)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return Identity{}, fmt.Errorf("%w: bad %s", ErrUnauthenticated, a.header)
	}
	return Identity{
		UserID:    id,
		Username:  r.Header.Get(HeaderTelegramUsername),
		FirstName: r.Header.Get(HeaderTelegramFirstName),
	}, nil
}

type identityKey struct{}

// WithIdentity stores the caller in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the caller stored by WithIdentity.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
