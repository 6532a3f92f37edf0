package authclient

import (
	"context"
	"net/url"
	"time"

	"github.com/goliatone/go-logger/glog"
)

// Logger is the structured logger used across the package.
type Logger = glog.Logger

// LoggerProvider hands out named loggers.
type LoggerProvider = glog.LoggerProvider

// Clock returns the current time. Tokens and the service read time through it
// so expiry can be exercised deterministically.
type Clock func() time.Time

func (c Clock) Now() time.Time {
	if c == nil {
		return time.Now()
	}
	return c()
}

// Authenticator is the read side of the coordinator consumed by route guards,
// interceptors and UI components.
type Authenticator interface {
	IsAuthenticated(ctx context.Context) bool
	IsAuthenticatedOrRefresh(ctx context.Context) bool
	OnAuthenticationChange() (<-chan bool, func())
}

// AccountService groups the identity endpoints exposed to UI callers.
type AccountService interface {
	Authenticator
	Authenticate(ctx context.Context, credentials any) AuthResult
	Register(ctx context.Context, data any) AuthResult
	Logout(ctx context.Context) AuthResult
	RefreshToken(ctx context.Context, data any, preconditions ...Precondition) AuthResult
	RequestPasswordReset(ctx context.Context, data any) AuthResult
	ResetPassword(ctx context.Context, data map[string]any, query url.Values) AuthResult
	ConfirmEmail(ctx context.Context, data map[string]any, query url.Values) AuthResult
	RequestEmailConfirmation(ctx context.Context, data any) AuthResult
	Profile(ctx context.Context) AuthResult
}

// Precondition is awaited before a refresh request is sent.
type Precondition func(ctx context.Context) error

func resolveLogger(name string, provider LoggerProvider, logger Logger) Logger {
	_, lgr := glog.Resolve(name, provider, logger)
	return lgr
}
