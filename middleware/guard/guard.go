package guard

import (
	"context"
	"net/http"
	"time"

	authclient "github.com/goliatone/go-auth-client"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-router"
)

const (
	DefaultLoginRoute       = "/login"
	DefaultHomeRoute        = "/"
	DefaultRejectedRouteKey = "redirect_after_login"
	DefaultContextKey       = "authenticated"
	DefaultRedirectTTL      = 5 * time.Minute

	TextCodeAuthRequired = "AUTH_REQUIRED"
)

// Authenticator is the part of authclient.Service the guards need
type Authenticator interface {
	IsAuthenticated(ctx context.Context) bool
	IsAuthenticatedOrRefresh(ctx context.Context) bool
}

type Config struct {
	Filter        func(router.Context) bool
	Authenticator Authenticator
	// LoginRoute is where rejected browser requests are sent. Empty means
	// rejected requests get a 401 instead of a redirect.
	LoginRoute string
	// HomeRoute is where GuestOnly sends authenticated users
	HomeRoute string
	// RejectedRouteKey names the cookie remembering the rejected path
	RejectedRouteKey string
	RedirectTTL      time.Duration
	// ContextKey stores the authentication outcome in the request locals
	ContextKey     string
	ErrorHandler   router.ErrorHandler
	Logger         authclient.Logger
	LoggerProvider authclient.LoggerProvider
}

func configDefault(config ...Config) Config {
	var cfg Config
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.Authenticator == nil {
		panic("guard: Authenticator is required")
	}
	if cfg.HomeRoute == "" {
		cfg.HomeRoute = DefaultHomeRoute
	}
	if cfg.RejectedRouteKey == "" {
		cfg.RejectedRouteKey = DefaultRejectedRouteKey
	}
	if cfg.RedirectTTL <= 0 {
		cfg.RedirectTTL = DefaultRedirectTTL
	}
	if cfg.ContextKey == "" {
		cfg.ContextKey = DefaultContextKey
	}
	_, cfg.Logger = glog.Resolve("authclient.guard", cfg.LoggerProvider, cfg.Logger)
	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = defaultErrorHandler(cfg)
	}
	return cfg
}

// New returns a middleware that only lets authenticated requests through,
// refreshing an expired token first.
func New(config ...Config) router.MiddlewareFunc {
	cfg := configDefault(config...)

	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			if cfg.Filter != nil && cfg.Filter(ctx) {
				return next(ctx)
			}

			if cfg.Authenticator.IsAuthenticatedOrRefresh(ctx.Context()) {
				ctx.Locals(cfg.ContextKey, true)
				return next(ctx)
			}

			ctx.Locals(cfg.ContextKey, false)
			err := errors.New("authentication required", errors.CategoryAuth).
				WithTextCode(TextCodeAuthRequired).
				WithCode(errors.CodeUnauthorized)
			return cfg.ErrorHandler(ctx, err)
		}
	}
}

// GuestOnly redirects authenticated users away from pages such as login
// and register.
func GuestOnly(config ...Config) router.MiddlewareFunc {
	cfg := configDefault(config...)

	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			if cfg.Filter != nil && cfg.Filter(ctx) {
				return next(ctx)
			}

			if !cfg.Authenticator.IsAuthenticated(ctx.Context()) {
				return next(ctx)
			}

			target := RedirectTarget(ctx, cfg)
			cfg.Logger.Info("authenticated user on guest route", "redirect", target)
			return ctx.Redirect(target, redirectStatus(ctx))
		}
	}
}

// RedirectTarget returns the remembered rejected route, falling back to
// HomeRoute, and expires the cookie.
func RedirectTarget(ctx router.Context, config Config) string {
	key := config.RejectedRouteKey
	if key == "" {
		key = DefaultRejectedRouteKey
	}

	target := ctx.Cookies(key)
	if target == "" {
		target = config.HomeRoute
		if target == "" {
			target = DefaultHomeRoute
		}
	}

	ctx.Cookie(&router.Cookie{
		Name:     key,
		Value:    "",
		Path:     "/",
		Expires:  time.Now().Add(-time.Hour * (24 * 365)),
		HTTPOnly: true,
		SameSite: "Lax",
	})
	return target
}

func rememberRejected(ctx router.Context, cfg Config) {
	ctx.Cookie(&router.Cookie{
		Name:     cfg.RejectedRouteKey,
		Value:    ctx.OriginalURL(),
		Path:     "/",
		Expires:  time.Now().Add(cfg.RedirectTTL),
		HTTPOnly: true,
		SameSite: "Lax",
	})
}

func defaultErrorHandler(cfg Config) router.ErrorHandler {
	return func(ctx router.Context, err error) error {
		var richErr *errors.Error
		if !errors.As(err, &richErr) {
			richErr = errors.Wrap(err, errors.CategoryAuth, "authentication required").
				WithTextCode(TextCodeAuthRequired).
				WithCode(errors.CodeUnauthorized)
		}

		cfg.Logger.Info("request rejected", "text_code", richErr.TextCode)

		if cfg.LoginRoute == "" {
			return ctx.JSON(router.StatusUnauthorized, map[string]any{
				"error": map[string]any{
					"message":   richErr.Message,
					"text_code": richErr.TextCode,
				},
			})
		}

		rememberRejected(ctx, cfg)
		return ctx.Redirect(cfg.LoginRoute, redirectStatus(ctx))
	}
}

func redirectStatus(ctx router.Context) int {
	if ctx.Method() == http.MethodGet {
		return http.StatusFound
	}
	return http.StatusSeeOther
}
