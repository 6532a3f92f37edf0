package authclient

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/goliatone/go-errors"
)

const (
	DefaultStorageKey     = "auth_app_token"
	DefaultBaseEndpoint   = "/api/auth/"
	DefaultHeaderName     = "Authorization"
	DefaultAuthScheme     = "Bearer "
	DefaultTokenKey       = "data.token"
	DefaultErrorsKey      = "error.errors"
	DefaultMessagesKey    = "data.messages"
	DefaultRefreshTimeout = time.Second
	DefaultMaxRetries     = 2
	DefaultRetryBackoff   = 200 * time.Millisecond
)

// Redirect holds the routes a UI should navigate to after an operation
type Redirect struct {
	Success string `yaml:"success" json:"success"`
	Failure string `yaml:"failure" json:"failure"`
}

// Endpoint describes one identity endpoint relative to Config.BaseEndpoint
type Endpoint struct {
	Method            string   `yaml:"method" json:"method"`
	Path              string   `yaml:"path" json:"path"`
	RequireValidToken bool     `yaml:"require_valid_token" json:"require_valid_token"`
	Redirect          Redirect `yaml:"redirect" json:"redirect"`
	DefaultErrors     []string `yaml:"default_errors" json:"default_errors"`
	DefaultMessages   []string `yaml:"default_messages" json:"default_messages"`
}

func (e Endpoint) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Method, validation.Required, validation.In(
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
		)),
		validation.Field(&e.Path, validation.Required),
	)
}

// LogoutEndpoint adds the not found policy to the logout endpoint
type LogoutEndpoint struct {
	Endpoint `yaml:",inline" json:",inline"`
	// KeepTokenOnNotFound leaves the local token untouched when the backend
	// answers 404. By default a 404 means "already logged out" and the local
	// token is cleared as for any other outcome.
	KeepTokenOnNotFound bool `yaml:"keep_token_on_not_found" json:"keep_token_on_not_found"`
}

// QueryKeys names the query string parameters injected into password reset
// and email confirmation payloads.
type QueryKeys struct {
	TokenKey    string `yaml:"token_key" json:"token_key"`
	EmailKey    string `yaml:"email_key" json:"email_key"`
	UserNameKey string `yaml:"user_name_key" json:"user_name_key"`
}

// TokenConfig controls token extraction and persistence
type TokenConfig struct {
	StorageKey string         `yaml:"storage_key" json:"storage_key"`
	Key        string         `yaml:"key" json:"key"`
	Decoder    PayloadDecoder `yaml:"-" json:"-"`
	// Getter overrides Key based extraction
	Getter func(endpoint string, resp *Response) string `yaml:"-" json:"-"`
}

// RefreshConfig controls the refresh coordination
type RefreshConfig struct {
	// WaitTimeout bounds how long a caller waits on a refresh started by someone else
	WaitTimeout time.Duration `yaml:"wait_timeout" json:"wait_timeout"`
	// RejectStatuses are the refresh response codes that invalidate the session.
	// Any other failure keeps the previous session.
	RejectStatuses []int `yaml:"reject_statuses" json:"reject_statuses"`
}

// RetryConfig bounds transparent retries in the request layer
type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries" json:"max_retries"`
	Backoff    time.Duration `yaml:"backoff" json:"backoff"`
}

// InterceptorConfig controls outbound request decoration
type InterceptorConfig struct {
	AllowedHosts []string `yaml:"allowed_hosts" json:"allowed_hosts"`
	// DisallowedRoutes entries are literal paths or regular expressions
	// prefixed with "re:"
	DisallowedRoutes []string `yaml:"disallowed_routes" json:"disallowed_routes"`
	HeaderName       string   `yaml:"header_name" json:"header_name"`
	Scheme           string   `yaml:"scheme" json:"scheme"`
	SkipWhenExpired  bool     `yaml:"skip_when_expired" json:"skip_when_expired"`
}

// ResponseKeys locates errors and messages in response bodies
type ResponseKeys struct {
	ErrorsKey   string `yaml:"errors_key" json:"errors_key"`
	MessagesKey string `yaml:"messages_key" json:"messages_key"`
	// ErrorsGetter and MessagesGetter override key based extraction
	ErrorsGetter   func(endpoint string, resp *Response) []string `yaml:"-" json:"-"`
	MessagesGetter func(endpoint string, resp *Response) []string `yaml:"-" json:"-"`
}

// Config is built once at startup and treated as immutable afterwards
type Config struct {
	BaseURL      string `yaml:"base_url" json:"base_url"`
	BaseEndpoint string `yaml:"base_endpoint" json:"base_endpoint"`
	Debug        bool   `yaml:"debug" json:"debug"`

	Login               Endpoint       `yaml:"login" json:"login"`
	Register            Endpoint       `yaml:"register" json:"register"`
	Logout              LogoutEndpoint `yaml:"logout" json:"logout"`
	Refresh             Endpoint       `yaml:"refresh" json:"refresh"`
	Profile             Endpoint       `yaml:"profile" json:"profile"`
	RequestPassword     Endpoint       `yaml:"request_password" json:"request_password"`
	ResetPassword       Endpoint       `yaml:"reset_password" json:"reset_password"`
	ConfirmEmail        Endpoint       `yaml:"confirm_email" json:"confirm_email"`
	RequestConfirmEmail Endpoint       `yaml:"request_confirm_email" json:"request_confirm_email"`

	Query        QueryKeys         `yaml:"query" json:"query"`
	Token        TokenConfig       `yaml:"token" json:"token"`
	RefreshFlow  RefreshConfig     `yaml:"refresh_flow" json:"refresh_flow"`
	Retry        RetryConfig       `yaml:"retry" json:"retry"`
	Interceptor  InterceptorConfig `yaml:"interceptor" json:"interceptor"`
	ResponseKeys ResponseKeys      `yaml:"response_keys" json:"response_keys"`
}

// DefaultConfig returns the documented defaults for every option
func DefaultConfig() Config {
	return Config{
		BaseEndpoint: DefaultBaseEndpoint,
		Login: Endpoint{
			Method:            http.MethodPost,
			Path:              "login",
			RequireValidToken: true,
			Redirect:          Redirect{Success: "/"},
			DefaultErrors:     []string{"Login/Email combination is not correct, please try again."},
			DefaultMessages:   []string{"You have been successfully logged in."},
		},
		Register: Endpoint{
			Method:            http.MethodPost,
			Path:              "register",
			RequireValidToken: true,
			Redirect:          Redirect{Success: "/"},
			DefaultErrors:     []string{"Something went wrong, please try again."},
			DefaultMessages:   []string{"You have been successfully registered."},
		},
		Logout: LogoutEndpoint{
			Endpoint: Endpoint{
				Method:          http.MethodDelete,
				Path:            "logout",
				Redirect:        Redirect{Success: "/"},
				DefaultErrors:   []string{"Something went wrong, please try again."},
				DefaultMessages: []string{"You have been successfully logged out."},
			},
		},
		Refresh: Endpoint{
			Method:            http.MethodPost,
			Path:              "refresh",
			RequireValidToken: true,
			DefaultErrors:     []string{"Something went wrong, please try again."},
			DefaultMessages:   []string{"Your token has been successfully refreshed."},
		},
		Profile: Endpoint{
			Method:        http.MethodGet,
			Path:          "profile",
			DefaultErrors: []string{"Unable to load profile."},
		},
		RequestPassword: Endpoint{
			Method:          http.MethodPost,
			Path:            "password-reset-email",
			Redirect:        Redirect{Success: "/"},
			DefaultErrors:   []string{"Something went wrong, please try again."},
			DefaultMessages: []string{"Reset password instructions have been sent to your email."},
		},
		ResetPassword: Endpoint{
			Method:          http.MethodPost,
			Path:            "password-reset",
			Redirect:        Redirect{Success: "/"},
			DefaultErrors:   []string{"Something went wrong, please try again."},
			DefaultMessages: []string{"Your password has been successfully changed."},
		},
		ConfirmEmail: Endpoint{
			Method:          http.MethodPost,
			Path:            "email-confirm",
			Redirect:        Redirect{Success: "/"},
			DefaultErrors:   []string{"Something went wrong, please try again."},
			DefaultMessages: []string{"Your email has been confirmed."},
		},
		RequestConfirmEmail: Endpoint{
			Method:          http.MethodPost,
			Path:            "email-confirm-email",
			DefaultErrors:   []string{"Something went wrong, please try again."},
			DefaultMessages: []string{"Confirmation instructions have been sent to your email."},
		},
		Query: QueryKeys{
			TokenKey:    "token",
			EmailKey:    "email",
			UserNameKey: "userName",
		},
		Token: TokenConfig{
			StorageKey: DefaultStorageKey,
			Key:        DefaultTokenKey,
			Decoder:    JWTDecoder{},
		},
		RefreshFlow: RefreshConfig{
			WaitTimeout:    DefaultRefreshTimeout,
			RejectStatuses: []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden},
		},
		Retry: RetryConfig{
			MaxRetries: DefaultMaxRetries,
			Backoff:    DefaultRetryBackoff,
		},
		Interceptor: InterceptorConfig{
			HeaderName: DefaultHeaderName,
			Scheme:     DefaultAuthScheme,
		},
		ResponseKeys: ResponseKeys{
			ErrorsKey:   DefaultErrorsKey,
			MessagesKey: DefaultMessagesKey,
		},
	}
}

// Validate checks the configuration and returns an ErrInvalidConfig
// carrying one entry per offending field.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.BaseURL, is.URL),
		validation.Field(&c.BaseEndpoint, validation.Required),
		validation.Field(&c.Login),
		validation.Field(&c.Register),
		validation.Field(&c.Logout),
		validation.Field(&c.Refresh),
		validation.Field(&c.Profile),
		validation.Field(&c.RequestPassword),
		validation.Field(&c.ResetPassword),
		validation.Field(&c.ConfirmEmail),
		validation.Field(&c.RequestConfirmEmail),
		validation.Field(&c.Token),
		validation.Field(&c.RefreshFlow),
		validation.Field(&c.Retry),
		validation.Field(&c.Interceptor),
	)
	if err == nil {
		return nil
	}

	fields := map[string]string{}
	if verrs, ok := err.(validation.Errors); ok {
		flattenValidation("", verrs, fields)
	} else {
		fields["config"] = err.Error()
	}

	return errors.NewValidationFromMap(ErrInvalidConfig.Message, fields).
		WithTextCode(TextCodeInvalidConfig).
		WithCode(errors.CodeBadRequest)
}

func (t TokenConfig) Validate() error {
	keyRules := []validation.Rule{}
	if t.Getter == nil {
		keyRules = append(keyRules, validation.Required)
	}
	return validation.ValidateStruct(&t,
		validation.Field(&t.StorageKey, validation.Required),
		validation.Field(&t.Key, keyRules...),
	)
}

func (r RefreshConfig) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.WaitTimeout, validation.By(positiveDuration)),
	)
}

func (r RetryConfig) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.MaxRetries, validation.Min(0), validation.Max(10)),
		validation.Field(&r.Backoff, validation.By(nonNegativeDuration)),
	)
}

func (i InterceptorConfig) Validate() error {
	return validation.ValidateStruct(&i,
		validation.Field(&i.HeaderName, validation.Required),
	)
}

// URL resolves the endpoint against the base URL and endpoint prefix
func (c Config) URL(e Endpoint) string {
	if strings.HasPrefix(e.Path, "http://") || strings.HasPrefix(e.Path, "https://") {
		return e.Path
	}
	base := strings.TrimSuffix(c.BaseURL, "/")
	prefix := c.BaseEndpoint
	if prefix != "" && !strings.HasPrefix(prefix, "/") && base != "" {
		prefix = "/" + prefix
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return base + prefix + strings.TrimPrefix(e.Path, "/")
}

func (c Config) decoder() PayloadDecoder {
	if c.Token.Decoder == nil {
		return JWTDecoder{}
	}
	return c.Token.Decoder
}

func (c Config) isRejection(status int) bool {
	for _, s := range c.RefreshFlow.RejectStatuses {
		if s == status {
			return true
		}
	}
	return false
}

func positiveDuration(value any) error {
	d, _ := value.(time.Duration)
	if d <= 0 {
		return fmt.Errorf("must be a positive duration")
	}
	return nil
}

func nonNegativeDuration(value any) error {
	d, _ := value.(time.Duration)
	if d < 0 {
		return fmt.Errorf("must not be negative")
	}
	return nil
}

func flattenValidation(prefix string, verrs validation.Errors, out map[string]string) {
	for field, err := range verrs {
		key := field
		if prefix != "" {
			key = prefix + "." + field
		}
		if nested, ok := err.(validation.Errors); ok {
			flattenValidation(key, nested, out)
			continue
		}
		out[key] = err.Error()
	}
}
