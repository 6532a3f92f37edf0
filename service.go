package authclient

import (
	"context"
	"sync"
)

const (
	endpointLogin               = "login"
	endpointRegister            = "register"
	endpointLogout              = "logout"
	endpointRefresh             = "refresh"
	endpointProfile             = "profile"
	endpointRequestPassword     = "request_password"
	endpointResetPassword       = "reset_password"
	endpointConfirmEmail        = "confirm_email"
	endpointRequestConfirmEmail = "request_confirm_email"
)

// Service coordinates login, logout and token refresh against the REST
// backend. It is the only writer of the TokenStore and guarantees that at
// most one refresh call is in flight.
type Service struct {
	cfg       Config
	store     *TokenStore
	requester Requester
	logger    Logger
	provider  LoggerProvider
	activity  ActivitySink
	clock     Clock

	mu     sync.Mutex
	flight *refreshFlight

	hooksMu    sync.RWMutex
	clearHooks map[int]func()
	nextHook   int
}

var _ AccountService = (*Service)(nil)

// ServiceOption configures a Service
type ServiceOption func(*Service)

// WithLogger sets the service logger
func WithLogger(logger Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithLoggerProvider resolves the service logger from a provider
func WithLoggerProvider(provider LoggerProvider) ServiceOption {
	return func(s *Service) {
		s.provider = provider
	}
}

// WithActivitySink configures an ActivitySink for emitting auth events.
func WithActivitySink(sink ActivitySink) ServiceOption {
	return func(s *Service) {
		s.activity = sinkOrNoop(sink)
	}
}

// WithServiceClock sets the clock used for new tokens and activity timestamps
func WithServiceClock(clock Clock) ServiceOption {
	return func(s *Service) {
		s.clock = clock
	}
}

// NewService wires the coordinator. A nil requester falls back to an
// HTTPRequester built from cfg.
func NewService(cfg Config, store *TokenStore, requester Requester, opts ...ServiceOption) *Service {
	s := &Service{
		cfg:        cfg,
		store:      store,
		requester:  requester,
		activity:   noopActivitySink{},
		clearHooks: map[int]func(){},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = resolveLogger("authclient.service", s.provider, s.logger)

	if s.store == nil {
		s.store = NewTokenStore(nil, WithStoreLoggerProvider(s.provider))
	}
	if s.requester == nil {
		s.requester = NewHTTPRequester(cfg, WithRequesterLoggerProvider(s.provider))
	}
	return s
}

// Config returns a copy of the service configuration
func (s *Service) Config() Config {
	return s.cfg
}

// Store returns the token store owned by the service
func (s *Service) Store() *TokenStore {
	return s.store
}

// Token returns the current token, rehydrated from storage when present
func (s *Service) Token(ctx context.Context) *Token {
	token, err := s.store.Get(ctx)
	if err != nil {
		return s.store.Current()
	}
	return token
}

// IsAuthenticated reports whether the current token is valid. It never
// performs network I/O.
func (s *Service) IsAuthenticated(ctx context.Context) bool {
	return s.Token(ctx).IsValid()
}

// OnAuthenticationChange maps the token change stream through IsValid
func (s *Service) OnAuthenticationChange() (<-chan bool, func()) {
	tokens, unsubscribe := s.store.TokenChange()
	out := make(chan bool, tokenChangeBuffer)

	go func() {
		defer close(out)
		for token := range tokens {
			valid := token.IsValid()
			select {
			case out <- valid:
			default:
				select {
				case <-out:
				default:
				}
				select {
				case out <- valid:
				default:
				}
			}
		}
	}()

	return out, unsubscribe
}

// OnClear registers fn to run after the local token is cleared. The returned
// func removes the hook.
func (s *Service) OnClear(fn func()) func() {
	s.hooksMu.Lock()
	id := s.nextHook
	s.nextHook++
	s.clearHooks[id] = fn
	s.hooksMu.Unlock()

	return func() {
		s.hooksMu.Lock()
		delete(s.clearHooks, id)
		s.hooksMu.Unlock()
	}
}

func (s *Service) clearToken(ctx context.Context) error {
	if err := s.store.Clear(ctx); err != nil {
		return err
	}

	s.hooksMu.RLock()
	hooks := make([]func(), 0, len(s.clearHooks))
	for _, fn := range s.clearHooks {
		hooks = append(hooks, fn)
	}
	s.hooksMu.RUnlock()

	for _, fn := range hooks {
		fn()
	}
	return nil
}

func (s *Service) send(ctx context.Context, e Endpoint, body any, bearer string) (*Response, error) {
	return s.requester.Do(ctx, Request{
		Method: e.Method,
		URL:    s.cfg.URL(e),
		Body:   body,
		Token:  bearer,
	})
}

// tokenFlow runs an endpoint whose successful answer carries a new token
func (s *Service) tokenFlow(ctx context.Context, name string, e Endpoint, body any, bearer string) AuthResult {
	resp, err := s.send(ctx, e, body, bearer)
	if err != nil {
		s.logger.Debug("auth request failed", "endpoint", name, "status", statusOf(resp), "error", err)
		return failureResult(resp, err, e.Redirect.Failure, s.errorsFor(name, e, resp))
	}

	token, err := s.buildToken(name, e, resp)
	if err != nil {
		s.logger.Warn("auth response carried no usable token", "endpoint", name, "error", err)
		return failureResult(resp, err, e.Redirect.Failure, s.errorsFor(name, e, resp))
	}

	if !token.IsEmpty() {
		if err := s.store.Set(ctx, token); err != nil {
			return failureResult(resp, err, e.Redirect.Failure, s.errorsFor(name, e, resp))
		}
	}

	return successResult(resp, token, e.Redirect.Success, s.messagesFor(name, e, resp))
}

// plainFlow runs an endpoint that does not touch the token
func (s *Service) plainFlow(ctx context.Context, name string, e Endpoint, body any, bearer string) AuthResult {
	resp, err := s.send(ctx, e, body, bearer)
	if err != nil {
		s.logger.Debug("auth request failed", "endpoint", name, "status", statusOf(resp), "error", err)
		return failureResult(resp, err, e.Redirect.Failure, s.errorsFor(name, e, resp))
	}
	return successResult(resp, nil, e.Redirect.Success, s.messagesFor(name, e, resp))
}

func (s *Service) buildToken(name string, e Endpoint, resp *Response) (*Token, error) {
	raw := s.tokenValue(name, resp)
	if raw == "" {
		if e.RequireValidToken {
			return nil, ErrIllegalToken.Clone().WithMetadata(map[string]any{"endpoint": name})
		}
		return EmptyToken(), nil
	}

	token, err := NewToken(raw, WithDecoder(s.cfg.decoder()), WithClock(s.clock))
	if err != nil {
		return nil, err
	}

	if e.RequireValidToken && !token.IsValid() {
		return nil, ErrIllegalToken.Clone().WithMetadata(map[string]any{
			"endpoint": name,
			"token":    token.String(),
		})
	}
	return token, nil
}

func (s *Service) tokenValue(name string, resp *Response) string {
	if s.cfg.Token.Getter != nil {
		return s.cfg.Token.Getter(name, resp)
	}
	if resp == nil {
		return ""
	}
	key := s.cfg.Token.Key
	if key == "" {
		key = DefaultTokenKey
	}
	return LookupString(resp.Body, key)
}

func (s *Service) errorsFor(name string, e Endpoint, resp *Response) []string {
	var out []string
	if s.cfg.ResponseKeys.ErrorsGetter != nil {
		out = s.cfg.ResponseKeys.ErrorsGetter(name, resp)
	} else if resp != nil {
		out = LookupStrings(resp.Body, s.cfg.ResponseKeys.ErrorsKey)
	}
	if len(out) == 0 {
		return append([]string(nil), e.DefaultErrors...)
	}
	return out
}

func (s *Service) messagesFor(name string, e Endpoint, resp *Response) []string {
	var out []string
	if s.cfg.ResponseKeys.MessagesGetter != nil {
		out = s.cfg.ResponseKeys.MessagesGetter(name, resp)
	} else if resp != nil {
		out = LookupStrings(resp.Body, s.cfg.ResponseKeys.MessagesKey)
	}
	if len(out) == 0 {
		return append([]string(nil), e.DefaultMessages...)
	}
	return out
}

func (s *Service) record(ctx context.Context, kind ActivityEventType, result AuthResult) {
	if err := s.activity.Record(ctx, newActivityEvent(kind, result, s.clock.Now())); err != nil {
		s.logger.Warn("activity sink error", "event", kind, "error", err)
	}
}

func statusOf(resp *Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}
