package authclient

import (
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/goliatone/go-errors"
)

const routePatternPrefix = "re:"

// Interceptor is an http.RoundTripper that attaches the current token to
// eligible outbound requests. The token is cached from the store updates,
// clears included, and an update older than the cached one is dropped.
type Interceptor struct {
	base   http.RoundTripper
	header string
	scheme string
	skip   bool

	hosts    []string
	routes   map[string]struct{}
	patterns []*regexp.Regexp

	logger   Logger
	provider LoggerProvider

	mu    sync.RWMutex
	token *Token
	gen   uint64

	unsubscribe func()
	unhook      func()
	closeOnce   sync.Once
}

// InterceptorOption configures an Interceptor
type InterceptorOption func(*Interceptor)

// WithInterceptorLogger sets the interceptor logger
func WithInterceptorLogger(logger Logger) InterceptorOption {
	return func(i *Interceptor) {
		i.logger = logger
	}
}

// WithInterceptorLoggerProvider resolves the interceptor logger from a provider
func WithInterceptorLoggerProvider(provider LoggerProvider) InterceptorOption {
	return func(i *Interceptor) {
		i.provider = provider
	}
}

// NewInterceptor builds an interceptor fed by svc. A nil base uses
// http.DefaultTransport. The host of the configured BaseURL is always
// eligible in addition to InterceptorConfig.AllowedHosts.
func NewInterceptor(svc *Service, base http.RoundTripper, opts ...InterceptorOption) (*Interceptor, error) {
	cfg := svc.Config()
	ic := cfg.Interceptor

	if base == nil {
		base = http.DefaultTransport
	}

	i := &Interceptor{
		base:   base,
		header: ic.HeaderName,
		scheme: ic.Scheme,
		skip:   ic.SkipWhenExpired,
		routes: map[string]struct{}{},
	}
	if i.header == "" {
		i.header = DefaultHeaderName
	}
	if i.scheme == "" {
		i.scheme = DefaultAuthScheme
	}

	for _, opt := range opts {
		opt(i)
	}
	i.logger = resolveLogger("authclient.interceptor", i.provider, i.logger)

	for _, h := range ic.AllowedHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			i.hosts = append(i.hosts, h)
		}
	}
	if u, err := url.Parse(cfg.BaseURL); err == nil && u.Host != "" {
		i.hosts = append(i.hosts, strings.ToLower(u.Host))
	}

	for _, route := range ic.DisallowedRoutes {
		if !strings.HasPrefix(route, routePatternPrefix) {
			i.routes[route] = struct{}{}
			continue
		}
		re, err := regexp.Compile(strings.TrimPrefix(route, routePatternPrefix))
		if err != nil {
			return nil, errors.Wrap(err, errors.CategoryValidation, "invalid disallowed route pattern").
				WithTextCode(TextCodeInvalidConfig).
				WithMetadata(map[string]any{"route": route})
		}
		i.patterns = append(i.patterns, re)
	}

	updates, unsubscribe := svc.Store().watch()
	i.unsubscribe = unsubscribe
	// the clear is visible before Logout returns, the watcher may lag
	i.unhook = svc.OnClear(func() { i.apply(svc.Store().snapshot()) })
	i.apply(svc.Store().snapshot())

	go func() {
		for update := range updates {
			i.apply(update)
		}
	}()

	return i, nil
}

// NewHTTPClient returns a copy of base whose transport is wrapped by a new
// interceptor. The caller owns the returned Interceptor and should Close it.
func NewHTTPClient(svc *Service, base *http.Client, opts ...InterceptorOption) (*http.Client, *Interceptor, error) {
	client := &http.Client{}
	if base != nil {
		*client = *base
	}

	interceptor, err := NewInterceptor(svc, client.Transport, opts...)
	if err != nil {
		return nil, nil, err
	}
	client.Transport = interceptor
	return client, interceptor, nil
}

func (i *Interceptor) RoundTrip(req *http.Request) (*http.Response, error) {
	if !i.eligible(req.URL) {
		return i.base.RoundTrip(req)
	}

	token := i.Token()
	if token.IsEmpty() {
		return i.base.RoundTrip(req)
	}
	if i.skip && !token.IsValid() {
		i.logger.Debug("skipping expired token", "url", req.URL.Redacted())
		return i.base.RoundTrip(req)
	}

	decorated := req.Clone(req.Context())
	decorated.Header.Set(i.header, i.scheme+token.Value())
	return i.base.RoundTrip(decorated)
}

// Token returns the cached token
func (i *Interceptor) Token() *Token {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.token
}

// Close stops following token changes
func (i *Interceptor) Close() {
	i.closeOnce.Do(func() {
		i.unhook()
		i.unsubscribe()
	})
}

func (i *Interceptor) apply(update tokenUpdate) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.token != nil && update.gen < i.gen {
		return
	}
	i.token = update.token
	i.gen = update.gen
}

func (i *Interceptor) eligible(u *url.URL) bool {
	if u == nil {
		return false
	}
	return i.allowedHost(u) && !i.disallowedRoute(u)
}

func (i *Interceptor) allowedHost(u *url.URL) bool {
	if u.Host == "" {
		return true
	}

	host := strings.ToLower(u.Host)
	hostname := strings.ToLower(u.Hostname())
	for _, allowed := range i.hosts {
		switch {
		case strings.HasPrefix(allowed, "*."):
			if strings.HasSuffix(hostname, allowed[1:]) {
				return true
			}
		case strings.Contains(allowed, ":"):
			if host == allowed {
				return true
			}
		default:
			if hostname == allowed {
				return true
			}
		}
	}
	return false
}

func (i *Interceptor) disallowedRoute(u *url.URL) bool {
	full := u.String()
	if _, ok := i.routes[u.Path]; ok {
		return true
	}
	if _, ok := i.routes[full]; ok {
		return true
	}
	for _, re := range i.patterns {
		if re.MatchString(full) {
			return true
		}
	}
	return false
}
