package authclient_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	authclient "github.com/goliatone/go-auth-client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type capturingTransport struct {
	mu      sync.Mutex
	headers []http.Header
}

func (c *capturingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	c.mu.Lock()
	c.headers = append(c.headers, req.Header.Clone())
	c.mu.Unlock()
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader("")),
		Header:     http.Header{},
		Request:    req,
	}, nil
}

func (c *capturingTransport) last() http.Header {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.headers[len(c.headers)-1]
}

func newInterceptorService(t *testing.T, mutate func(*authclient.Config)) (*authclient.Service, *authclient.TokenStore) {
	t.Helper()
	cfg := authclient.DefaultConfig()
	cfg.BaseURL = "https://api.example.com"
	if mutate != nil {
		mutate(&cfg)
	}
	store := authclient.NewTokenStore(authclient.NewMemoryStorage())
	return authclient.NewService(cfg, store, nil), store
}

func roundTrip(t *testing.T, rt http.RoundTripper, target string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Empty(t, req.Header.Get("Authorization"), "original request must not be mutated")
}

func TestInterceptorEligibility(t *testing.T) {
	svc, store := newInterceptorService(t, func(cfg *authclient.Config) {
		cfg.Interceptor.AllowedHosts = []string{"files.example.com", "localhost:8080", "*.internal.example.com"}
		cfg.Interceptor.DisallowedRoutes = []string{
			"/api/auth/login",
			"https://api.example.com/api/auth/refresh",
			`re:^https://api\.example\.com/public/.*`,
		}
	})
	raw := validJWT(t)
	storeToken(t, store, raw)

	base := &capturingTransport{}
	interceptor, err := authclient.NewInterceptor(svc, base)
	require.NoError(t, err)
	defer interceptor.Close()

	tests := []struct {
		target   string
		decorate bool
	}{
		{target: "https://api.example.com/api/items", decorate: true},
		{target: "https://files.example.com/upload", decorate: true},
		{target: "http://localhost:8080/x", decorate: true},
		{target: "http://localhost:9090/x", decorate: false},
		{target: "https://a.internal.example.com/y", decorate: true},
		{target: "https://internal.example.com/y", decorate: false},
		{target: "https://evil.example.org/api/items", decorate: false},
		{target: "https://api.example.com/api/auth/login", decorate: false},
		{target: "https://api.example.com/api/auth/refresh", decorate: false},
		{target: "https://api.example.com/public/docs", decorate: false},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			roundTrip(t, interceptor, tt.target)
			if tt.decorate {
				assert.Equal(t, "Bearer "+raw, base.last().Get("Authorization"))
			} else {
				assert.Empty(t, base.last().Get("Authorization"))
			}
		})
	}
}

func TestInterceptorWithoutToken(t *testing.T) {
	svc, _ := newInterceptorService(t, nil)
	base := &capturingTransport{}
	interceptor, err := authclient.NewInterceptor(svc, base)
	require.NoError(t, err)
	defer interceptor.Close()

	roundTrip(t, interceptor, "https://api.example.com/api/items")
	assert.Empty(t, base.last().Get("Authorization"))
}

func TestInterceptorExpiredToken(t *testing.T) {
	for _, skip := range []bool{false, true} {
		svc, store := newInterceptorService(t, func(cfg *authclient.Config) {
			cfg.Interceptor.SkipWhenExpired = skip
		})
		raw := expiredJWT(t)
		storeToken(t, store, raw)

		base := &capturingTransport{}
		interceptor, err := authclient.NewInterceptor(svc, base)
		require.NoError(t, err)

		roundTrip(t, interceptor, "https://api.example.com/api/items")
		if skip {
			assert.Empty(t, base.last().Get("Authorization"))
		} else {
			assert.Equal(t, "Bearer "+raw, base.last().Get("Authorization"))
		}
		interceptor.Close()
	}
}

func TestInterceptorCustomHeader(t *testing.T) {
	svc, store := newInterceptorService(t, func(cfg *authclient.Config) {
		cfg.Interceptor.HeaderName = "X-Auth"
		cfg.Interceptor.Scheme = "Token "
	})
	raw := validJWT(t)
	storeToken(t, store, raw)

	base := &capturingTransport{}
	interceptor, err := authclient.NewInterceptor(svc, base)
	require.NoError(t, err)
	defer interceptor.Close()

	roundTrip(t, interceptor, "https://api.example.com/api/items")
	assert.Equal(t, "Token "+raw, base.last().Get("X-Auth"))
	assert.Empty(t, base.last().Get("Authorization"))
}

func TestInterceptorFollowsTokenChanges(t *testing.T) {
	svc, store := newInterceptorService(t, nil)
	interceptor, err := authclient.NewInterceptor(svc, &capturingTransport{})
	require.NoError(t, err)
	defer interceptor.Close()

	raw := validJWT(t)
	storeToken(t, store, raw)

	assert.Eventually(t, func() bool {
		return interceptor.Token().Value() == raw
	}, time.Second, 5*time.Millisecond)
}

func TestInterceptorResetOnLogout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := authclient.DefaultConfig()
	cfg.BaseURL = server.URL
	store := authclient.NewTokenStore(authclient.NewMemoryStorage())
	svc := authclient.NewService(cfg, store, nil)
	storeToken(t, store, validJWT(t))

	interceptor, err := authclient.NewInterceptor(svc, &capturingTransport{})
	require.NoError(t, err)
	defer interceptor.Close()
	require.False(t, interceptor.Token().IsEmpty())

	require.True(t, svc.Logout(context.Background()).Success)
	assert.True(t, interceptor.Token().IsEmpty())
}

func TestInterceptorStaysClearedAfterLogout(t *testing.T) {
	// one P keeps the watcher goroutine from draining the pending token
	// before Logout runs the clear
	defer runtime.GOMAXPROCS(runtime.GOMAXPROCS(1))

	requester := &MockRequester{}
	requester.On("Do", mock.Anything, mock.Anything).
		Return(&authclient.Response{StatusCode: http.StatusOK}, nil)

	cfg := authclient.DefaultConfig()
	cfg.BaseURL = "https://api.example.com"
	store := authclient.NewTokenStore(authclient.NewMemoryStorage())
	svc := authclient.NewService(cfg, store, requester)

	base := &capturingTransport{}
	interceptor, err := authclient.NewInterceptor(svc, base)
	require.NoError(t, err)
	defer interceptor.Close()

	raw := validJWT(t)
	for n := 0; n < 10; n++ {
		storeToken(t, store, raw)
		require.True(t, svc.Logout(context.Background()).Success)

		assert.True(t, store.Current().IsEmpty())
		assert.Never(t, func() bool {
			return !interceptor.Token().IsEmpty()
		}, 30*time.Millisecond, time.Millisecond, "logged out token came back on attempt %d", n)
	}

	roundTrip(t, interceptor, "https://api.example.com/api/orders")
	assert.Empty(t, base.last().Get("Authorization"))
}

func TestInterceptorInvalidPattern(t *testing.T) {
	svc, _ := newInterceptorService(t, func(cfg *authclient.Config) {
		cfg.Interceptor.DisallowedRoutes = []string{"re:("}
	})

	_, err := authclient.NewInterceptor(svc, nil)
	require.Error(t, err)
}

func TestNewHTTPClient(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
	}))
	defer server.Close()

	cfg := authclient.DefaultConfig()
	cfg.BaseURL = server.URL
	store := authclient.NewTokenStore(authclient.NewMemoryStorage())
	svc := authclient.NewService(cfg, store, nil)
	raw := validJWT(t)
	storeToken(t, store, raw)

	client, interceptor, err := authclient.NewHTTPClient(svc, &http.Client{Timeout: 5 * time.Second})
	require.NoError(t, err)
	defer interceptor.Close()

	resp, err := client.Get(server.URL + "/api/items")
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, "Bearer "+raw, got)
	assert.Equal(t, 5*time.Second, client.Timeout)
}
