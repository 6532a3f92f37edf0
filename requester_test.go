package authclient_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	authclient "github.com/goliatone/go-auth-client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryConfig() authclient.Config {
	cfg := authclient.DefaultConfig()
	cfg.Retry.Backoff = time.Millisecond
	return cfg
}

func TestHTTPRequesterSendsJSON(t *testing.T) {
	var got struct {
		method, auth, contentType, accept, requestID string
		body                                         map[string]any
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.method = r.Method
		got.auth = r.Header.Get("Authorization")
		got.contentType = r.Header.Get("Content-Type")
		got.accept = r.Header.Get("Accept")
		got.requestID = r.Header.Get(authclient.RequestIDHeader)
		_ = json.NewDecoder(r.Body).Decode(&got.body)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"token":"abc"}}`))
	}))
	defer server.Close()

	requester := authclient.NewHTTPRequester(fastRetryConfig())
	resp, err := requester.Do(context.Background(), authclient.Request{
		Method: http.MethodPost,
		URL:    server.URL + "/api/auth/login",
		Body:   map[string]any{"email": "a@example.com"},
		Token:  "bearer-value",
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, resp.OK())
	assert.Equal(t, "abc", authclient.LookupString(resp.Body, "data.token"))

	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "Bearer bearer-value", got.auth)
	assert.Equal(t, "application/json", got.contentType)
	assert.Equal(t, "application/json", got.accept)
	assert.NotEmpty(t, got.requestID)
	assert.Equal(t, "a@example.com", got.body["email"])
}

func TestHTTPRequesterRetryBound(t *testing.T) {
	var calls atomic.Int32
	var mu sync.Mutex
	requestIDs := map[string]struct{}{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		mu.Lock()
		requestIDs[r.Header.Get(authclient.RequestIDHeader)] = struct{}{}
		mu.Unlock()
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	requester := authclient.NewHTTPRequester(fastRetryConfig())
	resp, err := requester.Do(context.Background(), authclient.Request{
		Method: http.MethodPost,
		URL:    server.URL,
		Body:   map[string]any{"x": 1},
	})

	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.True(t, authclient.IsRequestError(err))
	assert.Equal(t, int32(1+authclient.DefaultMaxRetries), calls.Load())
	assert.Len(t, requestIDs, 1)
}

func TestHTTPRequesterRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	resp, err := authclient.NewHTTPRequester(fastRetryConfig()).Do(context.Background(), authclient.Request{
		Method: http.MethodGet,
		URL:    server.URL,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPRequesterDoesNotRetryDefinitiveStatuses(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound, http.StatusInternalServerError} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(status)
				_, _ = w.Write([]byte(`{"error":{"errors":["nope"]}}`))
			}))
			defer server.Close()

			resp, err := authclient.NewHTTPRequester(fastRetryConfig()).Do(context.Background(), authclient.Request{
				Method: http.MethodPost,
				URL:    server.URL,
			})
			require.Error(t, err)
			assert.Equal(t, status, resp.StatusCode)
			assert.Equal(t, []string{"nope"}, authclient.LookupStrings(resp.Body, "error.errors"))
			assert.Equal(t, int32(1), calls.Load())
		})
	}
}

func TestHTTPRequesterTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	resp, err := authclient.NewHTTPRequester(fastRetryConfig()).Do(context.Background(), authclient.Request{
		Method: http.MethodGet,
		URL:    url,
	})
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.True(t, authclient.IsRequestError(err))
}

func TestHTTPRequesterStopsOnCancel(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := authclient.DefaultConfig()
	cfg.Retry.Backoff = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := authclient.NewHTTPRequester(cfg).Do(ctx, authclient.Request{Method: http.MethodGet, URL: server.URL})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, int32(1), calls.Load())
}
