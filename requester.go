package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/google/uuid"
)

const RequestIDHeader = "X-Request-ID"

// Request is a single call to the REST backend
type Request struct {
	Method string
	URL    string
	Body   any
	Header http.Header
	// Token is sent as the bearer credential when not empty
	Token string
}

// Response is the decoded backend answer
type Response struct {
	StatusCode int
	Header     http.Header
	Raw        []byte
	// Body holds the decoded JSON object, nil for empty or non object bodies
	Body map[string]any
}

// OK reports a 2xx status
func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Requester performs HTTP calls. A non 2xx answer returns both the response
// and an ErrRequestFailed error, a transport failure returns a nil response.
type Requester interface {
	Do(ctx context.Context, req Request) (*Response, error)
}

// HTTPRequester is the net/http backed Requester with bounded retries
type HTTPRequester struct {
	client     *http.Client
	retry      RetryConfig
	headerName string
	scheme     string
	debug      bool
	logger     Logger
	provider   LoggerProvider
}

var _ Requester = (*HTTPRequester)(nil)

// RequesterOption configures an HTTPRequester
type RequesterOption func(*HTTPRequester)

// WithHTTPClient sets the underlying client
func WithHTTPClient(client *http.Client) RequesterOption {
	return func(r *HTTPRequester) {
		if client != nil {
			r.client = client
		}
	}
}

// WithRequesterLogger sets the logger
func WithRequesterLogger(logger Logger) RequesterOption {
	return func(r *HTTPRequester) {
		r.logger = logger
	}
}

// WithRequesterLoggerProvider resolves the logger from a provider
func WithRequesterLoggerProvider(provider LoggerProvider) RequesterOption {
	return func(r *HTTPRequester) {
		r.provider = provider
	}
}

// NewHTTPRequester builds a requester honoring the retry, header and debug
// settings in cfg.
func NewHTTPRequester(cfg Config, opts ...RequesterOption) *HTTPRequester {
	r := &HTTPRequester{
		client:     &http.Client{Timeout: 30 * time.Second},
		retry:      cfg.Retry,
		headerName: cfg.Interceptor.HeaderName,
		scheme:     cfg.Interceptor.Scheme,
		debug:      cfg.Debug,
	}
	if r.headerName == "" {
		r.headerName = DefaultHeaderName
	}
	if r.scheme == "" {
		r.scheme = DefaultAuthScheme
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = resolveLogger("authclient.requester", r.provider, r.logger)
	return r
}

func (r *HTTPRequester) Do(ctx context.Context, req Request) (*Response, error) {
	var payload []byte
	if req.Body != nil {
		var err error
		if payload, err = json.Marshal(req.Body); err != nil {
			return nil, errors.Wrap(err, errors.CategoryBadInput, "failed to encode request body")
		}
	}

	requestID := uuid.NewString()
	backoff := r.retry.Backoff

	for attempt := 0; ; attempt++ {
		resp, err := r.do(ctx, req, payload, requestID)
		if !r.shouldRetry(ctx, resp, err) || attempt >= r.retry.MaxRetries {
			return resp, err
		}

		r.logger.Debug("retrying auth request",
			"url", req.URL,
			"attempt", attempt+1,
			"request_id", requestID,
			"error", err,
		)

		if backoff > 0 {
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return resp, err
			case <-timer.C:
			}
			backoff *= 2
		}
	}
}

func (r *HTTPRequester) do(ctx context.Context, req Request, payload []byte, requestID string) (*Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryBadInput, "failed to build request")
	}

	for k, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set(RequestIDHeader, requestID)
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.Token != "" {
		httpReq.Header.Set(r.headerName, r.scheme+req.Token)
	}

	if r.debug {
		r.logger.Debug("auth request",
			"method", req.Method,
			"url", req.URL,
			"request_id", requestID,
			"body", print.MaybeSecureJSON(req.Body),
		)
	}

	httpResp, err := r.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(ctx.Err(), errors.CategoryExternal, "auth request cancelled").
				WithTextCode(TextCodeRequestTransport)
		}
		return nil, errors.WrapRetryable(err, errors.CategoryExternal, "auth request transport failure").
			WithTextCode(TextCodeRequestTransport).
			WithRetryDelay(r.retry.Backoff)
	}
	//nolint:errcheck // best-effort cleanup on return
	defer func() { _ = httpResp.Body.Close() }()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, errors.WrapRetryable(err, errors.CategoryExternal, "failed to read auth response").
			WithTextCode(TextCodeRequestTransport)
	}

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Raw:        raw,
	}
	if len(bytes.TrimSpace(raw)) > 0 {
		var decoded map[string]any
		if err := json.Unmarshal(raw, &decoded); err == nil {
			resp.Body = decoded
		}
	}

	if r.debug {
		r.logger.Debug("auth response",
			"status", resp.StatusCode,
			"request_id", requestID,
			"body", print.MaybeSecureJSON(resp.Body),
		)
	}

	if !resp.OK() {
		return resp, ErrRequestFailed.Clone().
			WithCode(resp.StatusCode).
			WithMetadata(map[string]any{
				"url":        req.URL,
				"method":     req.Method,
				"status":     resp.StatusCode,
				"request_id": requestID,
			})
	}

	return resp, nil
}

func (r *HTTPRequester) shouldRetry(ctx context.Context, resp *Response, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.IsRetryableError(err) {
		return true
	}
	if resp == nil {
		return false
	}
	switch resp.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}
