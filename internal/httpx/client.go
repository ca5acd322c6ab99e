package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/Ratio1/ratio1_records_go/internal/httpx"

// Doer is the minimal HTTP client contract. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RetryPolicy controls how often a request is attempted when the transport
// fails to produce any HTTP response. Responses, whatever their status, are
// never retried.
type RetryPolicy struct {
	// MaxAttempts is the total number of calls made before giving up.
	MaxAttempts int
	// Delay computes the wait before the next attempt. Nil means a fixed
	// Interval.
	Delay Delay
	// Interval is the fixed wait between attempts used when Delay is nil.
	Interval time.Duration
	// RetryIf overrides the default network-error classification.
	RetryIf func(err error) bool
}

// DefaultRetryPolicy makes three attempts spaced three seconds apart.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	Interval:    3 * time.Second,
}

// DefaultHeaders are sent with every request unless overridden.
var DefaultHeaders = http.Header{
	"Accept":           {"application/json"},
	"X-Requested-With": {"XMLHttpRequest"},
}

// RequestHook mutates an outbound request immediately before it is sent.
type RequestHook func(req *http.Request) error

// RedirectPolicy mirrors the fetch API redirect modes.
type RedirectPolicy string

const (
	RedirectFollow RedirectPolicy = "follow"
	RedirectManual RedirectPolicy = "manual"
	RedirectError  RedirectPolicy = "error"
)

// ErrRedirectRefused is returned when a redirect is received under RedirectError.
var ErrRedirectRefused = errors.New("httpx: redirect refused")

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used by the helper.
func WithHTTPClient(h Doer) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithHeaders assigns default headers added to every request. Values replace
// the built-in defaults for the same header name.
func WithHeaders(h http.Header) Option {
	return func(c *Client) {
		for k, values := range h {
			c.headers.Del(k)
			for _, v := range values {
				c.headers.Add(k, v)
			}
		}
	}
}

// WithRetryPolicy overrides the default retry configuration.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(c *Client) {
		c.retryPolicy = policy
	}
}

// WithRequestHook registers a hook run on every attempt before sending,
// typically to inject credentials.
func WithRequestHook(hook RequestHook) Option {
	return func(c *Client) {
		if hook != nil {
			c.hooks = append(c.hooks, hook)
		}
	}
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Client wraps an HTTP client providing retry and base URL utilities.
type Client struct {
	baseURL     *url.URL
	httpClient  Doer
	headers     http.Header
	retryPolicy RetryPolicy
	hooks       []RequestHook
	logger      *slog.Logger
	tracer      trace.Tracer
}

// Request describes a single outbound request.
type Request struct {
	Method       string
	Path         string
	Query        url.Values
	Header       http.Header
	DisableRetry bool
	Body         io.Reader
	GetBody      func() (io.ReadCloser, error)
	// Prepare runs after the client hooks, on every attempt.
	Prepare  RequestHook
	Redirect RedirectPolicy
}

// NewClient creates a Client for the provided base URL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("httpx: base URL is required")
	}

	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("httpx: invalid base URL: %w", err)
	}
	if !strings.HasSuffix(parsed.Path, "/") {
		parsed.Path += "/"
	}

	c := &Client{
		baseURL: parsed,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		headers:     cloneHeader(DefaultHeaders),
		retryPolicy: DefaultRetryPolicy,
		logger:      slog.New(slog.DiscardHandler),
		tracer:      otel.Tracer(tracerName),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.retryPolicy.MaxAttempts < 1 {
		c.retryPolicy.MaxAttempts = 1
	}
	if c.retryPolicy.Delay == nil {
		c.retryPolicy.Delay = FixedDelay(c.retryPolicy.Interval)
	}
	return c, nil
}

// BaseURL returns the resolved base URL.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Do executes the provided request. Transport failures are retried according
// to the retry policy; the last observed error is returned once every attempt
// has failed. Any HTTP response, including 4xx and 5xx, is returned as is.
func (c *Client) Do(ctx context.Context, req *Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("httpx: request is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if req.Method == "" {
		return nil, errors.New("httpx: HTTP method is required")
	}
	if (req.Method == http.MethodGet || req.Method == http.MethodHead) && (req.Body != nil || req.GetBody != nil) {
		return nil, fmt.Errorf("httpx: %s request cannot carry a body", req.Method)
	}

	if req.DisableRetry {
		req.GetBody = nil
	} else if req.GetBody == nil && req.Body != nil {
		// Buffer the body so every attempt can replay it.
		data, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("httpx: read request body: %w", err)
		}
		req.Body = bytes.NewReader(data)
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		}
	}

	fullURL, err := c.buildURL(req.Path, req.Query)
	if err != nil {
		return nil, err
	}

	ctx, span := c.tracer.Start(ctx, "httpx "+req.Method, trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.full", fullURL),
		))
	defer span.End()

	attempts := c.retryPolicy.MaxAttempts
	if req.DisableRetry {
		attempts = 1
	}
	doer := c.doerFor(req.Redirect)

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, c.retryPolicy.Delay.ForAttempt(attempt-1)); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, err
			}
		}

		body, err := c.prepareBody(req, attempt == 0)
		if err != nil {
			return nil, err
		}

		httpReq, err := http.NewRequestWithContext(ctx, req.Method, fullURL, body)
		if err != nil {
			return nil, err
		}
		httpReq.Header = cloneHeader(c.headers)
		for k, values := range req.Header {
			httpReq.Header.Del(k)
			for _, v := range values {
				httpReq.Header.Add(k, v)
			}
		}
		if err := c.runHooks(httpReq, req.Prepare); err != nil {
			return nil, err
		}

		resp, err := doer.Do(httpReq)
		if err == nil {
			span.SetAttributes(
				attribute.Int("http.response.status_code", resp.StatusCode),
				attribute.Int("http.request.resend_count", attempt),
			)
			return resp, nil
		}

		closeBody(respBody(resp))
		lastErr = err
		if !c.shouldRetry(ctx, err) {
			break
		}
		c.logger.DebugContext(ctx, "httpx: attempt failed",
			"attempt", attempt+1,
			"max_attempts", attempts,
			"method", req.Method,
			"url", fullURL,
			"error", err,
		)
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())
	return nil, lastErr
}

func (c *Client) runHooks(httpReq *http.Request, prepare RequestHook) error {
	for _, hook := range c.hooks {
		if err := hook(httpReq); err != nil {
			return fmt.Errorf("httpx: request hook: %w", err)
		}
	}
	if prepare != nil {
		if err := prepare(httpReq); err != nil {
			return fmt.Errorf("httpx: request hook: %w", err)
		}
	}
	return nil
}

func (c *Client) doerFor(policy RedirectPolicy) Doer {
	if policy == "" || policy == RedirectFollow {
		return c.httpClient
	}
	hc, ok := c.httpClient.(*http.Client)
	if !ok {
		return c.httpClient
	}
	clone := *hc
	switch policy {
	case RedirectManual:
		clone.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	case RedirectError:
		clone.CheckRedirect = func(*http.Request, []*http.Request) error {
			return ErrRedirectRefused
		}
	}
	return &clone
}

func (c *Client) prepareBody(req *Request, first bool) (io.ReadCloser, error) {
	if first && req.Body != nil {
		body := req.Body
		req.Body = nil
		if rc, ok := body.(io.ReadCloser); ok {
			return rc, nil
		}
		return io.NopCloser(body), nil
	}
	if req.GetBody != nil {
		return req.GetBody()
	}
	return http.NoBody, nil
}

func (c *Client) shouldRetry(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if c.retryPolicy.RetryIf != nil {
		return c.retryPolicy.RetryIf(err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrRedirectRefused) {
		return false
	}
	return true
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func closeBody(rc io.ReadCloser) {
	if rc != nil {
		_ = rc.Close()
	}
}

func respBody(resp *http.Response) io.ReadCloser {
	if resp == nil {
		return nil
	}
	return resp.Body
}

func (c *Client) buildURL(path string, q url.Values) (string, error) {
	ref, err := url.Parse(strings.TrimPrefix(path, "/"))
	if err != nil {
		return "", fmt.Errorf("httpx: invalid path %q: %w", path, err)
	}
	if len(q) > 0 {
		ref.RawQuery = q.Encode()
	}
	full := c.baseURL.ResolveReference(ref)
	return full.String(), nil
}

// DrainAndClose discards whatever is left of the body so the connection can
// be reused.
func DrainAndClose(rc io.ReadCloser) {
	if rc == nil {
		return
	}
	_, _ = io.Copy(io.Discard, rc)
	_ = rc.Close()
}

// JSONBody serializes the supplied value into JSON without HTML escaping.
func JSONBody(v any) ([]byte, error) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// ReadAllAndClose drains the reader and ensures it is closed.
func ReadAllAndClose(rc io.ReadCloser) ([]byte, error) {
	defer closeBody(rc)
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func isJSON(contentType string) bool {
	if contentType == "" {
		return false
	}
	if idx := strings.Index(contentType, ";"); idx >= 0 {
		contentType = contentType[:idx]
	}
	return strings.TrimSpace(contentType) == "application/json"
}

func cloneHeader(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for k, values := range src {
		vCopy := make([]string, len(values))
		copy(vCopy, values)
		dst[k] = vCopy
	}
	return dst
}
