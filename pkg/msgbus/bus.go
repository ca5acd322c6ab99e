package msgbus

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/Ratio1/ratio1_records_go/internal/httpx"
)

// ErrNotChunked is returned by Upload when Chunks has not been called.
var ErrNotChunked = errors.New("msgbus: no chunked upload prepared")

// Option configures a Bus.
type Option func(*Bus)

// WithChunkSize overrides DefaultChunkSize. Values below 1 are ignored.
func WithChunkSize(n int64) Option {
	return func(b *Bus) {
		if n > 0 {
			b.chunkSize = n
		}
	}
}

// WithUploadConcurrency bounds the number of chunks in flight.
func WithUploadConcurrency(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.uploadConcurrency = n
		}
	}
}

// WithProgress registers a callback invoked once per completed chunk with
// that chunk's size in bytes. Calls are serialized.
func WithProgress(fn func(n int64)) Option {
	return func(b *Bus) {
		b.progress = fn
	}
}

// WithHash selects the content hash returned by Chunks.
func WithHash(alg HashAlgorithm) Option {
	return func(b *Bus) {
		b.hash = alg
	}
}

// WithLogger sets the logger used for upload diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// Bus builds and sends requests against one endpoint path.
type Bus struct {
	client *httpx.Client
	path   string

	header   http.Header
	query    url.Values
	body     []byte
	hasBody  bool
	redirect httpx.RedirectPolicy
	err      error

	chunkSize         int64
	uploadConcurrency int
	progress          func(n int64)
	hash              HashAlgorithm
	logger            *slog.Logger
	plan              *chunkPlan
}

// New creates a Bus for path relative to the client's base URL.
func New(client *httpx.Client, path string, opts ...Option) (*Bus, error) {
	if client == nil {
		return nil, errors.New("msgbus: http client is required")
	}
	b := &Bus{
		client:            client,
		path:              path,
		header:            http.Header{},
		query:             url.Values{},
		chunkSize:         DefaultChunkSize,
		uploadConcurrency: DefaultUploadConcurrency,
		hash:              HashSHA1,
		logger:            slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(b)
	}
	if _, err := newHasher(b.hash); err != nil {
		return nil, err
	}
	return b, nil
}

// Path returns the endpoint path.
func (b *Bus) Path() string {
	return b.path
}

// Header sets a request header, replacing previous values.
func (b *Bus) Header(key, value string) *Bus {
	b.header.Set(key, value)
	return b
}

// Query adds a query parameter.
func (b *Bus) Query(key, value string) *Bus {
	b.query.Add(key, value)
	return b
}

// JSON encodes v as the request body and sets the JSON content type.
func (b *Bus) JSON(v any) *Bus {
	data, err := httpx.JSONBody(v)
	if err != nil {
		b.fail(fmt.Errorf("msgbus: encode json body: %w", err))
		return b
	}
	b.header.Set("Content-Type", "application/json")
	b.body, b.hasBody = data, true
	return b
}

// Body uses the contents of r as the request body. r is read immediately so
// the body can be replayed on retries.
func (b *Bus) Body(r io.Reader) *Bus {
	if r == nil {
		b.body, b.hasBody = nil, false
		return b
	}
	data, err := io.ReadAll(r)
	if err != nil {
		b.fail(fmt.Errorf("msgbus: read body: %w", err))
		return b
	}
	b.body, b.hasBody = data, true
	return b
}

// Redirect selects how redirects are handled.
func (b *Bus) Redirect(policy httpx.RedirectPolicy) *Bus {
	b.redirect = policy
	return b
}

// Reset clears headers, query, body, any builder error and a prepared
// chunked upload.
func (b *Bus) Reset() *Bus {
	b.header = http.Header{}
	b.query = url.Values{}
	b.body, b.hasBody = nil, false
	b.redirect = ""
	b.err = nil
	b.plan = nil
	return b
}

func (b *Bus) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Get sends a GET request.
func (b *Bus) Get(ctx context.Context) (*http.Response, error) {
	return b.Request(ctx, http.MethodGet)
}

// Head sends a HEAD request.
func (b *Bus) Head(ctx context.Context) (*http.Response, error) {
	return b.Request(ctx, http.MethodHead)
}

// Post sends a POST request. After Chunks it performs the chunked upload
// instead and returns the response of the final chunk; use Upload for every
// chunk's response.
func (b *Bus) Post(ctx context.Context) (*http.Response, error) {
	if b.plan == nil {
		return b.Request(ctx, http.MethodPost)
	}
	responses, err := b.Upload(ctx)
	if err != nil {
		return nil, err
	}
	return responses[len(responses)-1], nil
}

// Put sends a PUT request.
func (b *Bus) Put(ctx context.Context) (*http.Response, error) {
	return b.Request(ctx, http.MethodPut)
}

// Delete sends a DELETE request.
func (b *Bus) Delete(ctx context.Context) (*http.Response, error) {
	return b.Request(ctx, http.MethodDelete)
}

// Request sends the accumulated request with method. GET and HEAD leave the
// body and its content type out, so a bus can be reused across verbs. Every
// HTTP response is returned as is; only transport failures are errors.
func (b *Bus) Request(ctx context.Context, method string) (*http.Response, error) {
	if b.err != nil {
		return nil, b.err
	}
	method = strings.ToUpper(method)
	if method == http.MethodGet || method == http.MethodHead {
		header := b.header.Clone()
		if b.hasBody {
			header.Del("Content-Type")
		}
		return b.client.Do(ctx, b.build(method, header, nil, false))
	}
	return b.client.Do(ctx, b.build(method, b.header, b.body, b.hasBody))
}

func (b *Bus) build(method string, header http.Header, body []byte, hasBody bool) *httpx.Request {
	req := &httpx.Request{
		Method:   method,
		Path:     b.path,
		Query:    cloneValues(b.query),
		Header:   header.Clone(),
		Redirect: b.redirect,
	}
	if hasBody {
		req.Body = bytes.NewReader(body)
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}
	return req
}

func cloneValues(v url.Values) url.Values {
	if len(v) == 0 {
		return nil
	}
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}
