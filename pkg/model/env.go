package model

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/Ratio1/ratio1_records_go/pkg/datecodec"
	"github.com/Ratio1/ratio1_records_go/pkg/objcache"
)

// DefaultMaxDepth bounds how deep Reset builds nested instances eagerly.
const DefaultMaxDepth = 4

// Cache is the object cache contract used by models. *objcache.Cache
// satisfies it.
type Cache interface {
	Get(ctx context.Context, key string, out any) (bool, error)
	Set(ctx context.Context, key string, value any, opts ...objcache.SetOption) error
	Remove(ctx context.Context, key string, out any) (bool, error)
}

// Queue runs backend loads with bounded concurrency. *queue.Queue satisfies
// it.
type Queue interface {
	Run(ctx context.Context, fn func(ctx context.Context) error) error
}

// Env carries the collaborators shared by every Model of a process.
type Env struct {
	cache    Cache
	queue    Queue
	dates    datecodec.Codec
	logger   *slog.Logger
	maxDepth int

	flights    singleflight.Group
	background sync.WaitGroup
}

// EnvOption configures an Env.
type EnvOption func(*Env)

// WithCache attaches an object cache.
func WithCache(c Cache) EnvOption {
	return func(e *Env) {
		e.cache = c
	}
}

// WithQueue attaches the request queue. Concurrent fetches sharing a cache
// key are coalesced only when a queue is attached.
func WithQueue(q Queue) EnvOption {
	return func(e *Env) {
		e.queue = q
	}
}

// WithDateCodec attaches the codec used for date and datetime fields.
func WithDateCodec(c datecodec.Codec) EnvOption {
	return func(e *Env) {
		e.dates = c
	}
}

// WithLogger sets the logger used for soft failures.
func WithLogger(logger *slog.Logger) EnvOption {
	return func(e *Env) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMaxDepth overrides DefaultMaxDepth. Values below 1 are ignored.
func WithMaxDepth(depth int) EnvOption {
	return func(e *Env) {
		if depth > 0 {
			e.maxDepth = depth
		}
	}
}

// NewEnv builds an Env.
func NewEnv(opts ...EnvOption) *Env {
	e := &Env{
		logger:   slog.New(slog.DiscardHandler),
		maxDepth: DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Wait blocks until every background relation fetch and interned load
// started through this Env has finished.
func (e *Env) Wait() {
	e.background.Wait()
}

func (e *Env) goBackground(fn func()) {
	e.background.Add(1)
	go func() {
		defer e.background.Done()
		fn()
	}()
}

func envOrDefault(e *Env) *Env {
	if e == nil {
		return NewEnv()
	}
	return e
}
