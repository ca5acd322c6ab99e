package records

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Ratio1/ratio1_records_go/internal/devseed"
	"github.com/Ratio1/ratio1_records_go/internal/httpx"
	"github.com/Ratio1/ratio1_records_go/pkg/cstore"
	"github.com/Ratio1/ratio1_records_go/pkg/cstore/mock"
	"github.com/Ratio1/ratio1_records_go/pkg/datecodec"
	"github.com/Ratio1/ratio1_records_go/pkg/model"
	"github.com/Ratio1/ratio1_records_go/pkg/msgbus"
	"github.com/Ratio1/ratio1_records_go/pkg/objcache"
	"github.com/Ratio1/ratio1_records_go/pkg/objcache/boltstore"
	"github.com/Ratio1/ratio1_records_go/pkg/objcache/cstorestore"
	"github.com/Ratio1/ratio1_records_go/pkg/objcache/sqlitestore"
	"github.com/Ratio1/ratio1_records_go/pkg/queue"
)

// retryJitter spreads backoff delays by up to 20% either way.
const retryJitter = 0.2

// Option adjusts New.
type Option func(*options)

type options struct {
	logger      *slog.Logger
	httpOptions []httpx.Option
	cstore      *cstore.Client
	storage     objcache.Storage
}

// WithLogger sets the logger handed to every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithHTTPOptions appends options for the record API client.
func WithHTTPOptions(opts ...httpx.Option) Option {
	return func(o *options) {
		o.httpOptions = append(o.httpOptions, opts...)
	}
}

// WithCStoreClient supplies the chainstore client used by the cstore cache
// backend instead of one built from EE_CHAINSTORE_API_URL.
func WithCStoreClient(c *cstore.Client) Option {
	return func(o *options) {
		o.cstore = c
	}
}

// WithStorage bypasses Config.CacheBackend with an explicit storage.
func WithStorage(s objcache.Storage) Option {
	return func(o *options) {
		o.storage = s
	}
}

// Runtime holds the process-wide collaborators. HTTP is nil when no API URL
// is configured and Cache is nil for the "none" backend.
type Runtime struct {
	Config Config
	Logger *slog.Logger
	HTTP   *httpx.Client
	Cache  *objcache.Cache
	Queue  *queue.Queue
	Dates  *datecodec.LayoutCodec
	Env    *model.Env
}

// NewFromEnv loads Config from the environment and calls New.
func NewFromEnv(opts ...Option) (*Runtime, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	return New(cfg, opts...)
}

// New wires a Runtime from cfg.
func New(cfg Config, opts ...Option) (*Runtime, error) {
	o := options{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger

	dates, err := datecodec.New(datecodec.Layouts{
		SerializedDate:     cfg.DateLayout,
		SerializedDateTime: cfg.DateTimeLayout,
	})
	if err != nil {
		return nil, fmt.Errorf("records: date codec: %w", err)
	}

	rt := &Runtime{Config: cfg, Logger: logger, Dates: dates}

	if strings.TrimSpace(cfg.APIURL) != "" {
		policy := httpx.RetryPolicy{
			MaxAttempts: cfg.RetryAttempts,
			Interval:    cfg.RetryInterval,
		}
		if cfg.RetryMaxInterval > 0 {
			policy.Delay = httpx.NewBackoff(cfg.RetryInterval, cfg.RetryMaxInterval, retryJitter)
		}
		httpOpts := append([]httpx.Option{
			httpx.WithRetryPolicy(policy),
			httpx.WithLogger(logger),
		}, o.httpOptions...)
		rt.HTTP, err = httpx.NewClient(cfg.APIURL, httpOpts...)
		if err != nil {
			return nil, fmt.Errorf("records: api client: %w", err)
		}
	}

	storage := o.storage
	if storage == nil {
		storage, err = openStorage(cfg, o, logger)
		if err != nil {
			return nil, err
		}
	}
	if storage != nil {
		rt.Cache = objcache.New(storage,
			objcache.WithDefaultTTL(cfg.CacheTTL),
			objcache.WithLogger(logger),
		)
		if err := seedCache(rt.Cache, cfg.CacheSeed); err != nil {
			_ = rt.Cache.Close()
			return nil, err
		}
	}

	rt.Queue = queue.New(
		queue.WithConcurrency(cfg.QueueConcurrency),
		queue.WithLogger(logger),
	)

	envOpts := []model.EnvOption{
		model.WithQueue(rt.Queue),
		model.WithDateCodec(dates),
		model.WithLogger(logger),
		model.WithMaxDepth(cfg.MaxDepth),
	}
	if rt.Cache != nil {
		envOpts = append(envOpts, model.WithCache(rt.Cache))
	}
	rt.Env = model.NewEnv(envOpts...)

	logger.Info("records runtime ready",
		"api", cfg.APIURL,
		"cache", cacheBackend(cfg, o),
		"queue_concurrency", rt.Queue.Concurrency(),
	)
	return rt, nil
}

func cacheBackend(cfg Config, o options) string {
	if o.storage != nil {
		return "custom"
	}
	backend := strings.ToLower(strings.TrimSpace(cfg.CacheBackend))
	if backend == "" {
		return CacheMemory
	}
	return backend
}

func openStorage(cfg Config, o options, logger *slog.Logger) (objcache.Storage, error) {
	namespace := cfg.CacheNamespace
	if strings.TrimSpace(namespace) == "" {
		namespace = "default"
	}
	switch backend := cacheBackend(cfg, o); backend {
	case CacheMemory:
		return objcache.NewMemoryStorage(), nil
	case CacheNone:
		return nil, nil
	case CacheSQLite:
		store, err := sqlitestore.Open(cfg.CachePath, namespace)
		if err != nil {
			return nil, fmt.Errorf("records: sqlite cache: %w", err)
		}
		return store, nil
	case CacheBolt:
		store, err := boltstore.Open(cfg.CachePath, namespace)
		if err != nil {
			return nil, fmt.Errorf("records: bolt cache: %w", err)
		}
		return store, nil
	case CacheCStore:
		client := o.cstore
		if client == nil {
			if url := strings.TrimSpace(cfg.ChainstoreURL); url != "" {
				var err error
				client, err = cstore.New(url, httpx.WithLogger(logger))
				if err != nil {
					return nil, fmt.Errorf("records: cstore cache: %w", err)
				}
			} else {
				logger.Warn("records: EE_CHAINSTORE_API_URL not set, using in-process chainstore mock")
				client = cstore.NewWithBackend(mock.New())
			}
		}
		store, err := cstorestore.New(client, namespace)
		if err != nil {
			return nil, fmt.Errorf("records: cstore cache: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("records: unsupported RECORDS_CACHE_BACKEND value %q", backend)
	}
}

func seedCache(cache *objcache.Cache, path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	entries, err := devseed.LoadCacheSeed(path)
	if err != nil {
		return fmt.Errorf("records: load cache seed: %w", err)
	}
	ctx := context.Background()
	for _, entry := range entries {
		var opts []objcache.SetOption
		if entry.TTL != 0 {
			opts = append(opts, objcache.WithTTL(entry.TTL))
		}
		if err := cache.Set(ctx, entry.Key, entry.Value, opts...); err != nil {
			return fmt.Errorf("records: apply cache seed: %w", err)
		}
	}
	return nil
}

// Fetcher returns a RESTFetcher for the collection at path on the record
// API.
func (r *Runtime) Fetcher(path string) (*RESTFetcher, error) {
	if r.HTTP == nil {
		return nil, fmt.Errorf("records: RECORDS_API_URL is not configured")
	}
	return NewRESTFetcher(r.HTTP, path)
}

// Bus returns a request builder for path with the configured upload
// settings. opts are applied after them.
func (r *Runtime) Bus(path string, opts ...msgbus.Option) (*msgbus.Bus, error) {
	if r.HTTP == nil {
		return nil, fmt.Errorf("records: RECORDS_API_URL is not configured")
	}
	base := []msgbus.Option{
		msgbus.WithChunkSize(r.Config.ChunkSize),
		msgbus.WithUploadConcurrency(r.Config.UploadConcurrency),
		msgbus.WithHash(msgbus.HashAlgorithm(strings.ToLower(r.Config.UploadHash))),
		msgbus.WithLogger(r.Logger),
	}
	return msgbus.New(r.HTTP, path, append(base, opts...)...)
}

// Close waits for background model work, drains the queue and releases the
// cache storage.
func (r *Runtime) Close() error {
	if r == nil {
		return nil
	}
	if r.Env != nil {
		r.Env.Wait()
	}
	var errs []error
	if r.Queue != nil {
		if err := r.Queue.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if r.Cache != nil {
		if err := r.Cache.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
