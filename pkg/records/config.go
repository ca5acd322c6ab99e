package records

import (
	"fmt"
	"time"

	"github.com/Ratio1/ratio1_records_go/internal/config"
)

// Cache backends accepted by Config.CacheBackend.
const (
	CacheMemory = "memory"
	CacheSQLite = "sqlite"
	CacheBolt   = "bolt"
	CacheCStore = "cstore"
	CacheNone   = "none"
)

// Config is the runtime configuration, usually loaded from the environment.
type Config struct {
	APIURL        string        `env:"RECORDS_API_URL"`
	RetryAttempts int           `env:"RECORDS_RETRY_ATTEMPTS" envDefault:"3"`
	RetryInterval time.Duration `env:"RECORDS_RETRY_INTERVAL" envDefault:"3s"`
	// RetryMaxInterval switches retries to jittered exponential backoff
	// starting at RetryInterval. Zero keeps the fixed interval.
	RetryMaxInterval time.Duration `env:"RECORDS_RETRY_MAX_INTERVAL"`

	ChunkSize         int64  `env:"RECORDS_CHUNK_SIZE" envDefault:"65536"`
	UploadConcurrency int    `env:"RECORDS_UPLOAD_CONCURRENCY" envDefault:"8"`
	UploadHash        string `env:"RECORDS_UPLOAD_HASH" envDefault:"sha1"`

	QueueConcurrency int `env:"RECORDS_QUEUE_CONCURRENCY" envDefault:"8"`

	CacheBackend   string        `env:"RECORDS_CACHE_BACKEND" envDefault:"memory"`
	CachePath      string        `env:"RECORDS_CACHE_PATH"`
	CacheNamespace string        `env:"RECORDS_CACHE_NAMESPACE" envDefault:"default"`
	CacheTTL       time.Duration `env:"RECORDS_CACHE_TTL" envDefault:"4h"`
	CacheSeed      string        `env:"RECORDS_CACHE_SEED"`
	ChainstoreURL  string        `env:"EE_CHAINSTORE_API_URL"`

	DateLayout     string `env:"RECORDS_DATE_LAYOUT"`
	DateTimeLayout string `env:"RECORDS_DATETIME_LAYOUT"`
	MaxDepth       int    `env:"RECORDS_MAX_DEPTH" envDefault:"4"`

	LogLevel string `env:"RECORDS_LOG_LEVEL" envDefault:"info"`
}

// DefaultConfig returns the configuration used when no variable is set.
func DefaultConfig() Config {
	return Config{
		RetryAttempts:     3,
		RetryInterval:     3 * time.Second,
		ChunkSize:         65536,
		UploadConcurrency: 8,
		UploadHash:        "sha1",
		QueueConcurrency:  8,
		CacheBackend:      CacheMemory,
		CacheNamespace:    "default",
		CacheTTL:          4 * time.Hour,
		MaxDepth:          4,
		LogLevel:          "info",
	}
}

// LoadConfig reads Config from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("records: %w", err)
	}
	return cfg, nil
}
