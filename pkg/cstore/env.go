package cstore

import (
	"fmt"
	"strings"

	"github.com/Ratio1/ratio1_records_go/internal/config"
	"github.com/Ratio1/ratio1_records_go/internal/devseed"
	"github.com/Ratio1/ratio1_records_go/internal/httpx"
	"github.com/Ratio1/ratio1_records_go/pkg/cstore/mock"
)

// Runtime modes resolved by NewFromEnv.
const (
	ModeAuto = "auto"
	ModeHTTP = "http"
	ModeMock = "mock"
)

type envConfig struct {
	Mode    string `env:"RECORDS_RUNTIME_MODE" envDefault:"auto"`
	BaseURL string `env:"EE_CHAINSTORE_API_URL"`
	Seed    string `env:"RECORDS_CSTORE_SEED"`
}

// NewFromEnv initialises a Client from the environment and returns the
// resolved mode ("http" or "mock"). In auto mode the HTTP client is used when
// EE_CHAINSTORE_API_URL is set.
func NewFromEnv(opts ...httpx.Option) (client *Client, mode string, err error) {
	var cfg envConfig
	if err := config.ParseEnv(&cfg); err != nil {
		return nil, "", fmt.Errorf("cstore: %w", err)
	}
	mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	baseURL := strings.TrimSpace(cfg.BaseURL)

	switch mode {
	case "", ModeAuto:
		if baseURL != "" {
			return newHTTPClient(baseURL, opts)
		}
		return newMockClient(cfg.Seed)
	case ModeHTTP:
		if baseURL == "" {
			return nil, "", fmt.Errorf("cstore: HTTP mode requires EE_CHAINSTORE_API_URL")
		}
		return newHTTPClient(baseURL, opts)
	case ModeMock:
		return newMockClient(cfg.Seed)
	default:
		return nil, "", fmt.Errorf("cstore: unsupported RECORDS_RUNTIME_MODE value %q", mode)
	}
}

func newHTTPClient(baseURL string, opts []httpx.Option) (*Client, string, error) {
	client, err := New(baseURL, opts...)
	if err != nil {
		return nil, "", fmt.Errorf("cstore: init HTTP client: %w", err)
	}
	return client, ModeHTTP, nil
}

func newMockClient(seedPath string) (*Client, string, error) {
	store := mock.New()
	if path := strings.TrimSpace(seedPath); path != "" {
		entries, err := devseed.LoadCStoreSeed(path)
		if err != nil {
			return nil, "", fmt.Errorf("cstore: load mock seed: %w", err)
		}
		if err := store.Seed(entries); err != nil {
			return nil, "", fmt.Errorf("cstore: apply mock seed: %w", err)
		}
	}
	return NewWithBackend(store), ModeMock, nil
}
