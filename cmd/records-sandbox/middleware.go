package main

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type failConfig struct {
	rate float64
	code int
}

// parseFailConfig reads "rate=<float>,code=<status>". Empty disables
// injection.
func parseFailConfig(spec string) (failConfig, error) {
	var cfg failConfig
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return cfg, nil
	}
	for _, part := range strings.Split(spec, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return cfg, fmt.Errorf("invalid segment %q", part)
		}
		switch strings.TrimSpace(key) {
		case "rate":
			rate, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
			if err != nil || rate < 0 || rate > 1 {
				return cfg, fmt.Errorf("rate must be between 0 and 1, got %q", value)
			}
			cfg.rate = rate
		case "code":
			code, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil || code < 100 || code > 599 {
				return cfg, fmt.Errorf("invalid status code %q", value)
			}
			cfg.code = code
		default:
			return cfg, fmt.Errorf("unknown key %q", key)
		}
	}
	return cfg, nil
}

func withMiddleware(delay time.Duration, failCfg failConfig, logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("request", "method", r.Method, "path", r.URL.Path)
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		if failCfg.rate > 0 && rand.Float64() < failCfg.rate {
			status := failCfg.code
			if status == 0 {
				status = http.StatusInternalServerError
			}
			logger.Info("failure injected", "method", r.Method, "path", r.URL.Path, "status", status)
			http.Error(w, "failure injected", status)
			return
		}
		next.ServeHTTP(w, r)
	})
}
