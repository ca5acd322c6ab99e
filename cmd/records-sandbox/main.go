// Command records-sandbox serves a local record API for development: seeded
// REST records, a chunked upload endpoint and the chainstore API, with
// optional latency and failure injection.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/Ratio1/ratio1_records_go/internal/config"
	"github.com/Ratio1/ratio1_records_go/internal/devseed"
	"github.com/Ratio1/ratio1_records_go/pkg/cstore/mock"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		config.Exitf("records-sandbox: %v", err)
	}
}

func run(args []string) error {
	var (
		addr     string
		seedPath string
		latency  time.Duration
		fail      string
		logLevel  string
		maxUpload int64
	)
	flagSet := pflag.NewFlagSet("records-sandbox", pflag.ContinueOnError)
	flagSet.StringVar(&addr, "addr", ":8787", "listen address")
	flagSet.StringVar(&seedPath, "seed", "", "YAML or JSON seed file with records and cstore entries")
	flagSet.DurationVar(&latency, "latency", 0, "artificial latency added to every request")
	flagSet.StringVar(&fail, "fail", "", "failure injection (rate=<float>,code=<httpStatus>)")
	flagSet.Int64Var(&maxUpload, "max-upload", defaultMaxUpload, "largest reassembled upload in bytes")
	flagSet.StringVar(&logLevel, "log-level", envOr("RECORDS_LOG_LEVEL", "info"), "debug|info|warn|error")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	logger, err := config.NewLogger(os.Stderr, logLevel)
	if err != nil {
		return err
	}
	failCfg, err := parseFailConfig(fail)
	if err != nil {
		return fmt.Errorf("parse --fail: %w", err)
	}

	seed := &devseed.File{}
	if seedPath != "" {
		seed, err = devseed.Load(seedPath)
		if err != nil {
			return err
		}
	}
	kv := mock.New()
	if err := kv.Seed(seed.CStore); err != nil {
		return fmt.Errorf("apply cstore seed: %w", err)
	}

	srv := newServer(seed.Records, kv, maxUpload, logger)
	server := &http.Server{
		Addr:              addr,
		Handler:           withMiddleware(latency, failCfg, logger, srv),
		ReadHeaderTimeout: 10 * time.Second,
	}

	host := addr
	if strings.HasPrefix(host, ":") {
		host = "localhost" + host
	}
	logger.Info("records-sandbox listening", "addr", addr, "records", len(seed.Records), "cstore_keys", len(seed.CStore))
	fmt.Println()
	fmt.Printf("export RECORDS_API_URL=http://%s/api\n", host)
	fmt.Printf("export EE_CHAINSTORE_API_URL=http://%s/cstore\n", host)
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
