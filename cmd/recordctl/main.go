// Command recordctl reads records, uploads files and inspects the object
// cache using the RECORDS_* environment.
//
//	recordctl get <collection> <id> [--id-fields id] [--fields a,b]
//	recordctl upload <path> <file> [--field file] [--value k=v]...
//	recordctl cache keys
//	recordctl cache get <key>
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/pflag"

	"github.com/Ratio1/ratio1_records_go/internal/config"
	"github.com/Ratio1/ratio1_records_go/internal/httpx"
	"github.com/Ratio1/ratio1_records_go/pkg/model"
	"github.com/Ratio1/ratio1_records_go/pkg/records"
)

const usage = `usage:
  recordctl get <collection> <id> [--id-fields id] [--fields a,b]
  recordctl upload <path> <file> [--field file] [--value k=v]...
  recordctl cache keys
  recordctl cache get <key>
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		stop()
		config.Exitf("recordctl: %v", err)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return errors.New("missing command")
	}
	cfg, err := records.LoadConfig()
	if err != nil {
		return err
	}
	logger, err := config.NewLogger(os.Stderr, cfg.LogLevel)
	if err != nil {
		return err
	}
	rt, err := records.New(cfg, records.WithLogger(logger))
	if err != nil {
		return err
	}
	defer rt.Close()

	switch args[0] {
	case "get":
		return runGet(ctx, rt, args[1:], out)
	case "upload":
		return runUpload(ctx, rt, args[1:], out)
	case "cache":
		return runCache(ctx, rt, args[1:], out)
	case "help", "-h", "--help":
		fmt.Fprint(out, usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func runGet(ctx context.Context, rt *records.Runtime, args []string, out io.Writer) error {
	var (
		idFields []string
		fields   []string
		fresh    bool
	)
	flagSet := pflag.NewFlagSet("get", pflag.ContinueOnError)
	flagSet.StringSliceVar(&idFields, "id-fields", []string{"id"}, "identity fields in encoding order")
	flagSet.StringSliceVar(&fields, "fields", nil, "fields to print besides the identity")
	flagSet.BoolVar(&fresh, "fresh", false, "skip the cache read")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if flagSet.NArg() != 2 {
		return errors.New("get requires <collection> <id>")
	}
	collection, id := flagSet.Arg(0), flagSet.Arg(1)

	fetcher, err := rt.Fetcher(collection)
	if err != nil {
		return err
	}
	typ := &model.Type{
		Name:     collection,
		IDFields: idFields,
		Fields:   fields,
		Fetcher:  fetcher,
	}
	m, err := model.New(typ, rt.Env)
	if err != nil {
		return err
	}
	opts := []model.FetchOption{model.WithoutRelated()}
	if fresh {
		opts = append(opts, model.IgnoreCache())
	}
	if _, err := m.LoadFromID(ctx, id, opts...); err != nil {
		return err
	}
	return printJSON(out, m.Serialize())
}

func runUpload(ctx context.Context, rt *records.Runtime, args []string, out io.Writer) error {
	var (
		field  string
		values []string
	)
	flagSet := pflag.NewFlagSet("upload", pflag.ContinueOnError)
	flagSet.StringVar(&field, "field", "file", "form field carrying the chunk payload")
	flagSet.StringArrayVar(&values, "value", nil, "extra form field as key=value (repeatable)")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if flagSet.NArg() != 2 {
		return errors.New("upload requires <path> <file>")
	}

	extra := make(map[string]string, len(values))
	for _, kv := range values {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return fmt.Errorf("invalid --value %q", kv)
		}
		extra[k] = v
	}

	f, err := os.Open(flagSet.Arg(1))
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}

	bus, err := rt.Bus(flagSet.Arg(0))
	if err != nil {
		return err
	}
	digest, err := bus.Chunks(ctx, field, f, info.Size(), extra)
	if err != nil {
		return err
	}
	responses, err := bus.Upload(ctx)
	if err != nil {
		return err
	}
	for i, resp := range responses {
		if err := httpx.CheckResponse(resp); err != nil {
			return fmt.Errorf("chunk %d: %w", i, err)
		}
	}
	last := responses[len(responses)-1]
	return printJSON(out, map[string]any{
		"hash":      digest,
		"algorithm": rt.Config.UploadHash,
		"size":      info.Size(),
		"chunks":    len(responses),
		"status":    last.StatusCode,
	})
}

func runCache(ctx context.Context, rt *records.Runtime, args []string, out io.Writer) error {
	if rt.Cache == nil {
		return errors.New("cache backend is disabled")
	}
	if len(args) == 0 {
		return errors.New("cache requires keys or get <key>")
	}
	switch args[0] {
	case "keys":
		keys, err := rt.Cache.Keys(ctx)
		if err != nil {
			return err
		}
		return printJSON(out, keys)
	case "get":
		if len(args) != 2 {
			return errors.New("cache get requires <key>")
		}
		var value any
		ok, err := rt.Cache.Get(ctx, args[1], &value)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("key %q not found", args[1])
		}
		return printJSON(out, value)
	default:
		return fmt.Errorf("unknown cache command %q", args[0])
	}
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
