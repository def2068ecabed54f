// Command vigie runs the crime and surveillance data acquisition pipeline.
//
// Usage:
//
//	vigie                                   # one run with defaults, exit
//	vigie -config vigie.yaml -data ./data   # one run with a config file
//	vigie -serve :8090                      # status server, runs on POST /api/runs
//	vigie -mcp                              # MCP tools over stdio
//
// Device-search keys come from SHODAN_API_KEY (comma separated).
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/vigie/acquire"
)

func main() {
	configPath := flag.String("config", "", "path to vigie.yaml config file")
	dataDir := flag.String("data", "", "data directory (raw/, cleaned/, backup/)")
	ledger := flag.String("ledger", "", "path to the SQLite run ledger")
	serveAddr := flag.String("serve", "", "serve the status API on this address instead of running once")
	mcpStdio := flag.Bool("mcp", false, "serve MCP tools over stdio instead of running once")
	logLevel := flag.String("log-level", env("LOG_LEVEL", "info"), "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, options{
		configPath: *configPath,
		dataDir:    *dataDir,
		ledger:     *ledger,
		serveAddr:  *serveAddr,
		mcp:        *mcpStdio,
	}); err != nil {
		logger.Error("vigie: fatal", "error", err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
	dataDir    string
	ledger     string
	serveAddr  string
	mcp        bool
}

func run(ctx context.Context, logger *slog.Logger, opts options) error {
	cfg, err := resolveConfig(opts)
	if err != nil {
		return err
	}
	if len(cfg.Credentials) == 0 {
		return fmt.Errorf("%w: set SHODAN_API_KEY", acquire.ErrNoCredentials)
	}

	svc, err := acquire.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer svc.Close()

	switch {
	case opts.mcp:
		srv := mcp.NewServer(&mcp.Implementation{Name: "vigie", Version: "1.0.0"}, nil)
		svc.RegisterMCP(srv)
		logger.Info("vigie: serving MCP on stdio")
		return srv.Run(ctx, &mcp.StdioTransport{})

	case opts.serveAddr != "":
		return serve(ctx, logger, svc, opts.serveAddr)
	}

	rep, err := svc.Run(ctx)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		return err
	}
	if rep.Incomplete {
		return errors.New("run incomplete")
	}
	return nil
}

func serve(ctx context.Context, logger *slog.Logger, svc *acquire.Service, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           newRouter(ctx, logger, svc),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("vigie: server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	logger.Info("vigie: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func resolveConfig(opts options) (*acquire.Config, error) {
	cfg := &acquire.Config{}
	if opts.configPath != "" {
		c, err := acquire.LoadConfigFile(opts.configPath)
		if err != nil {
			return nil, err
		}
		cfg = c
	}
	if opts.dataDir != "" {
		cfg.DataDir = opts.dataDir
	}
	if opts.ledger != "" {
		cfg.LedgerPath = opts.ledger
	}
	if keys := splitKeys(os.Getenv("SHODAN_API_KEY")); len(keys) > 0 {
		cfg.Credentials = keys
	}
	return cfg, nil
}

// splitKeys parses a comma-separated key list, dropping blanks.
func splitKeys(s string) []string {
	var out []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
