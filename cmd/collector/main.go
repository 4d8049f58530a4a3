package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"

	"github.com/daszybak/polymarket_capture/internal/archive"
	"github.com/daszybak/polymarket_capture/internal/capture"
	"github.com/daszybak/polymarket_capture/internal/clock"
	"github.com/daszybak/polymarket_capture/internal/metrics"
	"github.com/daszybak/polymarket_capture/internal/polymarket"
	"github.com/daszybak/polymarket_capture/internal/store"
	"github.com/daszybak/polymarket_capture/pkg/hashset"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, assets, err := loadConfig(args)
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}

	level, err := parseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry, metrics.DefaultNamespace)

	if cfg.Metrics.Addr != "" {
		srv := serveMetrics(cfg.Metrics.Addr, registry, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("couldn't stop metrics server", "error", err)
			}
		}()
	}

	var observers []capture.WindowObserver
	if cfg.Capture.CompressCompleted {
		observers = append(observers, archive.New(logger))
	}

	poolCfg := store.PoolConfig{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Database,
		PoolSize: cfg.Database.PoolSize,
		SSLMode:  cfg.Database.SSLMode,
	}
	if poolCfg.Enabled() {
		pool, err := store.NewPool(ctx, poolCfg)
		if err != nil {
			return fmt.Errorf("couldn't connect to database: %w", err)
		}
		catalog := store.New(pool)
		defer catalog.Close()

		if err := catalog.Migrate(ctx); err != nil {
			return err
		}
		logger.Info("recording windows in database", "host", poolCfg.Host, "database", poolCfg.Database)
		// Summaries go to the catalog before the archive renames the file.
		observers = append([]capture.WindowObserver{catalog}, observers...)
	}

	venue := polymarket.New(cfg.polymarketConfig(), clock.Real(), logger)

	runners := make([]capture.Runner, 0, len(assets))
	for _, asset := range assets {
		runners = append(runners, venue.NewDaemon(asset, cfg.captureConfig(),
			capture.WithMetrics(m),
			capture.WithObservers(observers...),
		))
	}

	return capture.NewSupervisor(logger, runners...).Run(ctx, cfg.Capture.Windows)
}

// loadConfig parses the command line, layers it over the config file and
// returns the validated config with the assets to capture.
func loadConfig(args []string) (*config, []string, error) {
	var (
		configPath  string
		windows     int
		directory   string
		metricsAddr string
		logLevel    string
	)

	flagSet := pflag.NewFlagSet("collector", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to an optional YAML config file")
	flagSet.IntVarP(&windows, "windows", "w", 1, "number of 15-minute windows to capture")
	flagSet.StringVarP(&directory, "directory", "d", "", "directory the window files are written to (default: working directory)")
	flagSet.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	flagSet.StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	flagSet.Usage = func() {
		fmt.Fprintf(os.Stderr, "Capture Polymarket 15-minute up/down windows for the given asset(s).\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n  collector [flags] ASSET...\n\nFlags:\n")
		flagSet.PrintDefaults()
	}

	if err := flagSet.Parse(args); err != nil {
		return nil, nil, err
	}

	cfg, err := readConfig(configPath)
	if err != nil {
		return nil, nil, err
	}

	if flagSet.Changed("windows") {
		cfg.Capture.Windows = windows
	}
	if flagSet.Changed("directory") {
		cfg.Capture.Directory = directory
	}
	if flagSet.Changed("metrics-addr") {
		cfg.Metrics.Addr = metricsAddr
	}
	if flagSet.Changed("log-level") {
		cfg.LogLevel = logLevel
	}

	if err := validateConfig(cfg); err != nil {
		return nil, nil, fmt.Errorf("couldn't validate config: %w", err)
	}

	assets := normalizeAssets(flagSet.Args())
	if len(assets) == 0 {
		return nil, nil, fmt.Errorf("at least one asset is required")
	}
	return cfg, assets, nil
}

// normalizeAssets lower-cases asset symbols and drops repeats, since two
// daemons for one asset would write the same files.
func normalizeAssets(args []string) []string {
	assets := make([]string, 0, len(args))
	for _, a := range args {
		a = strings.ToLower(strings.TrimSpace(a))
		if a != "" {
			assets = append(assets, a)
		}
	}
	return hashset.Unique(assets)
}

func serveMetrics(addr string, g prometheus.Gatherer, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(g))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped", "error", err)
		}
	}()
	return srv
}
