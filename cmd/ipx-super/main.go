package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/pornlink/ipx-super/internal/config"
	"github.com/pornlink/ipx-super/internal/logging"
	"github.com/pornlink/ipx-super/internal/metrics"
	"github.com/pornlink/ipx-super/internal/server"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		mode        string
		addr        string
		logLevel    string
		showVersion bool
	)

	flagSet := pflag.NewFlagSet("ipx-super", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	flagSet.StringVar(&mode, "mode", "", "adapter to run: http or mcp (overrides config)")
	flagSet.StringVar(&addr, "addr", "", "HTTP listen address (overrides config)")
	flagSet.StringVar(&logLevel, "log-level", "", "log level (overrides config)")
	flagSet.BoolVarP(&showVersion, "version", "v", false, "print version information")
	flagSet.Usage = func() { printHelp(flagSet) }

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if showVersion {
		fmt.Printf("ipx-super %s\n", Version)
		fmt.Printf("  Build time: %s\n", BuildTime)
		fmt.Printf("  Git commit: %s\n", GitCommit)
		return nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if flagSet.Changed("mode") {
		cfg.Mode = mode
	}
	if flagSet.Changed("addr") {
		cfg.Server.Addr = addr
	}
	if flagSet.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if cfg.Mode != config.ModeHTTP && cfg.Mode != config.ModeMCP {
		return fmt.Errorf("unknown mode %q", cfg.Mode)
	}
	// stdout carries the MCP protocol.
	if cfg.Mode == config.ModeMCP && cfg.Log.Output == "stdout" {
		cfg.Log.Output = "stderr"
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(cfg.Metrics.Namespace, cfg.Metrics.GoMetrics)
	}
	latency := metrics.NewLatencyTracker(cfg.Metrics.Accuracy)
	defer logLatency(logger, latency)

	x, cleanup, err := build(ctx, cfg, logger, collector, latency)
	if err != nil {
		return err
	}
	defer cleanup()

	logger.Info("starting ipx-super",
		zap.String("version", Version),
		zap.String("mode", cfg.Mode),
		zap.String("commit", GitCommit),
	)

	if cfg.Mode == config.ModeMCP {
		srv := server.New(x, server.Options{Version: Version, Logger: logger, Collector: collector})
		return srv.Run(ctx)
	}

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	handler := server.NewHTTPHandler(x, server.HTTPOptions{
		RequestTimeout: cfg.Server.RequestTimeout,
		MetricsPath:    metricsPath,
		Logger:         logger,
		Collector:      collector,
	})
	srv := &fasthttp.Server{
		Handler:      handler.Handle,
		Name:         "ipx-super",
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		Concurrency:  cfg.Server.MaxConcurrency,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Server.Addr))
		errCh <- srv.ListenAndServe(cfg.Server.Addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.ShutdownWithContext(shutdownCtx)
}

func logLatency(logger *zap.Logger, latency *metrics.LatencyTracker) {
	for _, stats := range latency.GetAllStats() {
		logger.Info("latency", zap.String("stage", stats.Operation), zap.String("stats", stats.String()))
	}
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `ipx-super - on-demand image transformation proxy

Usage: ipx-super [options]

In http mode images are served at /{modifiers}/{id}, for example
/w_200,f_png/images/cat.jpg or /_/https://example.com/cat.jpg.
In mcp mode the same pipeline is exposed as MCP tools over stdin/stdout.

Options:
%s
Configuration is read from the --config file and then from IPX_*
environment variables (IPX_MAX_AGE, IPX_ALIAS, IPX_HTTP_DOMAINS, ...).
`, flagSet.FlagUsages())
}
