// Command governd serves external file converters behind the governor.
//
// Usage:
//
//	governd -config governd.yaml
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/govern"
	"github.com/hupe1980/govern/export"
	"github.com/hupe1980/govern/httpgov"
	"github.com/hupe1980/govern/internal/tracing"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "governd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing.Enabled {
		if err := tracing.Init("governd", version, cfg.Tracing.File); err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tracing.Shutdown(shutdownCtx)
		}()
	}

	collector := &govern.BasicMetricsCollector{}
	gov, err := govern.New(
		govern.WithPolicy(cfg.Policy),
		govern.WithLogger(logger),
		govern.WithMetricsCollector(collector),
	)
	if err != nil {
		return err
	}

	sink, closeSink, err := newSink(ctx, cfg.Export)
	if err != nil {
		return err
	}
	defer func() { _ = closeSink() }()

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           newMux(gov, collector, cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("governd listening", "addr", cfg.Listen, "tools", len(cfg.Tools), "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("governd shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if sink != nil {
		codec, _ := export.ParseCodec(cfg.Export.Codec)
		exp := export.New(gov, sink, func(o *export.Options) {
			o.Codec = codec
			o.Keep = cfg.Export.Keep
			o.Prefix = cfg.Export.Prefix
			o.Logger = logger
		})
		g.Go(func() error {
			err := exp.Run(gctx, cfg.Export.Interval)
			// Final snapshot so the last interval is not lost.
			finalCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if _, ferr := exp.Export(finalCtx); ferr != nil {
				logger.Warn("final report export failed", "error", ferr)
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	return g.Wait()
}

func newLogger(cfg LogConfig) *govern.Logger {
	level := govern.ParseLevel(cfg.Level)
	if strings.EqualFold(cfg.Format, "text") {
		return govern.NewTextLogger(level)
	}
	return govern.NewJSONLogger(level)
}

func newMux(gov *govern.Governor, collector *govern.BasicMetricsCollector, cfg Config) *http.ServeMux {
	mux := http.NewServeMux()

	probes := mountTools(mux, gov, cfg.Tools, cfg.MaxBodyMB<<20, cfg.TempDir)

	mux.Handle("/api/health", httpgov.HealthHandler(gov, probes...))
	mux.Handle("/api/metrics", httpgov.MetricsHandler(gov))
	mux.HandleFunc("/api/metrics/admission", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(collector.GetStats())
	})
	return mux
}
