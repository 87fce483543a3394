package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/codex-k8s/desktop-mcp-server/configs"
	"github.com/codex-k8s/desktop-mcp-server/internal/app"
	"github.com/codex-k8s/desktop-mcp-server/internal/audit"
	"github.com/codex-k8s/desktop-mcp-server/internal/classifier"
	"github.com/codex-k8s/desktop-mcp-server/internal/config"
	"github.com/codex-k8s/desktop-mcp-server/internal/constants"
	"github.com/codex-k8s/desktop-mcp-server/internal/dsl"
	"github.com/codex-k8s/desktop-mcp-server/internal/execution"
	"github.com/codex-k8s/desktop-mcp-server/internal/http/health"
	"github.com/codex-k8s/desktop-mcp-server/internal/log"
	"github.com/codex-k8s/desktop-mcp-server/internal/registry"
	"github.com/codex-k8s/desktop-mcp-server/internal/runtime"
	"github.com/codex-k8s/desktop-mcp-server/internal/scheduler"
	"github.com/codex-k8s/desktop-mcp-server/internal/startup"
	"github.com/codex-k8s/desktop-mcp-server/internal/telemetry"
)

func main() {
	embeddedConfig := flag.String("embedded-config", "", "Use embedded config from configs/ (filename)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := log.New(cfg.LogLevel)

	dslCfg, err := loadConfig(cfg, *embeddedConfig)
	if err != nil {
		logger.Error("load config failed", "error", err)
		os.Exit(1)
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)
	go func() {
		sig := <-sigCh
		logger.Warn("shutdown requested", "signal", sig.String())
		cancel()
	}()

	watch := cfg.WatchConfig && *embeddedConfig == ""
	if err := run(baseCtx, cfg, dslCfg, watch, logger); err != nil {
		logger.Error("runtime error", "error", err)
		os.Exit(1)
	}
}

func loadConfig(cfg config.Config, embedded string) (*dsl.Config, error) {
	if embedded == "" {
		return dsl.LoadFile(cfg.ConfigPath)
	}
	raw, err := configs.Load(embedded)
	if err != nil {
		return nil, err
	}
	return dsl.Load(embedded, raw)
}

func run(ctx context.Context, envCfg config.Config, dslCfg *dsl.Config, watch bool, logger *slog.Logger) error {
	var (
		provider    *telemetry.Provider
		instruments *telemetry.Instruments
		err         error
	)
	if envCfg.MetricsEnabled {
		provider, err = telemetry.InitProvider(ctx, telemetry.ProviderConfig{
			ServiceName:    dslCfg.Server.Name,
			ServiceVersion: dslCfg.Server.Version,
		})
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		defer func() {
			if err := provider.Shutdown(context.Background()); err != nil {
				logger.Warn("telemetry shutdown failed", "error", err)
			}
		}()
		if instruments, err = telemetry.NewInstruments(provider.MeterProvider); err != nil {
			return fmt.Errorf("create instruments: %w", err)
		}
	}

	caches, err := runtime.NewCaches(dslCfg.Caches)
	if err != nil {
		return err
	}
	defer caches.Close()

	sink := telemetry.NewSink(telemetry.Options{
		HistoryLimit: dslCfg.Telemetry.HistoryLimit,
		Instruments:  instruments,
		Logger:       logger,
	})
	auditLog := audit.New(logger)
	cls := classifier.New(nil)
	reg := registry.New()

	tools := runtime.Tools{Registry: reg, Classifier: cls, Caches: caches, Logger: logger, Audit: auditLog}
	if err := tools.Register(dslCfg.Tools); err != nil {
		return err
	}

	schedCfg, err := dslCfg.Scheduler.Runtime()
	if err != nil {
		return err
	}
	sched, err := scheduler.New(scheduler.Options{
		Config:      schedCfg,
		Handlers:    reg,
		Partitioner: cls,
		Contexts:    execution.NewFactory(caches, sink),
		Telemetry:   sink,
		Logger:      logger,
		LedgerLimit: dslCfg.Scheduler.HistoryLimit,
	})
	if err != nil {
		return err
	}
	unsubscribe := sched.Subscribe(func(m scheduler.BatchMetrics) {
		sink.RecordBatch(telemetry.BatchSample{
			ID:             m.ID,
			Requests:       m.Requests,
			Succeeded:      m.Succeeded,
			Failed:         m.Failed,
			Duration:       m.Elapsed,
			ParallelGroups: m.Groups,
		})
	})
	defer unsubscribe()

	if instruments != nil {
		if err := instruments.ObserveQueue(func() int64 { return int64(sched.QueueDepth()) }); err != nil {
			return fmt.Errorf("observe queue: %w", err)
		}
		if err := instruments.ObserveCaches(caches.Stats); err != nil {
			return fmt.Errorf("observe caches: %w", err)
		}
	}

	builtins := runtime.Builtins{Caches: caches, Scheduler: sched, Telemetry: sink, Classifier: cls, Audit: auditLog}
	if err := builtins.Register(reg); err != nil {
		return err
	}
	if err := runtime.CheckDependencies(reg); err != nil {
		return err
	}
	runtime.ResolvePipelineGroups(reg, cls)

	collector := telemetry.NewCollector(sink, caches, logger)
	if err := collector.Start(dslCfg.Telemetry.ReportSchedule); err != nil {
		return err
	}
	defer collector.Stop()

	if watch {
		watcher, err := dsl.NewWatcher(envCfg.ConfigPath, func(next *dsl.Config) {
			applySchedulerConfig(ctx, sched, next, auditLog, logger)
		}, logger)
		if err != nil {
			return err
		}
		watcher.Start(ctx)
		defer watcher.Stop()
	}

	server, err := runtime.Builder{Logger: logger, Audit: auditLog, Registry: reg, Scheduler: sched}.Build(dslCfg)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	if err := startup.Run(ctx, dslCfg.Server.StartupHooks, logger); err != nil {
		return err
	}

	shutdownTimeout := dslCfg.Server.ShutdownTimeoutOr(envCfg.ShutdownTimeout)
	drain := func(ctx context.Context) error {
		if err := sched.Shutdown(ctx); err != nil {
			return fmt.Errorf("scheduler shutdown: %w", err)
		}
		return nil
	}

	switch dslCfg.Server.Transport {
	case constants.TransportStdio:
		err := server.Run(ctx, &mcp.StdioTransport{})
		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		return errors.Join(err, drain(drainCtx))
	default:
		return runHTTP(ctx, dslCfg, server, provider, sched, drain, shutdownTimeout, logger)
	}
}

func runHTTP(ctx context.Context, dslCfg *dsl.Config, server *mcp.Server, provider *telemetry.Provider, sched *scheduler.Scheduler, drain func(context.Context) error, shutdownTimeout time.Duration, logger *slog.Logger) error {
	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server
	}, &mcp.StreamableHTTPOptions{
		Stateless: dslCfg.Server.HTTP.Stateless,
	})

	routes := map[string]http.Handler{}
	if provider != nil && dslCfg.Server.HTTP.MetricsPath != "" {
		routes[dslCfg.Server.HTTP.MetricsPath] = provider.MetricsHandler()
	}

	application, err := app.New(ctx, app.Options{
		Server:  dslCfg.Server,
		Handler: handler,
		Routes:  routes,
		Probes: map[string]health.Probe{
			"scheduler": func() error {
				if !sched.Accepting() {
					return scheduler.ErrClosed
				}
				return nil
			},
		},
		OnShutdown:      drain,
		Logger:          logger,
		ShutdownTimeout: shutdownTimeout,
	})
	if err != nil {
		return err
	}
	return application.Run(ctx)
}

func applySchedulerConfig(ctx context.Context, sched *scheduler.Scheduler, next *dsl.Config, auditLog audit.Logger, logger *slog.Logger) {
	cfg, err := next.Scheduler.Runtime()
	if err == nil {
		err = sched.UpdateConfig(cfg)
	}
	if err != nil {
		logger.Warn("scheduler config not applied", "error", err)
		return
	}
	logger.Info("scheduler config applied",
		"max_batch_size", cfg.MaxBatchSize,
		"batch_window", cfg.BatchWindow,
		"max_concurrent_batches", cfg.MaxConcurrentBatches,
		"parallel_execution", cfg.ParallelExecution,
		"priority_weighting", cfg.PriorityWeighting,
	)
	auditLog.Record(ctx, audit.Event{Type: audit.TypeConfigReloaded, Tool: "scheduler"})
}
