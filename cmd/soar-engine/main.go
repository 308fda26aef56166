// Package main is the entry point for the SOAR engine service.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"boundary-soar/internal/api"
	"boundary-soar/internal/config"
	soarerr "boundary-soar/internal/errors"
	"boundary-soar/internal/logging"
	"boundary-soar/internal/metrics"
	"boundary-soar/internal/middleware"
	"boundary-soar/internal/queue"
	"boundary-soar/internal/soar"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()
	if *showVersion {
		fmt.Printf("soar-engine %s\n", version)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := logging.Setup(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	soarerr.SetProductionMode(cfg.Engine.ProductionMode)

	logger.Info("configuration loaded",
		"version", version,
		"http_port", cfg.Server.HTTPPort,
		"store", cfg.Store.Backend,
		"kafka_enabled", cfg.Kafka.Enabled,
		"correlation_enabled", cfg.Correlation.Enabled,
		"event_source", cfg.Correlation.EventSource,
		"archive_enabled", cfg.Archive.Enabled,
		"auth_enabled", cfg.Auth.Enabled,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New()
	if err := m.Register(reg); err != nil {
		logger.Error("failed to register metrics", "error", err)
		os.Exit(1)
	}

	var closers closerStack
	fail := func(msg string, err error) {
		logger.Error(msg, "error", err)
		closers.closeAll(logger)
		os.Exit(1)
	}

	playbooks, err := loadPlaybooks(cfg.Definitions)
	if err != nil {
		fail("failed to load playbooks", err)
	}
	actions, err := loadActions(cfg.Definitions)
	if err != nil {
		fail("failed to load actions", err)
	}

	store, storeCheck, err := openStore(ctx, cfg.Store, &closers)
	if err != nil {
		fail("failed to open incident store", err)
	}

	if err := prepareKafka(ctx, cfg, logger); err != nil {
		fail("failed to create kafka topics", err)
	}
	router, err := buildDispatcher(cfg, logger, &closers)
	if err != nil {
		fail("failed to build hand-off dispatcher", err)
	}

	archiver, err := buildArchiver(ctx, cfg.Archive, logger)
	if err != nil {
		fail("failed to build archiver", err)
	}

	tasks := queue.NewTaskQueue(cfg.Queue.Size)
	drainer := queue.NewDrainer(tasks, cfg.Queue.DrainInterval, cfg.Queue.TaskTimeout, logger)

	opts := soar.Options{
		Playbooks:    playbooks,
		Actions:      actions,
		Store:        store,
		Dispatcher:   router,
		Queue:        tasks,
		AlertTimeout: cfg.Engine.AlertTimeout,
		Metrics:      m,
		Logger:       logger,
	}
	if archiver != nil {
		opts.Archiver = archiver
	}
	engine, err := soar.New(opts)
	if err != nil {
		fail("failed to create engine", err)
	}

	checks := map[string]api.CheckFunc{}
	if storeCheck != nil {
		checks["store"] = storeCheck
	}

	corr, err := buildCorrelation(ctx, cfg, engine, router, m, logger, &closers, checks)
	if err != nil {
		fail("failed to build correlation engine", err)
	}

	consumers, err := buildConsumers(ctx, cfg, engine, corr, logger, &closers)
	if err != nil {
		fail("failed to build kafka consumers", err)
	}

	srv, err := api.NewServer(api.Options{
		Engine:       engine,
		Correlation:  corr.engine,
		Gatherer:     reg,
		Checks:       checks,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Logger:       logger,
	})
	if err != nil {
		fail("failed to create API server", err)
	}
	handler, limiter := middleware.Wrap(srv.Handler(), cfg, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	var wg sync.WaitGroup
	start := func(name string, fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
			logger.Debug("component stopped", "component", name)
		}()
	}

	start("drainer", drainer.Run)
	if corr.engine != nil {
		start("correlation", corr.engine.Run)
	}
	for _, c := range consumers {
		start("consumer:"+c.topic, func(ctx context.Context) {
			if err := c.consumer.Run(ctx); err != nil {
				logger.Error("consumer stopped", "topic", c.topic, "error", err)
			}
		})
	}

	go func() {
		logger.Info("starting SOAR API server", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("shutdown signal received", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Stop intake before the background loops so in-flight alerts finish.
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	limiter.Stop()

	cancel()
	wg.Wait()

	tasks.Close()
	closers.closeAll(logger)

	qm := tasks.Metrics()
	logger.Info("shutdown complete",
		"tasks_pushed", qm.Pushed,
		"tasks_popped", qm.Popped,
		"tasks_dropped", qm.Dropped,
		"tasks_failed", drainer.Failed(),
		"dead_letters", len(router.DeadLetters()),
	)
	if archiver != nil {
		am := archiver.Metrics()
		logger.Info("archive metrics", "objects", am.Objects, "bytes", am.Bytes, "errors", am.Errors)
	}
}
