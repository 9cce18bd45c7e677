package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nullhaus/sysmond/internal/api"
	"github.com/nullhaus/sysmond/internal/api/handlers"
	"github.com/nullhaus/sysmond/internal/collector"
	"github.com/nullhaus/sysmond/internal/config"
	"github.com/nullhaus/sysmond/internal/obs"
	"github.com/nullhaus/sysmond/internal/pattern"
	"github.com/nullhaus/sysmond/internal/pipeline"
	"github.com/nullhaus/sysmond/internal/ring"
	"github.com/nullhaus/sysmond/internal/scheduler"
	"github.com/nullhaus/sysmond/internal/storage/sqlite"
	"github.com/nullhaus/sysmond/pkg/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the collection agent: sample, store, detect anomalies, and serve the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func buildRegistry(cfg *config.Config) *collector.Registry {
	byName := map[string]collector.Collector{
		"cpu":     collector.NewCPUCollector(),
		"ram":     collector.NewRAMCollector(),
		"gpu":     collector.NewGPUCollector(),
		"disk":    collector.NewDiskCollector(),
		"network": collector.NewNetworkCollector(),
		"process": collector.NewProcessCollector(cfg.Collection.TopProcesses, cfg.Privacy.ProcessNameOnly),
		"context": collector.NewContextCollector(),
	}
	var enabled []collector.Collector
	for _, name := range cfg.Collectors.Enabled {
		if c, ok := byName[name]; ok {
			enabled = append(enabled, c)
		}
	}
	if cfg.Collectors.ExternalToolBridge {
		enabled = append(enabled, collector.NewExternalToolBridge())
	}
	if cfg.Collectors.PlatformQueryBridge {
		enabled = append(enabled, collector.NewPlatformQueryBridge())
	}
	return collector.NewRegistry(enabled...)
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("%w: %v", errConfig, err)
	}

	log := logger.New(cfg.Logging)

	store, err := sqlite.Open(ctx, cfg.Store.Path, log)
	if err != nil {
		return fmt.Errorf("%w: %v", errStorageInit, err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("error closing store", "error", err)
		}
	}()

	var metrics *obs.Metrics
	if cfg.Metrics.Enabled {
		metrics = obs.New()
	}

	// storeQueueDepth absorbs brief store-write stalls before the pipeline
	// starts dropping the oldest unwritten snapshot (spec §4.4); it is
	// independent of the ring buffer's own subscriber queue depth.
	const storeQueueDepth = 64

	reg := buildRegistry(cfg)
	ringBuf := ring.NewWithSubCapacity(cfg.Ring.Capacity, cfg.Ring.SubCapacity, log)
	patterns := pattern.New(&cfg.Patterns, store, store, log)
	pipe := pipeline.New(reg, store, ringBuf, patterns, log, storeQueueDepth)
	if metrics != nil {
		pipe.SetMetrics(metrics)
		patterns.SetMetrics(metrics)
	}
	defer pipe.Close()
	defer patterns.Close()

	if err := patterns.RefreshBaselines(ctx); err != nil {
		log.Warn("failed to seed baselines from history", "error", err)
	}

	sched := scheduler.New(cfg, reg, pipe, store, patterns, log)

	deps := &handlers.Deps{
		Ring:      ringBuf,
		Store:     store,
		Pipeline:  pipe,
		Scheduler: sched,
		Config:    cfg,
		Logger:    log,
	}
	router := api.NewRouter(deps, log, metrics, cfg.Metrics.Path)

	server := &http.Server{
		Addr:    cfg.HTTP.Bind,
		Handler: router,
	}

	schedCtx, cancelSched := context.WithCancel(ctx)
	defer cancelSched()
	sched.Start(schedCtx)

	if metrics != nil {
		go pollStoreDrops(schedCtx, pipe, metrics)
	}

	serveErrCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", "bind", cfg.HTTP.Bind)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErrCh <- err
			return
		}
		serveErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErrCh:
		if err != nil {
			return fmt.Errorf("%w: %v", errBind, err)
		}
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
		shutdown(cfg, log, server, sched)
		return errInterrupted
	}
	return nil
}

// shutdown drains components in the order spec §5/§6.2 specifies:
// scheduler stops issuing new ticks and waits out its drain budget, the
// HTTP server stops accepting new connections, then the store closes (via
// the caller's defer). Grounded on the teacher's signal-channel +
// context.WithTimeout shutdown shape in cmd/server/main.go.
func shutdown(cfg *config.Config, log *slog.Logger, server *http.Server, sched *scheduler.Scheduler) {
	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Resources.ShutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http server forced to shutdown", "error", err)
	}
	log.Info("shutdown complete")
}

func pollStoreDrops(ctx context.Context, pipe *pipeline.Pipeline, metrics *obs.Metrics) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.SetStoreDrops(pipe.StoreDrops())
		}
	}
}
