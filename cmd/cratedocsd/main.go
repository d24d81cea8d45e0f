package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/cratedocs/proxy/internal/cache"
	"github.com/cratedocs/proxy/internal/config"
	"github.com/cratedocs/proxy/internal/docs"
	"github.com/cratedocs/proxy/internal/fetch"
	"github.com/cratedocs/proxy/internal/logging"
	"github.com/cratedocs/proxy/internal/metrics"
	"github.com/cratedocs/proxy/internal/server"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/cratedocsd.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	validateOnly := flag.Bool("validate", false, "Validate configuration and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("cratedocsd %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	loader := config.NewLoader()
	cfg, err := loader.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *validateOnly {
		fmt.Println("Configuration is valid")
		os.Exit(0)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logging.SetGlobal(logger)

	logging.Info("starting cratedocsd",
		zap.String("version", version),
		zap.String("config", *configPath),
		zap.String("registry", cfg.Upstreams.RegistryURL),
		zap.String("docs", cfg.Upstreams.DocsURL),
	)

	disk, err := cache.NewDisk(cfg.Cache.Disk.Dir, cfg.Cache.Disk.MaxBytes)
	if err != nil {
		logging.Error("opening disk cache", zap.Error(err))
		os.Exit(1)
	}
	mem := cache.NewMemory(cfg.Cache.Memory.MaxEntries, cfg.Cache.Memory.MaxBytes)

	tiered := cache.NewTiered(mem, disk, ttlMap(cfg.Cache.TTL), nil)
	m := metrics.New(tiered)
	tiered.SetRecorder(m)

	client := fetch.NewClient(cfg.Fetch, cfg.RateLimit, cfg.Breaker, cfg.Upstreams.UserAgent)
	svc := docs.NewService(tiered, client, cfg.Upstreams, cfg.Limits)
	srv := server.New(cfg.Server, svc, m)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if interval := cfg.Cache.MaintenanceInterval; interval > 0 {
		go maintenanceLoop(ctx, tiered, interval)
	}

	if err := srv.Run(ctx); err != nil {
		logging.Error("server error", zap.Error(err))
		os.Exit(1)
	}
	logging.Info("shutdown complete")
}

// maintenanceLoop sweeps expired cache entries until ctx is cancelled.
func maintenanceLoop(ctx context.Context, tc *cache.Tiered, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tc.RunMaintenance()
		}
	}
}

func ttlMap(ttl config.TTLConfig) map[cache.Op]time.Duration {
	return map[cache.Op]time.Duration{
		cache.OpSearch:    ttl.Search,
		cache.OpMetadata:  ttl.Metadata,
		cache.OpReleases:  ttl.Releases,
		cache.OpCrateDocs: ttl.CrateDocs,
		cache.OpItemDocs:  ttl.ItemDocs,
	}
}
