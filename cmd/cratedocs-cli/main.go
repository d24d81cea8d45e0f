// cratedocs-cli runs one documentation operation in-process and prints the
// record as JSON. Useful for poking upstreams and cache behavior without a
// running daemon.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/cratedocs/proxy/internal/cache"
	"github.com/cratedocs/proxy/internal/config"
	"github.com/cratedocs/proxy/internal/docs"
	"github.com/cratedocs/proxy/internal/fetch"
	"github.com/cratedocs/proxy/internal/logging"
)

func main() {
	var (
		op       = flag.String("op", "", "Operation: search, metadata, releases, crate-docs, item-docs")
		query    = flag.String("q", "", "Search query")
		crate    = flag.String("crate", "", "Crate name")
		version  = flag.String("ver", "", "Crate version (empty means latest)")
		itemPath = flag.String("item", "", "Item path, e.g. sync/struct.Mutex.html")
		limit    = flag.Int("limit", 0, "Result limit (0 uses the default)")
		cacheDir = flag.String("cache-dir", "", "Disk cache directory (empty disables persistence)")
		timeout  = flag.Duration("timeout", 60*time.Second, "Overall operation timeout")
		logLevel = flag.String("log-level", "warn", "Log level")
	)
	flag.Parse()

	logger, err := logging.New(*logLevel, "console")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logging.SetGlobal(logger)

	cfg := config.DefaultConfig()
	dir := *cacheDir
	if dir == "" {
		var err error
		dir, err = os.MkdirTemp("", "cratedocs-cli-*")
		if err != nil {
			fmt.Fprintf(os.Stderr, "cache dir: %v\n", err)
			os.Exit(1)
		}
		defer os.RemoveAll(dir)
	}

	disk, err := cache.NewDisk(dir, cfg.Cache.Disk.MaxBytes)
	if err != nil {
		fmt.Fprintf(os.Stderr, "disk cache: %v\n", err)
		os.Exit(1)
	}
	tiered := cache.NewTiered(
		cache.NewMemory(cfg.Cache.Memory.MaxEntries, cfg.Cache.Memory.MaxBytes),
		disk,
		map[cache.Op]time.Duration{
			cache.OpSearch:    cfg.Cache.TTL.Search,
			cache.OpMetadata:  cfg.Cache.TTL.Metadata,
			cache.OpReleases:  cfg.Cache.TTL.Releases,
			cache.OpCrateDocs: cfg.Cache.TTL.CrateDocs,
			cache.OpItemDocs:  cfg.Cache.TTL.ItemDocs,
		},
		nil,
	)

	client := fetch.NewClient(cfg.Fetch, cfg.RateLimit, cfg.Breaker, cfg.Upstreams.UserAgent)
	svc := docs.NewService(tiered, client, cfg.Upstreams, cfg.Limits)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var record any
	switch *op {
	case "search":
		record, err = svc.Search(ctx, *query, *limit)
	case "metadata":
		record, err = svc.Metadata(ctx, *crate, *version)
	case "releases":
		record, err = svc.RecentReleases(ctx, *limit)
	case "crate-docs":
		record, err = svc.CrateDocs(ctx, *crate, *version)
	case "item-docs":
		record, err = svc.ItemDocs(ctx, *crate, *version, *itemPath)
	case "":
		fmt.Fprintln(os.Stderr, "missing -op; one of: search, metadata, releases, crate-docs, item-docs")
		os.Exit(2)
	default:
		fmt.Fprintf(os.Stderr, "unknown operation %q\n", *op)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(record); err != nil {
		fmt.Fprintf(os.Stderr, "encoding output: %v\n", err)
		os.Exit(1)
	}
}
