// Command m3u-epg builds a deduplicated M3U playlist and a merged XMLTV
// guide from three sources: a provider playlist, a station-code directory,
// and the guide feeds those stations point at.
//
//	run       load everything and write the playlist/guide output files;
//	          with -interval, keep reloading on a timer (for systemd)
//	playlist  load and print the playlist to stdout
//	epg       load and print the merged guide to stdout
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ryan-russell-ca/m3u-epg/internal/cache"
	"github.com/ryan-russell-ca/m3u-epg/internal/config"
	"github.com/ryan-russell-ca/m3u-epg/internal/fetch"
	"github.com/ryan-russell-ca/m3u-epg/internal/guide"
	"github.com/ryan-russell-ca/m3u-epg/internal/manager"
	"github.com/ryan-russell-ca/m3u-epg/internal/metrics"
	"github.com/ryan-russell-ca/m3u-epg/internal/store"
)

func main() {
	if err := config.LoadEnvFile(".env"); err != nil {
		log.Printf("m3u-epg: .env: %v", err)
	}

	fs := flag.NewFlagSet("m3u-epg", flag.ExitOnError)
	configPath := fs.String("config", "", "YAML config file (env overrides file values)")
	refresh := fs.Bool("refresh", false, "force every layer to rebuild from source")
	interval := fs.Duration("interval", 0, "reload interval for run; 0 = one shot")

	args := os.Args[1:]
	cmdName := "run"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmdName = args[0]
		args = args[1:]
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("m3u-epg: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.StoreDriver, cfg.StoreDSN)
	if err != nil {
		log.Fatalf("m3u-epg: open store: %v", err)
	}
	defer db.Close()

	opts := fetch.Options{}
	if cfg.RedisURL != "" {
		rc, err := cache.NewRedis(cfg.RedisURL)
		if err != nil {
			log.Fatalf("m3u-epg: redis: %v", err)
		}
		defer rc.Close()
		opts.Redis = rc
	}
	mgr := manager.New(cfg, fetch.New(opts), db)

	switch cmdName {
	case "run":
		err = runLoop(ctx, mgr, cfg, *refresh, *interval)
	case "playlist":
		err = printOut(ctx, mgr, *refresh, mgr.Playlist)
	case "epg":
		err = printOut(ctx, mgr, *refresh, mgr.EPG)
	default:
		log.Fatalf("m3u-epg: unknown command %q", cmdName)
	}
	if err != nil {
		log.Fatalf("m3u-epg: %v", err)
	}
}

func runLoop(ctx context.Context, mgr *manager.Manager, cfg *config.Config, refresh bool, interval time.Duration) error {
	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr)
	}
	for {
		if err := cycle(ctx, mgr, cfg, refresh); err != nil {
			if interval <= 0 {
				return err
			}
			log.Printf("m3u-epg: load cycle failed: %v", err)
		}
		refresh = false
		if interval <= 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}

// cycle loads every layer and rewrites the output files. Writes are atomic
// so consumers polling the files never see partial output.
func cycle(ctx context.Context, mgr *manager.Manager, cfg *config.Config, refresh bool) error {
	start := time.Now()
	if err := mgr.Load(ctx, refresh); err != nil {
		return err
	}

	playlist, err := mgr.Playlist()
	if err != nil {
		return err
	}
	if err := fetch.WriteFile(cfg.PlaylistOut, playlist); err != nil {
		return err
	}

	epg, err := mgr.EPG()
	switch {
	case errors.Is(err, guide.ErrNotLoaded):
		log.Printf("m3u-epg: no guide data; skipping %s", cfg.GuideOut)
	case err != nil:
		return err
	default:
		if err := fetch.WriteFile(cfg.GuideOut, epg); err != nil {
			return err
		}
	}
	log.Printf("m3u-epg: cycle done in %s (%s, %s)", time.Since(start).Round(time.Millisecond), cfg.PlaylistOut, cfg.GuideOut)
	return nil
}

func printOut(ctx context.Context, mgr *manager.Manager, refresh bool, get func() (string, error)) error {
	if err := mgr.Load(ctx, refresh); err != nil {
		return err
	}
	out, err := get()
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	log.Printf("m3u-epg: metrics on %s/metrics", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("m3u-epg: metrics server: %v", err)
	}
}
