package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/driftchan/driftchan/internal/config"
	"github.com/driftchan/driftchan/internal/dirman"
	"github.com/driftchan/driftchan/internal/hasher"
	"github.com/driftchan/driftchan/internal/hooks"
	"github.com/driftchan/driftchan/internal/logger"
	"github.com/driftchan/driftchan/internal/service"
	"github.com/driftchan/driftchan/internal/storage/pg"
)

func main() {
	log.SetFlags(log.Lshortfile)

	var configFolder string
	var sweepInterval time.Duration
	flag.StringVar(&configFolder, "config_folder", "config", "path to folder with configs")
	flag.DurationVar(&sweepInterval, "sweep_interval", time.Hour, "orphaned thumbnail sweep interval")
	flag.Parse()

	cfg := config.MustLoad(configFolder)
	logger.Initialize(cfg.Public.Log.Level, cfg.Public.Log.JSON)

	storage, err := pg.New(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer storage.Cleanup()

	dirs := dirman.New(storage, cfg.Public.Uploads)
	if err := dirs.EnsureActiveDirectory(true, 0); err != nil {
		log.Fatal(err)
	}
	events := hooks.NewDispatcher()
	attachments := service.NewAttachments(storage, dirs, hasher.New(cfg.HashSecret()), events)
	sweeper := service.NewThumbnailSweeper(storage, attachments)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sweeper.StartBackgroundSweep(ctx, sweepInterval)

	http.Handle("/metrics", promhttp.Handler())
	httpPort := os.Getenv("PORT")
	if httpPort == "" {
		httpPort = "9100"
	}
	srv := &http.Server{Addr: ":" + httpPort}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Print("Metrics server started")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}
