package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/qq276356648/SmartProctor/internal/adapters/directory"
	router "github.com/qq276356648/SmartProctor/internal/adapters/http"
	"github.com/qq276356648/SmartProctor/internal/app"
	"github.com/qq276356648/SmartProctor/internal/app/orch"
	"github.com/qq276356648/SmartProctor/internal/config"
	"github.com/qq276356648/SmartProctor/internal/core"
)

func newDirectory(ctx context.Context, cfg config.DirectoryConfig) (core.Directory, func(), error) {
	switch cfg.Driver {
	case "postgres":
		pool, err := directory.Connect(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		pg := directory.NewPostgres(pool)
		if err := pg.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		return pg, pool.Close, nil
	default:
		mem, err := directory.NewMemoryFromConfig(cfg.Exams)
		if err != nil {
			return nil, nil, err
		}
		return mem, func() {}, nil
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	dir, closeDir, err := newDirectory(ctx, cfg.Directory)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Directory.Driver).Msg("directory")
	}
	defer closeDir()

	o := orch.New(dir, app.SimplePolicy{})
	if cfg.EvictionInterval > 0 {
		go o.RunEviction(ctx, cfg.EvictionInterval)
	}

	r := router.SetupRouter(ctx, cfg, o)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Str("directory", cfg.Directory.Driver).Msg("SmartProctor signaling server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
