package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/skywalker-88/authguard/internal/app"
	"github.com/skywalker-88/authguard/internal/httpserver"
	"github.com/skywalker-88/authguard/pkg/config"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	switch strings.ToLower(getenv("LOG_LEVEL", "info")) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	application, err := app.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("wire application")
	}
	defer application.Close()

	if application.Blocks != nil && application.Enforcer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		application.Blocks.ReplayActive(ctx, application.Enforcer)
		cancel()
	}

	router := httpserver.NewRouter(httpserver.RouterDeps{
		Processor: application.Processor,
		Rules:     application.Rules,
		Blocks:    application.Blocks,
		Settings:  application.Settings,
		Campaigns: application.Campaigns,
		Enforcer:  application.Enforcer,
	})

	httpserver.EnableDrainFlag(true)

	addr := cfg.Server.Addr
	if addr == "" {
		addr = getenv("AUTHGUARD_HTTP_ADDR", ":8080")
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("authguard listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server stopped unexpectedly")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("shutdown requested; draining")

	httpserver.SetDraining(true)

	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	if err := srv.Shutdown(shCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown did not complete in time; forcing close")
		_ = srv.Close()
	} else {
		log.Info().Msg("http server shut down cleanly")
	}

	log.Info().Msg("authguard exited")
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
