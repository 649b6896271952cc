package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sadiq-Teslim/kula-website/internal/advisor"
	"github.com/Sadiq-Teslim/kula-website/internal/config"
	"github.com/Sadiq-Teslim/kula-website/internal/logging"
)

func main() {
	cfg := config.Load()
	fs := flag.NewFlagSet("kula-advisor", flag.ExitOnError)
	cfg.BindAdvisorFlags(fs)
	_ = fs.Parse(os.Args[1:])

	log := logging.New(logging.Options{Level: cfg.LogLevel})
	logging.Warnings(log, cfg.Warnings)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	resp, err := newResponder(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("configure responder")
	}
	srv := advisor.New(resp, log)

	server := &http.Server{
		Addr:              cfg.AdvisorAddress,
		Handler:           srv.Router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.AdvisorAddress).Str("backend", cfg.AdvisorBackend).Msg("advisor listening")
		serverErrors <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown failed")
		_ = server.Close()
	}
}

func newResponder(ctx context.Context, cfg config.Config, log zerolog.Logger) (advisor.Responder, error) {
	switch cfg.AdvisorBackend {
	case "", "scripted":
		return advisor.NewScriptedResponder(), nil
	case "chat":
		if cfg.ChatAPIKey == "" {
			log.Warn().Msg("CEREBRAS_API_KEY not set - chat replies will fail")
		}
		return advisor.NewChatResponder(cfg.ChatAPIKey, cfg.ChatModel), nil
	case "gemini":
		return advisor.NewGeminiResponder(ctx, cfg.GeminiProject, cfg.GeminiLocation, cfg.GeminiModel)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.AdvisorBackend)
	}
}
