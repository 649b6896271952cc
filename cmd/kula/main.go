package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Sadiq-Teslim/kula-website/internal/agent"
	"github.com/Sadiq-Teslim/kula-website/internal/config"
	"github.com/Sadiq-Teslim/kula-website/internal/logging"
	"github.com/Sadiq-Teslim/kula-website/internal/speech"
	"github.com/Sadiq-Teslim/kula-website/internal/transport"
	"github.com/Sadiq-Teslim/kula-website/internal/tui"
	"github.com/Sadiq-Teslim/kula-website/internal/vision"
)

func main() {
	cfg := config.Load()
	fs := flag.NewFlagSet("kula", flag.ExitOnError)
	cfg.BindFlags(fs)
	_ = fs.Parse(os.Args[1:])

	log := logging.New(logging.Options{File: cfg.LogFile, Level: cfg.LogLevel})
	logging.Warnings(log, cfg.Warnings)
	log.Info().Str("server", cfg.ServerURL).Dur("timeout", cfg.RequestTimeout).Msg("kula starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var loader vision.Loader
	if cfg.PredictURL != "" {
		loader = vision.NewHTTPLoader(cfg.ModelURL, cfg.PredictURL)
	}
	var rec speech.Recognizer
	if cfg.AssemblyAIKey != "" && cfg.MicCommand != "" {
		rec = speech.NewAssemblyAIRecognizer(cfg.AssemblyAIKey, speech.NewCommandSource(cfg.MicCommand), log)
	}

	sess := agent.New(agent.Deps{
		Transport:  transport.NewClient(cfg.ServerURL, cfg.RequestTimeout, log),
		Vision:     vision.NewClassifier(loader, log),
		Recognizer: rec,
		Log:        log,
	}, agent.WithTimeout(cfg.RequestTimeout), agent.WithSpeechLang(cfg.SpeechLang))
	sess.Bind(ctx)
	defer sess.Close()

	var camera tui.Camera
	if cfg.CameraCommand != "" {
		camera = vision.NewCommandCamera(cfg.CameraCommand)
	}

	if err := tui.Run(tui.New(ctx, sess, camera, log)); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("terminal client exited")
		fmt.Fprintf(os.Stderr, "kula: %v\n", err)
		os.Exit(1)
	}
	log.Info().Msg("kula stopped")
}
