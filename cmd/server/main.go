// Command streamcore-server runs the real-time speech-to-text streaming
// core: it opens a fixed pool of transcription contexts, admits websocket
// sessions against that pool, and drives one scheduler goroutine that
// ticks every active session's voice-activity state and dispatches
// sliding-window transcriptions.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/streamcore/streamcore/internal/config"
	"github.com/streamcore/streamcore/internal/contextpool"
	"github.com/streamcore/streamcore/internal/courier"
	"github.com/streamcore/streamcore/internal/scheduler"
	"github.com/streamcore/streamcore/internal/session"
	"github.com/streamcore/streamcore/internal/transcribe"
	"github.com/streamcore/streamcore/internal/vad"
	"github.com/streamcore/streamcore/internal/wsserver"
)

const sampleRate = 16000

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	if err := cfg.ParseFlags(os.Args[1:]); err != nil {
		return fmt.Errorf("parsing flags: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err == nil {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	transcriber, err := transcribe.NewWhisperTranscriber(cfg.ModelPath)
	if err != nil {
		return fmt.Errorf("loading model: %w", err)
	}

	pool, err := contextpool.New(ctx, transcriber, cfg.NContexts, cfg.ModelPath, transcribe.Options{
		UseGPU:     cfg.UseGPU,
		FlashAttn:  cfg.FlashAttn,
		NumThreads: cfg.NThreads,
	})
	if err != nil {
		return fmt.Errorf("opening context pool: %w", err)
	}

	registry := session.NewRegistry(pool, sampleRate, cfg.MaxRetainSeconds, vad.Config{
		Threshold:        float32(cfg.VadThreshold),
		SilenceTriggerMs: int64(cfg.SilenceTriggerMs),
		MinSpeechMs:      int64(cfg.MinSpeechMs),
	})

	var detector vad.SpeechDetector
	if cfg.VadEnabled() {
		detector = vad.NewEnergyDetector()
	}

	transport := wsserver.New(registry, cfg.ModelPath, cfg.NContexts, cfg.AuthToken)
	c := courier.New(registry, transport)
	transport.SetCourier(c)

	sched := scheduler.New(scheduler.Config{
		SampleRate:       sampleRate,
		StepMs:           int64(cfg.StepMs),
		LengthMs:         int64(cfg.LengthMs),
		KeepMs:           int64(cfg.KeepMs),
		VadCheckMs:       int64(cfg.VadCheckMs),
		Language:         cfg.Language,
		Translate:        cfg.Translate,
		NumThreads:       cfg.NThreads,
		VadEnabled:       cfg.VadEnabled(),
		VadModelPath:     cfg.VadModelPath,
		VadThreshold:     float32(cfg.VadThreshold),
		SilenceTriggerMs: int64(cfg.SilenceTriggerMs),
		MinSpeechMs:      int64(cfg.MinSpeechMs),
	}, registry, transcriber, detector, c)

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: transport.Handler(),
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("streamcore server starting", "addr", addr, "model", cfg.ModelPath, "vad_enabled", cfg.VadEnabled())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		slog.Info("shutdown signal received")
	case err := <-serveErr:
		slog.Error("http server error", "error", err)
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeoutMs)*time.Millisecond)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	sched.Stop()
	pool.CloseAll()
	if err := transcriber.CloseModel(); err != nil {
		slog.Warn("error closing transcription model", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}
