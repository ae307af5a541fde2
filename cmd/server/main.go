package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rtvb/voicebridge/internal/config"
	"github.com/rtvb/voicebridge/internal/gateway"
	"github.com/rtvb/voicebridge/internal/httpserver"
	"github.com/rtvb/voicebridge/internal/llm"
	"github.com/rtvb/voicebridge/internal/session"
	"github.com/rtvb/voicebridge/internal/transcript"
	"github.com/rtvb/voicebridge/internal/translate"
	"github.com/rtvb/voicebridge/internal/tts"
	"github.com/rtvb/voicebridge/internal/vad"
)

func main() {
	// Include sub-second precision in all log timestamps
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cfg := config.Load()

	// advisory only; sessions fail per-turn if the engine goes away later
	ollama := llm.NewOllamaClient(cfg.OllamaBaseURL, cfg.OllamaModel)
	checkCtx, checkCancel := context.WithTimeout(context.Background(), 3*time.Second)
	if ollama.IsAvailable(checkCtx) {
		log.Printf("ollama reachable at %s (model %s)", cfg.OllamaBaseURL, cfg.OllamaModel)
	} else {
		log.Printf("warning: ollama not reachable at %s, agent turns will fail", cfg.OllamaBaseURL)
	}
	checkCancel()

	gw := &gateway.Handler{
		SessionConfig: sessionConfig(cfg),
		DefaultModel:  cfg.OllamaModel,
		DefaultVoice:  cfg.DeepgramTTSModel,
		NewRecognizer: func(p session.Params) (session.Recognizer, error) {
			return transcript.NewStreamClient(cfg.STTStreamURL, p.InputLang, cfg.SampleRate), nil
		},
		Translator: translate.NewClient(cfg.TranslateURL),
		NewGenerator: func(model string) session.Generator {
			return llm.NewOllamaClient(cfg.OllamaBaseURL, model)
		},
		NewSynthesizer: func(p session.Params) (session.Synthesizer, error) {
			if cfg.TTSBackend == "deepgram" {
				dg := tts.NewDeepgramSynthesizer(cfg.DeepgramAPIKey, p.Voice, 24000)
				dg.IdleWindow = time.Duration(cfg.TTSIdleWindowMs) * time.Millisecond
				dg.MaxWait = time.Duration(cfg.TTSMaxWaitMs) * time.Millisecond
				return dg, nil
			}
			return tts.NewStreamSynthesizer(cfg.TTSStreamURL, p.Voice, 24000), nil
		},
	}

	srv := httpserver.New(gw)

	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           srv.Router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in background
	serverErrors := make(chan error, 1)
	go func() {
		log.Printf("server listening on %s", cfg.HTTPAddress)
		serverErrors <- server.ListenAndServe()
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	case sig := <-sigChan:
		log.Printf("shutdown signal received: %v", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = server.Close()
	}
}

func sessionConfig(cfg config.Config) session.Config {
	d := vad.Config{
		BaseThreshold:   cfg.Detector.BaseThreshold,
		MinThreshold:    cfg.Detector.MinThreshold,
		MaxThreshold:    cfg.Detector.MaxThreshold,
		NoiseMultiplier: cfg.Detector.NoiseMultiplier,
		AmbientDecay:    cfg.Detector.AmbientDecay,
		VisualCeiling:   cfg.Detector.VisualCeiling,
		MinFrames:       cfg.Detector.MinFrames,
		Cooldown:        time.Duration(cfg.Detector.CooldownMs) * time.Millisecond,
	}
	return session.Config{
		SampleRate:    cfg.SampleRate,
		SilenceDelay:  time.Duration(cfg.SilenceDelayMs) * time.Millisecond,
		BufferLatency: time.Duration(cfg.BufferLatencyMs) * time.Millisecond,
		Detector:      d,
	}
}
