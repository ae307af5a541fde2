package config

import (
	"os"
	"testing"
)

func TestLoad_DefaultsAndEnv(t *testing.T) {
	os.Setenv("HTTP_ADDRESS", "")
	os.Setenv("OLLAMA_MODEL", "")
	os.Setenv("VAD_MIN_FRAMES", "")
	cfg := Load()
	if cfg.HTTPAddress == "" {
		t.Fatalf("expected default http address")
	}
	if cfg.OllamaModel == "" {
		t.Fatalf("expected default generation model")
	}
	if cfg.Detector.MinFrames <= 0 {
		t.Fatalf("expected positive default min frames")
	}
	if cfg.Detector.MinThreshold > cfg.Detector.MaxThreshold {
		t.Fatalf("threshold bounds inverted")
	}
}

func TestGetEnvInt_IgnoresGarbage(t *testing.T) {
	os.Setenv("VB_TEST_INT", "nope")
	if got := getEnvInt("VB_TEST_INT", 7); got != 7 {
		t.Fatalf("expected fallback 7, got %d", got)
	}
	os.Setenv("VB_TEST_INT", "42")
	if got := getEnvInt("VB_TEST_INT", 7); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
}
