package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress string

	// Engine endpoints
	STTStreamURL  string
	TranslateURL  string
	OllamaBaseURL string
	OllamaModel   string

	// Synthesis backend: "stream" (websocket TTS service) or "deepgram".
	TTSBackend       string
	TTSStreamURL     string
	DeepgramAPIKey   string
	DeepgramTTSModel string
	TTSIdleWindowMs  int
	TTSMaxWaitMs     int

	SampleRate int

	// Turn-taking and barge-in tunables. The defaults were arrived at
	// empirically; override per deployment rather than editing code.
	Detector        DetectorConfig
	SilenceDelayMs  int
	BufferLatencyMs int
}

// DetectorConfig carries the acoustic activity gate thresholds.
type DetectorConfig struct {
	BaseThreshold   float64
	MinThreshold    float64
	MaxThreshold    float64
	NoiseMultiplier float64
	AmbientDecay    float64
	VisualCeiling   float64
	MinFrames       int
	CooldownMs      int
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	ttsBackend := getEnv("TTS_BACKEND", "stream")
	deepgramKey := os.Getenv("DEEPGRAM_API_KEY")
	if ttsBackend == "deepgram" && deepgramKey == "" {
		log.Println("Warning: DEEPGRAM_API_KEY not set - synthesis will not work")
	}

	cfg := Config{
		HTTPAddress:      getEnv("HTTP_ADDRESS", ":8080"),
		STTStreamURL:     getEnv("STT_WS_URL", "ws://127.0.0.1:8001/ws/stt"),
		TranslateURL:     getEnv("TRANSLATE_URL", "http://127.0.0.1:8002"),
		OllamaBaseURL:    getEnv("OLLAMA_BASE_URL", "http://127.0.0.1:11434"),
		OllamaModel:      getEnv("OLLAMA_MODEL", "llama3.2"),
		TTSBackend:       ttsBackend,
		TTSStreamURL:     getEnv("TTS_STREAM_URL", "ws://127.0.0.1:8004/ws/tts-stream"),
		DeepgramAPIKey:   deepgramKey,
		DeepgramTTSModel: getEnv("DEEPGRAM_TTS_MODEL", "aura-2-thalia-en"),
		TTSIdleWindowMs:  getEnvInt("TTS_IDLE_WINDOW_MS", 400),
		TTSMaxWaitMs:     getEnvInt("TTS_MAX_WAIT_MS", 12000),
		SampleRate:       getEnvInt("SAMPLE_RATE", 16000),
		Detector: DetectorConfig{
			BaseThreshold:   getEnvFloat("VAD_BASE_THRESHOLD", 0.06),
			MinThreshold:    getEnvFloat("VAD_MIN_THRESHOLD", 0.04),
			MaxThreshold:    getEnvFloat("VAD_MAX_THRESHOLD", 0.30),
			NoiseMultiplier: getEnvFloat("VAD_NOISE_MULTIPLIER", 2.5),
			AmbientDecay:    getEnvFloat("VAD_AMBIENT_DECAY", 0.05),
			VisualCeiling:   getEnvFloat("VAD_VISUAL_CEILING", 0.25),
			MinFrames:       getEnvInt("VAD_MIN_FRAMES", 4),
			CooldownMs:      getEnvInt("VAD_COOLDOWN_MS", 1500),
		},
		SilenceDelayMs:  getEnvInt("SILENCE_DELAY_MS", 2500),
		BufferLatencyMs: getEnvInt("PLAYBACK_BUFFER_LATENCY_MS", 60),
	}

	log.Printf("config: HTTP_ADDRESS=%s TTS_BACKEND=%s MODEL=%s", cfg.HTTPAddress, cfg.TTSBackend, cfg.OllamaModel)
	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("Warning: %s=%q is not an integer, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("Warning: %s=%q is not a number, using %g", key, v, fallback)
		return fallback
	}
	return f
}
