// Package config loads gateway configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr string

	// PublicBaseURL is the externally reachable base URL used to build the
	// ws_url handed out by /api/start. Empty means derive from the request
	// host.
	PublicBaseURL string

	// CatalogPath points at the YAML topic catalog.
	CatalogPath string

	// CORSAllowedOrigins gates the start endpoint. Empty set means allow
	// any origin, matching the original deployment posture for lab use.
	CORSAllowedOrigins map[string]struct{}

	// Inbound audio limits.
	MaxAudioFrameBytes int
	MaxAudioFPS        float64
	AudioBurstFrames   int

	// Speech edge detection over inbound PCM.
	SpeechStartThreshold float64
	SpeechStopThreshold  float64
	SpeechStopDuration   time.Duration

	// Websocket write behavior.
	WriteTimeout time.Duration
	PingInterval time.Duration

	// Operational defaults.
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                 envOr("VOICEWIRE_ADDR", ":8087"),
		PublicBaseURL:        envOr("VOICEWIRE_PUBLIC_BASE_URL", ""),
		CatalogPath:          envOr("VOICEWIRE_CATALOG_PATH", "catalog.yaml"),
		CORSAllowedOrigins:   make(map[string]struct{}),
		MaxAudioFrameBytes:   envIntOr("VOICEWIRE_MAX_AUDIO_FRAME_BYTES", 8192),
		MaxAudioFPS:          envFloat64Or("VOICEWIRE_MAX_AUDIO_FPS", 120),
		AudioBurstFrames:     envIntOr("VOICEWIRE_AUDIO_BURST_FRAMES", 240),
		SpeechStartThreshold: envFloat64Or("VOICEWIRE_SPEECH_START_THRESHOLD", 0.02),
		SpeechStopThreshold:  envFloat64Or("VOICEWIRE_SPEECH_STOP_THRESHOLD", 0.01),
		SpeechStopDuration:   envDurationOr("VOICEWIRE_SPEECH_STOP_MS", 600*time.Millisecond),
		WriteTimeout:         envDurationOr("VOICEWIRE_WS_WRITE_TIMEOUT", 5*time.Second),
		PingInterval:         envDurationOr("VOICEWIRE_WS_PING_INTERVAL", 20*time.Second),
		ReadHeaderTimeout:    envDurationOr("VOICEWIRE_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod:  envDurationOr("VOICEWIRE_SHUTDOWN_GRACE_PERIOD", 15*time.Second),
	}

	for _, origin := range splitList(os.Getenv("VOICEWIRE_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if cfg.MaxAudioFrameBytes <= 0 {
		return Config{}, fmt.Errorf("VOICEWIRE_MAX_AUDIO_FRAME_BYTES must be positive")
	}
	if cfg.MaxAudioFPS <= 0 {
		return Config{}, fmt.Errorf("VOICEWIRE_MAX_AUDIO_FPS must be positive")
	}
	if cfg.SpeechStopThreshold > cfg.SpeechStartThreshold {
		return Config{}, fmt.Errorf("VOICEWIRE_SPEECH_STOP_THRESHOLD must not exceed the start threshold")
	}

	return cfg, nil
}

// OriginAllowed reports whether the given Origin header value may use the
// start endpoint.
func (c Config) OriginAllowed(origin string) bool {
	if len(c.CORSAllowedOrigins) == 0 {
		return true
	}
	_, ok := c.CORSAllowedOrigins[origin]
	return ok
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envOr(key, def string) string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	return raw
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
