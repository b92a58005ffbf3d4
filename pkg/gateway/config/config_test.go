package config

import (
	"testing"
	"time"
)

func TestLoadFromEnvDefaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8087" {
		t.Errorf("addr = %q", cfg.Addr)
	}
	if cfg.CatalogPath != "catalog.yaml" {
		t.Errorf("catalog path = %q", cfg.CatalogPath)
	}
	if cfg.SpeechStopDuration != 600*time.Millisecond {
		t.Errorf("speech stop duration = %v", cfg.SpeechStopDuration)
	}
	if !cfg.OriginAllowed("http://anywhere.example") {
		t.Error("empty origin set must allow all origins")
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("VOICEWIRE_ADDR", ":9000")
	t.Setenv("VOICEWIRE_MAX_AUDIO_FPS", "60")
	t.Setenv("VOICEWIRE_WS_WRITE_TIMEOUT", "2s")
	t.Setenv("VOICEWIRE_CORS_ORIGINS", "http://localhost:3000, http://app.example")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9000" {
		t.Errorf("addr = %q", cfg.Addr)
	}
	if cfg.MaxAudioFPS != 60 {
		t.Errorf("fps = %v", cfg.MaxAudioFPS)
	}
	if cfg.WriteTimeout != 2*time.Second {
		t.Errorf("write timeout = %v", cfg.WriteTimeout)
	}
	if !cfg.OriginAllowed("http://localhost:3000") {
		t.Error("listed origin rejected")
	}
	if cfg.OriginAllowed("http://evil.example") {
		t.Error("unlisted origin allowed")
	}
}

func TestLoadFromEnvInvalidValuesFallBack(t *testing.T) {
	t.Setenv("VOICEWIRE_MAX_AUDIO_FPS", "not-a-number")
	t.Setenv("VOICEWIRE_WS_PING_INTERVAL", "soon")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxAudioFPS != 120 {
		t.Errorf("fps = %v, want default", cfg.MaxAudioFPS)
	}
	if cfg.PingInterval != 20*time.Second {
		t.Errorf("ping interval = %v, want default", cfg.PingInterval)
	}
}

func TestLoadFromEnvThresholdOrdering(t *testing.T) {
	t.Setenv("VOICEWIRE_SPEECH_START_THRESHOLD", "0.01")
	t.Setenv("VOICEWIRE_SPEECH_STOP_THRESHOLD", "0.05")

	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("inverted thresholds must fail validation")
	}
}
