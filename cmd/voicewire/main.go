// Command voicewire is the terminal client: it connects to the gateway,
// streams microphone audio up, plays agent voice back, and renders the
// conversation with an audio-reactive visualization.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"github.com/voicewire/voicewire/pkg/client"
	"github.com/voicewire/voicewire/pkg/core/state"
	"github.com/voicewire/voicewire/pkg/core/visual"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "voicewire:", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	// The terminal owns stdout; keep logs out of the UI.
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if logPath := os.Getenv("VOICEWIRE_CLIENT_LOG"); logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err == nil {
			defer f.Close()
			logger = slog.New(slog.NewTextHandler(f, nil))
		}
	}

	baseURL := os.Getenv("VOICEWIRE_GATEWAY_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8087"
	}

	visCfg := visual.DefaultVisualConfig()
	driver := visual.NewDriver(visual.DriverConfig{Visual: visCfg})
	defer driver.Close()

	store := state.NewStore(state.DefaultConfig())
	defer store.Close()

	faults := make(chan serverFaultMsg, 8)

	var manager *client.Manager
	engine := newAudioEngine(visCfg.WindowSamples*2, func(pcm []byte) {
		if ch := manager.Channel(); ch != nil {
			_ = ch.SendAudioFrame(pcm)
		}
	})
	defer engine.Close()

	manager = client.NewManager(client.Config{
		Transport:    &client.WebsocketTransport{BaseURL: baseURL},
		Store:        store,
		Logger:       logger,
		OnAgentAudio: engine.PlayAgentAudio,
		OnServerError: func(code, message string) {
			select {
			case faults <- serverFaultMsg{code: code, message: message}:
			default:
			}
		},
	})
	defer manager.Close()

	// Stream acquisition failures degrade the visualization, never the app.
	if err := engine.StartMic(); err != nil {
		logger.Warn("microphone unavailable", "error", err)
		driver.FailStream(visual.StreamLocal, err)
	} else {
		driver.AttachStream(visual.StreamLocal, engine.MicSource())
	}
	if err := engine.StartSpeaker(); err != nil {
		logger.Warn("speaker unavailable", "error", err)
		driver.FailStream(visual.StreamRemote, err)
	} else {
		driver.AttachStream(visual.StreamRemote, engine.RemoteSource())
	}

	driver.Start()

	program := tea.NewProgram(newApp(manager, store, driver, visCfg, faults), tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("ui: %w", err)
	}
	return nil
}
