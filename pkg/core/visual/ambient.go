package visual

import (
	"time"

	"github.com/voicewire/voicewire/pkg/core/state"
)

// Preset is one entry in the ambient mode's discrete palette. The ambient
// renderer needs no per-sample analysis: presets are selected from coarse
// signals only (connection readiness, interaction mode, inbound envelope).
type Preset struct {
	Name        string
	Color       string // hex, renderer maps it to its own color space
	Intensity   float64
	PulsePeriod time.Duration
}

var (
	presetOffline = Preset{
		Name:        "offline",
		Color:       "#4a4a4a",
		Intensity:   0.10,
		PulsePeriod: 4 * time.Second,
	}
	presetIdle = Preset{
		Name:        "idle",
		Color:       "#3b6ea5",
		Intensity:   0.30,
		PulsePeriod: 3 * time.Second,
	}
	presetListening = Preset{
		Name:        "listening",
		Color:       "#3da56b",
		Intensity:   0.65,
		PulsePeriod: 1500 * time.Millisecond,
	}
	presetThinking = Preset{
		Name:        "thinking",
		Color:       "#c99a3c",
		Intensity:   0.50,
		PulsePeriod: 800 * time.Millisecond,
	}
)

// ambientPreset maps the three coarse inputs to a palette entry. Preset
// switches are instantaneous; only the intensity is eased afterwards.
func ambientPreset(connected bool, mode state.InteractionMode, inboundPeak float64) Preset {
	if !connected {
		return presetOffline
	}

	var p Preset
	switch mode {
	case state.ModeListening:
		p = presetListening
	case state.ModeThinking:
		p = presetThinking
	default:
		p = presetIdle
	}

	// Agent voice raises the glow above the preset floor.
	p.Intensity += inboundPeak * (1 - p.Intensity)
	if p.Intensity > 1 {
		p.Intensity = 1
	}
	return p
}

// AmbientView is what the ambient renderer reads each frame: the active
// preset plus the spring-eased intensity actually on screen.
type AmbientView struct {
	Preset    Preset
	Intensity float64
}
