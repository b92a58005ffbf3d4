package visual

import "math"

// EnergyFrame is a fixed-length sequence of bar heights for one visual tick.
// Each value lies within [VisualConfig.MinBar, VisualConfig.MaxBar]. No
// history is kept; every frame replaces the last.
type EnergyFrame []float64

// VisualConfig holds tunables for audio energy analysis.
type VisualConfig struct {
	// BarCount is the number of bars per frame. Default: 32.
	BarCount int `json:"bar_count"`

	// MinBar and MaxBar bound the rendered bar height. Near-silence still
	// renders a minimal bar; clipping audio saturates at MaxBar instead of
	// overflowing. Defaults: 5 and 95.
	MinBar float64 `json:"min_bar"`
	MaxBar float64 `json:"max_bar"`

	// Gain scales RMS energy before clamping. An RMS of 1/Gain fills the
	// bar completely. Default: 4.
	Gain float64 `json:"gain"`

	// WindowSamples is the size of the analysis window in samples.
	// Default: 2048.
	WindowSamples int `json:"window_samples"`
}

// DefaultVisualConfig returns a VisualConfig with sensible defaults.
func DefaultVisualConfig() VisualConfig {
	return VisualConfig{
		BarCount:      32,
		MinBar:        5,
		MaxBar:        95,
		Gain:          4,
		WindowSamples: 2048,
	}
}

func (c VisualConfig) withDefaults() VisualConfig {
	d := DefaultVisualConfig()
	if c.BarCount <= 0 {
		c.BarCount = d.BarCount
	}
	if c.MaxBar <= c.MinBar {
		c.MinBar = d.MinBar
		c.MaxBar = d.MaxBar
	}
	if c.Gain <= 0 {
		c.Gain = d.Gain
	}
	if c.WindowSamples < c.BarCount {
		c.WindowSamples = d.WindowSamples
	}
	return c
}

// windowBytes is the analysis window size in bytes of s16le PCM.
func (c VisualConfig) windowBytes() int {
	return c.WindowSamples * 2
}

// MinFrame returns an all-minimum frame, the silence/degraded output.
func MinFrame(config VisualConfig) EnergyFrame {
	config = config.withDefaults()
	frame := make(EnergyFrame, config.BarCount)
	for i := range frame {
		frame[i] = config.MinBar
	}
	return frame
}

// ComputeEnergyFrame summarizes one window of s16le PCM as bar heights.
//
// The window is partitioned into BarCount contiguous equal segments
// (integer floor, trailing remainder samples dropped); each segment's RMS of
// normalized samples is affine-mapped into [MinBar, MaxBar]. If pcm is
// shorter than the configured window the missing leading samples count as
// silence.
func ComputeEnergyFrame(pcm []byte, config VisualConfig) EnergyFrame {
	config = config.withDefaults()

	window := pcm
	if len(window) > config.windowBytes() {
		window = window[len(window)-config.windowBytes():]
	}

	frame := make(EnergyFrame, config.BarCount)
	segment := config.WindowSamples / config.BarCount
	span := config.MaxBar - config.MinBar

	// Align the available samples to the end of the logical window.
	offset := config.WindowSamples - len(window)/2

	for i := range frame {
		start := i*segment - offset
		end := start + segment

		var sum float64
		for s := start; s < end; s++ {
			if s < 0 {
				continue
			}
			sample := int16(window[s*2]) | int16(window[s*2+1])<<8
			normalized := float64(sample) / 32768.0
			sum += normalized * normalized
		}

		rms := math.Sqrt(sum / float64(segment))
		level := rms * config.Gain
		if level > 1 {
			level = 1
		}
		frame[i] = config.MinBar + level*span
	}
	return frame
}

// RMSEnergy returns the root-mean-square energy of s16le PCM, normalized to
// [0, 1]. The gateway uses it for speech edge detection over inbound frames.
func RMSEnergy(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}
	var sum float64
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		normalized := float64(sample) / 32768.0
		sum += normalized * normalized
	}
	return math.Sqrt(sum / float64(samples))
}

// PeakAmplitude returns the maximum absolute amplitude in the PCM data,
// normalized to [0, 1]. Used as the coarse envelope for the ambient mode.
func PeakAmplitude(pcm []byte) float64 {
	var maxAbs float64
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		abs := math.Abs(float64(sample))
		if abs > maxAbs {
			maxAbs = abs
		}
	}
	return maxAbs / 32768.0
}
