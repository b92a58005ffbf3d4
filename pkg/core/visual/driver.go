package visual

import (
	"sync"
	"time"

	"github.com/charmbracelet/harmonica"

	"github.com/voicewire/voicewire/pkg/core/state"
)

// Mode selects which of the two rendering pipelines is active.
type Mode int

const (
	// ModeBars runs per-sample analysis and exposes bar-level EnergyFrames.
	ModeBars Mode = iota
	// ModeAmbient drives a coarse preset-based visual with no per-bar data.
	ModeAmbient
)

// StreamID names one of the driver's two analyzed streams.
type StreamID string

const (
	StreamLocal  StreamID = "local"
	StreamRemote StreamID = "remote"
)

// DriverConfig holds tunables for the visualization driver.
type DriverConfig struct {
	Visual VisualConfig

	// TickInterval is the animation frame period. Default: 33ms (~30fps).
	TickInterval time.Duration

	// Mode selects bars or ambient rendering. Exactly one is active.
	Mode Mode

	// OnStreamError, when set, is invoked from Fail-stream calls so the
	// presentation layer can surface a degraded stream. Never required for
	// correctness; analysis degrades to minimum frames either way.
	OnStreamError func(stream StreamID, err error)
}

// DefaultDriverConfig returns a DriverConfig with sensible defaults.
func DefaultDriverConfig() DriverConfig {
	return DriverConfig{
		Visual:       DefaultVisualConfig(),
		TickInterval: 33 * time.Millisecond,
	}
}

// Driver orchestrates the two stream analyzers (local microphone, remote
// agent voice) and the animation loop. It owns analyzer lifecycle: streams
// are attached when they become available and every attach builds a fresh
// analyzer, so no state carries over between acquisitions.
type Driver struct {
	config DriverConfig

	mu          sync.Mutex
	local       *Analyzer
	remote      *Analyzer
	mode        Mode
	connected   bool
	interaction state.InteractionMode

	spring       harmonica.Spring
	intensity    float64
	intensityVel float64
	preset       Preset

	frameSeq uint64

	started  bool
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// NewDriver creates a driver with no streams attached. Call Start to begin
// the animation loop and Close to tear everything down.
func NewDriver(config DriverConfig) *Driver {
	if config.TickInterval <= 0 {
		config.TickInterval = 33 * time.Millisecond
	}
	config.Visual = config.Visual.withDefaults()

	fps := int(time.Second / config.TickInterval)
	if fps < 1 {
		fps = 1
	}

	return &Driver{
		config:  config,
		local:   NewAnalyzer(config.Visual, nil),
		remote:  NewAnalyzer(config.Visual, nil),
		mode:    config.Mode,
		spring:  harmonica.NewSpring(harmonica.FPS(fps), 6.0, 0.7),
		preset:  presetOffline,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start launches the animation loop. Calling Start twice is a no-op.
func (d *Driver) Start() {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return
	}
	d.started = true
	d.mu.Unlock()

	go d.loop()
}

// Close synchronously stops the animation loop and releases both analyzers.
// After Close returns, no further frame mutations occur.
func (d *Driver) Close() {
	d.stopOnce.Do(func() {
		close(d.done)
	})

	d.mu.Lock()
	started := d.started
	d.mu.Unlock()
	if started {
		<-d.stopped
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.local.Close()
	d.remote.Close()
}

func (d *Driver) loop() {
	defer close(d.stopped)

	ticker := time.NewTicker(d.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.done:
			return
		case <-ticker.C:
			d.step()
		}
	}
}

// step advances one animation frame. Exactly one mode's work runs.
func (d *Driver) step() {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.mode {
	case ModeBars:
		d.local.Tick()
		d.remote.Tick()
	case ModeAmbient:
		target := ambientPreset(d.connected, d.interaction, d.remote.Peak())
		d.preset = target
		d.intensity, d.intensityVel = d.spring.Update(d.intensity, d.intensityVel, target.Intensity)
	}
	d.frameSeq++
}

// SetMode switches the active rendering mode. The inactive mode does no
// per-frame work; stream analyzers stay attached because both modes read
// from the same sources.
func (d *Driver) SetMode(mode Mode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mode = mode
}

// SetConnected feeds channel readiness into the ambient palette.
func (d *Driver) SetConnected(connected bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = connected
}

// SetInteractionMode feeds the derived conversation mode into the ambient
// palette. This is the only coupling to the conversation store.
func (d *Driver) SetInteractionMode(mode state.InteractionMode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.interaction = mode
}

// AttachStream wires a newly available audio stream into its analyzer. Any
// previous analyzer for that stream is torn down first.
func (d *Driver) AttachStream(stream StreamID, source SampleSource) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch stream {
	case StreamLocal:
		d.local.Close()
		d.local = NewAnalyzer(d.config.Visual, source)
	case StreamRemote:
		d.remote.Close()
		d.remote = NewAnalyzer(d.config.Visual, source)
	}
}

// DetachStream tears down the analyzer for a stream that went away. The
// slot degrades to minimum frames until a new stream is attached.
func (d *Driver) DetachStream(stream StreamID) {
	d.AttachStream(stream, nil)
}

// FailStream records a stream acquisition failure (for example microphone
// permission denied): the slot degrades to minimum frames and the failure
// is reported to the configured callback. Rendering continues.
func (d *Driver) FailStream(stream StreamID, err error) {
	d.DetachStream(stream)
	if d.config.OnStreamError != nil && err != nil {
		d.config.OnStreamError(stream, err)
	}
}

// Frames returns copies of the latest local and remote energy frames.
func (d *Driver) Frames() (local, remote EnergyFrame) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.local.Frame(), d.remote.Frame()
}

// Ambient returns the current ambient preset and eased intensity.
func (d *Driver) Ambient() AmbientView {
	d.mu.Lock()
	defer d.mu.Unlock()
	return AmbientView{Preset: d.preset, Intensity: d.intensity}
}
