package visual

import "sync"

// Analyzer converts one live audio stream into an EnergyFrame, recomputed on
// every tick of its owning driver. A nil or failed source degrades to the
// all-minimum frame; analysis never panics into the render path.
type Analyzer struct {
	config VisualConfig

	mu     sync.Mutex
	source SampleSource
	frame  EnergyFrame
	window []byte
	closed bool
}

// NewAnalyzer creates an analyzer for the given stream. source may be nil,
// in which case the analyzer emits minimum frames until one is attached.
func NewAnalyzer(config VisualConfig, source SampleSource) *Analyzer {
	config = config.withDefaults()
	return &Analyzer{
		config: config,
		source: source,
		frame:  MinFrame(config),
		window: make([]byte, config.windowBytes()),
	}
}

// Tick recomputes the frame from the most recent sample window.
func (a *Analyzer) Tick() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed || a.source == nil {
		a.frame = MinFrame(a.config)
		return
	}

	n := a.source.ReadWindow(a.window)
	if n == 0 {
		a.frame = MinFrame(a.config)
		return
	}
	a.frame = ComputeEnergyFrame(a.window[:n], a.config)
}

// Frame returns a copy of the latest frame.
func (a *Analyzer) Frame() EnergyFrame {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append(EnergyFrame(nil), a.frame...)
}

// Peak returns the normalized peak amplitude of the current window. Used by
// the ambient mode, which wants a coarse envelope rather than per-bar data.
func (a *Analyzer) Peak() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed || a.source == nil {
		return 0
	}
	n := a.source.ReadWindow(a.window)
	return PeakAmplitude(a.window[:n])
}

// Close tears down the sampling source. The analyzer keeps emitting minimum
// frames afterwards; a re-acquired stream gets a fresh analyzer instance.
func (a *Analyzer) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true
	a.frame = MinFrame(a.config)
	if a.source == nil {
		return nil
	}
	err := a.source.Close()
	a.source = nil
	return err
}
