package visual

import (
	"errors"
	"testing"
	"time"

	"github.com/voicewire/voicewire/pkg/core/state"
)

func waitForFrames(t *testing.T, d *Driver) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		d.mu.Lock()
		seq := d.frameSeq
		d.mu.Unlock()
		if seq > 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("animation loop never ticked")
}

func TestDriverCloseStopsFrameMutations(t *testing.T) {
	cfg := DefaultDriverConfig()
	cfg.TickInterval = time.Millisecond
	d := NewDriver(cfg)
	d.Start()
	waitForFrames(t, d)

	d.Close()

	d.mu.Lock()
	before := d.frameSeq
	d.mu.Unlock()

	time.Sleep(20 * time.Millisecond)

	d.mu.Lock()
	after := d.frameSeq
	d.mu.Unlock()
	if after != before {
		t.Fatalf("frameSeq advanced from %d to %d after Close", before, after)
	}
}

func TestDriverCloseWithoutStart(t *testing.T) {
	d := NewDriver(DefaultDriverConfig())
	d.Close()
	d.Close() // idempotent
}

func TestDriverFramesDefaultToMinimum(t *testing.T) {
	cfg := DefaultDriverConfig()
	d := NewDriver(cfg)
	defer d.Close()

	local, remote := d.Frames()
	for _, frame := range []EnergyFrame{local, remote} {
		if len(frame) != cfg.Visual.BarCount {
			t.Fatalf("frame length = %d, want %d", len(frame), cfg.Visual.BarCount)
		}
		for i, v := range frame {
			if v != cfg.Visual.MinBar {
				t.Errorf("bar %d = %.2f with no streams attached, want %.0f", i, v, cfg.Visual.MinBar)
			}
		}
	}
}

func TestDriverAttachedStreamProducesEnergy(t *testing.T) {
	cfg := DefaultDriverConfig()
	cfg.TickInterval = time.Millisecond
	d := NewDriver(cfg)
	defer d.Close()

	buf := NewStreamBuffer(cfg.Visual.windowBytes())
	buf.Write(pcmFromSamples(constantSamples(cfg.Visual.WindowSamples, 16000)))
	d.AttachStream(StreamLocal, buf)

	d.Start()
	waitForFrames(t, d)

	local, remote := d.Frames()
	var anyAboveMin bool
	for _, v := range local {
		if v > cfg.Visual.MinBar {
			anyAboveMin = true
		}
	}
	if !anyAboveMin {
		t.Error("local frame stayed at minimum despite loud attached stream")
	}
	for i, v := range remote {
		if v != cfg.Visual.MinBar {
			t.Errorf("remote bar %d = %.2f with no remote stream", i, v)
		}
	}
}

func TestDriverDetachDegradesToMinimum(t *testing.T) {
	cfg := DefaultDriverConfig()
	cfg.TickInterval = time.Millisecond
	d := NewDriver(cfg)
	defer d.Close()

	buf := NewStreamBuffer(cfg.Visual.windowBytes())
	buf.Write(pcmFromSamples(constantSamples(cfg.Visual.WindowSamples, 16000)))
	d.AttachStream(StreamLocal, buf)
	d.Start()
	waitForFrames(t, d)

	d.DetachStream(StreamLocal)

	deadline := time.Now().Add(2 * time.Second)
	for {
		local, _ := d.Frames()
		atMin := true
		for _, v := range local {
			if v != cfg.Visual.MinBar {
				atMin = false
			}
		}
		if atMin {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("local frame never degraded to minimum after detach")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestDriverFailStreamReportsAndDegrades(t *testing.T) {
	type report struct {
		stream StreamID
		err    error
	}
	reports := make(chan report, 1)

	cfg := DefaultDriverConfig()
	cfg.OnStreamError = func(stream StreamID, err error) {
		reports <- report{stream, err}
	}
	d := NewDriver(cfg)
	defer d.Close()

	micErr := errors.New("microphone permission denied")
	d.FailStream(StreamLocal, micErr)

	select {
	case r := <-reports:
		if r.stream != StreamLocal {
			t.Errorf("reported stream = %q, want %q", r.stream, StreamLocal)
		}
		if !errors.Is(r.err, micErr) {
			t.Errorf("reported err = %v, want %v", r.err, micErr)
		}
	default:
		t.Fatal("stream failure was not reported")
	}

	local, _ := d.Frames()
	for i, v := range local {
		if v != cfg.Visual.MinBar {
			t.Errorf("bar %d = %.2f after stream failure, want %.0f", i, v, cfg.Visual.MinBar)
		}
	}
}

func TestDriverAmbientModeTracksConnectionAndMode(t *testing.T) {
	cfg := DefaultDriverConfig()
	cfg.TickInterval = time.Millisecond
	cfg.Mode = ModeAmbient
	d := NewDriver(cfg)
	defer d.Close()
	d.Start()
	waitForFrames(t, d)

	if view := d.Ambient(); view.Preset.Name != "offline" {
		t.Fatalf("disconnected preset = %q, want offline", view.Preset.Name)
	}

	waitForPreset := func(want string) {
		t.Helper()
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if d.Ambient().Preset.Name == want {
				return
			}
			time.Sleep(time.Millisecond)
		}
		t.Fatalf("preset never became %q, got %q", want, d.Ambient().Preset.Name)
	}

	d.SetConnected(true)
	waitForPreset("idle")

	d.SetInteractionMode(state.ModeListening)
	waitForPreset("listening")

	d.SetInteractionMode(state.ModeThinking)
	waitForPreset("thinking")

	d.SetConnected(false)
	waitForPreset("offline")
}

func TestAmbientPresetIntensityBoost(t *testing.T) {
	base := ambientPreset(true, state.ModeIdle, 0)
	boosted := ambientPreset(true, state.ModeIdle, 0.8)
	if boosted.Intensity <= base.Intensity {
		t.Errorf("inbound peak did not raise intensity: %.2f vs %.2f", boosted.Intensity, base.Intensity)
	}
	saturated := ambientPreset(true, state.ModeListening, 1.0)
	if saturated.Intensity > 1 {
		t.Errorf("intensity %.2f exceeds 1", saturated.Intensity)
	}
}
