package main

import (
	"fmt"
	"sync"

	"github.com/ebitengine/oto/v3"
	"github.com/gen2brain/malgo"

	"github.com/voicewire/voicewire/pkg/core/visual"
)

const (
	sampleRate = 16000
	channels   = 1
)

// audioEngine owns the microphone capture and speaker playback devices. Both
// are optional: a failed device degrades the corresponding visualization
// stream to minimum frames and the session keeps running.
type audioEngine struct {
	malgoCtx *malgo.AllocatedContext
	device   *malgo.Device

	otoCtx  *oto.Context
	speaker *speakerSink

	// micBuf feeds the local analyzer; onFrame forwards mic PCM upstream.
	micBuf  *visual.StreamBuffer
	onFrame func(pcm []byte)

	// remoteBuf feeds the remote analyzer with agent voice.
	remoteBuf *visual.StreamBuffer
}

func newAudioEngine(windowBytes int, onFrame func(pcm []byte)) *audioEngine {
	return &audioEngine{
		micBuf:    visual.NewStreamBuffer(windowBytes * 2),
		remoteBuf: visual.NewStreamBuffer(windowBytes * 2),
		onFrame:   onFrame,
	}
}

// StartMic acquires the capture device. The returned error is a stream
// acquisition failure (for example permission denied), not fatal.
func (a *audioEngine) StartMic() error {
	ctxConfig := malgo.ContextConfig{}
	ctxConfig.ThreadPriority = malgo.ThreadPriorityRealtime
	malgoCtx, err := malgo.InitContext(nil, ctxConfig, nil)
	if err != nil {
		return fmt.Errorf("init audio context: %w", err)
	}
	a.malgoCtx = malgoCtx

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = channels
	deviceConfig.SampleRate = sampleRate
	deviceConfig.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			a.micBuf.Write(input)
			if a.onFrame != nil {
				pcm := make([]byte, len(input))
				copy(pcm, input)
				a.onFrame(pcm)
			}
		},
	}

	device, err := malgo.InitDevice(malgoCtx.Context, deviceConfig, callbacks)
	if err != nil {
		return fmt.Errorf("init microphone: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("start microphone: %w", err)
	}
	a.device = device
	return nil
}

// StartSpeaker brings up playback for agent voice.
func (a *audioEngine) StartSpeaker() error {
	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   sampleRate / 10 * 2, // ~100ms of s16le mono
	})
	if err != nil {
		return fmt.Errorf("init speaker: %w", err)
	}
	<-ready
	a.otoCtx = otoCtx
	a.speaker = newSpeakerSink(otoCtx)
	return nil
}

// PlayAgentAudio queues agent voice PCM for playback and visualization.
func (a *audioEngine) PlayAgentAudio(pcm []byte) {
	a.remoteBuf.Write(pcm)
	if a.speaker != nil {
		a.speaker.Write(pcm)
	}
}

// MicSource and RemoteSource feed the two analyzers.
func (a *audioEngine) MicSource() *visual.StreamBuffer    { return a.micBuf }
func (a *audioEngine) RemoteSource() *visual.StreamBuffer { return a.remoteBuf }

func (a *audioEngine) Close() {
	if a.device != nil {
		a.device.Stop()
		a.device.Uninit()
		a.device = nil
	}
	if a.malgoCtx != nil {
		_ = a.malgoCtx.Uninit()
		a.malgoCtx.Free()
		a.malgoCtx = nil
	}
	if a.speaker != nil {
		a.speaker.Close()
		a.speaker = nil
	}
}

// speakerSink adapts pushed PCM to oto's pull-based player.
type speakerSink struct {
	mu      sync.Mutex
	cond    *sync.Cond
	buf     []byte
	playing bool
	closed  bool

	otoCtx *oto.Context
	player *oto.Player
}

func newSpeakerSink(ctx *oto.Context) *speakerSink {
	s := &speakerSink{otoCtx: ctx}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *speakerSink) Write(pcm []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.buf = append(s.buf, pcm...)
	if !s.playing {
		s.playing = true
		s.player = s.otoCtx.NewPlayer(s)
		s.player.Play()
	}
	s.cond.Signal()
}

// Read is called by the oto player to pull queued audio.
func (s *speakerSink) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.buf) == 0 && !s.closed {
		s.cond.Wait()
	}
	if s.closed && len(s.buf) == 0 {
		return 0, fmt.Errorf("speaker closed")
	}
	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

func (s *speakerSink) Close() {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	player := s.player
	s.mu.Unlock()
	if player != nil {
		_ = player.Close()
	}
}
