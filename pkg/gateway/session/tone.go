package session

import (
	"math"
	"time"
)

const (
	toneSampleRate = 16000
	toneFrequency  = 440.0
	toneAmplitude  = 0.25
	toneFrameSize  = 20 * time.Millisecond
)

// agentVoiceFrames synthesizes the agent's "voice" as sine tone PCM frames,
// one per 20ms, sized to the given total duration. A stand-in for TTS output
// so clients exercise their playback and visualization paths.
func agentVoiceFrames(total time.Duration) [][]byte {
	frameCount := int(total / toneFrameSize)
	if frameCount < 1 {
		frameCount = 1
	}
	samplesPerFrame := int(float64(toneSampleRate) * toneFrameSize.Seconds())

	frames := make([][]byte, frameCount)
	phase := 0.0
	step := 2 * math.Pi * toneFrequency / float64(toneSampleRate)
	for f := range frames {
		pcm := make([]byte, samplesPerFrame*2)
		for i := 0; i < samplesPerFrame; i++ {
			sample := int16(toneAmplitude * math.Sin(phase) * 32767)
			pcm[i*2] = byte(sample & 0xFF)
			pcm[i*2+1] = byte((sample >> 8) & 0xFF)
			phase += step
		}
		frames[f] = pcm
	}
	return frames
}

// replyVoiceDuration estimates how long the agent "speaks" a reply, scaled
// by text length and bounded to keep tests and demos snappy.
func replyVoiceDuration(text string) time.Duration {
	d := time.Duration(len(text)) * 30 * time.Millisecond
	if d < 200*time.Millisecond {
		d = 200 * time.Millisecond
	}
	if d > 2*time.Second {
		d = 2 * time.Second
	}
	return d
}
