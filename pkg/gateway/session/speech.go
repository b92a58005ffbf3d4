package session

import (
	"time"

	"github.com/voicewire/voicewire/pkg/core/visual"
)

// speechDetector tracks voice activity over inbound PCM frames using RMS
// energy with start/stop hysteresis: speech begins when energy crosses the
// start threshold and ends after energy stays below the stop threshold for
// the stop duration.
type speechDetector struct {
	startThreshold float64
	stopThreshold  float64
	stopAfter      time.Duration

	speaking  bool
	lastVoice time.Time

	now func() time.Time
}

func newSpeechDetector(startThreshold, stopThreshold float64, stopAfter time.Duration) *speechDetector {
	if startThreshold <= 0 {
		startThreshold = 0.02
	}
	if stopThreshold <= 0 || stopThreshold > startThreshold {
		stopThreshold = startThreshold / 2
	}
	if stopAfter <= 0 {
		stopAfter = 600 * time.Millisecond
	}
	return &speechDetector{
		startThreshold: startThreshold,
		stopThreshold:  stopThreshold,
		stopAfter:      stopAfter,
		now:            time.Now,
	}
}

// process consumes one PCM frame and reports a rising speech edge.
func (d *speechDetector) process(pcm []byte) (started bool) {
	energy := visual.RMSEnergy(pcm)
	nowTime := d.now()

	if !d.speaking {
		if energy >= d.startThreshold {
			d.speaking = true
			d.lastVoice = nowTime
			return true
		}
		return false
	}

	if energy >= d.stopThreshold {
		d.lastVoice = nowTime
	} else if nowTime.Sub(d.lastVoice) >= d.stopAfter {
		d.speaking = false
	}
	return false
}
