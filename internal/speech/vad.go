package speech

import (
	"encoding/binary"
	"math"
)

const (
	frameSamples = 160 // 10ms at 16kHz
	voiceRMS     = 300.0
	smoothFrames = 4
)

// voiceDetector is an energy based voice activity detector over PCM16LE mono
// audio. A frame counts as speech when at least half of the last few frames
// crossed the RMS threshold.
type voiceDetector struct {
	threshold float64
	win       []bool
	rest      []byte
}

func newVoiceDetector() *voiceDetector { return &voiceDetector{threshold: voiceRMS} }

// Feed consumes an arbitrary length PCM buffer and reports whether any
// complete frame in it was speech.
func (v *voiceDetector) Feed(pcm []byte) bool {
	buf := append(v.rest, pcm...)
	speech := false
	n := frameSamples * 2
	for len(buf) >= n {
		if v.frame(buf[:n]) {
			speech = true
		}
		buf = buf[n:]
	}
	v.rest = append(v.rest[:0], buf...)
	return speech
}

func (v *voiceDetector) frame(b []byte) bool {
	var sum float64
	for i := 0; i+1 < len(b); i += 2 {
		s := float64(int16(binary.LittleEndian.Uint16(b[i : i+2])))
		sum += s * s
	}
	rms := math.Sqrt(sum / float64(len(b)/2))
	v.win = append(v.win, rms >= v.threshold)
	if len(v.win) > smoothFrames {
		v.win = v.win[len(v.win)-smoothFrames:]
	}
	votes := 0
	for _, x := range v.win {
		if x {
			votes++
		}
	}
	return votes*2 >= len(v.win)
}
