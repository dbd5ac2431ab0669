package audio

import (
	"math"
	"time"
)

// CalculateRMSEnergy computes the root-mean-square energy of PCM audio.
// Input is assumed to be 16-bit signed little-endian PCM.
// Returns a value between 0.0 and 1.0.
func CalculateRMSEnergy(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < len(pcm)-1; i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		normalized := float64(sample) / 32768.0
		sum += normalized * normalized
	}

	return math.Sqrt(sum / float64(samples))
}

const (
	DefaultSpeechThreshold = 0.02
	DefaultSpeechHangover  = 600 * time.Millisecond
)

// SpeechDetector turns a stream of mono PCM chunks into speech start and end
// edges. Speech starts on the first chunk whose energy reaches Threshold and
// ends once the energy has stayed below it for Hangover.
type SpeechDetector struct {
	Threshold  float64
	Hangover   time.Duration
	SampleRate int

	speaking bool
	silence  time.Duration
}

func NewSpeechDetector(sampleRate int) *SpeechDetector {
	return &SpeechDetector{
		Threshold:  DefaultSpeechThreshold,
		Hangover:   DefaultSpeechHangover,
		SampleRate: sampleRate,
	}
}

// Process feeds one chunk and reports whether speech started or ended on it.
func (d *SpeechDetector) Process(pcm []byte) (started, ended bool) {
	if d.SampleRate <= 0 || len(pcm) < 2 {
		return false, false
	}
	chunk := time.Duration(len(pcm)/2) * time.Second / time.Duration(d.SampleRate)

	if CalculateRMSEnergy(pcm) >= d.Threshold {
		d.silence = 0
		if !d.speaking {
			d.speaking = true
			return true, false
		}
		return false, false
	}

	if !d.speaking {
		return false, false
	}
	d.silence += chunk
	if d.silence >= d.Hangover {
		d.speaking = false
		d.silence = 0
		return false, true
	}
	return false, false
}

// Speaking reports whether the detector is inside a speech segment.
func (d *SpeechDetector) Speaking() bool {
	return d.speaking
}
