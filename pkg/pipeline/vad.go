package pipeline

import (
	"math"
	"time"
)

// SilenceDetector classifies fixed-size PCM frames as speech or silence from
// signal energy. A frame counts as speech when either its peak amplitude or
// its mean energy exceeds the configured threshold. Counters are reset at the
// start of each listening phase.
type SilenceDetector struct {
	peakThreshold   float64
	energyThreshold float64

	consecutiveSilence int
	totalSpeech        int
	totalFrames        int
	samplesSeen        int
	sampleRate         int
}

func NewSilenceDetector(peakThreshold, energyThreshold float64, sampleRate int) *SilenceDetector {
	return &SilenceDetector{
		peakThreshold:   peakThreshold,
		energyThreshold: energyThreshold,
		sampleRate:      sampleRate,
	}
}

// IsSpeech classifies one frame of little-endian 16-bit PCM and updates the
// rolling counters.
func (d *SilenceDetector) IsSpeech(frame []byte) bool {
	peak, energy := frameLevels(frame)

	d.totalFrames++
	d.samplesSeen += len(frame) / 2

	if peak > d.peakThreshold || energy > d.energyThreshold {
		d.totalSpeech++
		d.consecutiveSilence = 0
		return true
	}

	d.consecutiveSilence++
	return false
}

func (d *SilenceDetector) ConsecutiveSilence() int { return d.consecutiveSilence }

func (d *SilenceDetector) TotalSpeechFrames() int { return d.totalSpeech }

func (d *SilenceDetector) TotalFrames() int { return d.totalFrames }

// TotalDuration is the audio time observed since the last Reset.
func (d *SilenceDetector) TotalDuration() time.Duration {
	if d.sampleRate == 0 {
		return 0
	}
	return time.Duration(float64(d.samplesSeen) / float64(d.sampleRate) * float64(time.Second))
}

func (d *SilenceDetector) Reset() {
	d.consecutiveSilence = 0
	d.totalSpeech = 0
	d.totalFrames = 0
	d.samplesSeen = 0
}

// frameLevels returns the normalized peak amplitude and RMS energy of a
// little-endian 16-bit PCM frame.
func frameLevels(frame []byte) (peak, energy float64) {
	n := len(frame) / 2
	if n == 0 {
		return 0, 0
	}

	var sum float64
	for i := 0; i+1 < len(frame); i += 2 {
		sample := int16(frame[i]) | (int16(frame[i+1]) << 8)
		f := math.Abs(float64(sample) / 32768.0)
		if f > peak {
			peak = f
		}
		sum += f * f
	}

	return peak, math.Sqrt(sum / float64(n))
}
