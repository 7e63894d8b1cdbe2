package pipeline

import (
	"testing"
	"time"
)

// pcmFrame builds a little-endian 16-bit frame where every sample has the
// given amplitude.
func pcmFrame(amplitude int16, samples int) []byte {
	frame := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		frame[i*2] = byte(amplitude)
		frame[i*2+1] = byte(amplitude >> 8)
	}
	return frame
}

func TestSilenceDetectorClassification(t *testing.T) {
	d := NewSilenceDetector(0.08, 0.02, 16000)

	if d.IsSpeech(pcmFrame(100, 160)) {
		t.Error("near-silent frame classified as speech")
	}
	if !d.IsSpeech(pcmFrame(8000, 160)) {
		t.Error("loud frame classified as silence")
	}
}

func TestSilenceDetectorCounters(t *testing.T) {
	d := NewSilenceDetector(0.08, 0.02, 16000)

	for i := 0; i < 5; i++ {
		d.IsSpeech(pcmFrame(8000, 160))
	}
	for i := 0; i < 3; i++ {
		d.IsSpeech(pcmFrame(0, 160))
	}

	if d.TotalSpeechFrames() != 5 {
		t.Errorf("expected 5 speech frames, got %d", d.TotalSpeechFrames())
	}
	if d.ConsecutiveSilence() != 3 {
		t.Errorf("expected 3 consecutive silence frames, got %d", d.ConsecutiveSilence())
	}
	if d.TotalFrames() != 8 {
		t.Errorf("expected 8 total frames, got %d", d.TotalFrames())
	}

	// Speech resets the silence run.
	d.IsSpeech(pcmFrame(8000, 160))
	if d.ConsecutiveSilence() != 0 {
		t.Errorf("expected silence run reset, got %d", d.ConsecutiveSilence())
	}
}

func TestSilenceDetectorDuration(t *testing.T) {
	d := NewSilenceDetector(0.08, 0.02, 16000)

	// 100 frames of 160 samples at 16kHz is exactly one second.
	for i := 0; i < 100; i++ {
		d.IsSpeech(pcmFrame(0, 160))
	}
	if d.TotalDuration() != time.Second {
		t.Errorf("expected 1s observed, got %v", d.TotalDuration())
	}

	d.Reset()
	if d.TotalDuration() != 0 || d.TotalFrames() != 0 || d.TotalSpeechFrames() != 0 {
		t.Error("reset did not clear counters")
	}
}

func TestFrameLevels(t *testing.T) {
	peak, energy := frameLevels(nil)
	if peak != 0 || energy != 0 {
		t.Errorf("empty frame should be silent, got peak=%f energy=%f", peak, energy)
	}

	peak, energy = frameLevels(pcmFrame(16384, 160))
	if peak < 0.49 || peak > 0.51 {
		t.Errorf("expected peak near 0.5, got %f", peak)
	}
	// Constant signal: RMS equals the amplitude.
	if energy < 0.49 || energy > 0.51 {
		t.Errorf("expected energy near 0.5, got %f", energy)
	}
}
