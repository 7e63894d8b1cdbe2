package pipeline

import (
	"math"
	"sync"
	"time"

	"github.com/talkflow-ai/talkflow-pipeline/pkg/audio"
)

// EchoGuard keeps voice barge-in from triggering on the assistant's own
// speech leaking from the speaker into the microphone. It holds a rolling
// buffer of recently played audio and flags input frames that correlate
// strongly with it.
type EchoGuard struct {
	mu         sync.Mutex
	played     []byte
	maxBuf     int
	threshold  float64
	window     time.Duration
	lastPlayed time.Time
}

func NewEchoGuard() *EchoGuard {
	return &EchoGuard{
		maxBuf:    176400, // ~2s at 44.1kHz s16 mono
		threshold: 0.55,
		window:    1200 * time.Millisecond,
	}
}

// RecordPlayed notes audio that was just handed to the speaker.
func (g *EchoGuard) RecordPlayed(clip []byte) {
	if len(clip) == 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	g.played = append(g.played, clip...)
	g.lastPlayed = time.Now()
	if len(g.played) > g.maxBuf {
		g.played = g.played[len(g.played)-g.maxBuf:]
	}
}

// IsEcho reports whether an input frame is primarily speaker echo. Outside
// the recent-playback window no echo is possible.
func (g *EchoGuard) IsEcho(frame []byte) bool {
	if len(frame) == 0 {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if time.Since(g.lastPlayed) > g.window || len(g.played) == 0 {
		return false
	}
	return correlation(frame, g.played) > g.threshold
}

func (g *EchoGuard) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.played = nil
	g.lastPlayed = time.Time{}
}

// correlation computes the normalized cross-correlation between an input
// frame and the tail of the reference buffer, which accounts for
// playback-to-mic latency.
func correlation(input, reference []byte) float64 {
	in := normalize(audio.BytesToSamples(input))
	ref := normalize(audio.BytesToSamples(reference))
	if len(in) == 0 || len(ref) == 0 {
		return 0
	}

	n := len(in)
	if n > len(ref) {
		n = len(ref)
	}
	tail := ref[len(ref)-n:]
	in = in[:n]

	var dot, inEnergy, refEnergy float64
	for i := 0; i < n; i++ {
		dot += in[i] * tail[i]
		inEnergy += in[i] * in[i]
		refEnergy += tail[i] * tail[i]
	}
	norm := math.Sqrt(inEnergy * refEnergy)
	if norm == 0 {
		return 0
	}
	corr := dot / norm
	if corr < 0 {
		return 0
	}
	if corr > 1 {
		return 1
	}
	return corr
}

func normalize(samples []int16) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = float64(s) / 32768.0
	}
	return out
}
