package pipeline

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/talkflow-ai/talkflow-pipeline/pkg/audio"
	"github.com/talkflow-ai/talkflow-pipeline/pkg/metrics"
)

// TranscriptUpdate delivers the coordinator's current transcript. A partial
// update replaces the previous one; final marks the end of the listening
// phase.
type TranscriptUpdate func(text string, final bool)

// TranscriberCoordinator accumulates resampled PCM into an utterance buffer
// and decides when to call the Transcriber capability. Only one dispatch may
// be in flight at a time; returned text replaces the current transcript, it
// is never appended. Repeated failures stretch the pacing interval instead of
// aborting the turn.
type TranscriberCoordinator struct {
	mu     sync.Mutex
	stt    Transcriber
	logger Logger
	cfg    Config
	vad    *SilenceDetector

	phaseCtx context.Context
	lang     Language
	onUpdate TranscriptUpdate

	buf          bytes.Buffer
	transcript   string
	inFlight     bool
	pendingFinal bool
	closing      bool
	lastDispatch time.Time
	pacing       time.Duration
	failures     int
}

func NewTranscriberCoordinator(stt Transcriber, cfg Config, logger Logger) *TranscriberCoordinator {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &TranscriberCoordinator{
		stt:     stt,
		logger:  logger,
		cfg:     cfg,
		vad:     NewSilenceDetector(cfg.PeakThreshold, cfg.EnergyThreshold, cfg.TranscribeRate),
		pacing:  cfg.MinDispatchInterval,
		closing: true,
	}
}

// Begin resets the utterance buffer, transcript, and all counters for a new
// listening phase. onUpdate is bound to this phase only.
func (c *TranscriberCoordinator) Begin(ctx context.Context, lang Language, onUpdate TranscriptUpdate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phaseCtx = ctx
	c.lang = lang
	c.onUpdate = onUpdate
	c.buf.Reset()
	c.transcript = ""
	c.inFlight = false
	c.pendingFinal = false
	c.closing = false
	c.lastDispatch = time.Time{}
	c.pacing = c.cfg.MinDispatchInterval
	c.failures = 0
	c.vad.Reset()
}

// AppendFrame converts one captured frame to the transcription format,
// appends it to the utterance buffer, and evaluates the dispatch decision.
// It reports whether the frame was classified as speech.
func (c *TranscriberCoordinator) AppendFrame(frame []byte) bool {
	converted := audio.DownmixToMono(frame, c.cfg.Channels)
	converted = audio.Resample(converted, c.cfg.SampleRate, c.cfg.TranscribeRate)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return false
	}

	speech := c.vad.IsSpeech(converted)
	c.buf.Write(converted)
	c.evaluateDispatchLocked()
	return speech
}

// Stats snapshots the VAD counters for end-of-utterance decisions.
func (c *TranscriberCoordinator) Stats() (consecutiveSilence, speechFrames int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vad.ConsecutiveSilence(), c.vad.TotalSpeechFrames()
}

// Transcript returns the current (possibly partial) transcript.
func (c *TranscriberCoordinator) Transcript() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transcript
}

// Finalize performs one last dispatch over the full remaining buffer,
// regardless of pacing, and marks the result final. With an empty buffer the
// phase ends immediately with the last known transcript.
func (c *TranscriberCoordinator) Finalize() {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}
	c.closing = true

	if c.inFlight {
		c.pendingFinal = true
		c.mu.Unlock()
		return
	}
	if c.buf.Len() == 0 {
		text := c.transcript
		emit := c.onUpdate
		c.mu.Unlock()
		emit(text, true)
		return
	}
	c.dispatchLocked(true)
	c.mu.Unlock()
}

// evaluateDispatchLocked runs after every frame. All gates must hold: minimum
// buffered audio, minimum time since the previous request, no dispatch
// outstanding, and one of the three triggers.
func (c *TranscriberCoordinator) evaluateDispatchLocked() {
	if c.inFlight || c.closing {
		return
	}
	if c.buf.Len() < c.cfg.MinBufferBytes {
		return
	}
	if !c.lastDispatch.IsZero() && time.Since(c.lastDispatch) < c.pacing {
		return
	}

	trigger := false
	switch {
	case c.buf.Len() >= c.cfg.MaxBufferBytes:
		// Buffer grew very large; dispatch regardless of silence.
		trigger = true
	case c.vad.ConsecutiveSilence() >= c.cfg.SilenceDispatchFrames &&
		c.vad.TotalSpeechFrames() >= c.cfg.MinSpeechFrames/2:
		// Pause after sufficient speech, a likely sentence boundary.
		trigger = true
	case c.vad.TotalSpeechFrames() >= c.cfg.MinSpeechFrames:
		trigger = true
	}

	if trigger {
		c.dispatchLocked(false)
	}
}

func (c *TranscriberCoordinator) dispatchLocked(final bool) {
	c.inFlight = true
	c.lastDispatch = time.Now()

	snapshot := make([]byte, c.buf.Len())
	copy(snapshot, c.buf.Bytes())
	wav := audio.NewWavBuffer(snapshot, c.cfg.TranscribeRate)

	ctx := c.phaseCtx
	if ctx == nil {
		ctx = context.Background()
	}
	go c.runDispatch(ctx, wav, final)
}

func (c *TranscriberCoordinator) runDispatch(ctx context.Context, wav []byte, final bool) {
	start := time.Now()
	text, err := c.stt.Transcribe(ctx, wav, c.lang)

	c.mu.Lock()
	c.inFlight = false

	if err != nil {
		c.failures++
		if c.failures >= c.cfg.BackoffAfterFailures {
			c.pacing *= 2
			if c.pacing > c.cfg.MaxDispatchInterval {
				c.pacing = c.cfg.MaxDispatchInterval
			}
			c.logger.Warn("transcription backing off", "failures", c.failures, "pacing", c.pacing)
		}
		metrics.ObserveTranscription("error", time.Since(start))

		// The transcript is left unchanged. A failed final dispatch still
		// ends the phase with the last known transcript.
		if final || c.pendingFinal {
			c.pendingFinal = false
			last := c.transcript
			emit := c.onUpdate
			c.mu.Unlock()
			c.logger.Error("final transcription dispatch failed", "error", err)
			emit(last, true)
			return
		}
		c.mu.Unlock()
		return
	}

	c.failures = 0
	c.pacing = c.cfg.MinDispatchInterval
	c.transcript = text
	metrics.ObserveTranscription("ok", time.Since(start))

	emit := c.onUpdate

	if c.pendingFinal {
		// Finalize arrived while this partial was in flight; run the last
		// dispatch over the full buffer now.
		c.pendingFinal = false
		c.dispatchLocked(true)
		c.mu.Unlock()
		emit(text, false)
		return
	}

	c.mu.Unlock()
	emit(text, final)
}
