package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/talkflow-ai/talkflow-pipeline/pkg/metrics"
)

// SynthesisQueue serializes sentence-to-audio requests so at most one
// synthesis call is in flight, preserving input order in the output. A failed
// sentence is dropped and the worker moves on; one bad sentence must not
// stall the rest of the queue.
type SynthesisQueue struct {
	mu     sync.Mutex
	tts    Synthesizer
	logger Logger

	queue     []Sentence
	busy      bool
	cancelled bool

	turnCtx    context.Context
	turnCancel context.CancelFunc
	voice      Voice
	lang       Language

	// minAudioBytes guards against truncated provider responses; anything
	// smaller is treated as a synthesis failure.
	minAudioBytes int

	// onAudio receives each successful result in dequeue order.
	onAudio func(s Sentence, audio []byte)
	// onDrained fires when the worker stops with nothing left queued.
	onDrained func()
}

func NewSynthesisQueue(tts Synthesizer, logger Logger, minAudioBytes int, onAudio func(Sentence, []byte), onDrained func()) *SynthesisQueue {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	q := &SynthesisQueue{
		tts:           tts,
		logger:        logger,
		minAudioBytes: minAudioBytes,
		onAudio:       onAudio,
		onDrained:     onDrained,
		cancelled:     true,
	}
	return q
}

// Reset arms the queue for a new turn. Until Reset is called after a Cancel,
// Enqueue rejects entries.
func (q *SynthesisQueue) Reset(ctx context.Context, voice Voice, lang Language) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.turnCancel != nil {
		q.turnCancel()
	}
	q.turnCtx, q.turnCancel = context.WithCancel(ctx)
	q.voice = voice
	q.lang = lang
	q.queue = nil
	q.cancelled = false
}

func (q *SynthesisQueue) Enqueue(s Sentence) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cancelled {
		return ErrQueueCancelled
	}
	q.queue = append(q.queue, s)
	q.maybeStartLocked()
	return nil
}

// Cancel drains all pending entries, aborts any in-flight call, and blocks
// further entries until the next Reset.
func (q *SynthesisQueue) Cancel() {
	q.mu.Lock()
	q.cancelled = true
	q.queue = nil
	cancel := q.turnCancel
	q.turnCancel = nil
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if err := q.tts.Abort(); err != nil {
		q.logger.Debug("synthesizer abort", "error", err)
	}
}

// Idle reports whether nothing is queued or in flight.
func (q *SynthesisQueue) Idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return !q.busy && len(q.queue) == 0
}

func (q *SynthesisQueue) maybeStartLocked() {
	if q.busy || q.cancelled || len(q.queue) == 0 {
		return
	}
	// The busy flag is set together with the dequeue so a concurrent
	// Enqueue can never start a second worker.
	q.busy = true
	job := q.queue[0]
	q.queue = q.queue[1:]
	ctx := q.turnCtx
	go q.run(ctx, job)
}

func (q *SynthesisQueue) run(ctx context.Context, job Sentence) {
	start := time.Now()
	audio, err := q.tts.Synthesize(ctx, job.Text, q.voice, q.lang)

	if err == nil && len(audio) < q.minAudioBytes {
		err = ErrAudioTooShort
	}

	q.mu.Lock()
	if q.cancelled || ctx.Err() != nil {
		// Result from a superseded turn: discard it, but if the queue was
		// re-armed in the meantime its entries still have to drain.
		q.busy = false
		q.maybeStartLocked()
		q.mu.Unlock()
		return
	}
	q.mu.Unlock()

	if err != nil {
		// Deliberate trade-off: the failed sentence is dropped from the
		// spoken output so the remaining queue keeps moving.
		q.logger.Warn("synthesis failed, dropping sentence", "seq", job.Seq, "error", err)
		metrics.ObserveSynthesis("error", time.Since(start))
	} else {
		metrics.ObserveSynthesis("ok", time.Since(start))
		q.onAudio(job, audio)
	}

	q.mu.Lock()
	q.busy = false
	drained := len(q.queue) == 0 && !q.cancelled
	q.maybeStartLocked()
	q.mu.Unlock()

	if drained && q.onDrained != nil {
		q.onDrained()
	}
}
