package pipeline

import (
	"sync"

	"github.com/talkflow-ai/talkflow-pipeline/pkg/metrics"
)

// PlaybackQueue serializes audio playback so exactly one clip plays at a
// time, in the order supplied by the synthesis queue. Advancement is chained
// on the device's asynchronous completion events. Stop discards any buffered
// clips without playing them.
type PlaybackQueue struct {
	mu     sync.Mutex
	device PlaybackDevice
	logger Logger

	queue   [][]byte
	playing bool
	stopped bool
	// epoch invalidates completion callbacks that belong to a superseded
	// turn after a Stop.
	epoch uint64

	// onEmpty fires when the last clip finishes and nothing remains.
	onEmpty func()
}

func NewPlaybackQueue(device PlaybackDevice, logger Logger, onEmpty func()) *PlaybackQueue {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &PlaybackQueue{
		device:  device,
		logger:  logger,
		onEmpty: onEmpty,
		stopped: true,
	}
}

// Reset arms the queue for a new turn.
func (q *PlaybackQueue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stopped = false
	q.queue = nil
}

func (q *PlaybackQueue) Enqueue(clip []byte) error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return ErrQueueCancelled
	}
	q.queue = append(q.queue, clip)
	metrics.SetPlaybackDepth(len(q.queue))
	start, clipToPlay, epoch := q.maybeDequeueLocked()
	q.mu.Unlock()

	if start {
		q.play(clipToPlay, epoch)
	}
	return nil
}

// Stop immediately halts playback and discards every buffered clip. Late
// completion events from the device are ignored.
func (q *PlaybackQueue) Stop() {
	q.mu.Lock()
	q.epoch++
	q.queue = nil
	q.playing = false
	q.stopped = true
	metrics.SetPlaybackDepth(0)
	q.mu.Unlock()

	if err := q.device.Stop(); err != nil {
		q.logger.Debug("playback device stop", "error", err)
	}
}

// Idle reports whether nothing is queued or playing.
func (q *PlaybackQueue) Idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return !q.playing && len(q.queue) == 0
}

// maybeDequeueLocked tests-and-sets the playing flag together with the
// dequeue so at most one clip can ever be handed to the device.
func (q *PlaybackQueue) maybeDequeueLocked() (bool, []byte, uint64) {
	if q.playing || q.stopped || len(q.queue) == 0 {
		return false, nil, 0
	}
	q.playing = true
	clip := q.queue[0]
	q.queue = q.queue[1:]
	metrics.SetPlaybackDepth(len(q.queue))
	return true, clip, q.epoch
}

func (q *PlaybackQueue) play(clip []byte, epoch uint64) {
	err := q.device.Play(clip, func(ok bool) {
		q.onClipDone(epoch, ok)
	})
	if err != nil {
		q.logger.Warn("playback failed, skipping clip", "error", err)
		q.onClipDone(epoch, false)
	}
}

func (q *PlaybackQueue) onClipDone(epoch uint64, ok bool) {
	q.mu.Lock()
	if epoch != q.epoch {
		// Completion from a clip that was stopped mid-flight.
		q.mu.Unlock()
		return
	}
	if !ok {
		q.logger.Debug("playback completed with failure flag")
	}
	q.playing = false
	start, clip, e := q.maybeDequeueLocked()
	empty := !start && len(q.queue) == 0 && !q.stopped
	q.mu.Unlock()

	if start {
		q.play(clip, e)
		return
	}
	if empty && q.onEmpty != nil {
		q.onEmpty()
	}
}
