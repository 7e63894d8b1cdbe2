package pipeline

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/talkflow-ai/talkflow-pipeline/pkg/metrics"
)

// bargeInFrames is the number of consecutive non-echo speech frames during
// playback that count as a voice interruption.
const bargeInFrames = 8

// TurnController owns the conversation state machine and drives one turn at a
// time through listen -> process -> speak. Events from the audio callback,
// the transcriber, the generation stream, and the playback device all funnel
// into a single command loop, so no two state transitions are ever
// concurrent.
type TurnController struct {
	cfg      Config
	logger   Logger
	gen      TextGenerator
	session  *Session
	coord    *TranscriberCoordinator
	synth    *SynthesisQueue
	playback *PlaybackQueue
	consumer *StreamConsumer
	echo     *EchoGuard

	ctx    context.Context
	cancel context.CancelFunc
	cmds   chan func()
	events chan Event

	stateMu sync.RWMutex
	state   ConversationState

	// Per-turn generation token; completion callbacks from a superseded
	// turn are discarded by comparing against it.
	turnID    string
	phaseSeq  uint64
	genCancel context.CancelFunc

	segmenter        *SentenceSegmenter
	streamDone       bool
	assistantStarted bool

	// Touched only by the audio callback, reset via atomics on barge-in.
	bargeCount atomic.Int32
	endPosted  atomic.Bool

	closeOnce sync.Once
}

func NewTurnController(stt Transcriber, gen TextGenerator, tts Synthesizer, device PlaybackDevice, session *Session, cfg Config, logger Logger) *TurnController {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	if session == nil {
		session = NewSession()
	}
	session.MaxMessages = cfg.MaxContextMessages
	session.Voice = cfg.VoiceStyle
	session.Language = cfg.Language

	ctx, cancel := context.WithCancel(context.Background())

	tc := &TurnController{
		cfg:       cfg,
		logger:    logger,
		gen:       gen,
		session:   session,
		consumer:  NewStreamConsumer(logger),
		echo:      NewEchoGuard(),
		ctx:       ctx,
		cancel:    cancel,
		cmds:      make(chan func(), 1024),
		events:    make(chan Event, 1024),
		state:     StateIdle,
		segmenter: NewSentenceSegmenter(),
	}

	tc.coord = NewTranscriberCoordinator(stt, cfg, logger)
	tc.synth = NewSynthesisQueue(tts, logger, cfg.MinAudioBytes, tc.onSynthesized, tc.onSynthDrained)
	tc.playback = NewPlaybackQueue(device, logger, tc.onPlaybackEmpty)

	return tc
}

// Start launches the command loop.
func (tc *TurnController) Start() {
	go tc.run()
}

func (tc *TurnController) run() {
	for {
		select {
		case fn := <-tc.cmds:
			fn()
		case <-tc.ctx.Done():
			return
		}
	}
}

func (tc *TurnController) post(fn func()) {
	select {
	case tc.cmds <- fn:
	case <-tc.ctx.Done():
	}
}

// Events returns the observational event stream for the presentation layer.
func (tc *TurnController) Events() <-chan Event {
	return tc.events
}

// State returns the current conversation state.
func (tc *TurnController) State() ConversationState {
	tc.stateMu.RLock()
	defer tc.stateMu.RUnlock()
	return tc.state
}

func (tc *TurnController) Session() *Session {
	return tc.session
}

func (tc *TurnController) SetSystemPrompt(prompt string) {
	tc.session.AddMessage("system", prompt)
}

// StartListening begins a new listening phase. Called during speaking or
// processing it is a barge-in: everything downstream is cancelled first.
func (tc *TurnController) StartListening() {
	tc.post(func() {
		switch tc.state {
		case StateIdle:
			tc.beginListening()
		case StateSpeaking, StateProcessing:
			tc.bargeIn()
		}
	})
}

// StopListening ends the current listening phase; the coordinator performs
// its final dispatch and the resulting transcript drives the transition.
func (tc *TurnController) StopListening() {
	tc.post(func() {
		if tc.state == StateListening {
			tc.coord.Finalize()
		}
	})
}

// Close shuts the controller down and releases the event channel.
func (tc *TurnController) Close() {
	tc.closeOnce.Do(func() {
		tc.cancel()
		if tc.genCancel != nil {
			tc.genCancel()
		}
		tc.synth.Cancel()
		tc.playback.Stop()
		close(tc.events)
	})
}

// PushFrame accepts one captured PCM frame. It runs on the audio callback
// context and never blocks: buffer work happens under the coordinator's own
// lock, and state transitions are posted to the command loop.
func (tc *TurnController) PushFrame(frame []byte) {
	switch tc.State() {
	case StateListening:
		tc.coord.AppendFrame(frame)
		silence, speech := tc.coord.Stats()
		if speech >= tc.cfg.MinSpeechFrames && silence >= tc.cfg.EndSilenceFrames {
			if tc.endPosted.CompareAndSwap(false, true) {
				tc.post(func() {
					if tc.state == StateListening {
						tc.coord.Finalize()
					}
				})
			}
		}

	case StateSpeaking:
		if !tc.cfg.VoiceBargeIn {
			return
		}
		if tc.echo.IsEcho(frame) {
			tc.bargeCount.Store(0)
			return
		}
		peak, energy := frameLevels(frame)
		if peak > tc.cfg.PeakThreshold || energy > tc.cfg.EnergyThreshold {
			if tc.bargeCount.Add(1) >= bargeInFrames {
				tc.bargeCount.Store(0)
				tc.post(tc.bargeIn)
			}
		} else {
			tc.bargeCount.Store(0)
		}
	}
}

// --- command-loop internals (all run on the single serialization goroutine) ---

func (tc *TurnController) setState(s ConversationState) {
	tc.stateMu.Lock()
	tc.state = s
	tc.stateMu.Unlock()
	tc.emit(StateChanged, string(s))
}

func (tc *TurnController) emit(t EventType, data interface{}) {
	ev := Event{Type: t, SessionID: tc.session.ID, Data: data}
	select {
	case tc.events <- ev:
	case <-tc.ctx.Done():
	}
}

func (tc *TurnController) beginListening() {
	tc.phaseSeq++
	seq := tc.phaseSeq
	tc.endPosted.Store(false)
	tc.bargeCount.Store(0)

	phaseCtx, phaseCancel := context.WithCancel(tc.ctx)
	tc.coord.Begin(phaseCtx, tc.session.GetLanguage(), func(text string, final bool) {
		tc.post(func() {
			if seq != tc.phaseSeq {
				return // superseded listening phase
			}
			tc.onTranscript(text, final, phaseCancel)
		})
	})
	tc.setState(StateListening)
}

func (tc *TurnController) bargeIn() {
	if tc.state != StateSpeaking && tc.state != StateProcessing {
		return
	}
	tc.logger.Info("barge-in, cancelling turn", "turn", tc.turnID)
	metrics.IncBargeIn()
	tc.cancelTurn()
	tc.emit(Interrupted, nil)
	tc.beginListening()
}

// cancelTurn cancels the in-flight generation stream, drains both queues, and
// invalidates late completion callbacks via the turn token.
func (tc *TurnController) cancelTurn() {
	tc.turnID = ""
	if tc.genCancel != nil {
		tc.genCancel()
		tc.genCancel = nil
	}
	tc.synth.Cancel()
	tc.playback.Stop()
	tc.echo.Clear()
	tc.segmenter.Reset()
	tc.streamDone = false
	tc.assistantStarted = false
}

func (tc *TurnController) onTranscript(text string, final bool, phaseCancel context.CancelFunc) {
	if tc.state != StateListening {
		return
	}
	if !final {
		tc.emit(TranscriptPartial, text)
		return
	}

	phaseCancel()
	text = strings.TrimSpace(text)

	if text == "" {
		// No-op turn.
		tc.setState(StateIdle)
		metrics.ObserveTurn("empty")
		return
	}
	if text == tc.session.GetLastUser() {
		// A repeated recognition result must not create a duplicate turn.
		tc.logger.Info("duplicate transcript suppressed", "text", text)
		tc.setState(StateIdle)
		metrics.ObserveTurn("duplicate")
		return
	}

	tc.emit(TranscriptFinal, text)
	tc.session.AddMessage("user", text)
	tc.startGeneration()
}

func (tc *TurnController) startGeneration() {
	tc.setState(StateProcessing)

	tc.turnID = uuid.NewString()
	turn := tc.turnID

	genCtx, genCancel := context.WithCancel(tc.ctx)
	tc.genCancel = genCancel

	tc.segmenter.Reset()
	tc.streamDone = false
	tc.assistantStarted = false
	tc.synth.Reset(genCtx, tc.session.GetVoice(), tc.session.GetLanguage())
	tc.playback.Reset()

	messages := tc.session.GetContextCopy()
	go tc.runGeneration(genCtx, turn, messages)
}

func (tc *TurnController) runGeneration(ctx context.Context, turn string, messages []Message) {
	body, err := tc.gen.Stream(ctx, messages, tc.cfg.Model)
	if err != nil {
		tc.logger.Error("generation request failed", "error", err)
		metrics.ObserveGenerationStream("request_error")
		tc.post(func() {
			if turn != tc.turnID {
				return
			}
			tc.emit(NoticeEvent, "response generation failed")
			tc.cancelTurn()
			tc.setState(StateIdle)
			metrics.ObserveTurn("generation_error")
		})
		return
	}

	err = tc.consumer.Consume(ctx, body, func(d TextDelta) {
		tc.post(func() {
			if turn != tc.turnID {
				return
			}
			tc.onDelta(d)
		})
	})
	switch {
	case ctx.Err() != nil:
		metrics.ObserveGenerationStream("cancelled")
	case err != nil:
		// Transport failure mid-stream: the consumer already delivered a
		// terminal delta, so the turn ends with whatever was queued.
		metrics.ObserveGenerationStream("transport_error")
		tc.post(func() {
			if turn != tc.turnID {
				return
			}
			tc.emit(NoticeEvent, "response stream interrupted")
		})
	default:
		metrics.ObserveGenerationStream("ok")
	}
}

func (tc *TurnController) onDelta(d TextDelta) {
	if tc.state != StateProcessing && tc.state != StateSpeaking {
		return
	}

	if d.Final {
		tc.streamDone = true
		for _, s := range tc.segmenter.Flush() {
			tc.enqueueSentence(s)
		}
		tc.maybeFinishTurn()
		return
	}

	metrics.IncGenerationDelta()

	if !tc.assistantStarted {
		tc.assistantStarted = true
		tc.session.AddMessage("assistant", "")
		tc.setState(StateSpeaking)
	}

	tc.session.AppendAssistant(d.Content)
	tc.emit(AssistantDelta, d.Content)

	for _, s := range tc.segmenter.Push(d.Content) {
		tc.enqueueSentence(s)
	}
}

func (tc *TurnController) enqueueSentence(s Sentence) {
	metrics.IncSentence()
	if err := tc.synth.Enqueue(s); err != nil {
		tc.logger.Debug("sentence rejected by synthesis queue", "seq", s.Seq, "error", err)
	}
}

// onSynthesized runs on the synthesis worker; results are posted so playback
// enqueues happen in command order, which preserves sentence order. A result
// that outlives its turn is rejected by the stopped playback queue.
func (tc *TurnController) onSynthesized(s Sentence, clip []byte) {
	tc.post(func() {
		if tc.state != StateSpeaking && tc.state != StateProcessing {
			return
		}
		tc.echo.RecordPlayed(clip)
		if err := tc.playback.Enqueue(clip); err != nil {
			tc.logger.Debug("clip rejected by playback queue", "seq", s.Seq, "error", err)
		}
	})
}

func (tc *TurnController) onSynthDrained() {
	tc.post(tc.maybeFinishTurn)
}

func (tc *TurnController) onPlaybackEmpty() {
	tc.post(tc.maybeFinishTurn)
}

// maybeFinishTurn ends the speaking phase once the generation stream reported
// final and both queues have drained.
func (tc *TurnController) maybeFinishTurn() {
	if tc.state != StateSpeaking && tc.state != StateProcessing {
		return
	}
	if !tc.streamDone || !tc.synth.Idle() || !tc.playback.Idle() {
		return
	}

	tc.turnID = ""
	if tc.genCancel != nil {
		tc.genCancel()
		tc.genCancel = nil
	}
	tc.setState(StateIdle)
	tc.emit(TurnEnded, tc.session.GetLastAssistant())
	metrics.ObserveTurn("ok")
}
