package pipeline

import (
	"context"
	"io"
	"time"
)

type Logger interface {
	Debug(msg string, args ...interface{})

	Info(msg string, args ...interface{})

	Warn(msg string, args ...interface{})

	Error(msg string, args ...interface{})
}

type NoOpLogger struct{}

func (n *NoOpLogger) Debug(msg string, args ...interface{}) {}
func (n *NoOpLogger) Info(msg string, args ...interface{})  {}
func (n *NoOpLogger) Warn(msg string, args ...interface{})  {}
func (n *NoOpLogger) Error(msg string, args ...interface{}) {}

// Transcriber converts a WAV-wrapped mono PCM buffer into text. It may be
// called repeatedly for the same growing buffer during one listening phase.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte, lang Language) (string, error)
	Name() string
}

// TextGenerator opens one streaming completion per turn. The returned reader
// carries newline-delimited incremental records terminated by a sentinel; the
// pipeline's StreamConsumer decodes it.
type TextGenerator interface {
	Stream(ctx context.Context, messages []Message, model string) (io.ReadCloser, error)
	Name() string
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text string, voice Voice, lang Language) ([]byte, error)
	// Abort forces any in-progress synthesis to stop immediately.
	// Implementations should try to unblock Synthesize as quickly as
	// possible (closing connections, cancelling streams, etc.).
	Abort() error
	Name() string
}

// PlaybackDevice plays one audio clip at a time and reports completion
// asynchronously. Stop discards whatever is currently playing.
type PlaybackDevice interface {
	Play(clip []byte, done func(ok bool)) error
	Stop() error
}

// ConversationState is the single process-wide phase of the dialogue. It is
// mutated only by the TurnController.
type ConversationState string

const (
	StateIdle       ConversationState = "IDLE"
	StateListening  ConversationState = "LISTENING"
	StateProcessing ConversationState = "PROCESSING"
	StateSpeaking   ConversationState = "SPEAKING"
)

// TextDelta is one ordered fragment of the generated response. Seq increases
// strictly by 1 within a turn; Final marks stream completion.
type TextDelta struct {
	Seq     int
	Content string
	Final   bool
}

// Sentence is a complete, trimmed unit of text cut at a recognized
// terminator. Seq equals its emission order from the segmenter.
type Sentence struct {
	Seq  int
	Text string
}

type EventType string

const (
	StateChanged      EventType = "STATE_CHANGED"
	TranscriptPartial EventType = "TRANSCRIPT_PARTIAL"
	TranscriptFinal   EventType = "TRANSCRIPT_FINAL"
	AssistantDelta    EventType = "ASSISTANT_DELTA"
	TurnEnded         EventType = "TURN_ENDED"
	Interrupted       EventType = "INTERRUPTED"
	NoticeEvent       EventType = "NOTICE"
)

// Event is an observational message for the presentation layer; there is no
// back-pressure from consumers.
type Event struct {
	Type      EventType   `json:"type"`
	SessionID string      `json:"session_id"`
	Data      interface{} `json:"data,omitempty"`
}

type Voice string

const (
	VoiceDefault Voice = "sonic-english"
)

type Language string

const (
	LanguageEn Language = "en"
	LanguageEs Language = "es"
	LanguageFr Language = "fr"
	LanguageDe Language = "de"
	LanguageJa Language = "ja"
	LanguageZh Language = "zh"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Config struct {
	// Device capture format.
	SampleRate int
	Channels   int

	// Transcription buffers are resampled to this rate before dispatch.
	TranscribeRate int

	// VAD thresholds over normalized samples [0,1].
	PeakThreshold   float64
	EnergyThreshold float64

	// Dispatch gating. A partial transcription request is only considered
	// once MinBufferBytes of resampled PCM have accumulated and
	// MinDispatchInterval has elapsed since the previous request.
	MinBufferBytes      int
	MaxBufferBytes      int
	MinDispatchInterval time.Duration
	// Ceiling for the pacing interval under repeated failures.
	MaxDispatchInterval time.Duration
	// Consecutive failures before the pacing interval is doubled.
	BackoffAfterFailures int

	// Trigger thresholds, in frames.
	MinSpeechFrames       int
	SilenceDispatchFrames int
	// Consecutive silent frames after speech that end the listening phase.
	EndSilenceFrames int

	// Synthesized audio below this size is treated as invalid.
	MinAudioBytes int

	// Sustained speech during playback interrupts the assistant when set.
	VoiceBargeIn bool

	MaxContextMessages int
	VoiceStyle         Voice
	Language           Language
	Model              string
}

func DefaultConfig() Config {
	return Config{
		SampleRate:            44100,
		Channels:              1,
		TranscribeRate:        16000,
		PeakThreshold:         0.08,
		EnergyThreshold:       0.02,
		MinBufferBytes:        16000, // ~0.5s at 16kHz mono s16
		MaxBufferBytes:        480000,
		MinDispatchInterval:   1200 * time.Millisecond,
		MaxDispatchInterval:   8 * time.Second,
		BackoffAfterFailures:  3,
		MinSpeechFrames:       20,
		SilenceDispatchFrames: 15,
		EndSilenceFrames:      40,
		MinAudioBytes:         64,
		VoiceBargeIn:          true,
		MaxContextMessages:    20,
		VoiceStyle:            VoiceDefault,
		Language:              LanguageEn,
		Model:                 "gpt-4o-mini",
	}
}
