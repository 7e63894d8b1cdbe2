package pipeline

import "errors"

// Custom error types for better error discrimination
var (
	// ErrTranscriptionFailed is returned when the Transcriber capability fails
	ErrTranscriptionFailed = errors.New("speech-to-text transcription failed")

	// ErrGenerationFailed is returned when the TextGenerator stream fails at transport level
	ErrGenerationFailed = errors.New("response generation failed")

	// ErrSynthesisFailed is returned when the Synthesizer capability fails
	ErrSynthesisFailed = errors.New("text-to-speech synthesis failed")

	// ErrAudioTooShort is returned when synthesized audio is below the validity threshold
	ErrAudioTooShort = errors.New("synthesized audio below minimum size")

	// ErrQueueCancelled is returned when enqueueing on a cancelled queue
	ErrQueueCancelled = errors.New("queue cancelled, awaiting reset")
)
