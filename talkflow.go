// Package talkflow is a high-level facade over the streaming conversational
// pipeline: microphone in, segmented speech to a transcriber, incremental
// generation, sentence-by-sentence synthesis, serialized playback, with
// barge-in at any point.
package talkflow

import (
	"github.com/talkflow-ai/talkflow-pipeline/pkg/pipeline"
)

// Conversation bundles a turn controller with its session for the common
// single-user case.
//
// Example:
//
//	conv := talkflow.NewConversation(stt, gen, tts, speaker, talkflow.DefaultConfig())
//	conv.SetSystemPrompt("You are a concise voice assistant.")
//	conv.Start()
//	conv.Listen()
//	for ev := range conv.Events() { ... }
type Conversation struct {
	ctl     *pipeline.TurnController
	session *pipeline.Session
}

// Config re-exports the pipeline configuration.
type Config = pipeline.Config

// DefaultConfig returns the pipeline defaults.
func DefaultConfig() Config {
	return pipeline.DefaultConfig()
}

// NewConversation creates a conversation over the given capabilities.
func NewConversation(stt pipeline.Transcriber, gen pipeline.TextGenerator, tts pipeline.Synthesizer, device pipeline.PlaybackDevice, cfg Config) *Conversation {
	return NewConversationWithLogger(stt, gen, tts, device, cfg, nil)
}

// NewConversationWithLogger additionally injects a logger.
func NewConversationWithLogger(stt pipeline.Transcriber, gen pipeline.TextGenerator, tts pipeline.Synthesizer, device pipeline.PlaybackDevice, cfg Config, logger pipeline.Logger) *Conversation {
	session := pipeline.NewSession()
	ctl := pipeline.NewTurnController(stt, gen, tts, device, session, cfg, logger)
	return &Conversation{ctl: ctl, session: session}
}

// Start launches the pipeline's event loop.
func (c *Conversation) Start() {
	c.ctl.Start()
}

// SetSystemPrompt seeds the conversation with a system instruction.
func (c *Conversation) SetSystemPrompt(prompt string) {
	c.ctl.SetSystemPrompt(prompt)
}

// Listen opens a listening phase. During assistant speech this is a
// barge-in: generation, synthesis, and playback are all cancelled first.
func (c *Conversation) Listen() {
	c.ctl.StartListening()
}

// StopListening ends the listening phase and lets the final transcript drive
// the turn.
func (c *Conversation) StopListening() {
	c.ctl.StopListening()
}

// PushFrame feeds one captured PCM frame into the pipeline. Safe to call
// from an audio device callback.
func (c *Conversation) PushFrame(frame []byte) {
	c.ctl.PushFrame(frame)
}

// Events returns the observational stream for rendering.
func (c *Conversation) Events() <-chan pipeline.Event {
	return c.ctl.Events()
}

// State returns the current conversation state.
func (c *Conversation) State() pipeline.ConversationState {
	return c.ctl.State()
}

// History returns a copy of the conversation so far.
func (c *Conversation) History() []pipeline.Message {
	return c.session.GetContextCopy()
}

// SessionID returns the unique ID for this conversation.
func (c *Conversation) SessionID() string {
	return c.session.ID
}

// Close shuts the pipeline down.
func (c *Conversation) Close() {
	c.ctl.Close()
}
