package talkflow

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/talkflow-ai/talkflow-pipeline/pkg/pipeline"
)

type stubSTT struct{}

func (stubSTT) Transcribe(ctx context.Context, wav []byte, lang pipeline.Language) (string, error) {
	return "", nil
}
func (stubSTT) Name() string { return "stub-stt" }

type stubGen struct{}

func (stubGen) Stream(ctx context.Context, messages []pipeline.Message, model string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("data: [DONE]\n")), nil
}
func (stubGen) Name() string { return "stub-gen" }

type stubTTS struct{}

func (stubTTS) Synthesize(ctx context.Context, text string, voice pipeline.Voice, lang pipeline.Language) ([]byte, error) {
	return make([]byte, 256), nil
}
func (stubTTS) Abort() error { return nil }
func (stubTTS) Name() string { return "stub-tts" }

type stubDevice struct{}

func (stubDevice) Play(clip []byte, done func(ok bool)) error {
	go done(true)
	return nil
}
func (stubDevice) Stop() error { return nil }

func TestConversationLifecycle(t *testing.T) {
	conv := NewConversation(stubSTT{}, stubGen{}, stubTTS{}, stubDevice{}, DefaultConfig())

	if conv.SessionID() == "" {
		t.Error("expected a session ID")
	}
	if conv.State() != pipeline.StateIdle {
		t.Errorf("expected IDLE before start, got %s", conv.State())
	}

	conv.SetSystemPrompt("Be brief.")
	history := conv.History()
	if len(history) != 1 || history[0].Role != "system" || history[0].Content != "Be brief." {
		t.Errorf("unexpected history: %+v", history)
	}

	conv.Start()
	defer conv.Close()

	conv.Listen()
	waitForState(t, conv, pipeline.StateListening)

	// No speech arrived; stopping drops straight back to idle.
	conv.StopListening()
	waitForState(t, conv, pipeline.StateIdle)
}

func waitForState(t *testing.T, conv *Conversation, want pipeline.ConversationState) {
	t.Helper()
	for ev := range conv.Events() {
		if ev.Type == pipeline.StateChanged && ev.Data.(string) == string(want) {
			return
		}
	}
	t.Fatalf("event channel closed before reaching %s", want)
}
