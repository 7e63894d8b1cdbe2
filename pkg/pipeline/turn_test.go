package pipeline

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

type mockGen struct {
	mu    sync.Mutex
	body  string
	err   error
	calls int
}

func (g *mockGen) Stream(ctx context.Context, messages []Message, model string) (io.ReadCloser, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	return io.NopCloser(strings.NewReader(g.body)), nil
}

func (g *mockGen) Name() string { return "mock-gen" }

func (g *mockGen) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// instantDevice reports every clip as played immediately.
type instantDevice struct {
	mu     sync.Mutex
	played [][]byte
	stops  int
}

func (d *instantDevice) Play(clip []byte, done func(ok bool)) error {
	d.mu.Lock()
	d.played = append(d.played, clip)
	d.mu.Unlock()
	go done(true)
	return nil
}

func (d *instantDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stops++
	return nil
}

func (d *instantDevice) playedCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.played)
}

func turnConfig() Config {
	cfg := DefaultConfig()
	cfg.SampleRate = 16000
	cfg.TranscribeRate = 16000
	cfg.Channels = 1
	cfg.MinBufferBytes = 1 << 30 // only the final dispatch transcribes
	cfg.MinDispatchInterval = 0
	cfg.MinSpeechFrames = 1
	cfg.EndSilenceFrames = 1 << 30 // tests end phases explicitly
	cfg.MinAudioBytes = 64
	return cfg
}

func sseBody(deltas ...string) string {
	var b strings.Builder
	for _, d := range deltas {
		b.WriteString(`data: {"choices":[{"delta":{"content":"` + d + `"}}]}` + "\n")
	}
	b.WriteString("data: [DONE]\n")
	return b.String()
}

// waitForListening blocks until the controller has processed the listen
// command. StartListening is asynchronous, so frames pushed before the
// transition land in IDLE and are dropped.
func waitForListening(t *testing.T, tc *TurnController) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for tc.State() != StateListening {
		if time.Now().After(deadline) {
			t.Fatalf("controller never entered LISTENING, state %s", tc.State())
		}
		time.Sleep(time.Millisecond)
	}
}

// collectUntil drains events until one of the given type arrives.
func collectUntil(t *testing.T, events <-chan Event, stop EventType) []Event {
	t.Helper()
	var got []Event
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("event channel closed while waiting for %s, have %+v", stop, got)
			}
			got = append(got, ev)
			if ev.Type == stop {
				return got
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s, have %+v", stop, got)
		}
	}
}

func eventsOfType(events []Event, et EventType) []Event {
	var out []Event
	for _, ev := range events {
		if ev.Type == et {
			out = append(out, ev)
		}
	}
	return out
}

func stateSequence(events []Event) []string {
	var out []string
	for _, ev := range eventsOfType(events, StateChanged) {
		out = append(out, ev.Data.(string))
	}
	return out
}

func TestTurnFullCycle(t *testing.T) {
	stt := &mockSTT{results: []string{"Hello there"}}
	gen := &mockGen{body: sseBody("Hi. ", "All good.")}
	synth := newMockSynth()
	device := &instantDevice{}

	tc := NewTurnController(stt, gen, synth, device, nil, turnConfig(), nil)
	tc.Start()
	defer tc.Close()

	tc.StartListening()
	waitForListening(t, tc)
	for i := 0; i < 5; i++ {
		tc.PushFrame(pcmFrame(8000, 160))
	}
	tc.StopListening()

	got := collectUntil(t, tc.Events(), TurnEnded)

	states := stateSequence(got)
	want := []string{"LISTENING", "PROCESSING", "SPEAKING", "IDLE"}
	if len(states) != len(want) {
		t.Fatalf("expected states %v, got %v", want, states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("expected states %v, got %v", want, states)
		}
	}

	finals := eventsOfType(got, TranscriptFinal)
	if len(finals) != 1 || finals[0].Data.(string) != "Hello there" {
		t.Errorf("expected one final transcript 'Hello there', got %+v", finals)
	}

	var reply strings.Builder
	for _, ev := range eventsOfType(got, AssistantDelta) {
		reply.WriteString(ev.Data.(string))
	}
	if reply.String() != "Hi. All good." {
		t.Errorf("expected streamed reply 'Hi. All good.', got %q", reply.String())
	}

	ended := eventsOfType(got, TurnEnded)
	if ended[0].Data.(string) != "Hi. All good." {
		t.Errorf("turn end should carry the full reply, got %q", ended[0].Data)
	}

	if device.playedCount() != 2 {
		t.Errorf("expected 2 clips played, got %d", device.playedCount())
	}

	history := tc.Session().GetContextCopy()
	if len(history) != 2 || history[0].Content != "Hello there" || history[1].Content != "Hi. All good." {
		t.Errorf("unexpected history: %+v", history)
	}
}

func TestTurnEmptyTranscriptGoesIdle(t *testing.T) {
	stt := &mockSTT{}
	gen := &mockGen{body: sseBody("unused")}
	synth := newMockSynth()
	device := &instantDevice{}

	tc := NewTurnController(stt, gen, synth, device, nil, turnConfig(), nil)
	tc.Start()
	defer tc.Close()

	tc.StartListening()
	tc.StopListening()

	got := collectUntil(t, tc.Events(), StateChanged)
	got = append(got, collectUntil(t, tc.Events(), StateChanged)...)

	states := stateSequence(got)
	if len(states) != 2 || states[0] != "LISTENING" || states[1] != "IDLE" {
		t.Fatalf("expected LISTENING then IDLE, got %v", states)
	}
	if gen.callCount() != 0 {
		t.Error("an empty transcript must not start generation")
	}
	if len(eventsOfType(got, TranscriptFinal)) != 0 {
		t.Error("an empty transcript must not be announced")
	}
}

func TestTurnDuplicateTranscriptSuppressed(t *testing.T) {
	stt := &mockSTT{results: []string{"Hello there"}}
	gen := &mockGen{body: sseBody("unused")}
	synth := newMockSynth()
	device := &instantDevice{}

	tc := NewTurnController(stt, gen, synth, device, nil, turnConfig(), nil)
	tc.Session().AddMessage("user", "Hello there")
	tc.Start()
	defer tc.Close()

	tc.StartListening()
	waitForListening(t, tc)
	for i := 0; i < 5; i++ {
		tc.PushFrame(pcmFrame(8000, 160))
	}
	tc.StopListening()

	got := collectUntil(t, tc.Events(), StateChanged)
	got = append(got, collectUntil(t, tc.Events(), StateChanged)...)

	states := stateSequence(got)
	if len(states) != 2 || states[0] != "LISTENING" || states[1] != "IDLE" {
		t.Fatalf("expected LISTENING then IDLE, got %v", states)
	}
	if gen.callCount() != 0 {
		t.Error("a repeated transcript must not start a new turn")
	}
}

func TestTurnVoiceBargeIn(t *testing.T) {
	stt := &mockSTT{results: []string{"Tell me a story"}}
	gen := &mockGen{body: sseBody("Once upon a time.")}
	synth := newMockSynth()
	device := &fakeDevice{} // holds the clip so the turn stays in SPEAKING

	tc := NewTurnController(stt, gen, synth, device, nil, turnConfig(), nil)
	tc.Start()
	defer tc.Close()

	tc.StartListening()
	waitForListening(t, tc)
	for i := 0; i < 5; i++ {
		tc.PushFrame(pcmFrame(8000, 160))
	}
	tc.StopListening()

	// Wait until the assistant is audibly speaking.
	collectUntil(t, tc.Events(), StateChanged) // LISTENING
	collectUntil(t, tc.Events(), StateChanged) // PROCESSING
	collectUntil(t, tc.Events(), StateChanged) // SPEAKING

	deadline := time.Now().Add(2 * time.Second)
	for device.playing() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("clip never reached the device")
		}
		time.Sleep(time.Millisecond)
	}

	// Sustained loud input during playback triggers the interruption.
	deadline = time.Now().Add(2 * time.Second)
	for tc.State() == StateSpeaking {
		tc.PushFrame(pcmFrame(8000, 160))
		if time.Now().After(deadline) {
			t.Fatal("voice barge-in never triggered")
		}
		time.Sleep(time.Millisecond)
	}

	got := collectUntil(t, tc.Events(), StateChanged)
	if len(eventsOfType(got, Interrupted)) != 1 {
		t.Fatalf("expected an interruption event, got %+v", got)
	}
	states := stateSequence(got)
	if states[len(states)-1] != "LISTENING" {
		t.Errorf("barge-in should land in LISTENING, got %v", states)
	}

	if tc.State() != StateListening {
		t.Errorf("expected LISTENING after barge-in, got %s", tc.State())
	}
	device.mu.Lock()
	stops := device.stops
	device.mu.Unlock()
	if stops == 0 {
		t.Error("barge-in must stop the playback device")
	}
}

func TestTurnGenerationFailureRecovers(t *testing.T) {
	stt := &mockSTT{results: []string{"Hello there"}}
	gen := &mockGen{err: errors.New("backend down")}
	synth := newMockSynth()
	device := &instantDevice{}

	tc := NewTurnController(stt, gen, synth, device, nil, turnConfig(), nil)
	tc.Start()
	defer tc.Close()

	tc.StartListening()
	waitForListening(t, tc)
	for i := 0; i < 5; i++ {
		tc.PushFrame(pcmFrame(8000, 160))
	}
	tc.StopListening()

	got := collectUntil(t, tc.Events(), NoticeEvent)
	got = append(got, collectUntil(t, tc.Events(), StateChanged)...)

	states := stateSequence(got)
	if states[len(states)-1] != "IDLE" {
		t.Fatalf("a failed generation must settle in IDLE, got %v", states)
	}

	// The pipeline accepts the next turn normally.
	gen.mu.Lock()
	gen.err = nil
	gen.body = sseBody("Recovered.")
	gen.mu.Unlock()

	stt.mu.Lock()
	stt.results = []string{"Are you ok"}
	stt.calls = 0
	stt.mu.Unlock()

	tc.StartListening()
	waitForListening(t, tc)
	for i := 0; i < 5; i++ {
		tc.PushFrame(pcmFrame(8000, 160))
	}
	tc.StopListening()

	got = collectUntil(t, tc.Events(), TurnEnded)
	ended := eventsOfType(got, TurnEnded)
	if ended[0].Data.(string) != "Recovered." {
		t.Errorf("expected recovery turn to complete, got %q", ended[0].Data)
	}
}
