package tts

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/talkflow-ai/talkflow-pipeline/pkg/pipeline"
)

// CartesiaTTS synthesizes speech over Cartesia's websocket API. The
// connection is kept open across requests; one synthesis exchange runs at a
// time, which lines up with the pipeline's one-in-flight synthesis queue.
type CartesiaTTS struct {
	apiKey  string
	host    string
	scheme  string
	version string
	modelID string

	// reqMu serializes synthesis exchanges; connMu guards only the
	// connection pointer so Abort can reach it mid-exchange.
	reqMu  sync.Mutex
	connMu sync.Mutex
	conn   *websocket.Conn
}

func NewCartesiaTTS(apiKey string) *CartesiaTTS {
	return &CartesiaTTS{
		apiKey:  apiKey,
		host:    "api.cartesia.ai",
		scheme:  "wss",
		version: "2024-06-10",
		modelID: "sonic",
	}
}

type synthesisRequest struct {
	ContextID  string `json:"context_id"`
	ModelID    string `json:"model_id"`
	Transcript string `json:"transcript"`
	Language   string `json:"language,omitempty"`
	Voice      struct {
		Mode string `json:"mode"`
		ID   string `json:"id"`
	} `json:"voice"`
	OutputFormat struct {
		Container  string `json:"container"`
		Encoding   string `json:"encoding"`
		SampleRate int    `json:"sample_rate"`
	} `json:"output_format"`
}

type synthesisResponse struct {
	Type      string `json:"type"`
	ContextID string `json:"context_id"`
	Data      string `json:"data,omitempty"`
	Done      bool   `json:"done,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (t *CartesiaTTS) getConn(ctx context.Context) (*websocket.Conn, error) {
	t.connMu.Lock()
	defer t.connMu.Unlock()
	if t.conn != nil {
		return t.conn, nil
	}

	u := url.URL{
		Scheme:   t.scheme,
		Host:     t.host,
		Path:     "/tts/websocket",
		RawQuery: "api_key=" + t.apiKey + "&cartesia_version=" + t.version,
	}
	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to cartesia: %w", err)
	}

	conn.SetReadLimit(10 * 1024 * 1024)

	t.conn = conn
	return conn, nil
}

func (t *CartesiaTTS) Synthesize(ctx context.Context, text string, voice pipeline.Voice, lang pipeline.Language) ([]byte, error) {
	t.reqMu.Lock()
	defer t.reqMu.Unlock()

	conn, err := t.getConn(ctx)
	if err != nil {
		return nil, err
	}

	req := synthesisRequest{
		ContextID:  uuid.NewString(),
		ModelID:    t.modelID,
		Transcript: text,
		Language:   string(lang),
	}
	req.Voice.Mode = "id"
	req.Voice.ID = string(voice)
	req.OutputFormat.Container = "raw"
	req.OutputFormat.Encoding = "pcm_s16le"
	req.OutputFormat.SampleRate = 44100

	if err := wsjson.Write(ctx, conn, req); err != nil {
		t.dropConn(conn)
		return nil, fmt.Errorf("failed to send synthesis request: %w", err)
	}

	var audio []byte
	for {
		var resp synthesisResponse
		if err := wsjson.Read(ctx, conn, &resp); err != nil {
			t.dropConn(conn)
			return nil, fmt.Errorf("failed to read from cartesia: %w", err)
		}

		switch resp.Type {
		case "chunk":
			chunk, err := base64.StdEncoding.DecodeString(resp.Data)
			if err != nil {
				return nil, fmt.Errorf("cartesia sent undecodable audio: %w", err)
			}
			audio = append(audio, chunk...)
		case "done":
			return audio, nil
		case "error":
			return nil, fmt.Errorf("%w: cartesia: %s", pipeline.ErrSynthesisFailed, resp.Error)
		}

		if resp.Done {
			return audio, nil
		}
	}
}

func (t *CartesiaTTS) Name() string {
	return "cartesia"
}

func (t *CartesiaTTS) dropConn(conn *websocket.Conn) {
	t.connMu.Lock()
	if t.conn == conn {
		t.conn = nil
	}
	t.connMu.Unlock()
	conn.Close(websocket.StatusAbnormalClosure, "")
}

func (t *CartesiaTTS) Close() error {
	t.connMu.Lock()
	defer t.connMu.Unlock()
	if t.conn != nil {
		err := t.conn.Close(websocket.StatusNormalClosure, "")
		t.conn = nil
		return err
	}
	return nil
}

// Abort forces any in-progress synthesis to stop immediately by closing the
// underlying websocket connection, unblocking any pending read.
func (t *CartesiaTTS) Abort() error {
	t.connMu.Lock()
	conn := t.conn
	t.conn = nil
	t.connMu.Unlock()
	if conn != nil {
		return conn.Close(websocket.StatusAbnormalClosure, "abort")
	}
	return nil
}
