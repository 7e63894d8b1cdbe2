package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/talkflow-ai/talkflow-pipeline/pkg/pipeline"
)

// LocalLLM targets a llama-server running on the local network. It speaks the
// same chat-completions SSE wire format as the remote backend, so the
// pipeline's stream consumer handles both; no auth is required.
type LocalLLM struct {
	baseURL string
	model   string
	client  *http.Client
}

func NewLocalLLM(baseURL string, model string) *LocalLLM {
	baseURL = strings.TrimSuffix(baseURL, "/")
	if baseURL == "" {
		baseURL = "http://localhost:8000"
	}
	return &LocalLLM{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{},
	}
}

// Healthy probes the server's health endpoint so callers can fall back to a
// remote backend before committing a turn to a dead server.
func (l *LocalLLM) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", l.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (l *LocalLLM) Stream(ctx context.Context, messages []pipeline.Message, model string) (io.ReadCloser, error) {
	if model == "" {
		model = l.model
	}

	payload := map[string]interface{}{
		"model":    model,
		"messages": messages,
		"stream":   true,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", l.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		resp.Body.Close()
		return nil, fmt.Errorf("%w: local status %d: %v", pipeline.ErrGenerationFailed, resp.StatusCode, errResp)
	}

	return resp.Body, nil
}

func (l *LocalLLM) Name() string {
	return "local-llm"
}
