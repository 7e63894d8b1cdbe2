package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/talkflow-ai/talkflow-pipeline/pkg/pipeline"
)

// OpenAILLM is the remote generation backend. Stream opens one chat
// completion with stream enabled and hands the raw SSE body to the caller.
type OpenAILLM struct {
	apiKey string
	url    string
	model  string
}

func NewOpenAILLM(apiKey string, model string) *OpenAILLM {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAILLM{
		apiKey: apiKey,
		url:    "https://api.openai.com/v1/chat/completions",
		model:  model,
	}
}

func (l *OpenAILLM) Stream(ctx context.Context, messages []pipeline.Message, model string) (io.ReadCloser, error) {
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

	req, err := http.NewRequestWithContext(ctx, "POST", l.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+l.apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		resp.Body.Close()
		return nil, fmt.Errorf("%w: openai status %d: %v", pipeline.ErrGenerationFailed, resp.StatusCode, errResp)
	}

	return resp.Body, nil
}

func (l *OpenAILLM) Name() string {
	return "openai-llm"
}
