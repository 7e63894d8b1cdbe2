package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/talkflow-ai/talkflow-pipeline/pkg/pipeline"
)

// DeepgramSTT posts WAV-wrapped audio to Deepgram's prerecorded endpoint.
// The response is synchronous, so it fits the same dispatch cadence as the
// Whisper backends.
type DeepgramSTT struct {
	apiKey string
	url    string
	model  string
}

func NewDeepgramSTT(apiKey string, model string) *DeepgramSTT {
	if model == "" {
		model = "nova-2"
	}
	return &DeepgramSTT{
		apiKey: apiKey,
		url:    "https://api.deepgram.com/v1/listen",
		model:  model,
	}
}

func (s *DeepgramSTT) Transcribe(ctx context.Context, wavData []byte, lang pipeline.Language) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", s.url, bytes.NewReader(wavData))
	if err != nil {
		return "", err
	}

	q := req.URL.Query()
	q.Set("model", s.model)
	q.Set("smart_format", "true")
	if lang != "" {
		q.Set("language", string(lang))
	}
	req.URL.RawQuery = q.Encode()

	req.Header.Set("Authorization", "Token "+s.apiKey)
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return "", fmt.Errorf("%w: deepgram status %d: %v", pipeline.ErrTranscriptionFailed, resp.StatusCode, errResp)
	}

	var result struct {
		Results struct {
			Channels []struct {
				Alternatives []struct {
					Transcript string `json:"transcript"`
				} `json:"alternatives"`
			} `json:"channels"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}

	if len(result.Results.Channels) == 0 || len(result.Results.Channels[0].Alternatives) == 0 {
		return "", nil
	}
	return result.Results.Channels[0].Alternatives[0].Transcript, nil
}

func (s *DeepgramSTT) Name() string {
	return "deepgram-stt"
}
