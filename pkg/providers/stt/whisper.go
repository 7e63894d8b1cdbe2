package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/talkflow-ai/talkflow-pipeline/pkg/pipeline"
)

// WhisperSTT calls a Whisper-compatible transcription endpoint (OpenAI or
// Groq both speak this shape). The audio is expected to arrive WAV-wrapped
// from the coordinator.
type WhisperSTT struct {
	apiKey string
	url    string
	model  string
}

func NewOpenAISTT(apiKey string, model string) *WhisperSTT {
	if model == "" {
		model = "whisper-1"
	}
	return &WhisperSTT{
		apiKey: apiKey,
		url:    "https://api.openai.com/v1/audio/transcriptions",
		model:  model,
	}
}

func NewGroqSTT(apiKey string, model string) *WhisperSTT {
	if model == "" {
		model = "whisper-large-v3-turbo"
	}
	return &WhisperSTT{
		apiKey: apiKey,
		url:    "https://api.groq.com/openai/v1/audio/transcriptions",
		model:  model,
	}
}

func (s *WhisperSTT) Transcribe(ctx context.Context, wavData []byte, lang pipeline.Language) (string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	if err := writer.WriteField("model", s.model); err != nil {
		return "", err
	}

	if lang != "" {
		if err := writer.WriteField("language", string(lang)); err != nil {
			return "", err
		}
	}

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, bytes.NewReader(wavData)); err != nil {
		return "", err
	}

	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.url, body)
	if err != nil {
		return "", err
	}

	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return "", fmt.Errorf("%w: whisper status %d: %v", pipeline.ErrTranscriptionFailed, resp.StatusCode, errResp)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}

	return result.Text, nil
}

func (s *WhisperSTT) Name() string {
	return "whisper-stt"
}
