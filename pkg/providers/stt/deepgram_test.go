package stt

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/talkflow-ai/talkflow-pipeline/pkg/pipeline"
)

func deepgramResponse(transcript string) map[string]interface{} {
	return map[string]interface{}{
		"results": map[string]interface{}{
			"channels": []interface{}{
				map[string]interface{}{
					"alternatives": []interface{}{
						map[string]interface{}{"transcript": transcript},
					},
				},
			},
		},
	}
}

func TestDeepgramSTTTranscribe(t *testing.T) {
	var gotAuth, gotModel, gotLang, gotType string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		gotModel = r.URL.Query().Get("model")
		gotLang = r.URL.Query().Get("language")
		gotBody, _ = io.ReadAll(r.Body)
		json.NewEncoder(w).Encode(deepgramResponse("good morning"))
	}))
	defer server.Close()

	s := &DeepgramSTT{apiKey: "test-key", url: server.URL, model: "nova-2"}

	text, err := s.Transcribe(context.Background(), []byte{1, 2, 3}, pipeline.LanguageEn)
	if err != nil {
		t.Fatalf("transcribe failed: %v", err)
	}
	if text != "good morning" {
		t.Errorf("expected 'good morning', got %q", text)
	}
	if gotAuth != "Token test-key" {
		t.Errorf("unexpected auth header %q", gotAuth)
	}
	if gotType != "audio/wav" {
		t.Errorf("unexpected content type %q", gotType)
	}
	if gotModel != "nova-2" || gotLang != "en" {
		t.Errorf("unexpected query params model=%q language=%q", gotModel, gotLang)
	}
	if len(gotBody) != 3 {
		t.Errorf("audio should be posted raw, got %d bytes", len(gotBody))
	}
}

func TestDeepgramSTTEmptyResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"results": map[string]interface{}{}})
	}))
	defer server.Close()

	s := &DeepgramSTT{apiKey: "test-key", url: server.URL, model: "nova-2"}

	text, err := s.Transcribe(context.Background(), []byte{0}, pipeline.LanguageEn)
	if err != nil {
		t.Fatalf("empty result should not error: %v", err)
	}
	if text != "" {
		t.Errorf("expected empty transcript, got %q", text)
	}
}

func TestDeepgramSTTErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"err_msg": "invalid credentials"})
	}))
	defer server.Close()

	s := &DeepgramSTT{apiKey: "bad-key", url: server.URL, model: "nova-2"}

	_, err := s.Transcribe(context.Background(), []byte{0}, pipeline.LanguageEn)
	if err == nil {
		t.Fatal("expected error on non-200 status")
	}
	if !errors.Is(err, pipeline.ErrTranscriptionFailed) {
		t.Errorf("error should wrap ErrTranscriptionFailed, got %v", err)
	}
}

func TestDeepgramSTTDefaults(t *testing.T) {
	if s := NewDeepgramSTT("k", ""); s.model != "nova-2" {
		t.Errorf("expected nova-2 default, got %s", s.model)
	}
}
