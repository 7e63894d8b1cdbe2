package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	talkflow "github.com/talkflow-ai/talkflow-pipeline"
	"github.com/talkflow-ai/talkflow-pipeline/pkg/audio"
	"github.com/talkflow-ai/talkflow-pipeline/pkg/config"
	"github.com/talkflow-ai/talkflow-pipeline/pkg/logging"
	"github.com/talkflow-ai/talkflow-pipeline/pkg/pipeline"
	llmProvider "github.com/talkflow-ai/talkflow-pipeline/pkg/providers/llm"
	sttProvider "github.com/talkflow-ai/talkflow-pipeline/pkg/providers/stt"
	ttsProvider "github.com/talkflow-ai/talkflow-pipeline/pkg/providers/tts"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, using system environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	zl := logging.New(cfg.LogLevel, cfg.LogPretty)
	logger := logging.NewAdapter(zl)

	// STT selection
	var stt pipeline.Transcriber
	switch cfg.STTProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			log.Fatal("Error: OPENAI_API_KEY must be set for openai STT")
		}
		stt = sttProvider.NewOpenAISTT(cfg.OpenAIAPIKey, "")
	case "deepgram":
		if cfg.DeepgramKey == "" {
			log.Fatal("Error: DEEPGRAM_API_KEY must be set for deepgram STT")
		}
		stt = sttProvider.NewDeepgramSTT(cfg.DeepgramKey, "")
	case "groq":
		fallthrough
	default:
		if cfg.GroqAPIKey == "" {
			log.Fatal("Error: GROQ_API_KEY must be set for groq STT")
		}
		stt = sttProvider.NewGroqSTT(cfg.GroqAPIKey, "")
	}

	// Generation backend selection: remote by default, the local llama
	// server when requested and healthy.
	var gen pipeline.TextGenerator
	switch cfg.LLMProvider {
	case "local":
		local := llmProvider.NewLocalLLM(cfg.LocalLLMURL, cfg.Model)
		if !local.Healthy(context.Background()) {
			log.Fatalf("Error: local LLM at %s is not responding", cfg.LocalLLMURL)
		}
		gen = local
	case "openai":
		fallthrough
	default:
		if cfg.OpenAIAPIKey == "" {
			log.Fatal("Error: OPENAI_API_KEY must be set for openai LLM")
		}
		gen = llmProvider.NewOpenAILLM(cfg.OpenAIAPIKey, cfg.Model)
	}

	if cfg.CartesiaKey == "" {
		log.Fatal("Error: CARTESIA_API_KEY must be set")
	}
	tts := ttsProvider.NewCartesiaTTS(cfg.CartesiaKey)
	defer tts.Close()

	if cfg.MetricsAddr != "" {
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.MetricsAddr, nil); err != nil {
				zl.Error().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	var conv *talkflow.Conversation

	device, err := audio.NewDevice(audio.DeviceConfig{
		SampleRate: cfg.SampleRate,
		Channels:   cfg.Channels,
	}, func(frame []byte) {
		if conv != nil {
			conv.PushFrame(frame)
		}
	})
	if err != nil {
		log.Fatal(err)
	}
	defer device.Close()

	conv = talkflow.NewConversationWithLogger(stt, gen, tts, device, cfg.Pipeline(), logger)
	defer conv.Close()

	conv.SetSystemPrompt("You are a helpful and concise voice assistant. Use short sentences suitable for speech.")
	conv.Start()

	if err := device.Start(); err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Configured: STT=%s | LLM=%s | TTS=cartesia | Language=%s\n", cfg.STTProvider, cfg.LLMProvider, cfg.Language)
	fmt.Println("Voice agent started. Listening to microphone...")
	fmt.Println("Press Ctrl+C to exit")

	conv.Listen()

	go func() {
		for event := range conv.Events() {
			switch event.Type {
			case pipeline.StateChanged:
				state := pipeline.ConversationState(event.Data.(string))
				fmt.Printf("\r\033[K[STATE] %s\n", state)
				if state == pipeline.StateIdle {
					// Hand off straight into the next turn.
					conv.Listen()
				}
			case pipeline.TranscriptPartial:
				fmt.Printf("\r\033[K[HEARD~] %s", event.Data.(string))
			case pipeline.TranscriptFinal:
				fmt.Printf("\r\033[K[YOU] %s\n", event.Data.(string))
			case pipeline.AssistantDelta:
				fmt.Print(event.Data.(string))
			case pipeline.TurnEnded:
				fmt.Println()
			case pipeline.Interrupted:
				fmt.Printf("\r\033[K[INTERRUPTED]\n")
			case pipeline.NoticeEvent:
				fmt.Printf("\r\033[K[NOTICE] %v\n", event.Data)
			}
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	fmt.Printf("\nShutting down...\n")
}
