// Package config loads pipeline configuration from the environment, with an
// optional .env file for development.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/talkflow-ai/talkflow-pipeline/pkg/pipeline"
)

// Config holds everything the agent needs to run the pipeline.
type Config struct {
	// Provider selection and credentials.
	STTProvider  string `envconfig:"STT_PROVIDER" default:"groq"` // groq, openai, deepgram
	LLMProvider  string `envconfig:"LLM_PROVIDER" default:"openai"` // openai, local
	GroqAPIKey   string `envconfig:"GROQ_API_KEY" default:""`
	DeepgramKey  string `envconfig:"DEEPGRAM_API_KEY" default:""`
	OpenAIAPIKey string `envconfig:"OPENAI_API_KEY" default:""`
	CartesiaKey  string `envconfig:"CARTESIA_API_KEY" default:""`
	LocalLLMURL  string `envconfig:"LOCAL_LLM_URL" default:"http://localhost:8000"`
	Model        string `envconfig:"LLM_MODEL" default:"gpt-4o-mini"`
	Voice        string `envconfig:"TTS_VOICE" default:"sonic-english"`
	Language     string `envconfig:"AGENT_LANGUAGE" default:"en"`

	// Audio capture format.
	SampleRate int `envconfig:"SAMPLE_RATE" default:"44100"`
	Channels   int `envconfig:"CHANNELS" default:"1"`

	// VAD thresholds over normalized samples.
	PeakThreshold   float64 `envconfig:"VAD_PEAK_THRESHOLD" default:"0.08"`
	EnergyThreshold float64 `envconfig:"VAD_ENERGY_THRESHOLD" default:"0.02"`

	// Transcription pacing. These are empirically tuned, kept as
	// configuration rather than constants.
	MinBufferBytes       int `envconfig:"STT_MIN_BUFFER_BYTES" default:"16000"`
	MaxBufferBytes       int `envconfig:"STT_MAX_BUFFER_BYTES" default:"480000"`
	MinDispatchMs        int `envconfig:"STT_MIN_DISPATCH_MS" default:"1200"`
	MaxDispatchMs        int `envconfig:"STT_MAX_DISPATCH_MS" default:"8000"`
	BackoffAfterFailures int `envconfig:"STT_BACKOFF_AFTER_FAILURES" default:"3"`

	VoiceBargeIn bool `envconfig:"VOICE_BARGE_IN" default:"true"`

	// Observability.
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty   bool   `envconfig:"LOG_PRETTY" default:"true"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:""` // e.g. ":9090", empty disables
}

// Load reads configuration, first from a .env file if present, then from the
// environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// Pipeline maps the environment values onto the pipeline's own Config.
func (c *Config) Pipeline() pipeline.Config {
	p := pipeline.DefaultConfig()
	p.SampleRate = c.SampleRate
	p.Channels = c.Channels
	p.PeakThreshold = c.PeakThreshold
	p.EnergyThreshold = c.EnergyThreshold
	p.MinBufferBytes = c.MinBufferBytes
	p.MaxBufferBytes = c.MaxBufferBytes
	p.MinDispatchInterval = time.Duration(c.MinDispatchMs) * time.Millisecond
	p.MaxDispatchInterval = time.Duration(c.MaxDispatchMs) * time.Millisecond
	p.BackoffAfterFailures = c.BackoffAfterFailures
	p.VoiceBargeIn = c.VoiceBargeIn
	p.VoiceStyle = pipeline.Voice(c.Voice)
	p.Language = pipeline.Language(c.Language)
	p.Model = c.Model
	return p
}
