// Package metrics exposes Prometheus instrumentation for the streaming
// conversational pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transcriptionRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "talkflow_transcription_requests_total",
		Help: "Total transcription dispatches by status",
	}, []string{"status"})

	transcriptionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "talkflow_transcription_latency_seconds",
		Help:    "Transcription request latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	generationDeltas = promauto.NewCounter(prometheus.CounterOpts{
		Name: "talkflow_generation_deltas_total",
		Help: "Total text deltas received from generation streams",
	})

	generationStreams = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "talkflow_generation_streams_total",
		Help: "Total generation streams by outcome",
	}, []string{"status"})

	sentencesSegmented = promauto.NewCounter(prometheus.CounterOpts{
		Name: "talkflow_sentences_segmented_total",
		Help: "Total sentences emitted by the segmenter",
	})

	synthesisRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "talkflow_synthesis_requests_total",
		Help: "Total synthesis requests by status",
	}, []string{"status"})

	synthesisLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "talkflow_synthesis_latency_seconds",
		Help:    "Synthesis request latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	playbackDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "talkflow_playback_queue_depth",
		Help: "Clips currently waiting in the playback queue",
	})

	bargeIns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "talkflow_barge_ins_total",
		Help: "Total user interruptions of assistant speech",
	})

	turns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "talkflow_turns_total",
		Help: "Total conversation turns by outcome",
	}, []string{"outcome"})
)

func ObserveTranscription(status string, d time.Duration) {
	transcriptionRequests.WithLabelValues(status).Inc()
	transcriptionLatency.Observe(d.Seconds())
}

func IncGenerationDelta() {
	generationDeltas.Inc()
}

func ObserveGenerationStream(status string) {
	generationStreams.WithLabelValues(status).Inc()
}

func IncSentence() {
	sentencesSegmented.Inc()
}

func ObserveSynthesis(status string, d time.Duration) {
	synthesisRequests.WithLabelValues(status).Inc()
	synthesisLatency.Observe(d.Seconds())
}

func SetPlaybackDepth(n int) {
	playbackDepth.Set(float64(n))
}

func IncBargeIn() {
	bargeIns.Inc()
}

func ObserveTurn(outcome string) {
	turns.WithLabelValues(outcome).Inc()
}
