package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	InferenceTokensTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inference_tokens_total",
		Help: "The total number of tokens generated",
	})

	PrefillTokensTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prefill_tokens_total",
		Help: "The total number of prompt tokens consumed during prefill",
	})

	InferenceDuration = promauto.NewSummary(prometheus.SummaryOpts{
		Name: "inference_duration_seconds",
		Help: "Duration of generation calls",
	})

	TurnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_turns_total",
		Help: "Turns submitted to sessions, by outcome",
	}, []string{"outcome"})

	ContextResets = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_context_resets_total",
		Help: "Number of times a session's absolute position returned to zero",
	}, []string{"reason"})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sessions_active",
		Help: "Sessions currently held by the registry",
	})

	ValidationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "validation_errors_total",
		Help: "Total number of validation errors",
	}, []string{"operation", "error_type"})

	ContextLengthHistogram = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "context_length_tokens",
		Help:    "Distribution of absolute positions at the end of a turn",
		Buckets: []float64{100, 500, 1000, 2000, 4000, 8000},
	})

	SamplingTemperature = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sampling_temperature",
		Help:    "Temperature used for sampling",
		Buckets: []float64{0, 0.1, 0.5, 0.7, 1.0, 1.5, 2.0},
	})

	SamplingTopK = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sampling_top_k",
		Help:    "Top-K value used for sampling",
		Buckets: []float64{1, 5, 10, 20, 40, 100},
	})

	SamplingSeedReproducible = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sampling_seed_reproducible_total",
		Help: "Count of sampler reseeds to the deterministic seed",
	})

	TokenizerEncodeLength = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tokenizer_encode_length",
		Help:    "Length of encoded token sequences",
		Buckets: []float64{1, 10, 50, 100, 500, 1000, 2000},
	})

	TokenizerEncodeTime = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tokenizer_encode_time_seconds",
		Help:    "Time spent encoding text",
		Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 1.0},
	})

	TokenizerDecodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tokenizer_decode_errors_total",
		Help: "Tokens the tokenizer could not decode",
	})

	KVCacheTokens = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kv_cache_tokens",
		Help: "Tokens held by the most recently updated context cache",
	})

	KVCacheOutOfBounds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kv_cache_oob_total",
		Help: "Count of KV cache out-of-bounds accesses detected",
	})

	KVCacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kv_cache_evictions_total",
		Help: "Total number of KV cache evictions",
	})
)

func RecordInference(tokens int, duration time.Duration) {
	InferenceTokensTotal.Add(float64(tokens))
	InferenceDuration.Observe(duration.Seconds())
}

func RecordPrefill(tokens int) {
	PrefillTokensTotal.Add(float64(tokens))
}

// RecordTurn counts a finished or refused turn. outcome is one of complete,
// cancelled, budget_exceeded, decode_error, engine_error.
func RecordTurn(outcome string) {
	TurnsTotal.WithLabelValues(outcome).Inc()
}

func RecordContextReset(reason string) {
	ContextResets.WithLabelValues(reason).Inc()
}

func RecordValidationError(operation, errorType string) {
	ValidationErrors.WithLabelValues(operation, errorType).Inc()
}

func RecordContextLength(tokens int) {
	ContextLengthHistogram.Observe(float64(tokens))
}

func RecordSampling(temperature float64, topK int) {
	SamplingTemperature.Observe(temperature)
	SamplingTopK.Observe(float64(topK))
}

func RecordReseed() {
	SamplingSeedReproducible.Inc()
}

// RecordTokenizerEncode records tokenizer encoding metrics
func RecordTokenizerEncode(length int, encodeTime time.Duration) {
	TokenizerEncodeLength.Observe(float64(length))
	TokenizerEncodeTime.Observe(encodeTime.Seconds())
}

func RecordDecodeError() {
	TokenizerDecodeErrors.Inc()
}

func RecordKVCacheUsage(tokens int) {
	KVCacheTokens.Set(float64(tokens))
}

func RecordKVCacheOutOfBounds() {
	KVCacheOutOfBounds.Inc()
}

// RecordKVCacheEviction counts tokens dropped from a context cache.
func RecordKVCacheEviction(tokens int) {
	KVCacheEvictions.Add(float64(tokens))
}
