package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordInference(t *testing.T) {
	before := testutil.ToFloat64(InferenceTokensTotal)
	RecordInference(5, 50*time.Millisecond)
	RecordInference(10, 100*time.Millisecond)

	if got := testutil.ToFloat64(InferenceTokensTotal) - before; got != 15 {
		t.Errorf("expected 15 tokens recorded, got %v", got)
	}
}

func TestRecordTurn(t *testing.T) {
	tests := []string{"complete", "cancelled", "budget_exceeded", "decode_error"}
	for _, outcome := range tests {
		t.Run(outcome, func(t *testing.T) {
			c := TurnsTotal.WithLabelValues(outcome)
			before := testutil.ToFloat64(c)
			RecordTurn(outcome)
			if got := testutil.ToFloat64(c) - before; got != 1 {
				t.Errorf("expected one %s turn, got %v", outcome, got)
			}
		})
	}
}

func TestRecordContextReset(t *testing.T) {
	c := ContextResets.WithLabelValues("eos")
	before := testutil.ToFloat64(c)
	RecordContextReset("eos")
	if got := testutil.ToFloat64(c) - before; got != 1 {
		t.Errorf("expected one reset, got %v", got)
	}
}

func TestRecordReseed(t *testing.T) {
	before := testutil.ToFloat64(SamplingSeedReproducible)
	RecordReseed()
	if got := testutil.ToFloat64(SamplingSeedReproducible) - before; got != 1 {
		t.Errorf("expected one reseed, got %v", got)
	}
}

func TestRecordDecodeError(t *testing.T) {
	before := testutil.ToFloat64(TokenizerDecodeErrors)
	RecordDecodeError()
	if got := testutil.ToFloat64(TokenizerDecodeErrors) - before; got != 1 {
		t.Errorf("expected one decode error, got %v", got)
	}
}

func TestObservationsDoNotPanic(t *testing.T) {
	RecordPrefill(32)
	RecordValidationError("create", "num_threads")
	RecordContextLength(512)
	RecordSampling(0.7, 40)
	RecordTokenizerEncode(12, time.Millisecond)
}

func TestKVCacheMetrics(t *testing.T) {
	RecordKVCacheUsage(12)
	if got := testutil.ToFloat64(KVCacheTokens); got != 12 {
		t.Errorf("expected 12 cached tokens, got %v", got)
	}

	before := testutil.ToFloat64(KVCacheEvictions)
	RecordKVCacheEviction(3)
	if got := testutil.ToFloat64(KVCacheEvictions) - before; got != 3 {
		t.Errorf("expected 3 evictions, got %v", got)
	}
}
