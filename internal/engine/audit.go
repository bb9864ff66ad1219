package engine

import (
	"fmt"
	"math"
)

// LogitAudit summarises one logit vector. Blocked entries are counted but
// left out of the statistics.
type LogitAudit struct {
	Max     float32
	Min     float32
	Mean    float32
	RMS     float32
	NumNaNs int
	NumInfs int
	Blocked int
	IsFlat  bool
}

// AuditLogits inspects a logit vector for non-finite values and for a
// distribution too flat to sample from meaningfully.
func AuditLogits(logits []float32) LogitAudit {
	var a LogitAudit
	var sum, sumSq float64
	var n int
	a.Min, a.Max = math.MaxFloat32, -math.MaxFloat32

	for _, v := range logits {
		switch {
		case math.IsNaN(float64(v)):
			a.NumNaNs++
			continue
		case math.IsInf(float64(v), 0):
			a.NumInfs++
			continue
		case v <= blockedLogit:
			a.Blocked++
			continue
		}
		a.Min = min(a.Min, v)
		a.Max = max(a.Max, v)
		sum += float64(v)
		sumSq += float64(v) * float64(v)
		n++
	}
	if n == 0 {
		a.Min, a.Max = 0, 0
		return a
	}

	a.Mean = float32(sum / float64(n))
	a.RMS = float32(math.Sqrt(sumSq / float64(n)))
	a.IsFlat = n > 1 && a.Max-a.Min < 1e-6
	return a
}

// Healthy reports whether every unblocked logit is finite and the
// distribution is not flat.
func (a LogitAudit) Healthy() bool {
	return a.NumNaNs == 0 && a.NumInfs == 0 && !a.IsFlat
}

func (a LogitAudit) String() string {
	return fmt.Sprintf("LogitAudit{max=%.4f, min=%.4f, mean=%.4f, rms=%.4f, nan=%d, inf=%d, blocked=%d, flat=%v}",
		a.Max, a.Min, a.Mean, a.RMS, a.NumNaNs, a.NumInfs, a.Blocked, a.IsFlat)
}
