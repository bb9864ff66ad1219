package engine

import (
	"math"
	"math/rand"
	"sort"
)

// penaltyWindow is how many trailing context tokens the repetition penalty
// looks at.
const penaltyWindow = 64

// minProb drops candidates whose probability underflows after softmax.
const minProb = 1e-10

type SamplerConfig struct {
	Temperature float64
	TopK        int
	TopP        float64
	RepPenalty  float64 // 1.0 = no penalty, > 1.0 = penalty
}

// Sampler picks the next token from logits. It holds no random state; the
// caller supplies the generator so that reseeding stays with its owner.
type Sampler struct {
	Config SamplerConfig
}

func NewSampler(cfg SamplerConfig) *Sampler {
	return &Sampler{Config: cfg}
}

type candidate struct {
	id   int
	prob float64
}

// Sample returns a token id. logits is modified in place by the repetition
// penalty. A vector holding NaN or Inf yields its first finite entry.
func (s *Sampler) Sample(logits []float32, history []int, rng *rand.Rand) int {
	if i, ok := firstNonFinite(logits); ok {
		return firstFinite(logits, i)
	}
	if s.Config.RepPenalty > 1.0 {
		penalize(logits, history, s.Config.RepPenalty)
	}
	if s.Config.Temperature == 0 || s.Config.TopK == 1 {
		return greedy(logits)
	}

	cands := softmax(logits, s.Config.Temperature)
	if len(cands) == 0 {
		return greedy(logits)
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].prob > cands[j].prob })
	if k := s.Config.TopK; k > 0 && k < len(cands) {
		cands = cands[:k]
	}
	cands = nucleus(cands, s.Config.TopP)
	return draw(cands, rng)
}

func firstNonFinite(logits []float32) (int, bool) {
	for i, v := range logits {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return i, true
		}
	}
	return 0, false
}

// firstFinite scans from the start; bad is a known non-finite index.
func firstFinite(logits []float32, bad int) int {
	for i, v := range logits {
		if i != bad && !math.IsNaN(float64(v)) && !math.IsInf(float64(v), 0) {
			return i
		}
	}
	return 0
}

// penalize shrinks the logits of tokens seen in the trailing window. Each
// distinct token is penalised once.
func penalize(logits []float32, history []int, penalty float64) {
	if len(history) > penaltyWindow {
		history = history[len(history)-penaltyWindow:]
	}
	p := float32(penalty)
	seen := make(map[int]bool, len(history))
	for _, id := range history {
		if seen[id] || id < 0 || id >= len(logits) {
			continue
		}
		seen[id] = true
		if logits[id] > 0 {
			logits[id] /= p
		} else {
			logits[id] *= p
		}
	}
}

// greedy returns the index of the largest logit, the lowest index on ties.
func greedy(logits []float32) int {
	best := 0
	for i, v := range logits {
		if v > logits[best] {
			best = i
		}
	}
	return best
}

// softmax returns the tokens whose tempered probability is above minProb.
func softmax(logits []float32, temperature float64) []candidate {
	peak := math.Inf(-1)
	for _, v := range logits {
		peak = math.Max(peak, float64(v)/temperature)
	}

	weights := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		weights[i] = math.Exp(float64(v)/temperature - peak)
		sum += weights[i]
	}

	cands := make([]candidate, 0, len(logits))
	for i, w := range weights {
		if p := w / sum; p > minProb {
			cands = append(cands, candidate{id: i, prob: p})
		}
	}
	return cands
}

// nucleus keeps the shortest prefix of sorted candidates whose mass reaches
// p. p outside (0, 1) disables it.
func nucleus(cands []candidate, p float64) []candidate {
	if p <= 0 || p >= 1 {
		return cands
	}
	var mass float64
	for i, c := range cands {
		mass += c.prob
		if mass >= p {
			return cands[:i+1]
		}
	}
	return cands
}

// draw samples proportionally to prob; the candidates need not be
// normalised.
func draw(cands []candidate, rng *rand.Rand) int {
	var total float64
	for _, c := range cands {
		total += c.prob
	}
	r := rng.Float64() * total
	for _, c := range cands {
		r -= c.prob
		if r < 0 {
			return c.id
		}
	}
	return cands[len(cands)-1].id
}
