package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/23skdu/longbow-parley/internal/config"
	"github.com/23skdu/longbow-parley/internal/logger"
	"github.com/23skdu/longbow-parley/internal/metrics"
	"github.com/23skdu/longbow-parley/internal/tokenizer"
)

const (
	// eosRamp raises the end-of-sequence logit per generated token so that
	// responses terminate.
	eosRamp = 0.05

	blockedLogit = -1e9
)

type Options struct {
	MaxTokens          int
	MaxGeneratedTokens int
	InstructionTuned   bool
	Sampler            SamplerConfig
}

// OptionsFromConfig reads the engine settings out of a validated store.
func OptionsFromConfig(s *config.Store) Options {
	return Options{
		MaxTokens:          int(s.Int("max_tokens")),
		MaxGeneratedTokens: int(s.Int("max_generated_tokens")),
		InstructionTuned:   s.InstructionTuned(),
		Sampler: SamplerConfig{
			Temperature: s.Real("temperature"),
			TopK:        int(s.Int("top_k")),
			TopP:        s.Real("top_p"),
			RepPenalty:  s.Real("repetition_penalty"),
		},
	}
}

// Reference is a scores-only backend: logits are the vocabulary scores plus
// a per-token bias table. It follows the generation contract of the full
// engine so the session layer can be run end to end without it.
type Reference struct {
	tok     *tokenizer.Tokenizer
	bias    []float32
	sampler *Sampler
	opts    Options

	cache KVCache
}

func NewReference(tok *tokenizer.Tokenizer, bias []float32, opts Options) *Reference {
	if len(bias) < tok.VocabSize() {
		padded := make([]float32, tok.VocabSize())
		copy(padded, bias)
		bias = padded
	}
	return &Reference{
		tok:     tok,
		bias:    bias,
		sampler: NewSampler(opts.Sampler),
		opts:    opts,
		cache:   NewSliceKVCache(opts.MaxTokens),
	}
}

// Open loads the tokenizer and bias table named by the store.
func Open(s *config.Store) (*Reference, error) {
	tok, err := tokenizer.New(s.Text("tokenizer"))
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}
	bias, err := LoadWeights(s.Text("compressed_weights"), tok.VocabSize())
	if err != nil {
		return nil, fmt.Errorf("failed to load weights: %w", err)
	}
	logger.Log.Info("reference engine initialized",
		"vocab", tok.VocabSize(), "model", s.Text("model"), "precision", s.Precision().String())
	return NewReference(tok, bias, OptionsFromConfig(s)), nil
}

// LoadWeights reads one float per line; line i is the bias of token i.
// Missing trailing lines are zero.
func LoadWeights(path string, vocab int) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	bias := make([]float32, vocab)
	sc := bufio.NewScanner(f)
	id := 0
	for sc.Scan() {
		text := strings.TrimSpace(sc.Text())
		if id >= vocab {
			if text == "" {
				continue
			}
			return nil, fmt.Errorf("weights file has more than %d entries", vocab)
		}
		if text != "" {
			v, err := strconv.ParseFloat(text, 32)
			if err != nil {
				return nil, fmt.Errorf("weights line %d: %w", id+1, err)
			}
			bias[id] = float32(v)
		}
		id++
	}
	return bias, sc.Err()
}

func (r *Reference) Encode(text string) ([]int, error) { return r.tok.Encode(text) }

func (r *Reference) Decode(ids []int) (string, error) { return r.tok.Decode(ids) }

func (r *Reference) InstructionTuned() bool { return r.opts.InstructionTuned }

func (r *Reference) Reserved() Reserved {
	return Reserved{BOS: tokenizer.BOSID, EOS: tokenizer.EOSID}
}

// Generate feeds every prompt token except the last through fn as prefill,
// then samples until end-of-sequence, the generation budget, the context
// window, cancellation by fn, or ctx is done.
func (r *Reference) Generate(ctx context.Context, req Request, fn StreamFunc) error {
	if len(req.Tokens) == 0 {
		return errors.New("empty prompt")
	}
	if req.RNG == nil || req.Pool == nil {
		return errors.New("generate requires an rng and a pool")
	}

	r.syncCache(req)

	start := time.Now()
	pos := req.StartPos
	last := len(req.Tokens) - 1

	for _, tok := range req.Tokens[:last] {
		if pos >= r.opts.MaxTokens {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrCancelled, err)
		}
		if err := r.cache.Append(tok); err != nil {
			return err
		}
		pos++
		if !fn(tok, 0) {
			return ErrCancelled
		}
	}
	metrics.RecordPrefill(last)

	cur := req.Tokens[last]
	generated := 0
	defer func() {
		metrics.RecordInference(generated, time.Since(start))
	}()

	for generated < r.opts.MaxGeneratedTokens && pos < r.opts.MaxTokens {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrCancelled, err)
		}
		if err := r.cache.Append(cur); err != nil {
			return err
		}

		logits, err := r.logits(ctx, req.Pool, generated)
		if err != nil {
			return err
		}
		if generated == 0 {
			if audit := AuditLogits(logits); !audit.Healthy() {
				logger.Log.Warn("unhealthy logits", "audit", audit.String())
			}
		}
		next := r.sampler.Sample(logits, r.cache.Tokens(), req.RNG)
		score := logits[next]

		generated++
		pos++
		if !fn(next, score) {
			return ErrCancelled
		}
		if next == tokenizer.EOSID {
			return nil
		}
		cur = next
	}
	return nil
}

func (r *Reference) syncCache(req Request) {
	if !req.KeepCache || req.StartPos == 0 {
		r.cache.Reset()
		return
	}
	if req.StartPos != r.cache.Len() {
		logger.Log.Warn("cache position mismatch, truncating",
			"start_pos", req.StartPos, "cached", r.cache.Len())
		r.cache.Truncate(req.StartPos)
	}
}

func (r *Reference) logits(ctx context.Context, pool *Pool, generated int) ([]float32, error) {
	vocab := r.tok.VocabSize()
	out := make([]float32, vocab)
	err := pool.Run(ctx, vocab, func(lo, hi int) error {
		for i := lo; i < hi; i++ {
			out[i] = r.tok.Scores[i] + r.bias[i]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out[tokenizer.PadID] = blockedLogit
	out[tokenizer.BOSID] = blockedLogit
	out[tokenizer.UnkID] = blockedLogit
	out[tokenizer.EOSID] += eosRamp * float32(generated)
	return out, nil
}
