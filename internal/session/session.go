// Package session drives multi-turn generation against an engine. A Session
// owns the running context position, the sampler's random source and the
// transcript, and runs one turn at a time.
package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/23skdu/longbow-parley/internal/chat"
	"github.com/23skdu/longbow-parley/internal/config"
	"github.com/23skdu/longbow-parley/internal/engine"
	"github.com/23skdu/longbow-parley/internal/logger"
	"github.com/23skdu/longbow-parley/internal/metrics"
)

// DeterministicSeed is the value the sampler is reseeded to on every
// conversation reset when deterministic mode is on.
const DeterministicSeed = 42

// Engine is the generation backend a session drives.
type Engine interface {
	Encode(text string) ([]int, error)
	Decode(ids []int) (string, error)
	Generate(ctx context.Context, req engine.Request, fn engine.StreamFunc) error
	InstructionTuned() bool
	Reserved() engine.Reserved
}

type State int

const (
	StateIdle State = iota
	StateFormatting
	StateTokenized
	StateGenerating
	StateTurnComplete
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFormatting:
		return "formatting"
	case StateTokenized:
		return "tokenized"
	case StateGenerating:
		return "generating"
	case StateTurnComplete:
		return "turn_complete"
	default:
		return "unknown"
	}
}

// Turn is one entry of the transcript.
type Turn struct {
	RawPrompt  string
	Tokens     []int
	Response   string
	Generated  int
	EndedByEOS bool
	Cancelled  bool
}

// Result describes a finished turn.
type Result struct {
	Turn       int
	Response   string
	PromptLen  int
	Generated  int
	EndedByEOS bool
	Cancelled  bool

	// ContextReset is set when the turn ended the conversation and the
	// absolute position went back to zero.
	ContextReset bool
	AbsPos       int
	Duration     time.Duration
}

type Status struct {
	State     string   `json:"state"`
	AbsPos    int      `json:"abs_pos"`
	CurPos    int      `json:"cur_pos"`
	PromptLen int      `json:"prompt_len"`
	Turns     int      `json:"turns"`
	Prompts   []string `json:"prompt_history"`
	Responses []string `json:"response_history"`
}

type Option func(*Session)

// WithKeepCache lets the engine continue its cached context across turns
// instead of rebuilding it from the token stream.
func WithKeepCache(keep bool) Option {
	return func(s *Session) { s.keepCache = keep }
}

// WithPrefillHook registers a callback run for every prefill token.
func WithPrefillHook(fn func()) Option {
	return func(s *Session) { s.onPrefill = fn }
}

// WithSeed seeds the sampler when deterministic mode is off.
func WithSeed(seed int64) Option {
	return func(s *Session) { s.seed = seed }
}

type Session struct {
	store *config.Store
	eng   Engine
	pool  *engine.Pool
	log   *logger.Logger

	instructionTuned bool
	deterministic    bool
	multiturn        bool
	contextLimit     int
	keepCache        bool
	seed             int64
	onPrefill        func()

	busy   atomic.Bool
	closed atomic.Bool

	mu        sync.Mutex
	state     State
	absPos    int
	curPos    int
	promptLen int
	rng       *rand.Rand
	history   []Turn
}

// New creates a session over a validated store. The store is frozen; later
// changes must go through a new session.
func New(store *config.Store, eng Engine, opts ...Option) (*Session, error) {
	if store == nil || eng == nil {
		return nil, errors.New("session requires a config store and an engine")
	}
	if err := store.Validate(); err != nil {
		metrics.RecordValidationError("create", "config")
		return nil, err
	}
	store.Freeze()

	s := &Session{
		store:            store,
		eng:              eng,
		pool:             engine.NewPool(int(store.Int("num_threads"))),
		log:              logger.Log.With("session"),
		instructionTuned: eng.InstructionTuned(),
		deterministic:    store.Bool("deterministic"),
		multiturn:        store.Bool("multiturn"),
		contextLimit:     int(store.Int("max_tokens")),
		seed:             time.Now().UnixNano(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.deterministic {
		s.rng = rand.New(rand.NewSource(DeterministicSeed))
	} else {
		s.rng = rand.New(rand.NewSource(s.seed))
	}

	metrics.RecordSampling(store.Real("temperature"), int(store.Int("top_k")))
	s.log.Debug("session created",
		"instruction_tuned", s.instructionTuned,
		"deterministic", s.deterministic,
		"multiturn", s.multiturn,
		"context_limit", s.contextLimit,
		"workers", s.pool.Workers())
	return s, nil
}

func (s *Session) enter() error {
	if s.closed.Load() {
		return ErrClosed
	}
	if !s.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	return nil
}

func (s *Session) leave() { s.busy.Store(false) }

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// reseed must be called with mu held.
func (s *Session) reseed() {
	if s.deterministic {
		s.rng.Seed(DeterministicSeed)
		metrics.RecordReseed()
	}
}

// Submit runs one turn. Response text is passed to emit as it is decoded;
// emit may be nil. A turn cancelled by emit or ctx is not an error: the
// partial response is kept and Result.Cancelled is set.
func (s *Session) Submit(ctx context.Context, raw string, emit EmitFunc) (Result, error) {
	if err := s.enter(); err != nil {
		return Result{}, err
	}
	defer s.leave()

	start := time.Now()

	s.mu.Lock()
	turn := len(s.history)
	if s.absPos >= s.contextLimit {
		absPos := s.absPos
		s.mu.Unlock()
		metrics.RecordTurn("budget_exceeded")
		s.log.Warn("turn refused", "turn", turn, "abs_pos", absPos, "max_tokens", s.contextLimit)
		return Result{Turn: turn, AbsPos: absPos}, fmt.Errorf("%w: abs_pos %d, max_tokens %d",
			ErrContextBudgetExceeded, absPos, s.contextLimit)
	}
	s.state = StateFormatting
	s.curPos = 0
	absPos := s.absPos
	s.mu.Unlock()

	formatted := chat.Format(raw, absPos, s.instructionTuned)
	tokens, err := s.eng.Encode(formatted)
	if err != nil {
		s.setState(StateIdle)
		metrics.RecordDecodeError()
		metrics.RecordTurn("decode_error")
		s.log.Error("turn abandoned", "turn", turn, "err", err)
		return Result{Turn: turn, AbsPos: absPos}, &DecodeError{Turn: turn, Token: PromptToken, Err: err}
	}
	reserved := s.eng.Reserved()
	if absPos == 0 {
		tokens = append([]int{reserved.BOS}, tokens...)
	}

	s.mu.Lock()
	s.promptLen = len(tokens)
	s.state = StateTokenized
	s.mu.Unlock()

	k := &sink{ctx: ctx, s: s, turn: turn, eos: reserved.EOS, emit: emit}
	req := engine.Request{
		Tokens:    tokens,
		StartPos:  absPos,
		RNG:       s.rng,
		Pool:      s.pool,
		KeepCache: s.keepCache,
	}

	s.setState(StateGenerating)
	genErr := s.eng.Generate(ctx, req, k.consume)
	s.setState(StateTurnComplete)

	return s.complete(turn, raw, tokens, k, genErr, time.Since(start))
}

func (s *Session) complete(turn int, raw string, tokens []int, k *sink, genErr error, elapsed time.Duration) (res Result, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res = Result{
		Turn:      turn,
		PromptLen: len(tokens),
		Generated: k.generated,
		Duration:  elapsed,
	}
	defer func() {
		s.curPos = 0
		s.state = StateIdle
		res.AbsPos = s.absPos
		metrics.RecordContextLength(s.absPos)
	}()

	if k.err != nil {
		metrics.RecordDecodeError()
		metrics.RecordTurn("decode_error")
		s.log.Error("turn abandoned", "turn", turn, "err", k.err)
		return res, k.err
	}

	cancelled := k.cancelled || errors.Is(genErr, engine.ErrCancelled)
	if genErr != nil && !cancelled {
		metrics.RecordTurn("engine_error")
		s.log.Error("generation failed", "turn", turn, "err", genErr)
		return res, fmt.Errorf("turn %d: generation failed: %w", turn, genErr)
	}

	res.Response = k.response.String()
	res.EndedByEOS = k.sawEOS
	res.Cancelled = cancelled && !k.sawEOS

	s.history = append(s.history, Turn{
		RawPrompt:  raw,
		Tokens:     tokens,
		Response:   res.Response,
		Generated:  k.generated,
		EndedByEOS: res.EndedByEOS,
		Cancelled:  res.Cancelled,
	})

	if res.EndedByEOS && !s.multiturn {
		s.absPos = 0
		s.reseed()
		res.ContextReset = true
		metrics.RecordContextReset("eos")
	}

	if res.Cancelled {
		metrics.RecordTurn("cancelled")
	} else {
		metrics.RecordTurn("complete")
	}
	s.log.Debug("turn complete",
		"turn", turn,
		"prompt_len", len(tokens),
		"generated", k.generated,
		"abs_pos", s.absPos,
		"eos", res.EndedByEOS,
		"cancelled", res.Cancelled)
	return res, nil
}

// ClearContext starts a new conversation context while keeping the
// transcript.
func (s *Session) ClearContext() error {
	if err := s.enter(); err != nil {
		return err
	}
	defer s.leave()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.absPos = 0
	s.curPos = 0
	s.reseed()
	metrics.RecordContextReset("clear")
	return nil
}

// Reset clears the transcript and all positions. Configuration is kept.
func (s *Session) Reset() error {
	if err := s.enter(); err != nil {
		return err
	}
	defer s.leave()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
	s.absPos = 0
	s.curPos = 0
	s.promptLen = 0
	s.reseed()
	metrics.RecordContextReset("reset")
	return nil
}

// Status may be called while a turn is running.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		State:     s.state.String(),
		AbsPos:    s.absPos,
		CurPos:    s.curPos,
		PromptLen: s.promptLen,
		Turns:     len(s.history),
		Prompts:   make([]string, 0, len(s.history)),
		Responses: make([]string, 0, len(s.history)),
	}
	for _, t := range s.history {
		st.Prompts = append(st.Prompts, t.RawPrompt)
		st.Responses = append(st.Responses, t.Response)
	}
	return st
}

// History returns a copy of the transcript.
func (s *Session) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Turn, len(s.history))
	for i, t := range s.history {
		t.Tokens = append([]int(nil), t.Tokens...)
		out[i] = t
	}
	return out
}

// EffectiveConfig lists the options that differ from their defaults.
func (s *Session) EffectiveConfig() map[string]string {
	diff := s.store.Diff()
	out := make(map[string]string, len(diff))
	for name, v := range diff {
		out[name] = v.String()
	}
	return out
}

func (s *Session) Config() *config.Store { return s.store }

// Close releases the worker pool. Later calls fail with ErrClosed.
func (s *Session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.pool.Close()
	return nil
}
