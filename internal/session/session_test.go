package session

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"unicode"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-parley/internal/chat"
	"github.com/23skdu/longbow-parley/internal/config"
	"github.com/23skdu/longbow-parley/internal/engine"
)

const (
	testEOS   = 1
	testBOS   = 2
	textToken = 1000
)

// scriptedEngine encodes every rune as one token, replays the prompt as
// prefill and then streams a fixed script of generated tokens.
type scriptedEngine struct {
	mu          sync.Mutex
	instruction bool
	pieces      map[int]string
	script      []int
	genErr      error
	encErr      error

	// random replaces script with n tokens drawn from the request rng.
	random int

	encoded  []string
	requests []engine.Request
}

func newScripted(script []int, pieces map[int]string) *scriptedEngine {
	return &scriptedEngine{instruction: true, script: script, pieces: pieces}
}

func (e *scriptedEngine) Encode(text string) ([]int, error) {
	e.mu.Lock()
	e.encoded = append(e.encoded, text)
	e.mu.Unlock()
	if e.encErr != nil {
		return nil, e.encErr
	}
	ids := make([]int, 0, len(text))
	for range text {
		ids = append(ids, textToken)
	}
	return ids, nil
}

func (e *scriptedEngine) Decode(ids []int) (string, error) {
	var sb strings.Builder
	for _, id := range ids {
		p, ok := e.pieces[id]
		if !ok {
			return "", errors.New("unknown id")
		}
		sb.WriteString(p)
	}
	return sb.String(), nil
}

func (e *scriptedEngine) InstructionTuned() bool { return e.instruction }

func (e *scriptedEngine) Reserved() engine.Reserved {
	return engine.Reserved{BOS: testBOS, EOS: testEOS}
}

func (e *scriptedEngine) Generate(ctx context.Context, req engine.Request, fn engine.StreamFunc) error {
	e.mu.Lock()
	e.requests = append(e.requests, req)
	e.mu.Unlock()

	if e.genErr != nil {
		return e.genErr
	}
	for _, tok := range req.Tokens[:len(req.Tokens)-1] {
		if !fn(tok, 0) {
			return engine.ErrCancelled
		}
	}
	script := e.script
	if e.random > 0 {
		script = make([]int, 0, e.random+1)
		for i := 0; i < e.random; i++ {
			script = append(script, 5+req.RNG.Intn(4))
		}
		script = append(script, testEOS)
	}
	for _, tok := range script {
		if ctx.Err() != nil {
			return engine.ErrCancelled
		}
		if !fn(tok, 0) {
			return engine.ErrCancelled
		}
		if tok == testEOS {
			return nil
		}
	}
	return nil
}

func (e *scriptedEngine) lastRequest() engine.Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.requests[len(e.requests)-1]
}

func newStore(t *testing.T, overrides map[string]string) *config.Store {
	t.Helper()
	dir := t.TempDir()
	opts := map[string]string{}
	for _, name := range []string{"tokenizer", "compressed_weights"} {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
		opts[name] = p
	}
	opts["num_threads"] = "2"
	for k, v := range overrides {
		opts[k] = v
	}
	store, err := config.New(opts)
	require.NoError(t, err)
	return store
}

func newSession(t *testing.T, eng Engine, overrides map[string]string, opts ...Option) *Session {
	t.Helper()
	s, err := New(newStore(t, overrides), eng, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var wordPieces = map[int]string{5: "\n", 6: "Hi", 7: "!", 8: " there", 9: " world"}

func TestScenarioFirstTurnResets(t *testing.T) {
	tests := []struct {
		name   string
		pieces map[int]string
		want   string
	}{
		{"leading newline fragment is dropped", map[int]string{5: "\n", 9: " world"}, "world"},
		{"space kept after first fragment", map[int]string{5: "Hi", 9: " world"}, "Hi world"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := newScripted([]int{5, 9, testEOS}, tt.pieces)
			s := newSession(t, eng, map[string]string{"deterministic": "true"})

			// advance the generator so the reseed is observable
			s.rng.Int63()

			res, err := s.Submit(context.Background(), "Hello", nil)
			require.NoError(t, err)

			assert.Equal(t, tt.want, res.Response)
			assert.True(t, res.EndedByEOS)
			assert.True(t, res.ContextReset)
			assert.Equal(t, 0, res.AbsPos)
			assert.Equal(t, 0, s.Status().AbsPos)
			assert.Equal(t, rand.New(rand.NewSource(DeterministicSeed)).Int63(), s.rng.Int63())
		})
	}
}

func TestMultiturnKeepsPosition(t *testing.T) {
	eng := newScripted([]int{6, testEOS}, wordPieces)
	s := newSession(t, eng, map[string]string{"multiturn": "true"})

	first, err := s.Submit(context.Background(), "Hi", nil)
	require.NoError(t, err)
	assert.False(t, first.ContextReset)
	// prefill P-1 tokens, then one text token and eos
	assert.Equal(t, first.PromptLen+1, first.AbsPos)

	_, err = s.Submit(context.Background(), "again", nil)
	require.NoError(t, err)
	req := eng.lastRequest()
	assert.Equal(t, first.AbsPos, req.StartPos)
	assert.NotEqual(t, testBOS, req.Tokens[0])
}

func TestContextStartMarker(t *testing.T) {
	eng := newScripted([]int{6, testEOS}, wordPieces)
	s := newSession(t, eng, map[string]string{"multiturn": "true"})

	_, err := s.Submit(context.Background(), "Hi", nil)
	require.NoError(t, err)
	first := eng.lastRequest()
	assert.Equal(t, testBOS, first.Tokens[0])
	assert.Equal(t, 0, first.StartPos)
	assert.Equal(t, 1, strings.Count(eng.encoded[0], chat.StartOfTurn+"user"))
	assert.False(t, strings.HasPrefix(eng.encoded[0], chat.EndOfTurn))

	_, err = s.Submit(context.Background(), "Hi", nil)
	require.NoError(t, err)
	second := eng.lastRequest()
	assert.NotEqual(t, testBOS, second.Tokens[0])
	assert.Greater(t, second.StartPos, 0)
	assert.True(t, strings.HasPrefix(eng.encoded[1], chat.EndOfTurn))

	require.NoError(t, s.ClearContext())
	_, err = s.Submit(context.Background(), "Hi", nil)
	require.NoError(t, err)
	assert.Equal(t, testBOS, eng.lastRequest().Tokens[0])
	assert.Len(t, s.History(), 3)
}

func TestPretrainedPassthrough(t *testing.T) {
	eng := newScripted([]int{6, testEOS}, wordPieces)
	eng.instruction = false
	s := newSession(t, eng, map[string]string{"model": "2b-pt"})

	_, err := s.Submit(context.Background(), "raw text", nil)
	require.NoError(t, err)
	assert.Equal(t, "raw text", eng.encoded[0])
	assert.Len(t, eng.lastRequest().Tokens, len("raw text")+1)
}

func TestCurPosPerTurn(t *testing.T) {
	eng := newScripted([]int{6, 8, 7, testEOS}, wordPieces)
	s := newSession(t, eng, map[string]string{"multiturn": "true"})

	for turn := 0; turn < 3; turn++ {
		var seen []Status
		res, err := s.Submit(context.Background(), "Hi", func(string) bool {
			seen = append(seen, s.Status())
			return true
		})
		require.NoError(t, err)
		require.Len(t, seen, 3)

		assert.Equal(t, res.PromptLen, seen[0].CurPos, "first generated token sits at prompt_len")
		for i := 1; i < len(seen); i++ {
			assert.Equal(t, seen[i-1].CurPos+1, seen[i].CurPos)
		}
		assert.Equal(t, "generating", seen[0].State)
		assert.Equal(t, 0, s.Status().CurPos)
		assert.Equal(t, "idle", s.Status().State)
	}
}

func TestFirstFragmentNeverWhitespace(t *testing.T) {
	tests := []struct {
		name   string
		pieces map[int]string
		script []int
		first  string
		want   string
	}{
		{"newline then word", map[int]string{5: "\n", 6: "ok"}, []int{5, 6, testEOS}, "ok", "ok"},
		{"leading spaces", map[int]string{5: "  ok", 6: " go"}, []int{5, 6, testEOS}, "ok", "ok go"},
		{"tabs and newlines", map[int]string{5: "\t\n", 6: "\n", 7: " x"}, []int{5, 6, 7, testEOS}, "x", "x"},
		{"only whitespace", map[int]string{5: " "}, []int{5, 5, testEOS}, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSession(t, newScripted(tt.script, tt.pieces), nil)

			var fragments []string
			res, err := s.Submit(context.Background(), "Hi", func(f string) bool {
				fragments = append(fragments, f)
				return true
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Response)
			if tt.first == "" {
				assert.Empty(t, fragments)
				return
			}
			require.NotEmpty(t, fragments)
			assert.Equal(t, tt.first, fragments[0])
			assert.False(t, unicode.IsSpace(rune(fragments[0][0])))
		})
	}
}

func TestDecodeErrorDiscardsTurn(t *testing.T) {
	eng := newScripted([]int{6, testEOS}, wordPieces)
	s := newSession(t, eng, nil)

	_, err := s.Submit(context.Background(), "one", nil)
	require.NoError(t, err)

	eng.script = []int{6, 99, testEOS}
	var fragments []string
	_, err = s.Submit(context.Background(), "two", func(f string) bool {
		fragments = append(fragments, f)
		return true
	})
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, 1, de.Turn)
	assert.Equal(t, 99, de.Token)
	assert.Equal(t, []string{"Hi"}, fragments)

	eng.script = []int{8, testEOS}
	res, err := s.Submit(context.Background(), "three", nil)
	require.NoError(t, err)
	assert.Equal(t, "there", res.Response)

	hist := s.History()
	require.Len(t, hist, 2)
	assert.Equal(t, "one", hist[0].RawPrompt)
	assert.Equal(t, "three", hist[1].RawPrompt)
	assert.Equal(t, "idle", s.Status().State)
}

func TestDeterministicHistoriesMatch(t *testing.T) {
	turns := []string{"first", "second", "third"}

	run := func(multiturn string) []Turn {
		eng := newScripted(nil, map[int]string{5: "a", 6: "b", 7: "c", 8: "d"})
		eng.random = 12
		s := newSession(t, eng, map[string]string{"deterministic": "true", "multiturn": multiturn})
		for _, p := range turns {
			_, err := s.Submit(context.Background(), p, nil)
			require.NoError(t, err)
		}
		return s.History()
	}

	for _, mt := range []string{"false", "true"} {
		t.Run("multiturn="+mt, func(t *testing.T) {
			a, b := run(mt), run(mt)
			require.Len(t, a, len(turns))
			assert.Equal(t, a, b)
		})
	}

	// without multiturn every turn starts from the reseeded generator
	h := run("false")
	assert.Equal(t, h[0].Response, h[1].Response)
}

func TestResetIdempotent(t *testing.T) {
	eng := newScripted([]int{6, 7}, wordPieces)
	s := newSession(t, eng, map[string]string{"multiturn": "true"})

	for i := 0; i < 2; i++ {
		_, err := s.Submit(context.Background(), "Hi", nil)
		require.NoError(t, err)
	}
	require.NotZero(t, s.Status().AbsPos)

	require.NoError(t, s.Reset())
	once := s.Status()
	require.NoError(t, s.Reset())
	twice := s.Status()

	assert.Equal(t, once, twice)
	assert.Equal(t, 0, twice.AbsPos)
	assert.Equal(t, 0, twice.CurPos)
	assert.Equal(t, 0, twice.Turns)
	assert.Empty(t, s.History())
}

func TestContextBudgetExceeded(t *testing.T) {
	eng := newScripted([]int{6, 7}, wordPieces)
	s := newSession(t, eng, map[string]string{
		"multiturn":            "true",
		"max_tokens":           "16",
		"max_generated_tokens": "4",
	})

	_, err := s.Submit(context.Background(), "a long enough prompt", nil)
	require.NoError(t, err)
	require.GreaterOrEqual(t, s.Status().AbsPos, 16)

	calls := len(eng.requests)
	_, err = s.Submit(context.Background(), "again", nil)
	require.ErrorIs(t, err, ErrContextBudgetExceeded)
	assert.Len(t, eng.requests, calls, "engine must not be called")
	assert.Len(t, s.History(), 1)

	require.NoError(t, s.ClearContext())
	_, err = s.Submit(context.Background(), "again", nil)
	require.NoError(t, err)
	assert.Len(t, s.History(), 2)
}

func TestCancelledTurnKeepsPartialResponse(t *testing.T) {
	t.Run("emit returns false", func(t *testing.T) {
		s := newSession(t, newScripted([]int{6, 8, 7, testEOS}, wordPieces), nil)

		res, err := s.Submit(context.Background(), "Hi", func(f string) bool { return f != " there" })
		require.NoError(t, err)
		assert.True(t, res.Cancelled)
		assert.False(t, res.ContextReset)
		assert.Equal(t, "Hi there", res.Response)

		hist := s.History()
		require.Len(t, hist, 1)
		assert.True(t, hist[0].Cancelled)
		assert.Equal(t, "Hi there", hist[0].Response)
	})

	t.Run("context cancelled", func(t *testing.T) {
		s := newSession(t, newScripted([]int{6, 8, 7, testEOS}, wordPieces), nil)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		res, err := s.Submit(ctx, "Hi", func(string) bool {
			cancel()
			return true
		})
		require.NoError(t, err)
		assert.True(t, res.Cancelled)
		assert.Equal(t, "Hi", res.Response)
		assert.Len(t, s.History(), 1)
	})
}

func TestReentrantUseIsRejected(t *testing.T) {
	s := newSession(t, newScripted([]int{6, testEOS}, wordPieces), nil)

	var submitErr, resetErr, clearErr error
	_, err := s.Submit(context.Background(), "Hi", func(string) bool {
		_, submitErr = s.Submit(context.Background(), "nested", nil)
		resetErr = s.Reset()
		clearErr = s.ClearContext()
		return true
	})
	require.NoError(t, err)
	assert.ErrorIs(t, submitErr, ErrBusy)
	assert.ErrorIs(t, resetErr, ErrBusy)
	assert.ErrorIs(t, clearErr, ErrBusy)
	assert.Len(t, s.History(), 1)
}

func TestTokenizeFailureIsDecodeError(t *testing.T) {
	eng := newScripted([]int{6, testEOS}, wordPieces)
	s := newSession(t, eng, map[string]string{"multiturn": "true"})

	_, err := s.Submit(context.Background(), "one", nil)
	require.NoError(t, err)
	before := s.Status().AbsPos

	eng.encErr = errors.New("invalid utf-8")
	called := false
	res, err := s.Submit(context.Background(), "two", func(string) bool {
		called = true
		return true
	})
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, 1, de.Turn)
	assert.Equal(t, PromptToken, de.Token)
	assert.ErrorContains(t, err, "failed to tokenize prompt: invalid utf-8")
	assert.False(t, called)
	assert.Equal(t, before, res.AbsPos)

	assert.Len(t, s.History(), 1)
	assert.Equal(t, "idle", s.Status().State)
	assert.Equal(t, before, s.Status().AbsPos)

	eng.encErr = nil
	_, err = s.Submit(context.Background(), "three", nil)
	require.NoError(t, err)
	assert.Len(t, s.History(), 2)
}

func TestEngineErrorIsNotRecorded(t *testing.T) {
	eng := newScripted(nil, wordPieces)
	eng.genErr = errors.New("device lost")
	s := newSession(t, eng, nil)

	_, err := s.Submit(context.Background(), "Hi", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device lost")
	assert.Empty(t, s.History())
	assert.Equal(t, "idle", s.Status().State)
}

func TestCreateRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	tok := filepath.Join(dir, "tok")
	require.NoError(t, os.WriteFile(tok, []byte("x"), 0o644))

	_, err := config.New(map[string]string{
		"tokenizer":          tok,
		"compressed_weights": tok,
		"num_threads":        "-4",
	})
	var ve *config.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "num_threads", ve.Field)

	s, err := New(config.Default(), newScripted(nil, nil))
	assert.Error(t, err)
	assert.Nil(t, s)
}

func TestEffectiveConfig(t *testing.T) {
	s := newSession(t, newScripted(nil, nil), map[string]string{"temperature": "0.5"})

	eff := s.EffectiveConfig()
	assert.Equal(t, "0.5", eff["temperature"])
	assert.Contains(t, eff, "tokenizer")
	assert.NotContains(t, eff, "max_tokens")

	assert.Error(t, s.Config().Set("temperature", "0.7"), "store is frozen after creation")
}

func TestPrefillHook(t *testing.T) {
	var prefill int
	eng := newScripted([]int{6, testEOS}, wordPieces)
	s := newSession(t, eng, nil, WithPrefillHook(func() { prefill++ }), WithKeepCache(true))

	res, err := s.Submit(context.Background(), "Hi", nil)
	require.NoError(t, err)
	assert.Equal(t, res.PromptLen-1, prefill)
	assert.True(t, eng.lastRequest().KeepCache)
}

func TestClosedSession(t *testing.T) {
	s := newSession(t, newScripted([]int{testEOS}, nil), nil)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.Submit(context.Background(), "Hi", nil)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Reset(), ErrClosed)
}
