package session

import (
	"context"
	"strings"
	"unicode"
)

// EmitFunc receives response text as it is produced. Returning false
// cancels the rest of the turn.
type EmitFunc func(fragment string) bool

// sink consumes the engine's token stream for one turn.
type sink struct {
	ctx  context.Context
	s    *Session
	turn int
	eos  int
	emit EmitFunc

	response  strings.Builder
	emitted   bool
	generated int
	sawEOS    bool
	cancelled bool
	err       error
}

func (k *sink) consume(token int, _ float32) bool {
	if k.ctx.Err() != nil {
		k.cancelled = true
		return false
	}

	s := k.s
	s.mu.Lock()
	s.absPos++
	s.curPos++
	prefill := s.curPos < s.promptLen
	s.mu.Unlock()

	if prefill {
		if s.onPrefill != nil {
			s.onPrefill()
		}
		return true
	}

	k.generated++
	if token == k.eos {
		k.sawEOS = true
		return true
	}

	text, err := s.eng.Decode([]int{token})
	if err != nil {
		k.err = &DecodeError{Turn: k.turn, Token: token, Err: err}
		return false
	}

	if !k.emitted {
		text = strings.TrimLeftFunc(text, unicode.IsSpace)
		if text == "" {
			return true
		}
		k.emitted = true
	}
	k.response.WriteString(text)

	if k.emit != nil && !k.emit(text) {
		k.cancelled = true
		return false
	}
	return true
}
