package engine

import (
	"errors"
	"math/rand"
)

// ErrCancelled is returned by Generate when the stream callback or the
// context stopped generation early.
var ErrCancelled = errors.New("generation cancelled")

// StreamFunc is invoked once per token the engine consumes or produces, in
// order. Returning false asks the engine to stop.
type StreamFunc func(token int, score float32) bool

// Request describes one generation call.
type Request struct {
	Tokens   []int
	StartPos int
	RNG      *rand.Rand
	Pool     *Pool

	// KeepCache continues the engine's cached context from StartPos instead
	// of rebuilding it.
	KeepCache bool
}

// Reserved holds the control token ids of a vocabulary.
type Reserved struct {
	BOS int
	EOS int
}
