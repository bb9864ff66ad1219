package session

import (
	"errors"
	"fmt"
)

var (
	// ErrContextBudgetExceeded refuses a turn once the running context has
	// reached max_tokens. Clearing the context makes the session usable again.
	ErrContextBudgetExceeded = errors.New("context budget exceeded")

	// ErrBusy is returned when a session is entered while a turn is running.
	ErrBusy = errors.New("session busy")

	ErrClosed = errors.New("session closed")
)

// DecodeError reports that the engine produced a token the tokenizer cannot
// turn back into text. The turn that failed is abandoned. Token is
// PromptToken when the prompt itself could not be tokenized.
type DecodeError struct {
	Turn  int
	Token int
	Err   error
}

// PromptToken marks a DecodeError raised while tokenizing the prompt.
const PromptToken = -1

func (e *DecodeError) Error() string {
	if e.Token == PromptToken {
		return fmt.Sprintf("turn %d: failed to tokenize prompt: %v", e.Turn, e.Err)
	}
	return fmt.Sprintf("turn %d: failed to decode token %d: %v", e.Turn, e.Token, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
