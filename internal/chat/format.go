// Package chat applies the turn template instruction-tuned models expect.
package chat

import "strings"

const (
	StartOfTurn = "<start_of_turn>"
	EndOfTurn   = "<end_of_turn>"
)

// Format wraps raw as a single user turn followed by an opening model turn
// when instructionTuned is set. A continuation marker closing the previous
// model turn is prepended when absPos > 0. Pretrained models receive raw
// unchanged. The context-start token is not part of the text; callers add it
// to the token sequence.
func Format(raw string, absPos int, instructionTuned bool) string {
	if !instructionTuned {
		return raw
	}

	var sb strings.Builder
	sb.Grow(len(raw) + 64)
	if absPos > 0 {
		sb.WriteString(EndOfTurn + "\n")
	}
	sb.WriteString(StartOfTurn + "user\n")
	sb.WriteString(raw)
	sb.WriteString(EndOfTurn + "\n")
	sb.WriteString(StartOfTurn + "model\n")
	return sb.String()
}
