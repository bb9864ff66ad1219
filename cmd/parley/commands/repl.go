package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/23skdu/longbow-parley/internal/session"
)

const (
	quitCommand  = "%q"
	clearCommand = "%c"
)

// repl reads prompts from in and streams responses to out. Progress markers
// go to status so that out holds only the conversation.
type repl struct {
	sess      *session.Session
	in        *bufio.Reader
	out       io.Writer
	status    io.Writer
	verbosity int
	eotLine   string
	maxTokens int
}

func newREPL(sess *session.Session, in io.Reader, out, status io.Writer) *repl {
	store := sess.Config()
	return &repl{
		sess:      sess,
		in:        bufio.NewReader(in),
		out:       out,
		status:    status,
		verbosity: int(store.Int("verbosity")),
		eotLine:   store.Text("eot_line"),
		maxTokens: int(store.Int("max_tokens")),
	}
}

// prefillTick is the session prefill hook.
func (r *repl) prefillTick() {
	if r.verbosity >= 2 {
		fmt.Fprint(r.status, ".")
	}
}

// readPrompt returns the next prompt. Without an end-of-turn line a prompt is
// one line; otherwise lines are joined until the marker line.
func (r *repl) readPrompt() (string, error) {
	if r.eotLine == "" {
		line, err := r.in.ReadString('\n')
		if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
			return "", err
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	var lines []string
	for {
		line, err := r.in.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		if err != nil && line == "" {
			if len(lines) > 0 {
				return strings.Join(lines, "\n"), nil
			}
			return "", err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == r.eotLine {
			return strings.Join(lines, "\n"), nil
		}
		lines = append(lines, line)
		if err != nil {
			return strings.Join(lines, "\n"), nil
		}
	}
}

// Run loops until the quit command, end of input or ctx is done.
func (r *repl) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if r.verbosity >= 1 {
			fmt.Fprint(r.out, "> ")
		}
		prompt, err := r.readPrompt()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		switch strings.ToLower(strings.TrimSpace(prompt)) {
		case quitCommand:
			return nil
		case clearCommand:
			if err := r.sess.ClearContext(); err != nil {
				return err
			}
			continue
		}

		if err := r.Turn(ctx, prompt); err != nil {
			return err
		}
	}
}

// Turn submits one prompt and prints the response. Context budget refusals
// are reported and do not end the loop.
func (r *repl) Turn(ctx context.Context, prompt string) error {
	if r.verbosity >= 2 {
		fmt.Fprint(r.status, "\n[ Reading prompt ] ")
	}

	first := true
	res, err := r.sess.Submit(ctx, prompt, func(fragment string) bool {
		if first {
			first = false
			if r.verbosity >= 1 {
				fmt.Fprint(r.out, "\n\n")
			}
		}
		fmt.Fprint(r.out, fragment)
		return true
	})
	switch {
	case errors.Is(err, session.ErrContextBudgetExceeded):
		fmt.Fprintf(r.out, "max_tokens (%d) exceeded. Use a larger value if desired using the --max_tokens command line flag.\n", r.maxTokens)
		return nil
	case err != nil:
		return err
	}

	if res.EndedByEOS && r.verbosity >= 2 {
		fmt.Fprint(r.out, "\n[ End ]")
	}
	if r.verbosity >= 2 {
		secs := res.Duration.Seconds()
		rate := 0.0
		if secs > 0 {
			rate = float64(res.Generated) / secs
		}
		fmt.Fprintf(r.status, "\n%d tokens (%d total tokens)\n%.2f tokens / sec\n", res.Generated, res.AbsPos, rate)
	}
	fmt.Fprint(r.out, "\n\n")
	return nil
}
