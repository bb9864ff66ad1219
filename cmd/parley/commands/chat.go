package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/23skdu/longbow-parley/internal/config"
	"github.com/23skdu/longbow-parley/internal/engine"
	"github.com/23skdu/longbow-parley/internal/history"
	"github.com/23skdu/longbow-parley/internal/logger"
	"github.com/23skdu/longbow-parley/internal/session"
)

const banner = `  __ _  ___ _ __ ___  _ __ ___   __ _
 / _' |/ _ \ '_ ' _ \| '_ ' _ \ / _' |
| (_| |  __/ | | | | | | | | | | (_| |
 \__, |\___|_| |_| |_|_| |_| |_|\__,_|
 |___/`

const instructions = `*Usage*
  Enter an instruction and press enter (%c clears the context, %q quits).

*Examples*
  - Write an email to grandma thanking her for the cookies.
  - What are some historical attractions to visit around Massachusetts?
  - Compute the nth fibonacci number in javascript.
  - Write a standup comedy bit about GPU programming.
`

var (
	chatPrompts    []string
	chatHistoryOut string
	chatSeed       int64
)

func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive multi-turn chat in the terminal",
		Long: `Start a chat session in the terminal.

Each line is one user turn; set --eot_line to read multi-line prompts up to a
marker line. Type %c to clear the conversation and %q to quit.
With --prompt the given turns are run in order and the command exits.`,
		RunE: runChat,
	}
	cmd.Flags().StringArrayVarP(&chatPrompts, "prompt", "p", nil, "Run this turn non-interactively (repeatable)")
	cmd.Flags().StringVar(&chatHistoryOut, "history-out", "", "Write the transcript as an Arrow IPC stream on exit")
	cmd.Flags().Int64Var(&chatSeed, "seed", 0, "Sampler seed when deterministic is off (0 picks one from the clock)")
	return cmd
}

func runChat(cmd *cobra.Command, args []string) error {
	options, err := collectOptions(cmd)
	if err != nil {
		return err
	}
	store, err := config.New(options)
	if err != nil {
		return err
	}

	closer, err := logger.SetupFile(store.Text("log_level"), logFormat, store.Text("log"))
	if err != nil {
		return err
	}
	defer closer.Close()

	eng, err := engine.Open(store)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	status := cmd.ErrOrStderr()

	var r *repl
	opts := []session.Option{
		session.WithKeepCache(true),
		session.WithPrefillHook(func() { r.prefillTick() }),
	}
	if chatSeed != 0 {
		opts = append(opts, session.WithSeed(chatSeed))
	}
	sess, err := session.New(store, eng, opts...)
	if err != nil {
		return err
	}
	defer sess.Close()

	r = newREPL(sess, cmd.InOrStdin(), out, status)

	ctx := cmd.Context()
	if len(chatPrompts) > 0 {
		for _, p := range chatPrompts {
			if err := r.Turn(ctx, p); err != nil {
				return err
			}
		}
	} else {
		if err := showIntro(out, store); err != nil {
			return err
		}
		if err := r.Run(ctx); err != nil {
			return err
		}
	}

	if chatHistoryOut != "" {
		if err := history.WriteFile(chatHistoryOut, sess.History()); err != nil {
			return fmt.Errorf("failed to write history: %w", err)
		}
		logger.Log.Info("history written", "path", chatHistoryOut, "turns", len(sess.History()))
	}
	return nil
}

func showIntro(w io.Writer, store *config.Store) error {
	verbosity := int(store.Int("verbosity"))
	if verbosity < 1 {
		return nil
	}
	fmt.Fprintf(w, "%s\n\n", banner)
	if err := store.Render(w, verbosity, store.CurrentEnvironment()); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\n%s\n", instructions)
	return err
}
