// Package commands implements the parley command line.
package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/23skdu/longbow-parley/internal/config"
)

var (
	Version   = "0.1.0"
	BuildTime = "dev"
)

var (
	configFile string
	logFormat  string
)

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "parley",
		Short: "Multi-turn chat sessions over a local generation engine",
		Long: `parley drives conversational generation sessions: it formats each user
turn for the model, tracks the running context position across turns and
streams the response back as it is produced.

Run 'parley chat' for an interactive session or 'parley serve' to expose
sessions over HTTP and websockets.`,
		Version:      Version,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "TOML file with session options")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "Log format (console|json)")
	registerOptionFlags(cmd.PersistentFlags())

	cmd.SetVersionTemplate(fmt.Sprintf("parley %s (%s)\n", Version, BuildTime))

	cmd.AddCommand(newChatCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newConfigCmd())
	return cmd
}

// registerOptionFlags adds one string flag per session option. Only flags
// given on the command line override the config file.
func registerOptionFlags(fs *pflag.FlagSet) {
	for _, doc := range config.Describe() {
		fs.String(doc.Name, "", fmt.Sprintf("%s (default %s)", firstLine(doc.Help), doc.Default))
	}
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}

// collectOptions merges the config file with the option flags that were set.
func collectOptions(cmd *cobra.Command) (map[string]string, error) {
	options := map[string]string{}
	if configFile != "" {
		fileOpts, err := config.LoadFile(configFile)
		if err != nil {
			return nil, err
		}
		options = config.Merge(options, fileOpts)
	}

	known := make(map[string]bool)
	for _, doc := range config.Describe() {
		known[doc.Name] = true
	}
	cmd.Flags().Visit(func(f *pflag.Flag) {
		if known[f.Name] {
			options[f.Name] = f.Value.String()
		}
	})
	return options, nil
}

func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}
