package commands

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/23skdu/longbow-parley/internal/config"
)

var (
	describeJSON bool
	showLevel    int
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect session options",
	}

	describe := &cobra.Command{
		Use:   "describe",
		Short: "List every option with its default and help text",
		RunE: func(cmd *cobra.Command, args []string) error {
			docs := config.Describe()
			if describeJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(docs)
			}
			return config.WriteHelp(cmd.OutOrStdout(), docs)
		},
	}
	describe.Flags().BoolVar(&describeJSON, "json", false, "Print the reference as JSON")

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective options after merging the config file and flags",
		RunE: func(cmd *cobra.Command, args []string) error {
			options, err := collectOptions(cmd)
			if err != nil {
				return err
			}
			store, err := effectiveStore(options)
			if err != nil {
				return err
			}
			level := showLevel
			if level < 0 {
				level = int(store.Int("verbosity"))
			}
			return store.Render(cmd.OutOrStdout(), level, store.CurrentEnvironment())
		},
	}
	show.Flags().IntVar(&showLevel, "level", -1, "Render at this verbosity instead of the configured one")

	cmd.AddCommand(describe, show)
	return cmd
}

// effectiveStore applies options without cross-field validation so that
// partial configurations can be inspected.
func effectiveStore(options map[string]string) (*config.Store, error) {
	store := config.Default()
	for name, raw := range options {
		if err := store.Set(name, raw); err != nil {
			return nil, err
		}
	}
	return store, nil
}
