package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	envFile    string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "markovdb",
		Short: "Store, grow and walk SQLite-backed Markov chains",
		Long: `markovdb keeps word-level Markov chains in SQLite.

Sentences are ingested into named chains, and new sentences are generated by
walking a chain from a known start to a known end. Chains can be exported and
imported as JSON, including the older flat-map format, and everything is
available over an authenticated HTTP API with "markovdb serve".`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// A missing .env file is normal; anything else is worth reporting.
			if err := godotenv.Load(opts.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("loading %s: %w", opts.envFile, err)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "./config.json", "Path to the JSON or YAML config file")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "Environment file with MARKOVDB_* overrides")

	cmd.AddCommand(
		newServeCmd(opts),
		newIngestCmd(opts),
		newGenerateCmd(opts),
		newExportCmd(opts),
		newImportCmd(opts),
		newRootsCmd(opts),
		newRemoveCmd(opts),
		newDeleteCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "markovdb %s\n", Version)
			fmt.Fprintf(cmd.OutOrStdout(), "Commit: %s\n", Commit)
			fmt.Fprintf(cmd.OutOrStdout(), "Built:  %s\n", BuildDate)
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}
