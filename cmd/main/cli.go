package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/CTAG07/markovdb/pkg/markov"
	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"
)

// session is what a one-shot command needs: the loaded config, the
// database and a Chain on top of it.
type session struct {
	config Config
	db     *database
	chain  *markov.Chain
}

// openSession loads the config and opens the database. Logs go to stderr so
// command output stays clean.
func openSession(opts *globalOptions, errOut io.Writer) (*session, error) {
	logger := slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: slog.LevelWarn}))
	config, err := LoadConfig(opts.configPath, logger)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	db, err := openDatabase(config.Server.DatabaseFile())
	if err != nil {
		return nil, err
	}

	chain := markov.NewChain(db.store)
	chain.SetLogger(slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: parseLogLevel(config.Server.LogLevel)})))
	return &session{config: *config, db: db, chain: chain}, nil
}

// openInput returns the named file, or stdin for "" and "-".
func openInput(cmd *cobra.Command, path string) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(cmd.InOrStdin()), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening input: %w", err)
	}
	return f, nil
}

// readLines reads one item per non-blank line.
func readLines(r io.Reader) ([]markov.Item, error) {
	var items []markov.Item
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		items = append(items, markov.Item{String: line})
	}
	return items, scanner.Err()
}

func newIngestCmd(opts *globalOptions) *cobra.Command {
	var (
		stateSize int
		lines     bool
	)

	cmd := &cobra.Command{
		Use:   "ingest <chain> [file]",
		Short: "Add sentences to a chain",
		Long: `Add sentences to a chain, creating it on first use.

Input is a JSON array of strings or of {"string", "custom"} objects, read
from the file or from stdin. With --lines every non-blank line is a sentence.

Examples:
  markovdb ingest quotes quotes.json
  cat corpus.txt | markovdb ingest chat --lines --state-size 3`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = s.db.Close() }()

			var path string
			if len(args) == 2 {
				path = args[1]
			}
			in, err := openInput(cmd, path)
			if err != nil {
				return err
			}
			defer func() { _ = in.Close() }()

			var items []markov.Item
			if lines {
				items, err = readLines(in)
			} else {
				items, err = markov.DecodeItems(in)
			}
			if err != nil {
				return fmt.Errorf("reading items: %w", err)
			}

			if stateSize == 0 {
				stateSize = s.config.Chain.DefaultStateSize
			}
			ctx := cmd.Context()
			root, err := s.chain.OpenRoot(ctx, args[0], stateSize)
			if err != nil {
				return err
			}
			if err = s.chain.Ingest(ctx, root, items...); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Ingested %d items into %s\n", len(items), root.ID)
			return nil
		},
	}

	cmd.Flags().IntVar(&stateSize, "state-size", 0, "Words per chain unit for a new chain (default from config)")
	cmd.Flags().BoolVar(&lines, "lines", false, "Read one sentence per line instead of JSON")
	return cmd
}

func newGenerateCmd(opts *globalOptions) *cobra.Command {
	var (
		count       int
		maxTries    int
		parallelism int
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "generate <chain>",
		Short: "Generate sentences from a chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = s.db.Close() }()

			if maxTries == 0 {
				maxTries = s.config.Chain.MaxTries
			}
			if parallelism == 0 {
				parallelism = s.config.Chain.Parallelism
			}

			ctx := cmd.Context()
			root, err := s.chain.GetRoot(ctx, args[0])
			if err != nil {
				return err
			}
			results, err := s.chain.GenerateBatch(ctx, root, count, parallelism, markov.WithMaxTries(maxTries))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(results)
			}
			for _, res := range results {
				fmt.Fprintln(out, res.Text)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 1, "Number of sentences to generate")
	cmd.Flags().IntVar(&maxTries, "max-tries", 0, "Attempts per sentence (default from config)")
	cmd.Flags().IntVar(&parallelism, "parallel", 0, "Concurrent generations (default from config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print full results as JSON")
	return cmd
}

func newExportCmd(opts *globalOptions) *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "export <chain>",
		Short: "Write a chain as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = s.db.Close() }()

			ctx := cmd.Context()
			root, err := s.chain.GetRoot(ctx, args[0])
			if err != nil {
				return err
			}

			if outPath == "" || outPath == "-" {
				return s.chain.WriteExport(ctx, root, cmd.OutOrStdout())
			}
			var buf bytes.Buffer
			if err = s.chain.WriteExport(ctx, root, &buf); err != nil {
				return err
			}
			if err = atomic.WriteFile(outPath, &buf); err != nil {
				return fmt.Errorf("writing export: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %s to %s\n", root.ID, outPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Output file (default stdout)")
	return cmd
}

func newImportCmd(opts *globalOptions) *cobra.Command {
	var (
		id     string
		legacy bool
	)

	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Load a chain from a JSON export",
		Long: `Load a chain from a JSON export.

A current-format export whose chain already exists is left as is. A legacy
export always replaces the target chain, so --id is recommended with --legacy.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = s.db.Close() }()

			var path string
			if len(args) == 1 {
				path = args[0]
			}
			in, err := openInput(cmd, path)
			if err != nil {
				return err
			}
			defer func() { _ = in.Close() }()

			var src markov.ImportSource
			if legacy {
				data, err := markov.ReadLegacyExport(in)
				if err != nil {
					return err
				}
				src = markov.LegacyImport{Data: data}
			} else {
				data, err := markov.ReadExport(in)
				if err != nil {
					return err
				}
				src = markov.CurrentImport{Data: data}
			}

			root, err := s.chain.Import(cmd.Context(), id, src)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %s (state size %d)\n", root.ID, root.StateSize)
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Target chain id (default from the export)")
	cmd.Flags().BoolVar(&legacy, "legacy", false, "Read the legacy flat-map format")
	return cmd
}

func newRootsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "roots",
		Short: "List chains and their sizes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = s.db.Close() }()

			stats, err := s.chain.DBStats(cmd.Context())
			if err != nil {
				return err
			}
			return printRoots(cmd.OutOrStdout(), stats)
		},
	}
}

func printRoots(out io.Writer, stats *markov.DBStats) error {
	if len(stats.Roots) == 0 {
		_, err := fmt.Fprintln(out, "No chains found.")
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATE SIZE\tENTRIES\tSTARTS\tENDS\tREFERENCES")
	for _, root := range stats.Roots {
		st := stats.Stats[root.ID]
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\n",
			root.ID, root.StateSize, st.Entries, st.StartFragments, st.EndFragments, st.References)
	}
	return w.Flush()
}

func newRemoveCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <chain> <sentence>...",
		Short: "Remove ingested sentences from a chain",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = s.db.Close() }()

			ctx := cmd.Context()
			root, err := s.chain.GetRoot(ctx, args[0])
			if err != nil {
				return err
			}
			removed, err := s.chain.RemoveStrings(ctx, root, args[1:]...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d references from %s\n", removed, root.ID)
			return nil
		},
	}
}

func newDeleteCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <chain>",
		Short: "Delete a chain and everything in it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = s.db.Close() }()

			ctx := cmd.Context()
			root, err := s.chain.GetRoot(ctx, args[0])
			if err != nil {
				return err
			}
			if err = s.chain.DeleteRoot(ctx, root); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", root.ID)
			return nil
		},
	}
}
