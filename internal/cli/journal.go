package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/txsync/internal/config"
	"github.com/roach88/txsync/internal/journal"
)

// JournalOptions holds flags for the journal command.
type JournalOptions struct {
	*RootOptions
	DBPath        string
	TransactionID string
	Source        string
	Limit         int
}

// NewJournalCommand creates the journal command.
func NewJournalCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &JournalOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Print the audit journal",
		Long: `Print journal entries in the order they were applied.

The journal records every merge (seed, create, channel) and every malformed
channel message, with the canonical payload and its content hash. It is
written by watch, submit and list when journal.path is configured.

Examples:
  txsync journal --db ~/.local/share/txsync/journal.db
  txsync journal --tx 3f2a9c1e-8d4b-4f6a-9e21-7c5d0b8a1f33
  txsync journal --source channel --limit 20 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJournal(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DBPath, "db", "", "journal database (default: journal.path from config)")
	cmd.Flags().StringVar(&opts.TransactionID, "tx", "", "only entries for this transaction id")
	cmd.Flags().StringVar(&opts.Source, "source", "", "only entries from this source (seed|create|channel)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum entries to print (0 = all)")

	return cmd
}

func runJournal(opts *JournalOptions, cmd *cobra.Command) error {
	f := newFormatter(cmd, opts.RootOptions)

	path := opts.DBPath
	if path == "" {
		cfg, err := config.Load(opts.ConfigPath)
		if err != nil {
			return WrapExitError(ExitCommandError, "load config", err)
		}
		path = cfg.Journal.Path
	}
	if path == "" {
		return NewExitError(ExitCommandError, "no journal configured: pass --db or set journal.path")
	}

	switch journal.Source(opts.Source) {
	case "", journal.SourceSeed, journal.SourceCreate, journal.SourceChannel:
	default:
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid source %q: must be seed, create or channel", opts.Source))
	}

	// journal.Open creates missing files.
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("journal not found: %s", path))
	}

	j, err := journal.Open(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "open journal", err)
	}
	defer j.Close()

	entries, err := j.Read(cmd.Context(), journal.Filter{
		TransactionID: opts.TransactionID,
		Source:        journal.Source(opts.Source),
		Limit:         opts.Limit,
	})
	if err != nil {
		return f.Fail("read journal", err, nil)
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	return f.Success(journalList(entries))
}
