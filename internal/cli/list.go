package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/txsync/internal/txn"
)

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show transactions, newest first",
		Long: `Seed the store from the Transaction API listing and print it.

The event channel is not dialed; use "txsync watch" for a live view.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(cmd, rootOpts)

			s, err := openSession(cmd.Context(), rootOpts, false)
			if err != nil {
				return f.Fail("open engine", err, nil)
			}
			defer s.Close()

			if err := s.engine.Sync(cmd.Context()); err != nil {
				return f.Fail("load transactions", err, nil)
			}

			records := s.engine.CurrentTransactions()
			if records == nil {
				records = []txn.Record{}
			}
			return f.Success(transactionList(records))
		},
	}
}
