package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// ProcessResult is the acknowledgement for a processing request.
type ProcessResult struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
}

func (r ProcessResult) RenderText(w io.Writer) error {
	fmt.Fprintf(w, "Processing %s for transaction %s\n", r.Status, r.TransactionID)
	return nil
}

// NewProcessCommand creates the process command.
func NewProcessCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "process <transaction-id>",
		Short: "Trigger asynchronous processing of a transaction",
		Long: `Ask the server to process a transaction.

The server only acknowledges the request; the outcome arrives later as a
status update over the event channel. Use "txsync watch" to see it.

Examples:
  txsync process 3f2a9c1e-8d4b-4f6a-9e21-7c5d0b8a1f33`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(cmd, rootOpts)

			s, err := openSession(cmd.Context(), rootOpts, false)
			if err != nil {
				return f.Fail("open engine", err, nil)
			}
			defer s.Close()

			ack, err := s.engine.TriggerProcessing(cmd.Context(), args[0])
			if err != nil {
				return f.Fail("trigger processing", err, map[string]string{"transaction_id": args[0]})
			}
			return f.Success(ProcessResult{TransactionID: args[0], Status: ack.Status})
		},
	}
}
