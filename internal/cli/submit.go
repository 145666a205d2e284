package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/roach88/txsync/internal/engine"
	"github.com/roach88/txsync/internal/notify"
	"github.com/roach88/txsync/internal/txn"
)

// SubmitOptions holds flags for the submit command.
type SubmitOptions struct {
	*RootOptions
	Type        string
	Amount      string
	Key         string
	Interactive bool
	Process     bool
	Wait        bool
	Timeout     time.Duration
}

// SubmitResult is what submit reports on success.
type SubmitResult struct {
	Transaction txn.Record    `json:"transaction"`
	Key         string        `json:"idempotency_key"`
	Inserted    bool          `json:"inserted"`
	Processing  string        `json:"processing,omitempty"`
	Final       *notify.Entry `json:"final,omitempty"`
}

func (r SubmitResult) RenderText(w io.Writer) error {
	verb := "Created"
	if !r.Inserted {
		verb = "Updated"
	}
	pterm.Success.WithWriter(w).Printf("%s transaction %s (%s %s, %s)\n",
		verb, r.Transaction.ID, r.Transaction.Type, r.Transaction.Amount, r.Transaction.Status)
	fmt.Fprintf(w, "Idempotency key: %s\n", r.Key)
	if r.Processing != "" {
		fmt.Fprintf(w, "Processing: %s\n", r.Processing)
	}
	if r.Final != nil {
		printNotification(w, *r.Final)
	}
	return nil
}

// NewSubmitCommand creates the submit command.
func NewSubmitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SubmitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Create a transaction",
		Long: `Create a transaction through the Transaction API.

Without --key a fresh idempotency key is generated. The key that was sent is
always printed; re-running with the same --key after a transport failure is
safe and cannot create a duplicate.

Exit codes:
  0 - Transaction committed
  1 - Rejected by the server, transport failure, or --wait timed out
  2 - Invalid type or amount, bad config

Examples:
  txsync submit --type credit --amount 100.00
  txsync submit --type debit --amount 12.5 --key idemp_retry-1
  txsync submit --type credit --amount 10 --process --wait
  txsync submit -i`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Interactive {
				if err := promptSubmission(opts); err != nil {
					return WrapExitError(ExitCommandError, "interactive input", err)
				}
			}
			return runSubmit(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Type, "type", "t", "", "transaction type (credit|debit)")
	cmd.Flags().StringVarP(&opts.Amount, "amount", "a", "", "amount, at most 2 decimal places")
	cmd.Flags().StringVarP(&opts.Key, "key", "k", "", "idempotency key (default: generated)")
	cmd.Flags().BoolVarP(&opts.Interactive, "interactive", "i", false, "prompt for the fields")
	cmd.Flags().BoolVar(&opts.Process, "process", false, "trigger processing after the create commits")
	cmd.Flags().BoolVar(&opts.Wait, "wait", false, "wait for a processed or failed update over the event channel")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "how long --wait waits")

	return cmd
}

func promptSubmission(opts *SubmitOptions) error {
	if opts.Type == "" {
		opts.Type = string(txn.TypeCredit)
	}
	return huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Type").
				Options(
					huh.NewOption("Credit", string(txn.TypeCredit)),
					huh.NewOption("Debit", string(txn.TypeDebit)),
				).
				Value(&opts.Type),
			huh.NewInput().
				Title("Amount").
				Description("Up to 12 digits, 2 decimal places").
				Value(&opts.Amount).
				Validate(func(s string) error {
					_, err := txn.ParseAmount(s)
					return err
				}),
			huh.NewInput().
				Title("Idempotency key").
				Description("Leave empty to generate one").
				Value(&opts.Key),
		),
	).Run()
}

func runSubmit(ctx context.Context, opts *SubmitOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	f := newFormatter(cmd, opts.RootOptions)

	s, err := openSession(ctx, opts.RootOptions, opts.Wait)
	if err != nil {
		return f.Fail("open engine", err, nil)
	}
	defer s.Close()

	var sigs <-chan engine.Signal
	if opts.Wait {
		ch, unsubscribe := s.engine.Subscribe()
		defer unsubscribe()
		sigs = ch
	}

	out, err := s.engine.Submit(ctx, opts.Type, opts.Amount, opts.Key)
	if err != nil {
		var details any
		if out.Key != "" {
			details = map[string]string{"idempotency_key": out.Key}
			f.VerboseLog("retry with --key %s", out.Key)
		}
		return f.Fail("submit transaction", err, details)
	}

	result := SubmitResult{Transaction: out.Record, Key: out.Key, Inserted: out.Inserted}

	if opts.Process {
		ack, err := s.engine.TriggerProcessing(ctx, out.Record.ID)
		if err != nil {
			return f.Fail("trigger processing", err, map[string]string{"transaction_id": out.Record.ID})
		}
		result.Processing = ack.Status
	}

	if opts.Wait {
		waitCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
		final, err := waitForSettled(waitCtx, sigs, out.Record.ID)
		if err != nil {
			return f.Fail("wait for settlement", err, map[string]string{"transaction_id": out.Record.ID})
		}
		result.Final = final
		if rec, ok := findRecord(s.engine.CurrentTransactions(), out.Record.ID); ok {
			result.Transaction = rec
		}
	}

	return f.Success(result)
}

// waitForSettled blocks until a notification reports id in a terminal
// status.
func waitForSettled(ctx context.Context, sigs <-chan engine.Signal, id string) (*notify.Entry, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case sig, ok := <-sigs:
			if !ok {
				return nil, &engine.Error{Code: engine.ErrCodeEngineClosed, Message: "engine closed while waiting"}
			}
			switch sig.Kind {
			case engine.SignalChannelClosed:
				return nil, sig.Err
			case engine.SignalNotification:
				n := sig.Notification
				if n != nil && n.TransactionID == id && n.Status.Terminal() {
					return n, nil
				}
			}
		}
	}
}

func findRecord(records []txn.Record, id string) (txn.Record, bool) {
	for _, r := range records {
		if r.ID == id {
			return r, true
		}
	}
	return txn.Record{}, false
}
