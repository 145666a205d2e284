package cli

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/roach88/txsync/internal/engine"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	MetricsAddr string
	Quiet       bool
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream status notifications as they arrive",
		Long: `Open the engine with the event channel and print every status
notification as it is appended.

Runs until interrupted or until the event channel closes. The channel is
not reconnected; a closed channel exits with code 1.

With --format json each notification is written as one JSON line.

Examples:
  txsync watch
  txsync watch --metrics-addr :9090
  txsync watch --format json | jq .data.message`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve /metrics on this address (overrides metrics.addr)")
	cmd.Flags().BoolVarP(&opts.Quiet, "quiet", "q", false, "do not print the store before streaming")

	return cmd
}

func runWatch(ctx context.Context, opts *WatchOptions, cmd *cobra.Command) error {
	f := newFormatter(cmd, opts.RootOptions)
	w := cmd.OutOrStdout()

	s, err := newSession(opts.RootOptions, true)
	if err != nil {
		return f.Fail("open engine", err, nil)
	}
	sigs, unsubscribe := s.engine.Subscribe()
	defer unsubscribe()

	if err := s.open(ctx); err != nil {
		return f.Fail("open engine", err, nil)
	}
	defer s.Close()

	addr := opts.MetricsAddr
	if addr == "" {
		addr = s.cfg.Metrics.Addr
	}
	if addr != "" {
		bound, err := s.serveMetrics(ctx, addr)
		if err != nil {
			return f.Fail("serve metrics", err, map[string]string{"addr": addr})
		}
		f.VerboseLog("metrics on http://%s/metrics", bound)
	}

	if err := s.engine.Sync(ctx); err != nil {
		return f.Fail("load transactions", err, nil)
	}
	if !opts.Quiet && f.Format != "json" {
		if err := transactionList(s.engine.CurrentTransactions()).RenderText(w); err != nil {
			return err
		}
		pterm.Info.WithWriter(f.GetErrWriter()).Println("Watching for updates, Ctrl-C to stop")
	}

	enc := json.NewEncoder(w)
	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-sigs:
			if !ok {
				return nil
			}
			switch sig.Kind {
			case engine.SignalNotification:
				if sig.Notification == nil {
					continue
				}
				if f.Format == "json" {
					if err := enc.Encode(CLIResponse{Status: "ok", Data: sig.Notification}); err != nil {
						return err
					}
					continue
				}
				printNotification(w, *sig.Notification)
			case engine.SignalChannelClosed:
				return f.Fail("event channel closed", sig.Err, nil)
			}
		}
	}
}
