package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tcmartin/devportal/pkg/auth"
	"github.com/tcmartin/devportal/pkg/logging"
	"github.com/tcmartin/devportal/pkg/logstream"
)

func newLogsCmd() *cobra.Command {
	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "Follow enrichment job logs",
	}

	var (
		timeout time.Duration
		verbose bool
	)
	tailCmd := &cobra.Command{
		Use:   "tail <correlation-id>",
		Short: "Stream a job's logs until it completes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			return tail(ctx, args[0], verbose)
		},
	}
	tailCmd.Flags().DurationVar(&timeout, "timeout", 0, "Give up after this long (0 waits for completion)")
	tailCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log stream diagnostics to stderr")
	logsCmd.AddCommand(tailCmd)

	return logsCmd
}

func tail(ctx context.Context, correlationID string, verbose bool) error {
	logger := logging.NewNopLogger()
	if verbose {
		l, err := logging.NewLogger(logging.LogConfig{Level: "debug", Format: "console", Output: "stderr"})
		if err != nil {
			return err
		}
		logger = l
	}

	opts := []logstream.SSEOption{}
	if token != "" {
		opts = append(opts, logstream.WithTokenSource(auth.StaticTokenSource(credentials())))
	}
	policy := logstream.DefaultReconnectPolicy()
	client := logstream.NewClient(logstream.NewSSETransport(apiURL, opts...), logstream.Options{
		Policy: policy,
		Logger: logger,
	})
	defer client.Close()

	snapshots, unsubscribe := client.Subscribe()
	defer unsubscribe()
	client.Connect(correlationID)

	printed := 0
	lastState := logstream.State("")
	for {
		select {
		case <-ctx.Done():
			client.Disconnect()
			if ctx.Err() == context.DeadlineExceeded {
				return fmt.Errorf("timed out waiting for job %s", correlationID)
			}
			return nil
		case snap, ok := <-snapshots:
			if !ok {
				return nil
			}
			if len(snap.Logs) < printed {
				printed = 0
			}
			for _, entry := range snap.Logs[printed:] {
				printEntry(entry)
			}
			printed = len(snap.Logs)

			if snap.Status.State != lastState {
				lastState = snap.Status.State
				printStatus(snap)
			}

			if snap.Progress.IsComplete && snap.Status.State == logstream.StateDisconnected {
				fmt.Fprintf(os.Stderr, "job %s complete\n", correlationID)
				return nil
			}
			// setup errors are never retried
			if snap.Status.State == logstream.StateError &&
				(snap.Status.Error != logstream.ConnectionLostMessage || !policy.CanRetry(snap.Attempt)) {
				return fmt.Errorf("log stream for %s: %s", correlationID, snap.Status.Error)
			}
		}
	}
}

func printEntry(e logstream.LogEntry) {
	line := fmt.Sprintf("%s %-7s", e.Timestamp, strings.ToUpper(string(e.Level)))
	if e.Step != "" {
		line += " [" + e.Step + "]"
	}
	line += " " + e.Message
	if e.DurationMs != nil {
		line += fmt.Sprintf(" (%.0fms)", *e.DurationMs)
	}
	fmt.Println(line)
}

func printStatus(snap logstream.Snapshot) {
	switch snap.Status.State {
	case logstream.StateConnected:
		fmt.Fprintf(os.Stderr, "connected (%.0f%%)\n", snap.Progress.PercentComplete)
	case logstream.StateError:
		fmt.Fprintf(os.Stderr, "%s (attempt %d)\n", snap.Status.Error, snap.Attempt)
	default:
		fmt.Fprintln(os.Stderr, snap.Status.State)
	}
}
