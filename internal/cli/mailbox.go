package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newMailboxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mailbox",
		Short: "Inspect and drive the mailbox reply poller",
	}

	cmd.AddCommand(newMailboxPollCmd())
	return cmd
}

func newMailboxPollCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "poll",
		Short: "Run one polling cycle over every configured mailbox",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, err := newRuntime(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer rt.Close()

			results, err := rt.poller.Poll(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(results) == 0 {
				fmt.Fprintln(out, "no organization has a mailbox configured")
				return nil
			}
			for _, r := range results {
				status := "ok"
				if r.Err != nil {
					status = "error: " + r.Err.Error()
				}
				fmt.Fprintf(out, "%-16s fetched=%d applied=%d duplicates=%d discarded=%d retry=%d %s\n",
					r.OrgID, r.Fetched, r.Applied, r.Duplicates, r.Discarded, r.Retry, status)
			}
			return nil
		},
	}
}
