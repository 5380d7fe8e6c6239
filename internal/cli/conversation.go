package cli

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/soyeahso/livedesk/internal/domain"
	"github.com/soyeahso/livedesk/internal/store"
	"github.com/spf13/cobra"
)

func newConversationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversation",
		Aliases: []string{"conv"},
		Short:   "List, inspect, and end conversations",
	}

	cmd.AddCommand(newConversationListCmd())
	cmd.AddCommand(newConversationShowCmd())
	cmd.AddCommand(newConversationEndCmd())
	return cmd
}

// withRuntime loads config, wires the runtime, and runs fn with a
// signal-aware context.
func withRuntime(fn func(ctx context.Context, rt *runtime) error) error {
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
	return fn(ctx, rt)
}

func newConversationListCmd() *cobra.Command {
	var (
		orgID  string
		status string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List conversations, most recently active first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(func(ctx context.Context, rt *runtime) error {
				convs, err := rt.engine.ListConversations(ctx, store.ConversationFilter{
					OrgID:  orgID,
					Status: domain.Status(status),
					Limit:  limit,
				})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(convs) == 0 {
					fmt.Fprintln(out, "no conversations")
					return nil
				}
				for _, c := range convs {
					fmt.Fprintf(out, "%-36s %-12s %-14s %-10s %s\n",
						c.ID, c.OrgID, rt.engine.StateOf(c), orDash(c.Assignment), c.LastActivityAt.Local().Format(time.DateTime))
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&orgID, "org", "", "only this organization")
	cmd.Flags().StringVar(&status, "status", "", "only this status (active, ended)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	return cmd
}

func newConversationShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a conversation with its messages and tickets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(func(ctx context.Context, rt *runtime) error {
				conv, err := rt.engine.Conversation(ctx, args[0])
				if err != nil {
					return err
				}
				msgs, err := rt.engine.History(ctx, conv.ID, 0)
				if err != nil {
					return err
				}
				tickets, err := rt.bridge.Tickets(ctx, conv.ID)
				if err != nil {
					return err
				}
				printConversation(cmd.OutOrStdout(), conv, rt.engine.StateOf(conv), msgs, tickets)
				return nil
			})
		},
	}
}

func newConversationEndCmd() *cobra.Command {
	var endedBy string

	cmd := &cobra.Command{
		Use:   "end <id>",
		Short: "End a conversation and send its transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(func(ctx context.Context, rt *runtime) error {
				conv, err := rt.bridge.EndConversation(ctx, args[0], endedBy)
				if err != nil {
					return err
				}
				// Summary and transcript complete before the runtime closes.
				rt.bridge.Wait()
				fmt.Fprintf(cmd.OutOrStdout(), "ended %s at %s by %s\n",
					conv.ID, conv.EndedAt.Local().Format(time.DateTime), conv.EndedBy)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&endedBy, "by", "cli", "who ended the conversation")
	return cmd
}

func printConversation(w io.Writer, c *domain.Conversation, state domain.State, msgs []domain.Message, tickets []domain.Ticket) {
	fmt.Fprintf(w, "Conversation %s (%s)\n", c.ID, state)
	fmt.Fprintf(w, "  org:       %s\n", c.OrgID)
	fmt.Fprintf(w, "  visitor:   %s <%s>\n", orDash(c.Name), orDash(c.Email))
	fmt.Fprintf(w, "  assigned:  %s\n", orDash(c.Assignment))
	fmt.Fprintf(w, "  category:  %s\n", c.Category)
	fmt.Fprintf(w, "  source:    %s\n", orDash(c.SourceURL))
	if c.Summary != "" {
		fmt.Fprintf(w, "  summary:   %s\n", c.Summary)
	}
	fmt.Fprintln(w)
	for _, m := range msgs {
		fmt.Fprintf(w, "[%s] %-20s %s\n", m.CreatedAt.Local().Format(time.TimeOnly), m.Role, m.Body)
	}
	for _, t := range tickets {
		fmt.Fprintf(w, "\nTicket %s priority=%s source=%s\n  %s\n", t.ID, t.Priority, t.Source, t.Query)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
