package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/soyeahso/livedesk/internal/config"
	"github.com/soyeahso/livedesk/internal/version"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show livedesk status and configuration summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "livedesk %s (commit %s)\n\n", version.Version, version.Commit)

			fmt.Fprintf(out, "Config:    %s\n", paths.Config)
			fmt.Fprintf(out, "Data:      %s\n", paths.Data)
			fmt.Fprintf(out, "Logs:      %s\n", paths.Logs)
			fmt.Fprintln(out)

			if _, err := os.Stat(paths.Config); os.IsNotExist(err) {
				fmt.Fprintln(out, "Config:    not found (using defaults)")
			}
			cfg, err := config.Load(paths.Config)
			if err != nil {
				fmt.Fprintf(out, "Config:    error loading: %v\n", err)
				return nil
			}

			fmt.Fprintf(out, "Gateway:   port=%d bind=%s auth=%s\n",
				cfg.Gateway.Port, cfg.Gateway.Bind, cfg.Gateway.Auth.Mode)

			storeDesc := cfg.Store.Driver
			switch cfg.Store.Driver {
			case "sqlite", "":
				path := cfg.Store.Path
				if path == "" {
					path = paths.DatabasePath()
				}
				storeDesc = "sqlite " + path
			case "postgres":
				storeDesc = "postgres (dsn set)"
			}
			fmt.Fprintf(out, "Store:     %s\n", storeDesc)

			responder := cfg.Responder.Endpoint
			if responder == "" {
				responder = "(not configured)"
			}
			fmt.Fprintf(out, "Responder: %s\n", responder)

			fmt.Fprintf(out, "Mailbox:   enabled=%v interval=%ds lookback=%dh dedup=%s\n",
				cfg.Mailbox.Enabled, cfg.Mailbox.IntervalSeconds, cfg.Mailbox.LookbackHours, cfg.Mailbox.Dedup.Backend)

			if len(cfg.Organizations) == 0 {
				fmt.Fprintln(out, "Orgs:      (none)")
			}
			for _, o := range cfg.Organizations {
				var features []string
				if o.CollectIdentity {
					features = append(features, "identity")
				}
				if o.Mail.SMTP != nil {
					features = append(features, "smtp")
				}
				if o.Mail.IMAP != nil {
					features = append(features, "imap")
				}
				if len(o.FAQs) > 0 {
					features = append(features, fmt.Sprintf("faqs=%d", len(o.FAQs)))
				}
				fmt.Fprintf(out, "Org:       id=%s name=%q %s\n", o.ID, o.Name, strings.Join(features, " "))
			}

			if issues := config.Validate(&cfg); len(issues) > 0 {
				fmt.Fprintf(out, "\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Fprintf(out, "  - %s\n", issue)
				}
			}

			return nil
		},
	}

	return cmd
}
