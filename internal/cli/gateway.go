package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/soyeahso/livedesk/internal/gateway"
	"github.com/soyeahso/livedesk/internal/logging"
	"github.com/spf13/cobra"
	"github.com/tillberg/autorestart"
	"golang.org/x/sync/errgroup"
)

func newGatewayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Manage the livedesk gateway server",
	}

	cmd.AddCommand(newGatewayRunCmd())
	return cmd
}

func newGatewayRunCmd() *cobra.Command {
	var (
		port      int
		bind      string
		noMailbox bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the gateway server and the mailbox poller",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Gateway.Port = port
			}
			if bind != "" {
				cfg.Gateway.Bind = bind
			}

			level := cfg.Logging.Level
			if logLevel != "" {
				level = logLevel
			}
			runLog, closer, err := logging.Open(logging.Options{
				Level: level,
				Style: cfg.Logging.ConsoleStyle,
				File:  cfg.Logging.File,
			})
			if err != nil {
				return err
			}
			defer closer.Close()

			if cfg.Dev.AutoRestart {
				runLog.Info().Msg("autorestart enabled; watching the binary for changes")
				go autorestart.RestartOnChange()
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, err := newRuntime(ctx, cfg, runLog)
			if err != nil {
				return err
			}
			defer rt.Close()

			srv := gateway.New(cfg, rt.engine, rt.bridge, rt.orgs, runLog, gateway.WithHooks(rt.hooks))

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.Start(gctx) })

			switch {
			case noMailbox || !cfg.Mailbox.Enabled:
				runLog.Info().Msg("mailbox poller disabled")
			case len(rt.orgs.WithMailbox()) == 0:
				runLog.Info().Msg("no organization has a mailbox configured; poller idle")
			default:
				g.Go(func() error { return rt.poller.Run(gctx) })
			}

			return g.Wait()
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override gateway port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (loopback, lan, custom)")
	cmd.Flags().BoolVar(&noMailbox, "no-mailbox", false, "do not start the mailbox poller")

	return cmd
}
