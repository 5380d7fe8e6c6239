package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/soyeahso/livedesk/internal/config"
	"github.com/soyeahso/livedesk/internal/dedup"
	"github.com/soyeahso/livedesk/internal/dispatch"
	"github.com/soyeahso/livedesk/internal/escalation"
	"github.com/soyeahso/livedesk/internal/hooks"
	"github.com/soyeahso/livedesk/internal/keylock"
	"github.com/soyeahso/livedesk/internal/logging"
	"github.com/soyeahso/livedesk/internal/mailbox"
	"github.com/soyeahso/livedesk/internal/mailer"
	"github.com/soyeahso/livedesk/internal/org"
	"github.com/soyeahso/livedesk/internal/presence"
	"github.com/soyeahso/livedesk/internal/responder"
	"github.com/soyeahso/livedesk/internal/store"
	"github.com/soyeahso/livedesk/internal/store/postgres"
)

// runtime is the wired set of components shared by the long-running gateway
// and the one-shot commands.
type runtime struct {
	cfg    config.Config
	log    *logging.Logger
	store  store.Store
	orgs   *org.Directory
	hooks  *hooks.Manager
	engine *dispatch.Engine
	bridge *escalation.Bridge
	seen   dedup.Set
	poller *mailbox.Poller
}

// loadConfig reads and validates the config file.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return cfg, err
	}
	if issues := config.Validate(&cfg); len(issues) > 0 {
		for _, issue := range issues {
			log.Error().Str("path", issue.Path).Msg(issue.Message)
		}
		return cfg, fmt.Errorf("config validation failed with %d issue(s)", len(issues))
	}
	return cfg, nil
}

// openStore opens the backend selected by store.driver.
func openStore(ctx context.Context, cfg config.StoreConfig, log *logging.Logger) (store.Store, error) {
	switch cfg.Driver {
	case "memory":
		log.Info().Msg("using in-memory store")
		return store.NewMemory(), nil
	case "postgres":
		if cfg.DSN == "" {
			return nil, errors.New("store.dsn is required for the postgres driver")
		}
		return postgres.Open(ctx, cfg.DSN, log)
	case "", "sqlite":
		path := cfg.Path
		if path == "" {
			if err := paths.EnsureDirs(); err != nil {
				return nil, fmt.Errorf("creating data directory: %w", err)
			}
			path = paths.DatabasePath()
		}
		return store.Open(path, log)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// newRuntime wires every component from cfg. The caller owns Close.
func newRuntime(ctx context.Context, cfg config.Config, log *logging.Logger) (*runtime, error) {
	st, err := openStore(ctx, cfg.Store, log)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	// Presence is in-memory; a restart leaves nobody online.
	if err := st.ResetAgents(ctx); err != nil {
		log.Warn().Err(err).Msg("resetting agent mirror failed")
	}

	seen, err := dedup.Open(cfg.Mailbox.Dedup)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("opening dedup set: %w", err)
	}

	hm := hooks.NewManager(log)
	if n := hooks.RegisterWebhooks(hm, cfg.Hooks, &http.Client{Timeout: 30 * time.Second}); n > 0 {
		log.Info().Int("webhooks", n).Msg("webhooks registered")
	}

	orgs := org.NewDirectory(cfg.Organizations, log)
	resp := responder.New(cfg.Responder)
	mail := mailer.New(orgs, log)
	locks := keylock.New()

	engine := dispatch.New(dispatch.Deps{
		Store:     st,
		Presence:  presence.New(st, log),
		Responder: resp,
		Orgs:      orgs,
		Mailer:    mail,
		Hooks:     hm,
		Locks:     locks,
		Prompts:   cfg.Dispatch,
	}, log)
	bridge := escalation.New(escalation.Deps{
		Store:     st,
		Responder: resp,
		Mailer:    mail,
		Orgs:      orgs,
		Hooks:     hm,
		Locks:     locks,
	}, log)
	poller := mailbox.New(orgs, mailbox.IMAPDialer{}, seen, engine, mailbox.OptionsFrom(cfg.Mailbox), log)

	return &runtime{
		cfg:    cfg,
		log:    log,
		store:  st,
		orgs:   orgs,
		hooks:  hm,
		engine: engine,
		bridge: bridge,
		seen:   seen,
		poller: poller,
	}, nil
}

// Close drains background work and releases the store and seen-set.
func (r *runtime) Close() error {
	r.engine.Wait()
	r.bridge.Wait()
	r.hooks.Wait()
	return errors.Join(r.seen.Close(), r.store.Close())
}
