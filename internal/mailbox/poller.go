// Package mailbox polls organization inboxes for visitor replies to
// conversation mail and hands them to the dispatch engine.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/soyeahso/livedesk/internal/apperr"
	"github.com/soyeahso/livedesk/internal/config"
	"github.com/soyeahso/livedesk/internal/dedup"
	"github.com/soyeahso/livedesk/internal/domain"
	"github.com/soyeahso/livedesk/internal/logging"
	"github.com/soyeahso/livedesk/internal/org"
)

// ErrBusy is returned by Poll when another cycle is still running.
var ErrBusy = errors.New("mailbox: poll already in progress")

// Sink applies reconciled replies.
type Sink interface {
	IngestMailReply(ctx context.Context, reply domain.MailReply) error
}

// Options tune the poller.
type Options struct {
	Interval  time.Duration
	Lookback  time.Duration
	IOTimeout time.Duration
}

// OptionsFrom converts config, clamping the interval to the minimum.
func OptionsFrom(cfg config.MailboxConfig) Options {
	o := Options{
		Interval:  time.Duration(cfg.IntervalSeconds) * time.Second,
		Lookback:  time.Duration(cfg.LookbackHours) * time.Hour,
		IOTimeout: time.Duration(cfg.IOTimeoutSeconds) * time.Second,
	}
	if cfg.IntervalSeconds == 0 {
		o.Interval = config.DefaultMailboxInterval * time.Second
	}
	if o.Interval < config.MinMailboxInterval*time.Second {
		o.Interval = config.MinMailboxInterval * time.Second
	}
	if o.Lookback <= 0 {
		o.Lookback = config.DefaultLookbackHours * time.Hour
	}
	if o.IOTimeout <= 0 {
		o.IOTimeout = config.DefaultIOTimeoutSeconds * time.Second
	}
	return o
}

// Result summarizes one organization's part of a cycle.
type Result struct {
	OrgID      string `json:"orgId"`
	Fetched    int    `json:"fetched"`
	Applied    int    `json:"applied"`
	Duplicates int    `json:"duplicates"`
	Discarded  int    `json:"discarded"`
	Retry      int    `json:"retry"`
	Err        error  `json:"-"`
}

// Poller runs poll cycles. At most one cycle runs at a time; a firing that
// finds a cycle in progress is skipped.
type Poller struct {
	orgs   *org.Directory
	dialer Dialer
	seen   dedup.Set
	sink   Sink
	opts   Options
	sem    *semaphore.Weighted
	now    func() time.Time
	log    *logging.Logger
}

// New creates a poller.
func New(orgs *org.Directory, dialer Dialer, seen dedup.Set, sink Sink, opts Options, log *logging.Logger) *Poller {
	return &Poller{
		orgs:   orgs,
		dialer: dialer,
		seen:   seen,
		sink:   sink,
		opts:   opts,
		sem:    semaphore.NewWeighted(1),
		now:    time.Now,
		log:    log.Sub("mailbox"),
	}
}

// Run polls immediately and then on every interval until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	p.log.Info().Dur("interval", p.opts.Interval).Int("orgs", len(p.orgs.WithMailbox())).Msg("mailbox poller started")

	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	for {
		if _, err := p.Poll(ctx); err != nil && !errors.Is(err, ErrBusy) {
			p.log.Warn().Err(err).Msg("poll cycle failed")
		}
		select {
		case <-ctx.Done():
			p.log.Info().Msg("mailbox poller stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Poll runs one cycle over every organization with a mailbox. Failures in
// one organization never affect the others.
func (p *Poller) Poll(ctx context.Context) ([]Result, error) {
	if !p.sem.TryAcquire(1) {
		p.log.Debug().Msg("previous poll still running, skipping")
		return nil, ErrBusy
	}
	defer p.sem.Release(1)

	var results []Result
	for _, o := range p.orgs.WithMailbox() {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		res := p.pollOrg(ctx, o)
		if res.Err != nil {
			p.log.Warn().Err(res.Err).Str("org", o.ID).Msg("mailbox poll failed")
		}
		results = append(results, res)
	}
	return results, nil
}

func (p *Poller) pollOrg(ctx context.Context, o config.OrganizationConfig) Result {
	res := Result{OrgID: o.ID}

	conn, err := p.dialer.Dial(ctx, *o.Mail.IMAP, p.opts.IOTimeout)
	if err != nil {
		res.Err = err
		return res
	}
	defer func() {
		if err := conn.Close(); err != nil {
			p.log.Debug().Err(err).Str("org", o.ID).Msg("mailbox logout failed")
		}
	}()

	msgs, err := conn.FetchUnseenSince(ctx, p.now().Add(-p.opts.Lookback))
	if err != nil {
		res.Err = err
		return res
	}
	res.Fetched = len(msgs)

	for _, raw := range msgs {
		switch p.process(ctx, o, raw) {
		case outcomeApplied:
			res.Applied++
		case outcomeDuplicate:
			res.Duplicates++
		case outcomeRetry:
			res.Retry++
		default:
			res.Discarded++
		}
	}

	if res.Fetched > 0 {
		p.log.Info().Str("org", o.ID).Int("fetched", res.Fetched).Int("applied", res.Applied).
			Int("duplicates", res.Duplicates).Int("discarded", res.Discarded).Msg("mailbox polled")
	}
	return res
}

type outcome int

const (
	outcomeDiscarded outcome = iota
	outcomeApplied
	outcomeDuplicate
	outcomeRetry
)

func (p *Poller) process(ctx context.Context, o config.OrganizationConfig, raw RawMessage) outcome {
	log := p.log.With("org", o.ID)

	parsed, err := Parse(raw.Body)
	if err != nil {
		log.Warn().Err(err).Uint32("uid", raw.UID).Msg("unparseable message, discarding")
		return outcomeDiscarded
	}
	if o.Mail.FromAddress != "" && strings.EqualFold(parsed.From, o.Mail.FromAddress) {
		return outcomeDiscarded
	}

	convID, strategy, ok := ExtractToken(parsed)
	if !ok {
		log.Debug().Uint32("uid", raw.UID).Str("subject", parsed.Subject).Msg("no conversation token, discarding")
		return outcomeDiscarded
	}

	body := ExtractReply(parsed.Body)
	if body == "" {
		log.Debug().Str("conversation", convID).Msg("empty reply, discarding")
		return outcomeDiscarded
	}

	key := dedupKey(o.ID, parsed.MessageID, raw.UID)
	seen, err := p.seen.CheckAndMark(ctx, key)
	if err != nil {
		log.Warn().Err(err).Msg("dedup check failed, leaving for next cycle")
		return outcomeRetry
	}
	if seen {
		return outcomeDuplicate
	}

	received := parsed.Date
	if received.IsZero() {
		received = p.now()
	}
	err = p.sink.IngestMailReply(ctx, domain.MailReply{
		ConversationID: convID,
		OrgID:          o.ID,
		From:           parsed.From,
		Subject:        parsed.Subject,
		Body:           body,
		ReceivedAt:     received,
		DedupKey:       key,
		Strategy:       strategy,
	})
	if err == nil {
		log.Info().Str("conversation", convID).Str("strategy", strategy).Msg("mail reply applied")
		return outcomeApplied
	}
	if errors.Is(err, domain.ErrReplyApplied) {
		log.Debug().Str("conversation", convID).Msg("mail reply already stored")
		return outcomeDuplicate
	}

	switch apperr.CodeOf(err) {
	case apperr.CodeNotFound, apperr.CodeInvalid, apperr.CodeConflict:
		log.Info().Err(err).Str("conversation", convID).Msg("mail reply rejected, discarding")
		return outcomeDiscarded
	default:
		if ferr := p.seen.Forget(ctx, key); ferr != nil {
			log.Warn().Err(ferr).Msg("failed to forget dedup key")
		}
		log.Warn().Err(err).Str("conversation", convID).Msg("mail reply not applied, will retry")
		return outcomeRetry
	}
}

func dedupKey(orgID, messageID string, uid uint32) string {
	if messageID == "" {
		return fmt.Sprintf("%s/uid:%d", orgID, uid)
	}
	return orgID + "/" + messageID
}
