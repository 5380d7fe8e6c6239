// Package org resolves the per-organization settings the engine, mailer,
// and poller consult.
package org

import (
	"sort"
	"sync"

	"github.com/soyeahso/livedesk/internal/config"
	"github.com/soyeahso/livedesk/internal/logging"
)

// Directory is a concurrency-safe set of organizations keyed by id.
type Directory struct {
	mu   sync.RWMutex
	orgs map[string]config.OrganizationConfig
	log  *logging.Logger
}

// NewDirectory creates a directory seeded with orgs.
func NewDirectory(orgs []config.OrganizationConfig, log *logging.Logger) *Directory {
	d := &Directory{
		orgs: make(map[string]config.OrganizationConfig, len(orgs)),
		log:  log.Sub("org"),
	}
	for _, o := range orgs {
		d.Register(o)
	}
	return d
}

// Register adds or replaces an organization.
func (d *Directory) Register(o config.OrganizationConfig) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.orgs[o.ID] = o
	d.log.Debug().Str("org", o.ID).Msg("organization registered")
}

// Get returns an organization by id.
func (d *Directory) Get(id string) (config.OrganizationConfig, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	o, ok := d.orgs[id]
	return o, ok
}

// List returns all organizations ordered by id.
func (d *Directory) List() []config.OrganizationConfig {
	d.mu.RLock()
	out := make([]config.OrganizationConfig, 0, len(d.orgs))
	for _, o := range d.orgs {
		out = append(out, o)
	}
	d.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// WithMailbox returns the organizations that have an IMAP mailbox configured.
func (d *Directory) WithMailbox() []config.OrganizationConfig {
	var out []config.OrganizationConfig
	for _, o := range d.List() {
		if o.Mail.IMAP != nil {
			out = append(out, o)
		}
	}
	return out
}

// CanMail reports whether outbound mail is configured for the organization.
func (d *Directory) CanMail(id string) bool {
	o, ok := d.Get(id)
	return ok && o.Mail.SMTP != nil && o.Mail.FromAddress != ""
}

// Count returns the number of organizations.
func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.orgs)
}
