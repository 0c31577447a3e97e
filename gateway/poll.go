package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"gridwave.io/gsm/stkgw/store"
)

// CreditRequestTTL is how long a CREATED credit request may wait before the
// next cycle times it out.
const CreditRequestTTL = 5 * time.Minute

// CycleLock serializes poll cycles across gateway processes. A lock that
// cannot be acquired means another cycle is still running and this one is
// skipped.
type CycleLock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// PollerConfig carries the external endpoints and bounds of a cycle.
type PollerConfig struct {
	// MaxConcurrentServers bounds how many server sessions run at once.
	// Zero means 4.
	MaxConcurrentServers int
	// ForwardURL and ForwardToken identify the inbound forwarding endpoint.
	ForwardURL   string
	ForwardToken string
}

// Poller is the externally-triggered entry point of the gateway: expire
// stale credit requests, run the orchestrator over every server, forward
// newly received messages downstream.
type Poller struct {
	orch     *Orchestrator
	servers  store.ServerStore
	sms      store.SmsStore
	credits  store.CreditStore
	notifier *Notifier
	lock     CycleLock // optional
	cfg      PollerConfig
	log      *slog.Logger

	now func() time.Time
}

func NewPoller(orch *Orchestrator, servers store.ServerStore, sms store.SmsStore,
	credits store.CreditStore, notifier *Notifier, lock CycleLock,
	cfg PollerConfig, log *slog.Logger) *Poller {
	if cfg.MaxConcurrentServers <= 0 {
		cfg.MaxConcurrentServers = 4
	}
	return &Poller{
		orch:     orch,
		servers:  servers,
		sms:      sms,
		credits:  credits,
		notifier: notifier,
		lock:     lock,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

// RunCycle executes one full poll cycle.
func (p *Poller) RunCycle(ctx context.Context) error {
	if p.lock != nil {
		ok, err := p.lock.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("acquire cycle lock: %w", err)
		}
		if !ok {
			p.log.Info("poll cycle already running elsewhere, skipping")
			return nil
		}
		defer p.lock.Release(ctx)
	}

	// Expire before any negotiation starts, so an already-stale request is
	// never submitted to the carrier this cycle.
	expired, err := p.credits.ExpireStale(ctx, p.now().Add(-CreditRequestTTL))
	if err != nil {
		return fmt.Errorf("expire credit requests: %w", err)
	}
	if expired > 0 {
		p.log.Info("expired stale credit requests", "count", expired)
	}

	servers, err := p.servers.Servers(ctx)
	if err != nil {
		return fmt.Errorf("load servers: %w", err)
	}

	// Servers are independent; a failed one is logged and the rest carry
	// on, so errors stay out of the group.
	var g errgroup.Group
	g.SetLimit(p.cfg.MaxConcurrentServers)
	for _, server := range servers {
		server := server
		g.Go(func() error {
			if err := p.orch.RunServer(ctx, server); err != nil {
				p.log.Error("server cycle failed", "server", server.Address, "error", err)
			}
			return nil
		})
	}
	g.Wait()

	return p.forwardInbox(ctx)
}

// forwardInbox delivers every stored-but-unforwarded incoming message to the
// forwarding endpoint and resolves its status by the response.
func (p *Poller) forwardInbox(ctx context.Context) error {
	pending, err := p.sms.InboxPending(ctx)
	if err != nil {
		return fmt.Errorf("load pending inbox: %w", err)
	}

	for _, sms := range pending {
		status := store.StatusProcessed
		err := p.notifier.ForwardIncoming(ctx, p.cfg.ForwardURL, p.cfg.ForwardToken,
			sms.ExternalNumber, sms.LocalNumber, sms.Message)
		if err != nil {
			p.log.Warn("inbound forward failed", "sms", sms.ID, "error", err)
			status = store.StatusFailed
		}
		if err := p.sms.SetSmsStatus(ctx, sms.ID, status); err != nil {
			p.log.Error("mark forwarded sms failed", "sms", sms.ID, "error", err)
		}
	}
	return nil
}
