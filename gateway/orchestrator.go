package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"gridwave.io/gsm/stkgw/at"
	"gridwave.io/gsm/stkgw/modem"
	"gridwave.io/gsm/stkgw/store"
)

// SessionFactory opens a console session to a server. Injected so tests can
// replay scripted dialogues and main can pick telnet or serial per server.
type SessionFactory func(ctx context.Context, server store.Server) (modem.Session, error)

// Orchestrator runs the full console dialogue against one server: login,
// per-number inbound pull and credit negotiation, outbound drain.
//
// One server means one telnet connection and one active module at a time, so
// everything in here is strictly sequential. Failures are isolated: a number
// that errors is logged and skipped, never aborting the rest of the server's
// work, and a server that errors never aborts the cycle (the poller owns
// that isolation).
type Orchestrator struct {
	dial    SessionFactory
	numbers store.NumberStore
	sms     store.SmsStore
	credit  *CreditService
	log     *slog.Logger

	driverOpts []modem.DriverOption
}

func NewOrchestrator(dial SessionFactory, numbers store.NumberStore, sms store.SmsStore,
	credit *CreditService, log *slog.Logger, driverOpts ...modem.DriverOption) *Orchestrator {
	return &Orchestrator{
		dial:       dial,
		numbers:    numbers,
		sms:        sms,
		credit:     credit,
		log:        log,
		driverOpts: driverOpts,
	}
}

// RunServer processes one server end to end. The session is closed on every
// exit path once dialing succeeded.
func (o *Orchestrator) RunServer(ctx context.Context, server store.Server) error {
	sess, err := o.dial(ctx, server)
	if err != nil {
		return fmt.Errorf("connect %s: %w", server.Address, err)
	}
	defer sess.Close()

	drv := modem.NewDriver(sess, o.driverOpts...)
	if err := drv.Login(server.Username, server.Password); err != nil {
		return fmt.Errorf("login %s: %w", server.Address, err)
	}

	numbers, err := o.numbers.NumbersForServer(ctx, server.ID)
	if err != nil {
		return fmt.Errorf("load numbers for %s: %w", server.Address, err)
	}

	log := o.log.With("server", server.Address)
	for _, number := range numbers {
		if err := o.pollNumber(ctx, drv, number); err != nil {
			log.Error("number poll failed", "number", number.Number, "error", err)
		}
	}

	o.drainOutbox(ctx, drv, server, log)
	return nil
}

// pollNumber pulls stored messages off one module and runs the credit
// negotiation for its number.
func (o *Orchestrator) pollNumber(ctx context.Context, drv *modem.Driver, number store.LocalNumber) error {
	if err := drv.SelectModule(number.Module); err != nil {
		return err
	}
	defer drv.ReleaseModule()

	if err := drv.SetupModes(); err != nil {
		return err
	}

	listing, err := drv.ListMessages()
	if err != nil {
		return err
	}
	for _, entry := range ParseListing(listing) {
		if err := o.consume(ctx, drv, number, entry); err != nil {
			return err
		}
	}

	return o.credit.Negotiate(ctx, drv, number)
}

// consume routes one listing entry and deletes it from the modem. Deletion
// happens immediately after the entry is stored or routed, so a crash
// between entries never replays already-consumed messages on the next cycle.
func (o *Orchestrator) consume(ctx context.Context, drv *modem.Driver, number store.LocalNumber, entry Entry) error {
	if entry.Sender == at.CreditSender {
		if err := o.credit.HandleNotification(ctx, number, entry.Text); err != nil {
			return err
		}
	} else {
		sms := &store.Sms{
			LocalNumberID:  number.ID,
			Direction:      store.DirectionIncoming,
			Status:         store.StatusCreated,
			ExternalNumber: entry.Sender,
			Message:        entry.Text,
		}
		if err := o.sms.CreateSms(ctx, sms); err != nil {
			return err
		}
	}
	return drv.DeleteMessage(entry.Index)
}

// drainOutbox sends every queued outbound message owned by the server.
// A message whose dialogue completes is marked PROCESSED; the modem's
// acknowledgment is not verified (see Driver.SendMessage).
func (o *Orchestrator) drainOutbox(ctx context.Context, drv *modem.Driver, server store.Server, log *slog.Logger) {
	outbox, err := o.sms.OutboxForServer(ctx, server.ID)
	if err != nil {
		log.Error("load outbox failed", "error", err)
		return
	}

	for _, item := range outbox {
		if err := o.sendOne(drv, item); err != nil {
			log.Error("outbound send failed", "sms", item.ID, "error", err)
			continue
		}
		if err := o.sms.SetSmsStatus(ctx, item.ID, store.StatusProcessed); err != nil {
			log.Error("mark sms processed failed", "sms", item.ID, "error", err)
		}
	}
}

func (o *Orchestrator) sendOne(drv *modem.Driver, item store.OutboundSms) error {
	if err := drv.SelectModule(item.Module); err != nil {
		return err
	}
	defer drv.ReleaseModule()

	if err := drv.SetupModes(); err != nil {
		return err
	}
	return drv.SendMessage(item.ExternalNumber, Transliterate(item.Message))
}
