package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"gridwave.io/gsm/stkgw/at"
	"gridwave.io/gsm/stkgw/modem"
	"gridwave.io/gsm/stkgw/store"
)

// CreditService drives the STK credit request dialogue and resolves the
// carrier's credit notifications against pending requests.
type CreditService struct {
	credits  store.CreditStore
	notifier *Notifier
	log      *slog.Logger
}

func NewCreditService(credits store.CreditStore, notifier *Notifier, log *slog.Logger) *CreditService {
	return &CreditService{credits: credits, notifier: notifier, log: log}
}

// Negotiate submits the oldest CREATED credit request for the number over
// the active module, if there is one. Further CREATED requests wait for a
// later cycle; the carrier answers at most one dialogue per STK session.
//
// Outcome is recorded on the request: CREDIT_REQUEST_SENT when the SIM
// application confirmed the submit, FAILED when any step missed its marker.
func (s *CreditService) Negotiate(ctx context.Context, drv *modem.Driver, number store.LocalNumber) error {
	req, err := s.credits.OldestCreated(ctx, number.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	sent, err := s.negotiate(drv)
	if err != nil {
		return fmt.Errorf("credit negotiation on %s: %w", number.Number, err)
	}

	status := store.StatusFailed
	if sent {
		status = store.StatusCreditRequestSent
	}
	s.log.Info("credit negotiation finished",
		"number", number.Number, "request", req.ID, "status", status.String())
	return s.credits.SetCreditRequestStatus(ctx, req.ID, status)
}

// negotiate walks the STK menu: envelope, two menu confirmations, submit.
// Errors are session-level only; a missed marker is a negotiation failure,
// not an error.
func (s *CreditService) negotiate(drv *modem.Driver) (bool, error) {
	res, err := drv.StkEnvelope()
	if err != nil {
		return false, err
	}

	if len(res) < at.EnvelopeSessionLen {
		// A short envelope response means the module was left mid-menu by
		// an earlier dialogue. Select an item to unwedge it and restart the
		// STK session. One recovery attempt only.
		if _, err := drv.StkMenuSelect(); err != nil {
			return false, err
		}
		if _, err := drv.StkEnvelope(); err != nil {
			return false, err
		}
	}

	res, err = drv.StkMenuSelect()
	if err != nil {
		return false, err
	}
	if !strings.Contains(res, at.MarkerMenuConfirmed) {
		return false, nil
	}

	res, err = drv.StkItemSelect()
	if err != nil {
		return false, err
	}
	if !strings.Contains(res, at.MarkerItemConfirmed) {
		return false, nil
	}

	res, err = drv.StkSubmit()
	if err != nil {
		return false, err
	}
	return strings.Contains(res, at.MarkerSubmitConfirmed), nil
}

// HandleNotification resolves a carrier credit notification body against the
// oldest CREDIT_REQUEST_SENT request of the number. A notification with no
// request waiting is dropped silently; the carrier re-sends balance notices
// unprompted and those are not ours to answer.
//
// Parsed amount and expiration are persisted regardless of how the callback
// delivery goes; only the final status depends on it.
func (s *CreditService) HandleNotification(ctx context.Context, number store.LocalNumber, text string) error {
	req, err := s.credits.OldestSent(ctx, number.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	credit, expiration, err := ParseCreditNotice(text)
	if err != nil {
		s.log.Warn("unparseable credit notification",
			"number", number.Number, "request", req.ID, "error", err)
		return s.credits.SetCreditRequestStatus(ctx, req.ID, store.StatusFailed)
	}

	status := store.StatusProcessed
	if err := s.notifier.CreditResult(ctx, req.CallbackURL, req.ID, credit, expiration); err != nil {
		s.log.Warn("credit callback delivery failed",
			"request", req.ID, "url", req.CallbackURL, "error", err)
		status = store.StatusFailed
	}
	return s.credits.ResolveCreditRequest(ctx, req.ID, credit, expiration, status)
}

// ParseCreditNotice extracts amount and expiration from a credit
// notification body. The vendor format is two comma-separated fields: the
// amount follows a 0x02 control character in the first, the expiration is
// the last whitespace-delimited token of the second with one trailing
// character to strip, as day/month/year. The expiration is normalized to
// 23:59:59 of that day.
func ParseCreditNotice(text string) (float64, time.Time, error) {
	parts := strings.Split(text, ",")
	if len(parts) < 2 {
		return 0, time.Time{}, fmt.Errorf("%w: missing fields", ErrBadCreditNotice)
	}

	amountParts := strings.SplitN(parts[0], "\x02", 2)
	if len(amountParts) < 2 {
		return 0, time.Time{}, fmt.Errorf("%w: no amount delimiter", ErrBadCreditNotice)
	}
	credit, err := strconv.ParseFloat(strings.TrimSpace(amountParts[1]), 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("%w: bad amount %q", ErrBadCreditNotice, amountParts[1])
	}

	tokens := strings.Fields(parts[1])
	if len(tokens) == 0 {
		return 0, time.Time{}, fmt.Errorf("%w: no expiration field", ErrBadCreditNotice)
	}
	last := tokens[len(tokens)-1]
	if len(last) < 2 {
		return 0, time.Time{}, fmt.Errorf("%w: bad expiration token %q", ErrBadCreditNotice, last)
	}
	day, err := time.Parse("02/01/2006", last[:len(last)-1])
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("%w: bad expiration date %q", ErrBadCreditNotice, last)
	}

	expiration := time.Date(day.Year(), day.Month(), day.Day(), 23, 59, 59, 0, time.Local)
	return credit, expiration, nil
}
