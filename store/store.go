// Package store defines the gateway's persistent entities and the
// per-entity repositories the services are parameterized with.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("not found")

// Status values are shared between Sms and CreditRequest rows and kept
// numerically compatible with the legacy schema. Transitions are strictly
// forward-only; the MySQL implementation guards updates so a resolved row
// can never move backwards.
type Status int

const (
	StatusCreated           Status = 0
	StatusProcessed         Status = 10
	StatusFailed            Status = 20
	StatusCreditRequestSent Status = 30
	StatusTimedOut          Status = 40
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "CREATED"
	case StatusProcessed:
		return "PROCESSED"
	case StatusFailed:
		return "FAILED"
	case StatusCreditRequestSent:
		return "CREDIT_REQUEST_SENT"
	case StatusTimedOut:
		return "TIMED_OUT"
	}
	return "UNKNOWN"
}

// Terminal reports whether no further transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusProcessed || s == StatusFailed || s == StatusTimedOut
}

// CanAdvance reports whether the transition s -> next is part of the
// forward-only lifecycle.
func (s Status) CanAdvance(next Status) bool {
	if s.Terminal() {
		return false
	}
	switch s {
	case StatusCreated:
		return next == StatusProcessed || next == StatusFailed ||
			next == StatusCreditRequestSent || next == StatusTimedOut
	case StatusCreditRequestSent:
		return next == StatusProcessed || next == StatusFailed
	}
	return false
}

// Direction of an Sms relative to the gateway.
type Direction int

const (
	DirectionIncoming Direction = 0
	DirectionOutgoing Direction = 10
)

// Server is one modem pool reachable over its console. Provisioned by
// configuration/admin tooling and immutable during a poll cycle.
type Server struct {
	ID int64
	// Address is a host name/IP for telnet consoles, or a serial:// URI for
	// consoles attached over a local port.
	Address  string
	Port     int
	Username string
	Password string
}

// LocalNumber is one SIM in one module slot of a Server.
type LocalNumber struct {
	ID       int64
	ServerID int64
	// Module is the modem slot index on the server's console.
	Module int
	Number string
}

// Sms is a single inbound or outbound message.
type Sms struct {
	ID             int64
	LocalNumberID  int64
	Direction      Direction
	Status         Status
	ExternalNumber string
	Message        string
	CreatedAt      time.Time
}

// OutboundSms is an outbox row joined with the owning number, so the
// orchestrator knows which module slot to send through.
type OutboundSms struct {
	Sms
	Module int
}

// IncomingSms is an inbox row joined with the owning number, shaped for the
// forwarding payload.
type IncomingSms struct {
	Sms
	LocalNumber string
}

// CreditRequest is one prepaid credit top-up request for a LocalNumber.
type CreditRequest struct {
	ID            int64
	LocalNumberID int64
	Status        Status
	CallbackURL   string
	// Credit and CreditExpiration are populated once the carrier's
	// notification has been parsed.
	Credit           *float64
	CreditExpiration *time.Time
	CreatedAt        time.Time
	StatusUpdatedAt  time.Time
}

// ServerStore provides the provisioned modem pool servers.
type ServerStore interface {
	Servers(ctx context.Context) ([]Server, error)
}

// NumberStore provides the provisioned local numbers.
type NumberStore interface {
	NumbersForServer(ctx context.Context, serverID int64) ([]LocalNumber, error)
	NumberByDialable(ctx context.Context, number string) (LocalNumber, error)
}

// SmsStore persists messages and advances their status.
type SmsStore interface {
	CreateSms(ctx context.Context, sms *Sms) error
	// OutboxForServer returns CREATED OUTGOING messages owned by the
	// server's numbers, with module slots resolved.
	OutboxForServer(ctx context.Context, serverID int64) ([]OutboundSms, error)
	// InboxPending returns all CREATED INCOMING messages across servers.
	InboxPending(ctx context.Context) ([]IncomingSms, error)
	// SetSmsStatus advances a message's status. Rows already past CREATED
	// are left untouched.
	SetSmsStatus(ctx context.Context, id int64, status Status) error
}

// CreditStore persists credit requests and advances their status.
type CreditStore interface {
	CreateCreditRequest(ctx context.Context, req *CreditRequest) error
	// OldestCreated returns the oldest CREATED request for the number,
	// or ErrNotFound.
	OldestCreated(ctx context.Context, localNumberID int64) (CreditRequest, error)
	// OldestSent returns the oldest CREDIT_REQUEST_SENT request for the
	// number, or ErrNotFound.
	OldestSent(ctx context.Context, localNumberID int64) (CreditRequest, error)
	// SetCreditRequestStatus advances a request's status and stamps
	// status_updated_at.
	SetCreditRequestStatus(ctx context.Context, id int64, status Status) error
	// ResolveCreditRequest stores the parsed amount and expiration together
	// with the final status.
	ResolveCreditRequest(ctx context.Context, id int64, credit float64, expiration time.Time, status Status) error
	// ExpireStale moves CREATED requests whose status timestamp is older
	// than cutoff to TIMED_OUT, in one batch, and returns how many.
	ExpireStale(ctx context.Context, cutoff time.Time) (int64, error)
}
