package gateway

import (
	"context"
	"errors"

	"gridwave.io/gsm/stkgw/store"
)

// Submissions implements the write operations behind the HTTP surface:
// queueing an outbound message and creating a credit request. Both only
// enqueue; the poll cycle does the actual work later.
type Submissions struct {
	numbers store.NumberStore
	sms     store.SmsStore
	credits store.CreditStore
}

func NewSubmissions(numbers store.NumberStore, sms store.SmsStore, credits store.CreditStore) *Submissions {
	return &Submissions{numbers: numbers, sms: sms, credits: credits}
}

// AddMessage queues an outbound message from the provisioned local number
// localNumber to externalNumber. Returns ErrUnknownNumber when localNumber
// is not provisioned.
func (s *Submissions) AddMessage(ctx context.Context, localNumber, externalNumber, body string) (int64, error) {
	number, err := s.lookup(ctx, localNumber)
	if err != nil {
		return 0, err
	}
	sms := &store.Sms{
		LocalNumberID:  number.ID,
		Direction:      store.DirectionOutgoing,
		Status:         store.StatusCreated,
		ExternalNumber: externalNumber,
		Message:        body,
	}
	if err := s.sms.CreateSms(ctx, sms); err != nil {
		return 0, err
	}
	return sms.ID, nil
}

// CreateCreditRequest queues a prepaid credit request for the provisioned
// local number. Returns ErrUnknownNumber when the number is not provisioned.
func (s *Submissions) CreateCreditRequest(ctx context.Context, localNumber, callbackURL string) (int64, error) {
	number, err := s.lookup(ctx, localNumber)
	if err != nil {
		return 0, err
	}
	req := &store.CreditRequest{
		LocalNumberID: number.ID,
		Status:        store.StatusCreated,
		CallbackURL:   callbackURL,
	}
	if err := s.credits.CreateCreditRequest(ctx, req); err != nil {
		return 0, err
	}
	return req.ID, nil
}

func (s *Submissions) lookup(ctx context.Context, number string) (store.LocalNumber, error) {
	n, err := s.numbers.NumberByDialable(ctx, number)
	if errors.Is(err, store.ErrNotFound) {
		return store.LocalNumber{}, ErrUnknownNumber
	}
	return n, err
}
