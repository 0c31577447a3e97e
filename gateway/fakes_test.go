package gateway_test

import (
	"context"
	"sync"
	"time"

	"gridwave.io/gsm/stkgw/store"
)

// In-memory stores used across the gateway tests. They implement the store
// interfaces over plain slices; guarded because poll cycles touch them from
// worker goroutines.

type fakeServerStore struct {
	mu      sync.Mutex
	servers []store.Server
	calls   int
}

func (f *fakeServerStore) Servers(ctx context.Context) ([]store.Server, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return append([]store.Server(nil), f.servers...), nil
}

type fakeNumberStore struct {
	mu      sync.Mutex
	numbers []store.LocalNumber
}

func (f *fakeNumberStore) NumbersForServer(ctx context.Context, serverID int64) ([]store.LocalNumber, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.LocalNumber
	for _, n := range f.numbers {
		if n.ServerID == serverID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (f *fakeNumberStore) NumberByDialable(ctx context.Context, number string) (store.LocalNumber, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range f.numbers {
		if n.Number == number {
			return n, nil
		}
	}
	return store.LocalNumber{}, store.ErrNotFound
}

type fakeSmsStore struct {
	mu       sync.Mutex
	nextID   int64
	created  []store.Sms
	outbox   []store.OutboundSms
	inbox    []store.IncomingSms
	statuses map[int64]store.Status
}

func (f *fakeSmsStore) CreateSms(ctx context.Context, sms *store.Sms) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	sms.ID = f.nextID
	f.created = append(f.created, *sms)
	return nil
}

func (f *fakeSmsStore) OutboxForServer(ctx context.Context, serverID int64) ([]store.OutboundSms, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.OutboundSms(nil), f.outbox...), nil
}

func (f *fakeSmsStore) InboxPending(ctx context.Context) ([]store.IncomingSms, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.IncomingSms(nil), f.inbox...), nil
}

func (f *fakeSmsStore) SetSmsStatus(ctx context.Context, id int64, status store.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statuses == nil {
		f.statuses = make(map[int64]store.Status)
	}
	f.statuses[id] = status
	return nil
}

type resolution struct {
	credit     float64
	expiration time.Time
	status     store.Status
}

type fakeCreditStore struct {
	mu          sync.Mutex
	nextID      int64
	pending     []store.CreditRequest
	statuses    map[int64]store.Status
	resolutions map[int64]resolution
	cutoffs     []time.Time
}

func (f *fakeCreditStore) CreateCreditRequest(ctx context.Context, req *store.CreditRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	req.ID = f.nextID
	f.pending = append(f.pending, *req)
	return nil
}

func (f *fakeCreditStore) OldestCreated(ctx context.Context, localNumberID int64) (store.CreditRequest, error) {
	return f.oldest(localNumberID, store.StatusCreated)
}

func (f *fakeCreditStore) OldestSent(ctx context.Context, localNumberID int64) (store.CreditRequest, error) {
	return f.oldest(localNumberID, store.StatusCreditRequestSent)
}

func (f *fakeCreditStore) oldest(localNumberID int64, status store.Status) (store.CreditRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, req := range f.pending {
		if req.LocalNumberID == localNumberID && req.Status == status {
			return req, nil
		}
	}
	return store.CreditRequest{}, store.ErrNotFound
}

func (f *fakeCreditStore) SetCreditRequestStatus(ctx context.Context, id int64, status store.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statuses == nil {
		f.statuses = make(map[int64]store.Status)
	}
	f.statuses[id] = status
	return nil
}

func (f *fakeCreditStore) ResolveCreditRequest(ctx context.Context, id int64, credit float64, expiration time.Time, status store.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolutions == nil {
		f.resolutions = make(map[int64]resolution)
	}
	f.resolutions[id] = resolution{credit: credit, expiration: expiration, status: status}
	return nil
}

// ExpireStale mirrors the MySQL semantics: only CREATED requests stamped
// strictly before the cutoff time out.
func (f *fakeCreditStore) ExpireStale(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, cutoff)
	var n int64
	for i, req := range f.pending {
		if req.Status == store.StatusCreated && req.StatusUpdatedAt.Before(cutoff) {
			f.pending[i].Status = store.StatusTimedOut
			n++
		}
	}
	return n, nil
}

func (f *fakeCreditStore) statusOf(id int64) store.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, req := range f.pending {
		if req.ID == id {
			return req.Status
		}
	}
	return store.Status(-1)
}
