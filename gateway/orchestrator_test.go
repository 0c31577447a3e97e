package gateway_test

import (
	"context"
	"errors"
	"slices"
	"testing"

	"gridwave.io/gsm/stkgw/gateway"
	"gridwave.io/gsm/stkgw/modem"
	"gridwave.io/gsm/stkgw/store"
)

func TestOrchestratorRunServer(t *testing.T) {
	server := store.Server{ID: 1, Address: "10.0.0.5", Port: 23, Username: "smsgw", Password: "secret"}
	numbers := &fakeNumberStore{numbers: []store.LocalNumber{
		{ID: 1, ServerID: 1, Module: 2, Number: "+306900000001"},
	}}

	t.Run("full cycle over one number", func(t *testing.T) {
		listing := "+CMGL: 3,\"REC UNREAD\",\"+306900000099\",,\"\"\r\n" +
			"hello world\r\n" +
			"+CMGL: 4,\"REC UNREAD\",\"+123\",,\"\"\r\n" +
			"Balance\x0212.5,valid until 15/08/2026.\r\n" +
			"0\r\n"

		// Login (3 reads), module select, four mode commands, listing echo,
		// then the listing itself; everything after may answer empty.
		sess := modem.NewScriptSession(
			"username: ", "password: ", "]",
			"to release module 2.",
			"", "", "", "",
			"AT+CMGL=\"ALL\"\r\n",
			listing,
		)

		sms := &fakeSmsStore{outbox: []store.OutboundSms{
			{Sms: store.Sms{ID: 77, LocalNumberID: 1, ExternalNumber: "+306900000010", Message: "café"}, Module: 2},
		}}
		credits := &fakeCreditStore{}
		credit := gateway.NewCreditService(credits, gateway.NewNotifier(0), discardLogger())
		factory := func(ctx context.Context, s store.Server) (modem.Session, error) {
			return sess, nil
		}

		orch := gateway.NewOrchestrator(factory, numbers, sms, credit, discardLogger())
		if err := orch.RunServer(context.Background(), server); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if len(sms.created) != 1 {
			t.Fatalf("stored %d messages, want 1", len(sms.created))
		}
		got := sms.created[0]
		if got.ExternalNumber != "+306900000099" || got.Message != "hello world" {
			t.Errorf("stored message: %+v", got)
		}
		if got.Direction != store.DirectionIncoming || got.Status != store.StatusCreated {
			t.Errorf("stored message lifecycle: %+v", got)
		}

		// Both listing entries must be deleted from the modem, including the
		// credit notice that was dropped for lack of a pending request.
		for _, del := range []string{"at+cmgd=3\r\n", "at+cmgd=4\r\n"} {
			if !slices.Contains(sess.Writes, del) {
				t.Errorf("missing delete %q in %q", del, sess.Writes)
			}
		}

		// Outbound drain: destination dialogue, ASCII-folded body, PROCESSED.
		if !slices.Contains(sess.Writes, "at+cmgs=\"+306900000010\"\r\n") {
			t.Errorf("missing send dialogue in %q", sess.Writes)
		}
		if !slices.Contains(sess.Writes, "cafe\x1a") {
			t.Errorf("missing transliterated body in %q", sess.Writes)
		}
		if sms.statuses[77] != store.StatusProcessed {
			t.Errorf("outbound status: got %v, want PROCESSED", sms.statuses[77])
		}

		if !sess.Closed {
			t.Error("session was not closed")
		}
	})

	t.Run("dial failure is returned", func(t *testing.T) {
		wantErr := errors.New("no route to host")
		factory := func(ctx context.Context, s store.Server) (modem.Session, error) {
			return nil, wantErr
		}
		credit := gateway.NewCreditService(&fakeCreditStore{}, gateway.NewNotifier(0), discardLogger())
		orch := gateway.NewOrchestrator(factory, numbers, &fakeSmsStore{}, credit, discardLogger())

		if err := orch.RunServer(context.Background(), server); !errors.Is(err, wantErr) {
			t.Errorf("got %v, want %v", err, wantErr)
		}
	})
}
