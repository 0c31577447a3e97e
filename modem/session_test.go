package modem_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"go.uber.org/mock/gomock"

	"gridwave.io/gsm/stkgw/modem"
)

// chanTransport feeds scripted chunks to the session's reader goroutine and
// records everything written. Closing the chunk channel simulates the remote
// end hanging up; Close unblocks the reader so goroutines do not leak.
type chanTransport struct {
	chunks chan []byte
	done   chan struct{}
	once   sync.Once
	writes []string
}

func newChanTransport(chunks ...string) *chanTransport {
	t := &chanTransport{
		chunks: make(chan []byte, len(chunks)),
		done:   make(chan struct{}),
	}
	for _, c := range chunks {
		t.chunks <- []byte(c)
	}
	return t
}

func (t *chanTransport) Read(p []byte) (int, error) {
	select {
	case chunk, ok := <-t.chunks:
		if !ok {
			return 0, io.EOF
		}
		return copy(p, chunk), nil
	case <-t.done:
		return 0, io.EOF
	}
}

func (t *chanTransport) Write(p []byte) (int, error) {
	t.writes = append(t.writes, string(p))
	return len(p), nil
}

func (t *chanTransport) Close() error {
	t.once.Do(func() { close(t.done) })
	return nil
}

func TestSessionReadUntil(t *testing.T) {
	t.Run("returns text up to and including the marker", func(t *testing.T) {
		tr := newChanTransport("username: garbage after")
		sess := modem.NewSession(tr)
		defer sess.Close()

		got, err := sess.ReadUntil("username: ", time.Second)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "username: " {
			t.Errorf("got %q, want %q", got, "username: ")
		}
	})

	t.Run("keeps unconsumed bytes for the next read", func(t *testing.T) {
		tr := newChanTransport("first]second]")
		sess := modem.NewSession(tr)
		defer sess.Close()

		got, err := sess.ReadUntil("]", time.Second)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "first]" {
			t.Errorf("first read: got %q, want %q", got, "first]")
		}

		got, err = sess.ReadUntil("]", time.Second)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "second]" {
			t.Errorf("second read: got %q, want %q", got, "second]")
		}
	})

	t.Run("assembles a marker split across chunks", func(t *testing.T) {
		tr := newChanTransport("+STKP", "CI: 2\r\n")
		sess := modem.NewSession(tr)
		defer sess.Close()

		got, err := sess.ReadUntil("+STKPCI: 2\r\n", time.Second)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "+STKPCI: 2\r\n" {
			t.Errorf("got %q, want %q", got, "+STKPCI: 2\r\n")
		}
	})

	t.Run("timeout returns partial text without error", func(t *testing.T) {
		tr := newChanTransport("partial answer")
		sess := modem.NewSession(tr)
		defer sess.Close()

		got, err := sess.ReadUntil("never-sent-marker", 50*time.Millisecond)
		if err != nil {
			t.Fatalf("timeout must not be an error, got: %v", err)
		}
		if got != "partial answer" {
			t.Errorf("got %q, want %q", got, "partial answer")
		}
	})

	t.Run("remote close drains the buffer then reports ErrSessionClosed", func(t *testing.T) {
		tr := newChanTransport("leftover")
		close(tr.chunks)
		sess := modem.NewSession(tr)
		defer sess.Close()

		got, err := sess.ReadUntil("marker", time.Second)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "leftover" {
			t.Errorf("got %q, want %q", got, "leftover")
		}

		if _, err := sess.ReadUntil("marker", time.Second); !errors.Is(err, modem.ErrSessionClosed) {
			t.Errorf("got %v, want ErrSessionClosed", err)
		}
	})

	t.Run("telnet subnegotiation payload does not leak", func(t *testing.T) {
		// IAC SB TTYPE ... IAC SE wrapping payload bytes, split so the
		// closing IAC SE straddles a chunk boundary.
		tr := newChanTransport("\xff\xfa\x18junk", "more\xff\xf0username: ")
		sess := modem.NewSession(tr)
		defer sess.Close()

		got, err := sess.ReadUntil("username: ", time.Second)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "username: " {
			t.Errorf("got %q, want %q", got, "username: ")
		}
	})

	t.Run("telnet negotiation sequences are stripped", func(t *testing.T) {
		// IAC DO 1, IAC WILL 3 interleaved with payload, split so the
		// second sequence straddles a chunk boundary.
		tr := newChanTransport("\xff\xfd\x01user\xff", "\xfb\x03name: ")
		sess := modem.NewSession(tr)
		defer sess.Close()

		got, err := sess.ReadUntil("username: ", time.Second)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "username: " {
			t.Errorf("got %q, want %q", got, "username: ")
		}
	})
}

func TestSessionWrite(t *testing.T) {
	t.Run("WriteLine appends CRLF", func(t *testing.T) {
		tr := newChanTransport()
		sess := modem.NewSession(tr)
		defer sess.Close()

		if err := sess.WriteLine("AT+CMGF=1"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(tr.writes) != 1 || tr.writes[0] != "AT+CMGF=1\r\n" {
			t.Errorf("got writes %q, want [%q]", tr.writes, "AT+CMGF=1\r\n")
		}
	})

	t.Run("Write sends text verbatim", func(t *testing.T) {
		tr := newChanTransport()
		sess := modem.NewSession(tr)
		defer sess.Close()

		if err := sess.Write("\x18"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(tr.writes) != 1 || tr.writes[0] != "\x18" {
			t.Errorf("got writes %q, want [%q]", tr.writes, "\x18")
		}
	})

	t.Run("non-ASCII text is rejected before touching the wire", func(t *testing.T) {
		tr := newChanTransport()
		sess := modem.NewSession(tr)
		defer sess.Close()

		if err := sess.WriteLine("héllo"); !errors.Is(err, modem.ErrNonASCII) {
			t.Errorf("got %v, want ErrNonASCII", err)
		}
		if len(tr.writes) != 0 {
			t.Errorf("rejected text reached the transport: %q", tr.writes)
		}
	})

	t.Run("transport write errors propagate", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := modem.NewMockTransport(ctrl)
		block := make(chan struct{})
		mockTransport.EXPECT().Read(gomock.Any()).DoAndReturn(func(p []byte) (int, error) {
			<-block
			return 0, io.EOF
		}).AnyTimes()
		wantErr := errors.New("broken pipe")
		mockTransport.EXPECT().Write([]byte("AT\r\n")).Return(0, wantErr)
		mockTransport.EXPECT().Close().Return(nil)

		sess := modem.NewSession(mockTransport)
		if err := sess.WriteLine("AT"); !errors.Is(err, wantErr) {
			t.Errorf("got %v, want %v", err, wantErr)
		}
		close(block)
		sess.Close()
	})
}

func TestOpen(t *testing.T) {
	t.Run("dial failure is returned", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockDialer := modem.NewMockDialer(ctrl)
		wantErr := errors.New("connection refused")
		mockDialer.EXPECT().Dial(gomock.Any()).Return(nil, wantErr)

		if _, err := modem.Open(context.Background(), mockDialer); !errors.Is(err, wantErr) {
			t.Errorf("got %v, want %v", err, wantErr)
		}
	})

	t.Run("successful dial yields a working session", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		tr := newChanTransport("banner]")
		mockDialer := modem.NewMockDialer(ctrl)
		mockDialer.EXPECT().Dial(gomock.Any()).Return(tr, nil)

		sess, err := modem.Open(context.Background(), mockDialer)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer sess.Close()

		got, err := sess.ReadUntil("]", time.Second)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "banner]" {
			t.Errorf("got %q, want %q", got, "banner]")
		}
	})
}
