package modem

import (
	"bytes"
	"context"
	"sync"
	"time"

	"gridwave.io/gsm/stkgw/at"
)

// Session is a line-oriented channel to a modem pool console: write a line,
// block-read until a delimiter or timeout.
//
// ReadUntil never reports a timeout as an error. If the marker does not
// arrive in time, the accumulated text is returned as-is and callers must
// treat a short or empty result as a soft failure. This mirrors the behavior
// of the console itself, which answers inconsistently between firmware
// revisions and leaves marker interpretation to the caller.
//
// A Session carries one in-flight exchange at a time and is not safe for
// concurrent use.
type Session interface {
	// WriteLine sends text followed by CRLF. The wire is ASCII-only;
	// text containing other bytes is rejected with ErrNonASCII.
	WriteLine(text string) error
	// Write sends text verbatim, without a line terminator. Used for
	// control bytes and SMS bodies.
	Write(text string) error
	// ReadUntil accumulates console output until marker is seen or timeout
	// elapses, and returns everything read up to and including the marker.
	// On timeout the partial text is returned with a nil error.
	ReadUntil(marker string, timeout time.Duration) (string, error)
	// Close releases the underlying transport. It must be invoked on every
	// exit path once the session is open, even on error.
	Close() error
}

// Open dials the console and wraps the transport in a Session.
func Open(ctx context.Context, dialer Dialer) (Session, error) {
	transport, err := dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}
	return NewSession(transport), nil
}

// NewSession builds a Session over an already-connected Transport.
func NewSession(transport Transport) Session {
	s := &lineSession{
		transport: transport,
		incoming:  make(chan []byte, 64),
		done:      make(chan struct{}),
	}
	go s.readLoop()
	return s
}

type lineSession struct {
	transport Transport
	// incoming carries chunks from the reader goroutine; closed on EOF.
	incoming chan []byte
	done     chan struct{}
	once     sync.Once
	// buf holds bytes received but not yet consumed by ReadUntil.
	// Only the caller goroutine touches it.
	buf bytes.Buffer
}

func (s *lineSession) WriteLine(text string) error {
	return s.Write(text + at.CRLF)
}

func (s *lineSession) Write(text string) error {
	for i := 0; i < len(text); i++ {
		if text[i] > 0x7f {
			return ErrNonASCII
		}
	}
	if _, err := s.transport.Write([]byte(text)); err != nil {
		return err
	}
	return nil
}

func (s *lineSession) ReadUntil(marker string, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	m := []byte(marker)
	for {
		if i := bytes.Index(s.buf.Bytes(), m); i >= 0 {
			out := make([]byte, i+len(m))
			s.buf.Read(out)
			return string(out), nil
		}

		select {
		case chunk, ok := <-s.incoming:
			if !ok {
				// Transport is gone; hand back whatever was buffered.
				out := s.buf.String()
				s.buf.Reset()
				if out == "" {
					return "", ErrSessionClosed
				}
				return out, nil
			}
			s.buf.Write(chunk)
		case <-timer.C:
			out := s.buf.String()
			s.buf.Reset()
			return out, nil
		}
	}
}

func (s *lineSession) Close() error {
	s.once.Do(func() { close(s.done) })
	return s.transport.Close()
}

// readLoop is the only goroutine reading from the transport. It strips
// telnet control sequences and forwards payload chunks until EOF or Close.
func (s *lineSession) readLoop() {
	defer close(s.incoming)
	buf := make([]byte, 512)
	var state iacState
	for {
		n, err := s.transport.Read(buf)
		if n > 0 {
			chunk := stripTelnet(buf[:n], &state)
			if len(chunk) > 0 {
				select {
				case s.incoming <- chunk:
				case <-s.done:
					return
				}
			}
		}
		if err != nil {
			return
		}
	}
}

// Telnet in-band control handling. The console negotiates a few options at
// connect time; nothing it asks for matters to a line-oriented dialogue, so
// negotiation sequences are dropped rather than answered.
type iacState int

const (
	iacPlain       iacState = iota
	iacSeenIAC              // last byte was IAC (0xff)
	iacSeenCommand          // inside IAC DO/DONT/WILL/WONT, option byte pending
	iacInSubneg             // inside IAC SB ... IAC SE, payload pending
	iacSubnegIAC            // saw IAC inside a subnegotiation
)

func stripTelnet(data []byte, state *iacState) []byte {
	out := make([]byte, 0, len(data))
	for _, b := range data {
		switch *state {
		case iacPlain:
			if b == 0xff {
				*state = iacSeenIAC
				continue
			}
			out = append(out, b)
		case iacSeenIAC:
			switch {
			case b >= 251 && b <= 254:
				*state = iacSeenCommand
			case b == 250: // SB
				*state = iacInSubneg
			default:
				// Two-byte command (or escaped IAC, which has no place on
				// an ASCII wire): drop it.
				*state = iacPlain
			}
		case iacSeenCommand:
			*state = iacPlain
		case iacInSubneg:
			if b == 0xff {
				*state = iacSubnegIAC
			}
		case iacSubnegIAC:
			if b == 240 { // SE
				*state = iacPlain
			} else {
				// Escaped byte inside the subnegotiation; still payload.
				*state = iacInSubneg
			}
		}
	}
	return out
}
