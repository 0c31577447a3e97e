package modem

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"go.bug.st/serial"
)

//go:generate go tool mockgen -source=transport.go -destination=mock_transport.go -package=modem

// Transport represents an established, bidirectional byte stream to a modem
// pool console.
//
// A Transport is assumed to be already connected and ready for use. It
// provides the low-level I/O primitives the line session is built on.
// Typical implementations are TCP connections to the telnet console, local
// serial ports, or in-memory fakes used for testing.
type Transport interface {
	io.ReadWriteCloser
}

// Dialer opens a Transport to a modem pool console.
//
// Dialer abstracts how the connection is created (TCP, serial port, or test
// double) and is intended to be used during session construction only. Once
// a Transport is obtained, the Dialer is no longer needed.
type Dialer interface {
	// Dial creates and returns a connected Transport. It may perform
	// blocking operations and should respect cancellation and deadlines
	// provided by the context. Dial returns an error if the transport
	// cannot be established.
	Dial(ctx context.Context) (Transport, error)
}

// TCPDialer connects to the telnet console of a modem pool server.
type TCPDialer struct {
	Host string
	Port int
	// ConnectTimeout bounds the TCP handshake. Zero means 10 seconds.
	ConnectTimeout time.Duration
}

func (d TCPDialer) Dial(ctx context.Context) (Transport, error) {
	timeout := d.ConnectTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	nd := net.Dialer{Timeout: timeout}
	conn, err := nd.DialContext(ctx, "tcp", net.JoinHostPort(d.Host, fmt.Sprintf("%d", d.Port)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}
	return conn, nil
}

// SerialDialer attaches to a console exposed on a local RS-232 port instead
// of telnet. The dialogue on the wire is identical.
type SerialDialer struct {
	PortName string
	BaudRate int
}

func (d SerialDialer) Dial(ctx context.Context) (Transport, error) {
	mode := &serial.Mode{BaudRate: d.BaudRate}
	port, err := serial.Open(d.PortName, mode)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}
	return port, nil
}
