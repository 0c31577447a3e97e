package modem

import "errors"

var (
	// ErrConnect is returned when the console transport cannot be
	// established. The poll cycle treats it as "skip this server".
	ErrConnect = errors.New("console unreachable")

	// ErrSessionClosed is returned when an operation is attempted on a
	// session whose transport has been closed or has reached EOF.
	ErrSessionClosed = errors.New("session closed")

	// ErrNonASCII is returned when a caller tries to write text containing
	// bytes outside the ASCII range. The console is an ASCII-only wire;
	// converting message bodies is the caller's concern.
	ErrNonASCII = errors.New("non-ASCII text on console wire")
)
