package modem

import (
	"time"

	"gridwave.io/gsm/stkgw/at"
)

// Driver executes the console/AT command dialogue over a Session. It is a
// stateless sequence of command/response pairs: each operation writes one or
// more lines and reads until the marker the console is known to emit.
//
// The console does not acknowledge most commands in a machine-checkable way,
// so operations here return the raw response text (or nothing) and leave
// marker interpretation to higher layers. A step that timed out surfaces as
// a short or empty response, not as an error.
type Driver struct {
	sess Session

	readTimeout   time.Duration
	submitTimeout time.Duration
}

// DriverOption adjusts Driver timeouts.
type DriverOption func(*Driver)

// WithReadTimeout overrides the default 5s per-read timeout.
func WithReadTimeout(d time.Duration) DriverOption {
	return func(drv *Driver) { drv.readTimeout = d }
}

// WithSubmitTimeout overrides the extended timeout used while waiting for
// the STK submit confirmation.
func WithSubmitTimeout(d time.Duration) DriverOption {
	return func(drv *Driver) { drv.submitTimeout = d }
}

func NewDriver(sess Session, opts ...DriverOption) *Driver {
	drv := &Driver{
		sess:          sess,
		readTimeout:   5 * time.Second,
		submitTimeout: 20 * time.Second,
	}
	for _, opt := range opts {
		opt(drv)
	}
	return drv
}

// Login answers the console's username/password prompts and waits for the
// shell marker.
func (d *Driver) Login(username, password string) error {
	if _, err := d.sess.ReadUntil(at.UsernamePrompt, d.readTimeout); err != nil {
		return err
	}
	if err := d.sess.WriteLine(username); err != nil {
		return err
	}
	if _, err := d.sess.ReadUntil(at.PasswordPrompt, d.readTimeout); err != nil {
		return err
	}
	if err := d.sess.WriteLine(password); err != nil {
		return err
	}
	_, err := d.sess.ReadUntil(at.ShellMarker, d.readTimeout)
	return err
}

// SelectModule attaches the modem module with the given slot index and waits
// for its ready banner.
func (d *Driver) SelectModule(idx int) error {
	if err := d.sess.WriteLine(at.SelectModule(idx)); err != nil {
		return err
	}
	_, err := d.sess.ReadUntil(at.ModuleReadyMarker(idx), d.readTimeout)
	return err
}

// ReleaseModule detaches the active module and returns to the console shell.
func (d *Driver) ReleaseModule() error {
	if err := d.sess.Write(at.CtrlX); err != nil {
		return err
	}
	_, err := d.sess.ReadUntil(at.ShellMarker, d.readTimeout)
	return err
}

// SetupModes runs the fixed configuration sequence (character set, text
// mode, SMS parameters, message format) against the active module. Response
// content is not validated; the modules answer these inconsistently and the
// listing/send dialogues fail visibly when a mode did not take.
func (d *Driver) SetupModes() error {
	for _, cmd := range []string{
		at.CmdCharsetGSM,
		at.CmdTextMode,
		at.CmdSMSParams,
		at.CmdTextModeAlt,
	} {
		if err := d.sess.WriteLine(cmd); err != nil {
			return err
		}
		if _, err := d.sess.ReadUntil(at.CRLF, d.readTimeout); err != nil {
			return err
		}
	}
	return nil
}

// ListMessages asks the active module for all stored messages and returns
// the raw listing. The first read absorbs the command echo line; the second
// collects the listing up to its terminator. An empty listing comes back as
// the bare terminator, which is returned as "".
func (d *Driver) ListMessages() (string, error) {
	if err := d.sess.WriteLine(at.CmdListMessages); err != nil {
		return "", err
	}
	if _, err := d.sess.ReadUntil(at.ListTerminator, d.readTimeout); err != nil {
		return "", err
	}
	listing, err := d.sess.ReadUntil(at.ListTerminator, d.readTimeout)
	if err != nil {
		return "", err
	}
	if listing == at.ListTerminator {
		return "", nil
	}
	return listing, nil
}

// DeleteMessage removes the stored message with the given listing index.
func (d *Driver) DeleteMessage(index string) error {
	if err := d.sess.WriteLine(at.DeleteMessage(index)); err != nil {
		return err
	}
	_, err := d.sess.ReadUntil(at.ListTerminator, d.readTimeout)
	return err
}

// SendMessage opens a send dialogue to number, waits for the body prompt and
// writes the body terminated with Ctrl+Z. The body must already be ASCII.
//
// The module's acknowledgment is not read back: a send that completed the
// dialogue is assumed delivered to the network. Known gap until delivery
// receipts exist end to end.
func (d *Driver) SendMessage(number, body string) error {
	if err := d.sess.WriteLine(at.SetDestination(number)); err != nil {
		return err
	}
	if _, err := d.sess.ReadUntil(at.Prompt, d.readTimeout); err != nil {
		return err
	}
	return d.sess.Write(body + at.CtrlZ)
}

// StkEnvelope pushes the menu envelope into the SIM application and returns
// the raw response. Response length tells the caller whether the STK session
// was fresh (see at.EnvelopeSessionLen).
func (d *Driver) StkEnvelope() (string, error) {
	return d.stkExchange(at.CmdStkEnvelope)
}

// StkMenuSelect confirms the first menu level of the credit request dialogue.
func (d *Driver) StkMenuSelect() (string, error) {
	return d.stkExchange(at.CmdStkMenuSelect)
}

// StkItemSelect confirms the second menu level.
func (d *Driver) StkItemSelect() (string, error) {
	return d.stkExchange(at.CmdStkItemSelect)
}

// StkSubmit triggers the SIM application to send the credit request SMS and
// waits, with the extended timeout, for the completion marker.
func (d *Driver) StkSubmit() (string, error) {
	if err := d.sess.WriteLine(at.CmdStkSubmit); err != nil {
		return "", err
	}
	return d.sess.ReadUntil(at.StkSubmitMarker, d.submitTimeout)
}

func (d *Driver) stkExchange(cmd string) (string, error) {
	if err := d.sess.WriteLine(cmd); err != nil {
		return "", err
	}
	return d.sess.ReadUntil(at.StkReadMarker, d.readTimeout)
}
