// Package at holds the command vocabulary for the vendor telnet console and
// the AT/STK command set spoken behind it.
//
// The STK command strings and the envelope length threshold were
// reverse-engineered against a specific modem/carrier combination. They are
// configuration-equivalent constants: opaque byte strings the carrier's SIM
// application expects verbatim, not values this package could compute.
package at

import "fmt"

const (
	// Terminal Control
	CRLF   = "\r\n"
	Prompt = "> "
	// CtrlZ terminates an SMS body in text mode.
	CtrlZ = "\x1a"
	// CtrlX releases the currently selected module on the console.
	CtrlX = "\x18"

	// Console prompts and markers
	UsernamePrompt = "username: "
	PasswordPrompt = "password: "
	ShellMarker    = "]"

	// ListTerminator ends a message listing and most short command reads.
	ListTerminator = "0\r\n"

	// Mode setup. The console forwards these to the active module; their
	// responses are not validated; the modules answer inconsistently
	// between firmware revisions.
	CmdCharsetGSM   = `AT+CSCS="GSM"`
	CmdTextMode     = "AT+CMGF=1"
	CmdSMSParams    = "AT+CSMP=17,71,0,0"
	CmdTextModeAlt  = "at+cmgf=1"
	CmdListMessages = `AT+CMGL="ALL"`

	// STK credit negotiation
	CmdStkEnvelope   = `AT+STKENV="D306820181900102"`
	CmdStkMenuSelect = `AT+STKTR="810301240082028281830100900108"`
	CmdStkItemSelect = `AT+STKTR="810301240082028281830100900102"`
	CmdStkSubmit     = "AT+STKSMS=0"

	// StkReadMarker delimits STK command responses.
	StkReadMarker = "\"\r\n"
	// StkSubmitMarker is emitted once the SIM application has handed the
	// credit request SMS to the network.
	StkSubmitMarker = "+STKPCI: 2\r\n"

	// Step confirmation markers inside STK responses.
	MarkerMenuConfirmed   = "STKPCI: 0"
	MarkerItemConfirmed   = "STKPCI: 1"
	MarkerSubmitConfirmed = "+STKPCI: 2"

	// EnvelopeSessionLen is the minimum envelope response length of a fresh
	// STK session. Shorter responses mean the module was left mid-menu and
	// the session must be restarted.
	EnvelopeSessionLen = 267

	// CreditSender is the reserved originating address the carrier uses for
	// prepaid credit notifications.
	CreditSender = "+123"
)

// SelectModule builds the console command that attaches module idx.
func SelectModule(idx int) string {
	return fmt.Sprintf("module%d", idx)
}

// ModuleReadyMarker is the console banner confirming module idx is attached.
func ModuleReadyMarker(idx int) string {
	return fmt.Sprintf("to release module %d.", idx)
}

// DeleteMessage builds the command that deletes the stored message with the
// given listing index.
func DeleteMessage(index string) string {
	return fmt.Sprintf("at+cmgd=%s", index)
}

// SetDestination builds the command that opens a send dialogue to the given
// number. The module answers with Prompt when it is ready for the body.
func SetDestination(number string) string {
	return fmt.Sprintf(`at+cmgs="%s"`, number)
}
