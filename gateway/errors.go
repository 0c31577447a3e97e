package gateway

import "errors"

var (
	// ErrUnknownNumber is returned when a submission references a local
	// number that is not provisioned.
	ErrUnknownNumber = errors.New("unknown local number")

	// ErrCallbackRejected is returned when a downstream endpoint answers a
	// gateway POST with a non-200 status.
	ErrCallbackRejected = errors.New("callback rejected")

	// ErrBadCreditNotice is returned when a carrier credit notification
	// does not match the expected shape.
	ErrBadCreditNotice = errors.New("malformed credit notification")
)
