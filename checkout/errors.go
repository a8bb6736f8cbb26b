package checkout

import "errors"

var (
	// ErrAlreadyPaid is returned when a new payment attempt is requested
	// for an order that already has an accepted attempt.
	ErrAlreadyPaid = errors.New("checkout: order already paid")

	// ErrSignatureMismatch is returned when a callback body does not match
	// its checksum header. No state is mutated.
	ErrSignatureMismatch = errors.New("checkout: callback signature mismatch")

	// ErrUnknownOrder is returned when a callback or browser request
	// references an order that does not exist.
	ErrUnknownOrder = errors.New("checkout: order not found")
)

// RejectedError is a user-safe payment rejection. The Reason is suitable
// for display on the checkout page; gateway details stay in the logs.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return "checkout: payment rejected: " + e.Reason
}

// IsRejected reports whether err is a payment rejection and returns its
// user-safe reason.
func IsRejected(err error) (string, bool) {
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		return rejected.Reason, true
	}
	return "", false
}
