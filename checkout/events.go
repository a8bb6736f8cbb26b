package checkout

import "context"

// Events receives order lifecycle notifications. Each notification fires
// at most once per order, inside the order transaction, so handlers must
// be quick and must not call back into the store.
type Events interface {
	// OrderAuthorized fires when the gateway has approved payment for the
	// order. The attempt may be nil on the browser path if the callback
	// has not arrived yet.
	OrderAuthorized(order *Order, attempt *PaymentAttempt)

	// OrderCaptured fires instead of OrderAuthorized when the triggering
	// attempt was already captured (auto-capture agreements).
	OrderCaptured(order *Order, attempt *PaymentAttempt)

	// OrderCompleted fires when the shopper reached the success page and
	// the order was finalized. Not sent if the success page is never hit.
	OrderCompleted(order *Order)
}

// NoopEvents discards all notifications.
type NoopEvents struct{}

func (NoopEvents) OrderAuthorized(*Order, *PaymentAttempt) {}
func (NoopEvents) OrderCaptured(*Order, *PaymentAttempt)   {}
func (NoopEvents) OrderCompleted(*Order)                   {}

// Mailer sends the order receipt. It is invoked after the order
// transaction commits, so a slow mail server cannot extend lock hold time
// and a mail failure cannot roll the order back.
type Mailer interface {
	SendOrderReceipt(ctx context.Context, order *Order) error
}

// NoopMailer sends nothing.
type NoopMailer struct{}

func (NoopMailer) SendOrderReceipt(context.Context, *Order) error { return nil }
