package checkout

import (
	"math"
	"time"

	"github.com/metation/quickpay-checkout/quickpay"
)

// PaymentAttempt is one try at paying an order. Every gateway response
// (authorize, capture, refund, callback) is folded back into the record;
// the gateway stays the source of truth for accepted state and balance.
type PaymentAttempt struct {
	ID      int64
	OrderID int64

	// RequestedAmount is in minor units. For subscriptions this is the
	// period amount; the captured amount may be smaller if the previous
	// period was partly refunded.
	RequestedAmount int64
	Currency        string
	CardLast4       string

	GatewayID       int // payment id at the gateway, 0 until created there
	Accepted        bool
	TestMode        bool
	Type            string
	TextOnStatement string
	Acquirer        string
	State           string
	Balance         int64 // captured amount in minor units

	LastQPStatus    string
	LastQPStatusMsg string
	LastAQStatus    string
	LastAQStatusMsg string

	AcceptedAt *time.Time
	CapturedAt *time.Time
	CreatedAt  time.Time
}

// IsAccepted reports whether the gateway has approved the payment.
func (a *PaymentAttempt) IsAccepted() bool {
	return a.AcceptedAt != nil
}

// IsCaptured reports whether the reserved amount has been collected.
func (a *PaymentAttempt) IsCaptured() bool {
	return a.CapturedAt != nil
}

// MayCapture reports whether the attempt is accepted but not yet captured.
func (a *PaymentAttempt) MayCapture() bool {
	return a.AcceptedAt != nil && a.CapturedAt == nil
}

// UpdateFromPayment folds a gateway payment document into the attempt.
// Does not persist. Timestamps are set once: AcceptedAt on first
// acceptance, CapturedAt when the gateway reports state processed.
func (a *PaymentAttempt) UpdateFromPayment(p *quickpay.Payment, now time.Time) {
	a.GatewayID = p.ID
	a.Accepted = p.Accepted
	a.TestMode = p.TestMode
	a.Type = p.Type
	a.TextOnStatement = p.TextOnStatement
	a.Acquirer = p.Acquirer
	a.State = p.State
	a.Balance = p.Balance

	if p.Metadata.Last4 != "" {
		a.CardLast4 = p.Metadata.Last4
	} else if a.CardLast4 == "" {
		a.CardLast4 = "9999"
	}

	if op := p.LastOperation(); op != nil {
		a.LastQPStatus = op.QPStatusCode
		a.LastQPStatusMsg = op.QPStatusMsg
		a.LastAQStatus = op.AQStatusCode
		a.LastAQStatusMsg = op.AQStatusMsg
	}

	if a.Accepted {
		if a.AcceptedAt == nil {
			t := now
			a.AcceptedAt = &t
		}
		if a.State == quickpay.StateProcessed && a.CapturedAt == nil {
			t := now
			a.CapturedAt = &t
		}
	}
}

// MinorUnits converts a major-unit amount to integer minor units, the only
// representation the gateway accepts.
func MinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
