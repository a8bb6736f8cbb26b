package checkout

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/metation/quickpay-checkout/quickpay"
)

func TestMinorUnits(t *testing.T) {
	tests := []struct {
		amount float64
		want   int64
	}{
		{100.00, 10000},
		{19.99, 1999},
		{0.01, 1},
		{0, 0},
		{129.955, 12996},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, MinorUnits(tt.amount), "MinorUnits(%v)", tt.amount)
	}
}

func TestUpdateFromPayment(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("copies gateway fields", func(t *testing.T) {
		a := &PaymentAttempt{CardLast4: "1111"}
		a.UpdateFromPayment(&quickpay.Payment{
			ID:       1234,
			Accepted: true,
			State:    quickpay.StatePending,
			Balance:  0,
			Acquirer: "nets",
			Metadata: quickpay.Metadata{Last4: "4242"},
			Operations: []quickpay.Operation{
				{Type: "authorize", QPStatusCode: "20000", QPStatusMsg: "Approved", AQStatusCode: "000"},
			},
		}, now)

		assert.Equal(t, 1234, a.GatewayID)
		assert.Equal(t, "4242", a.CardLast4)
		assert.Equal(t, "20000", a.LastQPStatus)
		assert.Equal(t, "Approved", a.LastQPStatusMsg)
		assert.Equal(t, "nets", a.Acquirer)
	})

	t.Run("last4 falls back to 9999", func(t *testing.T) {
		a := &PaymentAttempt{}
		a.UpdateFromPayment(&quickpay.Payment{ID: 1}, now)
		assert.Equal(t, "9999", a.CardLast4)
	})

	t.Run("last4 keeps known value when metadata is empty", func(t *testing.T) {
		a := &PaymentAttempt{CardLast4: "4242"}
		a.UpdateFromPayment(&quickpay.Payment{ID: 1}, now)
		assert.Equal(t, "4242", a.CardLast4)
	})

	t.Run("accepted timestamp is set once", func(t *testing.T) {
		a := &PaymentAttempt{}
		a.UpdateFromPayment(&quickpay.Payment{ID: 1, Accepted: true, State: quickpay.StatePending}, now)
		assert.True(t, a.IsAccepted())
		assert.Equal(t, now, *a.AcceptedAt)

		later := now.Add(time.Hour)
		a.UpdateFromPayment(&quickpay.Payment{ID: 1, Accepted: true, State: quickpay.StatePending}, later)
		assert.Equal(t, now, *a.AcceptedAt, "second update must not move the timestamp")
	})

	t.Run("captured timestamp set when state becomes processed", func(t *testing.T) {
		a := &PaymentAttempt{}
		a.UpdateFromPayment(&quickpay.Payment{ID: 1, Accepted: true, State: quickpay.StatePending}, now)
		assert.False(t, a.IsCaptured())
		assert.True(t, a.MayCapture())

		later := now.Add(time.Hour)
		a.UpdateFromPayment(&quickpay.Payment{ID: 1, Accepted: true, State: quickpay.StateProcessed, Balance: 10000}, later)
		assert.True(t, a.IsCaptured())
		assert.Equal(t, later, *a.CapturedAt)
		assert.Equal(t, int64(10000), a.Balance)
		assert.False(t, a.MayCapture())
	})

	t.Run("rejection never sets timestamps", func(t *testing.T) {
		a := &PaymentAttempt{}
		a.UpdateFromPayment(&quickpay.Payment{ID: 1, Accepted: false, State: quickpay.StateRejected}, now)
		assert.False(t, a.IsAccepted())
		assert.False(t, a.IsCaptured())
		assert.Equal(t, quickpay.StateRejected, a.State)
	})
}
