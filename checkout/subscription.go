package checkout

import (
	"context"
	"strconv"
	"time"

	"github.com/metation/quickpay-checkout/infra/logger"
)

// OrderItem is the line item a subscription is started for.
type OrderItem struct {
	SKU         string
	Description string
	Currency    string
}

// SubscriptionBackend records shop-side subscription state when a
// recurring agreement is started or renewed at the gateway. Whether the
// shop supports subscriptions at all is a configuration capability; when
// disabled, NoopSubscriptions is wired in.
type SubscriptionBackend interface {
	// Enabled reports whether subscription checkout may be offered.
	Enabled() bool

	// Subscribe records a new membership keyed by the gateway
	// subscription id.
	Subscribe(ctx context.Context, order *Order, item OrderItem, membershipID int) error

	// Renew extends the membership period after a recurring charge.
	Renew(ctx context.Context, order *Order, at time.Time) error
}

// NoopSubscriptions is the backend used when the shop has no
// subscription support.
type NoopSubscriptions struct{}

func (NoopSubscriptions) Enabled() bool { return false }

func (NoopSubscriptions) Subscribe(context.Context, *Order, OrderItem, int) error { return nil }

func (NoopSubscriptions) Renew(context.Context, *Order, time.Time) error { return nil }

// LoggedSubscriptions enables subscription checkout for shops whose
// membership state lives on the order itself. The gateway and the order
// row carry the subscription; lifecycle transitions go to the log for
// downstream consumers.
type LoggedSubscriptions struct{}

func (LoggedSubscriptions) Enabled() bool { return true }

func (LoggedSubscriptions) Subscribe(_ context.Context, order *Order, item OrderItem, membershipID int) error {
	logger.Info("subscription started for "+item.SKU, logger.LogContext{
		OrderID: strconv.FormatInt(order.ID, 10),
		Fields:  map[string]any{"membership_id": membershipID},
	})
	return nil
}

func (LoggedSubscriptions) Renew(_ context.Context, order *Order, at time.Time) error {
	logger.Info("subscription renewed", logger.LogContext{
		OrderID: strconv.FormatInt(order.ID, 10),
		Fields:  map[string]any{"renewed_at": at.Format(time.RFC3339)},
	})
	return nil
}
