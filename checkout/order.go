package checkout

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/metation/quickpay-checkout/quickpay"
)

// Order is the shop order a payment attempt belongs to. The reconciler
// treats a present TransactionID as proof the order has already been
// accepted; both TransactionID and Status must only be compared while the
// order row is locked.
type Order struct {
	ID              int64
	Key             string // secret used to sign the browser return URL
	Status          int
	TransactionID   string // gateway payment id, set exactly once
	Total           float64
	Currency        string
	BillingEmail    string
	MembershipID    int // gateway subscription id, 0 when none
	HasSubscription bool
}

// StatusLevels are the configurable order status values the reconciler
// advances through. Comparisons are numeric: a status below Authorized has
// not been through the advance routine yet.
type StatusLevels struct {
	Authorized int
	Waiting    int
	Paid       int
}

// DefaultStatusLevels mirror a typical shop status enum where 1 is a
// freshly placed order.
var DefaultStatusLevels = StatusLevels{Authorized: 2, Waiting: 3, Paid: 4}

// OrderFinalizer completes an order once the shopper reaches the success
// page: clear the basket, consume stock and discount usages. It runs inside
// the order transaction and only for live browser requests, never for
// asynchronous callbacks.
type OrderFinalizer interface {
	Finalize(ctx context.Context, order *Order) error
}

// FinalizerFunc adapts a function to the OrderFinalizer interface.
type FinalizerFunc func(ctx context.Context, order *Order) error

func (f FinalizerFunc) Finalize(ctx context.Context, order *Order) error {
	return f(ctx, order)
}

// GatewayOrderID formats the order identifier echoed by the gateway:
// the order id with the attempt id as a zero-padded suffix.
func GatewayOrderID(orderID, attemptID int64) string {
	return fmt.Sprintf("%d_%06d", orderID, attemptID)
}

// ParseGatewayOrderID strips the attempt suffix from a gateway-echoed order
// identifier and returns the local order id.
func ParseGatewayOrderID(s string) (int64, error) {
	if idx := strings.IndexByte(s, '_'); idx >= 0 {
		s = s[:idx]
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("checkout: malformed gateway order id %q: %w", s, err)
	}
	return id, nil
}

// SignOrder computes the signature carried on the browser success URL:
// HMAC over the order id, the total rounded to two decimals and the order
// key. The key never leaves the server, so a matching hash proves the URL
// was issued for this order.
func SignOrder(order *Order, privateKey string) string {
	base := fmt.Sprintf("%d%.2f%s", order.ID, order.Total, order.Key)
	return quickpay.Sign([]byte(base), privateKey)
}
