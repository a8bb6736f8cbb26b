package checkout

import "context"

// AttemptStore persists payment attempts.
type AttemptStore interface {
	// CreateAttempt inserts a new attempt and assigns its ID.
	CreateAttempt(ctx context.Context, attempt *PaymentAttempt) error

	// SaveAttempt persists the current state of an existing attempt.
	SaveAttempt(ctx context.Context, attempt *PaymentAttempt) error

	// LatestAttempt returns the newest attempt for an order, or nil when
	// the order has none.
	LatestAttempt(ctx context.Context, orderID int64) (*PaymentAttempt, error)

	// HasAcceptedAttempt reports whether any attempt for the order has
	// been accepted by the gateway.
	HasAcceptedAttempt(ctx context.Context, orderID int64) (bool, error)

	// DeleteAttempt removes an attempt record.
	DeleteAttempt(ctx context.Context, id int64) error
}

// OrderStore persists orders.
type OrderStore interface {
	// GetOrder returns the order or ErrUnknownOrder.
	GetOrder(ctx context.Context, id int64) (*Order, error)

	// SaveOrder persists the order's mutable fields (status,
	// transaction id, membership id).
	SaveOrder(ctx context.Context, order *Order) error

	// CreateOrder inserts a new order and assigns its ID.
	CreateOrder(ctx context.Context, order *Order) error
}

// Tx is the view of the store inside an order transaction. Mutations made
// through it commit atomically when the transaction function returns nil.
type Tx interface {
	AttemptStore
	OrderStore
}

// Store is the persistence boundary of the checkout core.
type Store interface {
	AttemptStore
	OrderStore

	// WithOrderLock runs fn with an exclusive lock on the order row. The
	// order passed to fn is re-read under the lock, so fn observes the
	// authoritative state; this is the serialization point that makes
	// reconciliation exactly-once under concurrent callbacks and browser
	// requests. The lock is a write transaction that blocks every other
	// order lock, so fn must not perform gateway I/O.
	// Returns ErrUnknownOrder when the order does not exist.
	WithOrderLock(ctx context.Context, orderID int64, fn func(tx Tx, order *Order) error) error
}
