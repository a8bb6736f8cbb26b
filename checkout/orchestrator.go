package checkout

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/metation/quickpay-checkout/infra/logger"
	"github.com/metation/quickpay-checkout/quickpay"
)

// Agreements resolves the QuickPay agreement for a currency. Shops with a
// single agreement return the same client and private key for every
// currency.
type Agreements interface {
	Client(currency string) *quickpay.Client
	PrivateKey(currency string) string
}

// Settings are the checkout-facing knobs, validated once at startup.
type Settings struct {
	// Acquirer to charge through, e.g. "nets" or "clearhaus". Empty lets
	// the payment window offer any acquirer.
	Acquirer string

	// PaymentMethods restricts the hosted window, e.g. "creditcard,mobilepay".
	PaymentMethods string

	// TestMode lets test-card payments through. With TestMode off, test
	// cards and non-accepted payments are rejected at authorization.
	TestMode bool

	// AutoCapture captures at authorization time instead of on shipment.
	AutoCapture bool

	// ShopBaseURL is the public root the gateway redirects back to.
	ShopBaseURL string

	// Language of the hosted payment window.
	Language string

	// DefaultCurrency is used for orders that carry no currency.
	DefaultCurrency string

	Statuses StatusLevels
}

// Orchestrator creates payment attempts and drives every outbound gateway
// mutation. Local state is re-synchronized from the gateway's response
// before any second operation; cached amounts are never trusted.
type Orchestrator struct {
	store      Store
	agreements Agreements
	settings   Settings
	subs       SubscriptionBackend

	creating sync.Map // order id -> *sync.Mutex
}

// NewOrchestrator wires the payment orchestrator.
func NewOrchestrator(store Store, agreements Agreements, settings Settings, subs SubscriptionBackend) *Orchestrator {
	if subs == nil {
		subs = NoopSubscriptions{}
	}
	return &Orchestrator{store: store, agreements: agreements, settings: settings, subs: subs}
}

// OrderCurrency returns the currency a payment for the order uses.
func (o *Orchestrator) OrderCurrency(order *Order) string {
	if order.Currency != "" {
		return order.Currency
	}
	return o.settings.DefaultCurrency
}

// CreateAttempt starts a new payment attempt for the order. Fails with
// ErrAlreadyPaid when a prior attempt was accepted.
func (o *Orchestrator) CreateAttempt(ctx context.Context, order *Order, amount float64, currency, cardLast4 string) (*PaymentAttempt, error) {
	return newAttempt(ctx, o.store, order, amount, currency, cardLast4)
}

func newAttempt(ctx context.Context, s AttemptStore, order *Order, amount float64, currency, cardLast4 string) (*PaymentAttempt, error) {
	paid, err := s.HasAcceptedAttempt(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	if paid {
		return nil, ErrAlreadyPaid
	}
	attempt := &PaymentAttempt{
		OrderID:         order.ID,
		RequestedAmount: MinorUnits(amount),
		Currency:        currency,
		CardLast4:       cardLast4,
		State:           quickpay.StateNew,
		TestMode:        true,
	}
	if err := s.CreateAttempt(ctx, attempt); err != nil {
		return nil, err
	}
	return attempt, nil
}

// lockCreation serializes attempt creation for one order. Creation talks
// to the gateway, so it must never run inside the store's order lock:
// that lock is a database write transaction and would stall callback
// reconciliation for every order while the gateway responds.
func (o *Orchestrator) lockCreation(orderID int64) func() {
	mu, _ := o.creating.LoadOrStore(orderID, &sync.Mutex{})
	m := mu.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

// RequestHostedLink registers a payment at the gateway and returns the
// hosted payment-window URL for the order. The attempt creation, gateway
// payment creation and id persist are serialized per order, so a
// double-submitted checkout form cannot interleave two creation
// sequences.
func (o *Orchestrator) RequestHostedLink(ctx context.Context, orderID int64, acquirer string) (string, error) {
	if acquirer == "" {
		acquirer = o.settings.Acquirer
	}

	unlock := o.lockCreation(orderID)
	defer unlock()

	order, err := o.store.GetOrder(ctx, orderID)
	if err != nil {
		return "", err
	}
	currency := o.OrderCurrency(order)
	attempt, err := newAttempt(ctx, o.store, order, order.Total, currency, "9999")
	if err != nil {
		return "", err
	}

	client := o.agreements.Client(currency)
	payment, err := client.CreatePayment(ctx, currency, GatewayOrderID(order.ID, attempt.ID))
	if err != nil {
		return "", fmt.Errorf("failed to create gateway payment: %w", err)
	}
	attempt.GatewayID = payment.ID
	if err := o.store.SaveAttempt(ctx, attempt); err != nil {
		return "", err
	}
	logger.Debug("created gateway payment", orderLogContext(order, attempt))

	hash := SignOrder(order, o.agreements.PrivateKey(currency))
	link, err := client.CreateLink(ctx, payment.ID, quickpay.LinkRequest{
		Amount:         attempt.RequestedAmount,
		ContinueURL:    fmt.Sprintf("%s/quickpay/success?id=%d&hash=%s", o.settings.ShopBaseURL, order.ID, hash),
		CancelURL:      o.settings.ShopBaseURL + "/quickpay/failed",
		CallbackURL:    o.settings.ShopBaseURL + "/quickpay/callback",
		AutoCapture:    o.settings.AutoCapture,
		Language:       o.settings.Language,
		Acquirer:       acquirer,
		PaymentMethods: o.settings.PaymentMethods,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create payment link: %w", err)
	}
	return link.URL, nil
}

// AuthorizeCard runs the direct (non-hosted) card authorization path and
// returns the gateway payment id. Gateway failures surface as a
// user-safe RejectedError; the raw response stays in the logs.
func (o *Orchestrator) AuthorizeCard(ctx context.Context, order *Order, card quickpay.Card) (int, error) {
	last4 := card.Number
	if len(last4) > 4 {
		last4 = last4[len(last4)-4:]
	}
	currency := o.OrderCurrency(order)

	attempt, err := o.CreateAttempt(ctx, order, order.Total, currency, last4)
	if err != nil {
		return 0, err
	}

	client := o.agreements.Client(currency)
	payment, err := client.CreatePayment(ctx, currency, GatewayOrderID(order.ID, attempt.ID))
	if err != nil {
		return 0, fmt.Errorf("failed to create gateway payment: %w", err)
	}
	attempt.GatewayID = payment.ID
	if err := o.store.SaveAttempt(ctx, attempt); err != nil {
		return 0, err
	}

	res, err := client.Authorize(ctx, payment.ID, quickpay.AuthorizeRequest{
		Amount:      attempt.RequestedAmount,
		Card:        card,
		Acquirer:    o.settings.Acquirer,
		AutoCapture: o.settings.AutoCapture,
	})
	if err != nil {
		logger.Error("gateway authorize failed", err, orderLogContext(order, attempt))
		return 0, &RejectedError{Reason: "Payment information invalid"}
	}

	now := time.Now().UTC()
	attempt.UpdateFromPayment(res, now)
	if (attempt.Accepted || attempt.TestMode) && attempt.AcceptedAt == nil {
		attempt.AcceptedAt = &now
	}
	if err := o.store.SaveAttempt(ctx, attempt); err != nil {
		return 0, err
	}

	// Test-mode agreements let everything through; against a live
	// acquirer, test cards and rejections stop the checkout.
	if !o.settings.TestMode {
		if res.TestMode {
			return 0, &RejectedError{Reason: "Test card - cannot complete payment"}
		}
		if !res.Accepted {
			msg := "(no message)"
			if op := res.LastOperation(); op != nil && op.QPStatusMsg != "" {
				msg = op.QPStatusMsg
			}
			return 0, &RejectedError{Reason: fmt.Sprintf("Payment rejected by QuickPay or acquirer: %q", msg)}
		}
	}
	return res.ID, nil
}

// Capture collects the reserved amount, clamped to the requested amount.
// Extra Capture calls have no further effect. Returns whether the capture
// succeeded; gateway errors are logged, never raised, and whatever state
// was reached is persisted.
func (o *Orchestrator) Capture(ctx context.Context, attempt *PaymentAttempt, amount *float64) bool {
	client := o.agreements.Client(attempt.Currency)
	o.refresh(ctx, client, attempt)

	captureAmount := attempt.RequestedAmount
	if amount != nil {
		captureAmount = min(attempt.RequestedAmount, MinorUnits(*amount))
	}

	ok := true
	if _, err := client.Capture(ctx, attempt.GatewayID, captureAmount); err != nil {
		logger.Error("gateway capture failed", err, attemptLogContext(attempt))
		ok = false
	} else {
		now := time.Now().UTC()
		attempt.CapturedAt = &now
		o.refresh(ctx, client, attempt)
	}
	if err := o.store.SaveAttempt(ctx, attempt); err != nil {
		logger.Error("failed to persist attempt after capture", err, attemptLogContext(attempt))
		ok = false
	}
	return ok
}

// Refund returns funds to the cardholder, defaulting to the full current
// balance. The captured timestamp is cleared exactly when the refunded
// balance reaches zero.
func (o *Orchestrator) Refund(ctx context.Context, attempt *PaymentAttempt, amount *float64) bool {
	client := o.agreements.Client(attempt.Currency)
	o.refresh(ctx, client, attempt)

	refundAmount := attempt.Balance
	if amount != nil {
		refundAmount = min(attempt.Balance, MinorUnits(*amount))
	}

	ok := true
	if _, err := client.Refund(ctx, attempt.GatewayID, refundAmount); err != nil {
		logger.Error("gateway refund failed", err, attemptLogContext(attempt))
		ok = false
	} else {
		o.refresh(ctx, client, attempt)
		if attempt.Balance == 0 {
			attempt.CapturedAt = nil
		}
	}
	if err := o.store.SaveAttempt(ctx, attempt); err != nil {
		logger.Error("failed to persist attempt after refund", err, attemptLogContext(attempt))
		ok = false
	}
	return ok
}

// StartSubscription registers a recurring-billing agreement, fetches its
// authorization link and records the subscription id on the order as one
// atomic step. Returns the gateway subscription id and the payment URL.
func (o *Orchestrator) StartSubscription(ctx context.Context, order *Order, item OrderItem) (int, string, error) {
	currency := o.OrderCurrency(order)
	attempt, err := o.CreateAttempt(ctx, order, order.Total, currency, "9999")
	if err != nil {
		return 0, "", err
	}

	client := o.agreements.Client(currency)
	sub, err := client.CreateSubscription(ctx, quickpay.SubscriptionRequest{
		OrderID:     GatewayOrderID(order.ID, attempt.ID),
		Currency:    currency,
		Description: item.Description,
	})
	if err != nil {
		return 0, "", fmt.Errorf("failed to create subscription: %w", err)
	}

	link, err := client.CreateSubscriptionLink(ctx, sub.ID, MinorUnits(order.Total))
	if err != nil {
		return 0, "", fmt.Errorf("failed to create subscription link: %w", err)
	}

	err = o.store.WithOrderLock(ctx, order.ID, func(tx Tx, ord *Order) error {
		ord.MembershipID = sub.ID
		ord.HasSubscription = true
		if err := tx.SaveOrder(ctx, ord); err != nil {
			return err
		}
		return o.subs.Subscribe(ctx, ord, item, sub.ID)
	})
	if err != nil {
		return 0, "", err
	}
	order.MembershipID = sub.ID
	order.HasSubscription = true
	return sub.ID, link.URL, nil
}

// CaptureRecurring triggers a recurring charge for the order's
// subscription with auto-capture. The charge outcome is asynchronous;
// acceptance is finalized by a later callback, not here.
func (o *Orchestrator) CaptureRecurring(ctx context.Context, order *Order) error {
	if order.MembershipID == 0 {
		return fmt.Errorf("checkout: order %d has no subscription", order.ID)
	}
	currency := o.OrderCurrency(order)

	attempt, err := o.store.LatestAttempt(ctx, order.ID)
	if err != nil {
		return err
	}
	if attempt == nil {
		attempt, err = o.CreateAttempt(ctx, order, order.Total, currency, "9999")
		if err != nil {
			return err
		}
	}

	client := o.agreements.Client(currency)
	payment, err := client.Recurring(ctx, order.MembershipID, quickpay.RecurringRequest{
		OrderID:     GatewayOrderID(order.ID, attempt.ID),
		Amount:      attempt.RequestedAmount,
		AutoCapture: true,
	})
	if err != nil {
		return fmt.Errorf("failed to trigger recurring charge: %w", err)
	}

	attempt.GatewayID = payment.ID
	if err := o.store.SaveAttempt(ctx, attempt); err != nil {
		return err
	}
	return o.subs.Renew(ctx, order, time.Now().UTC())
}

// DeleteAttempt removes an attempt record. When the attempt is neither
// accepted nor captured, its link and payment are cancelled at the
// gateway first. Cancellation is advisory cleanup: failures are logged
// and never fail the deletion.
func (o *Orchestrator) DeleteAttempt(ctx context.Context, attempt *PaymentAttempt) error {
	if !attempt.IsAccepted() && !attempt.IsCaptured() && attempt.GatewayID != 0 {
		client := o.agreements.Client(attempt.Currency)
		if err := client.DeleteLink(ctx, attempt.GatewayID); err != nil {
			logger.Debug("failed to delete payment link", attemptLogContext(attempt).WithError(err))
		}
		if _, err := client.Cancel(ctx, attempt.GatewayID); err != nil {
			logger.Debug("failed to cancel gateway payment", attemptLogContext(attempt).WithError(err))
		}
	}
	return o.store.DeleteAttempt(ctx, attempt.ID)
}

// CancelOrderSubscription cancels the gateway subscription when an order
// is deleted before the subscription was activated. Best effort.
func (o *Orchestrator) CancelOrderSubscription(ctx context.Context, order *Order) {
	if order.MembershipID == 0 {
		return
	}
	client := o.agreements.Client(o.OrderCurrency(order))
	if err := client.CancelSubscription(ctx, order.MembershipID); err != nil {
		logger.Debug("failed to cancel gateway subscription", orderLogContext(order, nil).WithError(err))
	}
}

// refresh pulls the authoritative payment document from the gateway and
// folds it into the attempt. Errors are logged; the attempt keeps its
// last known state.
func (o *Orchestrator) refresh(ctx context.Context, client *quickpay.Client, attempt *PaymentAttempt) {
	if attempt.GatewayID == 0 {
		return
	}
	payment, err := client.GetPayment(ctx, attempt.GatewayID)
	if err != nil {
		logger.Error("failed to refresh payment from gateway", err, attemptLogContext(attempt))
		return
	}
	attempt.UpdateFromPayment(payment, time.Now().UTC())
}

func orderLogContext(order *Order, attempt *PaymentAttempt) logger.LogContext {
	ctx := logger.LogContext{OrderID: strconv.FormatInt(order.ID, 10)}
	if attempt != nil && attempt.GatewayID != 0 {
		ctx.PaymentID = strconv.Itoa(attempt.GatewayID)
	}
	return ctx
}

func attemptLogContext(attempt *PaymentAttempt) logger.LogContext {
	ctx := logger.LogContext{OrderID: strconv.FormatInt(attempt.OrderID, 10)}
	if attempt.GatewayID != 0 {
		ctx.PaymentID = strconv.Itoa(attempt.GatewayID)
	}
	return ctx
}
