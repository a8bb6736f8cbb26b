package checkout

import (
	"context"
	"crypto/hmac"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/metation/quickpay-checkout/infra/logger"
	"github.com/metation/quickpay-checkout/quickpay"
)

// Reconciler folds asynchronous gateway notifications and browser return
// hits into local order state. All order mutation happens under the order
// row lock, which makes the advance routine exactly-once no matter how
// many duplicated or out-of-order notifications arrive.
type Reconciler struct {
	store      Store
	agreements Agreements
	settings   Settings
	orch       *Orchestrator
	events     Events
	mailer     Mailer
	finalizer  OrderFinalizer
}

// NewReconciler wires the callback reconciler. events, mailer and
// finalizer may be nil; no-op implementations are substituted.
func NewReconciler(store Store, agreements Agreements, settings Settings, orch *Orchestrator, events Events, mailer Mailer, finalizer OrderFinalizer) *Reconciler {
	if events == nil {
		events = NoopEvents{}
	}
	if mailer == nil {
		mailer = NoopMailer{}
	}
	if finalizer == nil {
		finalizer = FinalizerFunc(func(context.Context, *Order) error { return nil })
	}
	return &Reconciler{
		store:      store,
		agreements: agreements,
		settings:   settings,
		orch:       orch,
		events:     events,
		mailer:     mailer,
		finalizer:  finalizer,
	}
}

// HandleNotification processes one raw callback body. The returned error
// is ErrSignatureMismatch for checksum failures; every other condition is
// absorbed (and logged) so the gateway sees a plain acknowledgement and
// does not build a retry storm.
func (r *Reconciler) HandleNotification(ctx context.Context, body []byte, checksum string) error {
	var payment quickpay.Payment
	if err := json.Unmarshal(body, &payment); err != nil {
		logger.Warn("callback body is not valid JSON", logger.LogContext{}.WithError(err))
		return ErrSignatureMismatch
	}

	privateKey := r.agreements.PrivateKey(payment.Currency)
	if !quickpay.VerifySignature(body, privateKey, checksum) {
		logger.Error("callback checksum failed", ErrSignatureMismatch,
			logger.LogContext{PaymentID: strconv.Itoa(payment.ID)})
		return ErrSignatureMismatch
	}

	// Callbacks arrive for every intermediate state. Only terminal-ish
	// states are actionable; pending counts only when capture is manual.
	if !r.actionable(payment.State) {
		logger.Debug("ignoring callback state "+payment.State,
			logger.LogContext{PaymentID: strconv.Itoa(payment.ID)})
		return nil
	}

	orderID, err := ParseGatewayOrderID(payment.OrderID)
	if err != nil {
		logger.Warn("callback with malformed order id", logger.LogContext{}.WithError(err))
		return nil
	}

	var startRecurring bool
	err = r.store.WithOrderLock(ctx, orderID, func(tx Tx, order *Order) error {
		switch {
		case payment.State == quickpay.StateRejected:
			// Record the rejection on the attempt; no order transition.
			return r.updateAttempt(ctx, tx, order, &payment)

		case payment.Type == "Subscription":
			// A new subscription was authorized. Charging the first
			// period happens outside the lock; its outcome arrives in a
			// later callback.
			startRecurring = true
			return nil

		case payment.Accepted:
			if err := r.updateAttempt(ctx, tx, order, &payment); err != nil {
				return err
			}
			if order.TransactionID == "" {
				order.TransactionID = strconv.Itoa(payment.ID)
				if err := tx.SaveOrder(ctx, order); err != nil {
					return err
				}
			}
			attempt, err := tx.LatestAttempt(ctx, order.ID)
			if err != nil {
				return err
			}
			_, err = r.advanceLocked(ctx, tx, order, attempt, false)
			return err
		}
		return nil
	})
	if errors.Is(err, ErrUnknownOrder) {
		// The gateway retries callbacks for stale test data; acknowledge
		// and drop.
		logger.Warn("callback for unknown order "+strconv.FormatInt(orderID, 10), logger.LogContext{})
		return nil
	}
	if err != nil {
		return err
	}

	if startRecurring {
		order, err := r.store.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if err := r.orch.CaptureRecurring(ctx, order); err != nil {
			logger.Error("failed to capture subscription order", err,
				logger.LogContext{OrderID: strconv.FormatInt(orderID, 10)})
		}
	}
	return nil
}

// AdvanceFromBrowser runs the order-advance routine for a live success
// page hit. Unlike the callback path it may complete the order (clear the
// basket, consume stock); those side effects only make sense while the
// shopper's session is alive. The receipt mail goes out after commit.
func (r *Reconciler) AdvanceFromBrowser(ctx context.Context, orderID int64) error {
	var completedNow bool
	var completed *Order
	err := r.store.WithOrderLock(ctx, orderID, func(tx Tx, order *Order) error {
		attempt, err := tx.LatestAttempt(ctx, order.ID)
		if err != nil {
			return err
		}
		completedNow, err = r.advanceLocked(ctx, tx, order, attempt, true)
		if completedNow {
			completed = order
		}
		return err
	})
	if err != nil {
		return err
	}

	if completedNow {
		if err := r.mailer.SendOrderReceipt(ctx, completed); err != nil {
			logger.Error("failed to send order receipt", err,
				logger.LogContext{OrderID: strconv.FormatInt(orderID, 10)})
		}
	}
	return nil
}

// advanceLocked is the shared order-advance routine. It must only run
// under the order row lock. An order with a transaction id and a status
// at or above Authorized has already been processed; everything else
// advances exactly once.
func (r *Reconciler) advanceLocked(ctx context.Context, tx Tx, order *Order, attempt *PaymentAttempt, live bool) (bool, error) {
	statuses := r.settings.Statuses
	logCtx := logger.LogContext{OrderID: strconv.FormatInt(order.ID, 10)}

	if order.TransactionID == "" || order.Status < statuses.Authorized {
		order.Status = statuses.Authorized
		if err := tx.SaveOrder(ctx, order); err != nil {
			return false, err
		}
		if attempt != nil && attempt.IsCaptured() {
			r.events.OrderCaptured(order, attempt)
		} else {
			r.events.OrderAuthorized(order, attempt)
		}
		logger.Info("order authorized", logCtx)
	} else {
		logger.Debug("order already processed", logCtx)
	}

	completedNow := false
	if live && order.Status < statuses.Waiting {
		order.Status = statuses.Waiting
		if err := r.finalizer.Finalize(ctx, order); err != nil {
			return false, err
		}
		if err := tx.SaveOrder(ctx, order); err != nil {
			return false, err
		}
		r.events.OrderCompleted(order)
		completedNow = true
		logger.Info("order completed", logCtx)
	}
	return completedNow, nil
}

// updateAttempt folds the callback payload into the order's latest
// attempt. Orders without attempts (stale gateway data) are left alone.
func (r *Reconciler) updateAttempt(ctx context.Context, tx Tx, order *Order, payment *quickpay.Payment) error {
	attempt, err := tx.LatestAttempt(ctx, order.ID)
	if err != nil || attempt == nil {
		return err
	}
	attempt.UpdateFromPayment(payment, time.Now().UTC())
	return tx.SaveAttempt(ctx, attempt)
}

func (r *Reconciler) actionable(state string) bool {
	switch state {
	case quickpay.StateProcessed, quickpay.StateActive, quickpay.StateRejected:
		return true
	case quickpay.StatePending:
		return !r.settings.AutoCapture
	}
	return false
}

// VerifyOrderHash checks the signature carried on the browser success
// URL against the order. Comparison is constant time.
func (r *Reconciler) VerifyOrderHash(order *Order, hash string) bool {
	expected := SignOrder(order, r.agreements.PrivateKey(r.orch.OrderCurrency(order)))
	return hmac.Equal([]byte(expected), []byte(hash))
}
