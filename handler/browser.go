package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/metation/quickpay-checkout/checkout"
	"github.com/metation/quickpay-checkout/infra/logger"
	"github.com/metation/quickpay-checkout/infra/response"
)

// BrowserHandler serves the pages the gateway redirects the shopper back
// to after the hosted payment window.
type BrowserHandler struct {
	store       checkout.Store
	rec         *checkout.Reconciler
	completeURL string
	failedURL   string
}

// NewBrowserHandler creates a new browser return handler
func NewBrowserHandler(store checkout.Store, rec *checkout.Reconciler, completeURL, failedURL string) *BrowserHandler {
	return &BrowserHandler{
		store:       store,
		rec:         rec,
		completeURL: completeURL,
		failedURL:   failedURL,
	}
}

// HandleSuccess handles GET /quickpay/success?id=<order>&hash=<hmac>.
// The hash proves the shopper came through our own payment link; a
// mismatch gets a 403 and no order mutation.
func (h *BrowserHandler) HandleSuccess(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	orderID, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid order id", err)
		return
	}
	hash := r.URL.Query().Get("hash")

	order, err := h.store.GetOrder(ctx, orderID)
	if errors.Is(err, checkout.ErrUnknownOrder) {
		response.Error(w, http.StatusNotFound, "Unknown order", err)
		return
	}
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "Failed to load order", err)
		return
	}

	if !h.rec.VerifyOrderHash(order, hash) {
		logger.Warn("success page hash mismatch", logger.LogContext{
			OrderID: strconv.FormatInt(orderID, 10),
		})
		response.Error(w, http.StatusForbidden, "Order hash mismatch", nil)
		return
	}

	if err := h.rec.AdvanceFromBrowser(ctx, orderID); err != nil {
		response.Error(w, http.StatusInternalServerError, "Failed to complete order", err)
		return
	}

	http.Redirect(w, r, h.completeURL, http.StatusFound)
}

// HandleFailed handles GET /quickpay/failed, the cancel target of the
// payment window. The attempt stays as the callback left it.
func (h *BrowserHandler) HandleFailed(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, h.failedURL, http.StatusFound)
}
