package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/metation/quickpay-checkout/checkout"
	"github.com/metation/quickpay-checkout/infra/response"
	"github.com/metation/quickpay-checkout/quickpay"
)

// CallbackHandler receives asynchronous payment notifications from the
// gateway
type CallbackHandler struct {
	rec *checkout.Reconciler
}

// NewCallbackHandler creates a new callback handler
func NewCallbackHandler(rec *checkout.Reconciler) *CallbackHandler {
	return &CallbackHandler{rec: rec}
}

// HandleCallback handles POST /quickpay/callback. The checksum is
// verified over the raw body, so the body must not be re-encoded before
// verification. Anything but a signature failure is acknowledged with
// 200; the gateway retries on error statuses and the reconciler is
// idempotent anyway.
func (h *CallbackHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	body, err := io.ReadAll(io.LimitReader(r.Body, 1024*1024))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "Failed to read request body", err)
		return
	}

	checksum := r.Header.Get(quickpay.ChecksumHeader)

	err = h.rec.HandleNotification(ctx, body, checksum)
	if errors.Is(err, checkout.ErrSignatureMismatch) {
		response.Error(w, http.StatusBadRequest, "Invalid callback signature", nil)
		return
	}
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "Failed to process callback", err)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
