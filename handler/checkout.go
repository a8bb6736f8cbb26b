package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/metation/quickpay-checkout/checkout"
	"github.com/metation/quickpay-checkout/infra/response"
	"github.com/metation/quickpay-checkout/quickpay"
)

// CheckoutHandler handles checkout requests
type CheckoutHandler struct {
	store    checkout.Store
	orch     *checkout.Orchestrator
	rec      *checkout.Reconciler
	subs     checkout.SubscriptionBackend
	validate *validator.Validate
}

// NewCheckoutHandler creates a new checkout handler
func NewCheckoutHandler(store checkout.Store, orch *checkout.Orchestrator, rec *checkout.Reconciler, subs checkout.SubscriptionBackend, validate *validator.Validate) *CheckoutHandler {
	if subs == nil {
		subs = checkout.NoopSubscriptions{}
	}
	return &CheckoutHandler{
		store:    store,
		orch:     orch,
		rec:      rec,
		subs:     subs,
		validate: validate,
	}
}

// CardRequest carries raw card data for the direct authorization path.
// It is forwarded to the gateway and never persisted.
type CardRequest struct {
	Number     string `json:"number" validate:"required,numeric,min=12,max=19"`
	Expiration string `json:"expiration" validate:"required,numeric,len=4"`
	CVD        string `json:"cvd" validate:"required,numeric,min=3,max=4"`
}

// SubscriptionItem identifies what a recurring agreement is started for
type SubscriptionItem struct {
	SKU         string `json:"sku" validate:"required"`
	Description string `json:"description" validate:"required"`
}

// CheckoutRequest selects one of three payment paths: raw card data runs
// a direct authorization, a subscription item starts a recurring
// agreement, and neither requests a hosted payment-window link.
type CheckoutRequest struct {
	OrderID      int64             `json:"order_id" validate:"required,gt=0"`
	Card         *CardRequest      `json:"card,omitempty"`
	Subscription *SubscriptionItem `json:"subscription,omitempty"`
	Acquirer     string            `json:"acquirer,omitempty"`
}

// ProcessCheckout handles POST /checkout
func (h *CheckoutHandler) ProcessCheckout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	var req CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request format", err)
		return
	}

	if err := h.validate.Struct(req); err != nil {
		response.Error(w, http.StatusBadRequest, "Validation error", err)
		return
	}

	order, err := h.store.GetOrder(ctx, req.OrderID)
	if errors.Is(err, checkout.ErrUnknownOrder) {
		response.Error(w, http.StatusNotFound, "Unknown order", err)
		return
	}
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "Failed to load order", err)
		return
	}

	switch {
	case req.Subscription != nil:
		h.startSubscription(ctx, w, order, *req.Subscription)
	case req.Card != nil:
		h.authorizeCard(ctx, w, order, *req.Card)
	default:
		h.hostedLink(ctx, w, order, req.Acquirer)
	}
}

// authorizeCard runs the direct card path and, on success, immediately
// advances the order since the shopper's session is live.
func (h *CheckoutHandler) authorizeCard(ctx context.Context, w http.ResponseWriter, order *checkout.Order, card CardRequest) {
	paymentID, err := h.orch.AuthorizeCard(ctx, order, quickpay.Card{
		Number:     card.Number,
		Expiration: card.Expiration,
		CVD:        card.CVD,
	})
	if err != nil {
		writeCheckoutError(w, err)
		return
	}

	if err := h.rec.AdvanceFromBrowser(ctx, order.ID); err != nil {
		response.Error(w, http.StatusInternalServerError, "Failed to complete order", err)
		return
	}

	response.Success(w, http.StatusOK, "Payment authorized", map[string]any{
		"order_id":   order.ID,
		"payment_id": paymentID,
	})
}

func (h *CheckoutHandler) hostedLink(ctx context.Context, w http.ResponseWriter, order *checkout.Order, acquirer string) {
	url, err := h.orch.RequestHostedLink(ctx, order.ID, acquirer)
	if err != nil {
		writeCheckoutError(w, err)
		return
	}

	response.Success(w, http.StatusOK, "Payment link created", map[string]any{
		"order_id":    order.ID,
		"payment_url": url,
	})
}

func (h *CheckoutHandler) startSubscription(ctx context.Context, w http.ResponseWriter, order *checkout.Order, item SubscriptionItem) {
	if !h.subs.Enabled() {
		response.Error(w, http.StatusBadRequest, "Subscriptions are not enabled", nil)
		return
	}

	membershipID, url, err := h.orch.StartSubscription(ctx, order, checkout.OrderItem{
		SKU:         item.SKU,
		Description: item.Description,
		Currency:    h.orch.OrderCurrency(order),
	})
	if err != nil {
		writeCheckoutError(w, err)
		return
	}

	response.Success(w, http.StatusOK, "Subscription created", map[string]any{
		"order_id":      order.ID,
		"membership_id": membershipID,
		"payment_url":   url,
	})
}

// writeCheckoutError maps orchestrator errors onto HTTP statuses. Card
// rejections are the shopper's problem (402), a paid order is a conflict,
// and gateway failures are a bad gateway, not an internal error.
func writeCheckoutError(w http.ResponseWriter, err error) {
	var rejected *checkout.RejectedError
	var apiErr *quickpay.APIError

	switch {
	case errors.Is(err, checkout.ErrAlreadyPaid):
		response.Error(w, http.StatusConflict, "Order is already paid", err)
	case errors.As(err, &rejected):
		response.Error(w, http.StatusPaymentRequired, rejected.Reason, nil)
	case errors.As(err, &apiErr):
		response.Error(w, http.StatusBadGateway, "Gateway request failed", err)
	default:
		response.Error(w, http.StatusInternalServerError, "Checkout failed", err)
	}
}
