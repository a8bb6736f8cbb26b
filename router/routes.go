package router

import (
	"github.com/go-chi/chi/v5"

	"github.com/metation/quickpay-checkout/handler"
	"github.com/metation/quickpay-checkout/infra/middle"
)

// Deps carries the handlers the routes are built from.
type Deps struct {
	Checkout    *handler.CheckoutHandler
	Callback    *handler.CallbackHandler
	Browser     *handler.BrowserHandler
	Health      *handler.HealthHandler
	RateLimiter *middle.RateLimiter
}

// Routes mounts the payment flow.
func Routes(r chi.Router, d Deps) {
	r.Get("/health", d.Health.CheckHealth)

	// The gateway controls its own retry cadence; callbacks bypass the
	// shopper-facing rate limit.
	r.Post("/quickpay/callback", d.Callback.HandleCallback)

	r.Group(func(r chi.Router) {
		if d.RateLimiter != nil {
			r.Use(middle.RateLimitMiddleware(d.RateLimiter))
		}
		r.Post("/checkout", d.Checkout.ProcessCheckout)
		r.Get("/quickpay/success", d.Browser.HandleSuccess)
		r.Get("/quickpay/failed", d.Browser.HandleFailed)
	})
}
