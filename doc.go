// Package quickpaycheckout integrates a web shop with the QuickPay card
// payment gateway. It drives the outbound payment lifecycle (hosted
// payment links, direct card authorization, capture, refund and
// recurring subscription charges) and reconciles the gateway's
// asynchronous callbacks into local order state exactly once.
//
// # Architecture
//
// The payment flow follows this pattern:
//
//	┌─────────────────┐    ┌─────────────────┐    ┌─────────────────┐
//	│                 │    │                 │    │                 │
//	│     Shop        │◄──►│    Checkout     │◄──►│    QuickPay     │
//	│   (browser)     │    │    Service      │    │    Gateway      │
//	│                 │    │                 │    │                 │
//	└─────────────────┘    └─────────────────┘    └─────────────────┘
//
// The shopper either submits card data directly or is sent to QuickPay's
// hosted payment window. The gateway reports every payment state change
// through signed callbacks; the reconciler folds those callbacks and the
// shopper's browser return into the order under a per-order lock, so the
// order advances exactly once no matter how notifications interleave.
//
// # Packages
//
//   - quickpay: typed client for the QuickPay v10 API and callback
//     signature verification
//   - checkout: orders, payment attempts, the payment orchestrator and
//     the callback reconciler
//   - handler, router: the HTTP surface
//   - infra: configuration, logging, audit trail and middleware
package quickpaycheckout
