package quickpay

// Payment states reported by QuickPay. A payment walks through
// new -> pending -> processed; subscriptions report active once the
// recurring agreement is authorized.
const (
	StateNew       = "new"
	StatePending   = "pending"
	StateProcessed = "processed"
	StateActive    = "active"
	StateRejected  = "rejected"
)

// Payment is the payment document returned by the QuickPay API.
// All amounts are integers in minor currency units (cents, øre).
type Payment struct {
	ID              int         `json:"id"`
	OrderID         string      `json:"order_id"`
	Accepted        bool        `json:"accepted"`
	TestMode        bool        `json:"test_mode"`
	Type            string      `json:"type"`
	TextOnStatement string      `json:"text_on_statement"`
	Acquirer        string      `json:"acquirer"`
	State           string      `json:"state"`
	Currency        string      `json:"currency"`
	Balance         int64       `json:"balance"`
	SubscriptionID  int         `json:"subscription_id,omitempty"`
	Metadata        Metadata    `json:"metadata"`
	Operations      []Operation `json:"operations"`
}

// LastOperation returns the most recent operation on the payment, or nil.
func (p *Payment) LastOperation() *Operation {
	if len(p.Operations) == 0 {
		return nil
	}
	return &p.Operations[len(p.Operations)-1]
}

// Operation is a single acquirer interaction (authorize, capture, refund...)
// recorded on a payment.
type Operation struct {
	ID           int    `json:"id"`
	Type         string `json:"type"`
	Amount       int64  `json:"amount"`
	Pending      bool   `json:"pending"`
	QPStatusCode string `json:"qp_status_code"`
	QPStatusMsg  string `json:"qp_status_msg"`
	AQStatusCode string `json:"aq_status_code"`
	AQStatusMsg  string `json:"aq_status_msg"`
}

// Metadata carries card details QuickPay exposes on a payment.
type Metadata struct {
	Brand    string `json:"brand,omitempty"`
	Last4    string `json:"last4,omitempty"`
	ExpMonth int    `json:"exp_month,omitempty"`
	ExpYear  int    `json:"exp_year,omitempty"`
}

// Subscription is the recurring-billing agreement document.
type Subscription struct {
	ID          int      `json:"id"`
	OrderID     string   `json:"order_id"`
	Accepted    bool     `json:"accepted"`
	TestMode    bool     `json:"test_mode"`
	State       string   `json:"state"`
	Currency    string   `json:"currency"`
	Description string   `json:"description,omitempty"`
	Metadata    Metadata `json:"metadata"`
}

// Link is the hosted payment-window link returned by the link endpoints.
type Link struct {
	URL string `json:"url"`
}

// Card holds raw card data for direct (non-hosted) authorization.
// Expiration is two-digit year followed by two-digit month, e.g. "2512".
type Card struct {
	Number     string `json:"number"`
	Expiration string `json:"expiration"`
	CVD        string `json:"cvd"`
}

// AuthorizeRequest is the body for POST /payments/{id}/authorize.
type AuthorizeRequest struct {
	Amount      int64  `json:"amount"`
	Card        Card   `json:"card"`
	Acquirer    string `json:"acquirer,omitempty"`
	AutoCapture bool   `json:"auto_capture"`
}

// LinkRequest is the body for PUT /payments/{id}/link.
type LinkRequest struct {
	Amount         int64  `json:"amount"`
	ContinueURL    string `json:"continue_url"`
	CancelURL      string `json:"cancel_url"`
	CallbackURL    string `json:"callback_url"`
	AutoCapture    bool   `json:"auto_capture"`
	Language       string `json:"language,omitempty"`
	Acquirer       string `json:"acquirer,omitempty"`
	PaymentMethods string `json:"payment_methods,omitempty"`
	Framed         bool   `json:"framed,omitempty"`
}

// SubscriptionRequest is the body for POST /subscriptions.
type SubscriptionRequest struct {
	OrderID     string `json:"order_id"`
	Currency    string `json:"currency"`
	Description string `json:"description,omitempty"`
}

// RecurringRequest is the body for POST /subscriptions/{id}/recurring.
type RecurringRequest struct {
	OrderID     string `json:"order_id"`
	Amount      int64  `json:"amount"`
	AutoCapture bool   `json:"auto_capture"`
}
