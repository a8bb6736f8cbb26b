package quickpay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the production QuickPay API endpoint.
	DefaultBaseURL = "https://api.quickpay.net"

	// APIVersion is sent in the Accept-Version header on every request.
	APIVersion = "v10"

	defaultTimeout = 30 * time.Second
)

// APIError is a non-2xx response from the QuickPay API. The raw body is
// kept for logging; Message carries the first error text QuickPay reported.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("quickpay: HTTP %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("quickpay: HTTP %d: %s", e.StatusCode, string(e.Body))
}

// ClientConfig configures a QuickPay API client.
type ClientConfig struct {
	// APIKey is the agreement API key. QuickPay uses HTTP basic
	// authentication with a blank username and the key as the password
	// (":apikey").
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// Client is a thin typed client for the QuickPay payment API.
// All amounts passed to and returned from the client are integers in
// minor currency units.
type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewClient creates a QuickPay API client for one agreement.
func NewClient(cfg ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &Client{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// CreatePayment registers a new payment at the gateway.
func (c *Client) CreatePayment(ctx context.Context, currency, orderID string) (*Payment, error) {
	body := map[string]string{"currency": currency, "order_id": orderID}
	var payment Payment
	if err := c.send(ctx, http.MethodPost, "/payments", body, &payment); err != nil {
		return nil, err
	}
	return &payment, nil
}

// GetPayment fetches the current payment document. The gateway is the
// source of truth for accepted state and balance.
func (c *Client) GetPayment(ctx context.Context, id int) (*Payment, error) {
	var payment Payment
	if err := c.send(ctx, http.MethodGet, fmt.Sprintf("/payments/%d", id), nil, &payment); err != nil {
		return nil, err
	}
	return &payment, nil
}

// Authorize performs a synchronous direct card authorization.
func (c *Client) Authorize(ctx context.Context, id int, req AuthorizeRequest) (*Payment, error) {
	var payment Payment
	endpoint := fmt.Sprintf("/payments/%d/authorize?synchronized", id)
	if err := c.send(ctx, http.MethodPost, endpoint, req, &payment); err != nil {
		return nil, err
	}
	return &payment, nil
}

// Capture transfers a reserved amount into collected funds.
func (c *Client) Capture(ctx context.Context, id int, amount int64) (*Payment, error) {
	body := map[string]int64{"amount": amount}
	var payment Payment
	if err := c.send(ctx, http.MethodPost, fmt.Sprintf("/payments/%d/capture", id), body, &payment); err != nil {
		return nil, err
	}
	return &payment, nil
}

// Refund returns a captured amount to the cardholder.
func (c *Client) Refund(ctx context.Context, id int, amount int64) (*Payment, error) {
	body := map[string]int64{"amount": amount}
	var payment Payment
	if err := c.send(ctx, http.MethodPost, fmt.Sprintf("/payments/%d/refund", id), body, &payment); err != nil {
		return nil, err
	}
	return &payment, nil
}

// Cancel voids an authorized but uncaptured payment.
func (c *Client) Cancel(ctx context.Context, id int) (*Payment, error) {
	var payment Payment
	if err := c.send(ctx, http.MethodPost, fmt.Sprintf("/payments/%d/cancel", id), nil, &payment); err != nil {
		return nil, err
	}
	return &payment, nil
}

// CreateLink creates or replaces the hosted payment-window link.
func (c *Client) CreateLink(ctx context.Context, id int, req LinkRequest) (*Link, error) {
	var link Link
	if err := c.send(ctx, http.MethodPut, fmt.Sprintf("/payments/%d/link", id), req, &link); err != nil {
		return nil, err
	}
	return &link, nil
}

// DeleteLink invalidates the hosted payment-window link.
func (c *Client) DeleteLink(ctx context.Context, id int) error {
	return c.send(ctx, http.MethodDelete, fmt.Sprintf("/payments/%d/link", id), nil, nil)
}

// CreateSubscription registers a recurring-billing agreement.
func (c *Client) CreateSubscription(ctx context.Context, req SubscriptionRequest) (*Subscription, error) {
	var sub Subscription
	if err := c.send(ctx, http.MethodPost, "/subscriptions", req, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// CreateSubscriptionLink requests the authorization link for a subscription.
func (c *Client) CreateSubscriptionLink(ctx context.Context, id int, amount int64) (*Link, error) {
	body := map[string]int64{"amount": amount}
	var link Link
	if err := c.send(ctx, http.MethodPut, fmt.Sprintf("/subscriptions/%d/link", id), body, &link); err != nil {
		return nil, err
	}
	return &link, nil
}

// Recurring charges an authorized subscription. The result is
// asynchronous; acceptance arrives via callback.
func (c *Client) Recurring(ctx context.Context, id int, req RecurringRequest) (*Payment, error) {
	var payment Payment
	if err := c.send(ctx, http.MethodPost, fmt.Sprintf("/subscriptions/%d/recurring", id), req, &payment); err != nil {
		return nil, err
	}
	return &payment, nil
}

// CancelSubscription cancels a recurring-billing agreement.
func (c *Client) CancelSubscription(ctx context.Context, id int) error {
	return c.send(ctx, http.MethodPost, fmt.Sprintf("/subscriptions/%d/cancel", id), nil, nil)
}

// send performs one JSON request against the API. Non-2xx responses are
// returned as *APIError with the raw body attached.
func (c *Client) send(ctx context.Context, method, endpoint string, body, target any) error {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("quickpay: failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("quickpay: failed to create request: %w", err)
	}
	req.SetBasicAuth("", c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Version", APIVersion)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("quickpay: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("quickpay: failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    extractErrorMessage(respBody),
			Body:       respBody,
		}
	}

	if target != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, target); err != nil {
			return fmt.Errorf("quickpay: failed to decode response: %w", err)
		}
	}
	return nil
}

// extractErrorMessage pulls the "message" field from a QuickPay error body.
func extractErrorMessage(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}
	return parsed.Message
}
