package quickpay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(ClientConfig{APIKey: "test-api-key", BaseURL: srv.URL})
}

func TestClientAuthAndHeaders(t *testing.T) {
	var gotUser, gotPass, gotVersion string
	var gotAuthOK bool
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotPass, gotAuthOK = r.BasicAuth()
		gotVersion = r.Header.Get("Accept-Version")
		_ = json.NewEncoder(w).Encode(Payment{ID: 1})
	})

	_, err := client.GetPayment(context.Background(), 1)
	require.NoError(t, err)

	assert.True(t, gotAuthOK)
	assert.Empty(t, gotUser, "username must be blank")
	assert.Equal(t, "test-api-key", gotPass, "the API key is the basic-auth password")
	assert.Equal(t, "v10", gotVersion)
}

func TestCreatePayment(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/payments", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "DKK", body["currency"])
		assert.Equal(t, "57_000001", body["order_id"])

		_ = json.NewEncoder(w).Encode(Payment{ID: 1234, OrderID: "57_000001", Currency: "DKK", State: StateNew})
	})

	payment, err := client.CreatePayment(context.Background(), "DKK", "57_000001")
	require.NoError(t, err)
	assert.Equal(t, 1234, payment.ID)
	assert.Equal(t, StateNew, payment.State)
}

func TestAuthorizeSynchronized(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payments/1234/authorize", r.URL.Path)
		_, synchronized := r.URL.Query()["synchronized"]
		assert.True(t, synchronized, "authorize must request a synchronous result")

		var req AuthorizeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, int64(10000), req.Amount)
		assert.Equal(t, "4111111111111111", req.Card.Number)

		_ = json.NewEncoder(w).Encode(Payment{ID: 1234, Accepted: true, State: StatePending})
	})

	payment, err := client.Authorize(context.Background(), 1234, AuthorizeRequest{
		Amount: 10000,
		Card:   Card{Number: "4111111111111111", Expiration: "2512", CVD: "123"},
	})
	require.NoError(t, err)
	assert.True(t, payment.Accepted)
}

func TestCreateLink(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/payments/1234/link", r.URL.Path)

		var req LinkRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, int64(10000), req.Amount)
		assert.NotEmpty(t, req.ContinueURL)

		_ = json.NewEncoder(w).Encode(Link{URL: "https://payment.quickpay.net/payments/abc"})
	})

	link, err := client.CreateLink(context.Background(), 1234, LinkRequest{
		Amount:      10000,
		ContinueURL: "https://shop.example/quickpay/success?id=57&hash=x",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://payment.quickpay.net/payments/abc", link.URL)
}

func TestAPIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"Validation error","errors":{"currency":["is invalid"]}}`))
	})

	_, err := client.CreatePayment(context.Background(), "XXX", "57_000001")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "Validation error", apiErr.Message)
	assert.Contains(t, apiErr.Error(), "400")
}

func TestRecurring(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/subscriptions/9000/recurring", r.URL.Path)

		var req RecurringRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.AutoCapture)

		_ = json.NewEncoder(w).Encode(Payment{ID: 5678, Type: "Subscription", State: StatePending})
	})

	payment, err := client.Recurring(context.Background(), 9000, RecurringRequest{
		OrderID:     "57_000002",
		Amount:      10000,
		AutoCapture: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 5678, payment.ID)
}
