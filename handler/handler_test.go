package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/metation/quickpay-checkout/checkout"
	"github.com/metation/quickpay-checkout/infra/response"
	"github.com/metation/quickpay-checkout/quickpay"
)

const testPrivateKey = "test-private-key"

type testAgreements struct {
	c *quickpay.Client
}

func (a testAgreements) Client(string) *quickpay.Client { return a.c }
func (a testAgreements) PrivateKey(string) string       { return testPrivateKey }

// stubGateway answers just enough of the payment API for the handler
// flows under test: payment creation, the hosted link and a synchronous
// authorization that always approves.
func stubGateway(t *testing.T) *httptest.Server {
	t.Helper()
	var lastOrderID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/payments":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			lastOrderID = body["order_id"]
			_ = json.NewEncoder(w).Encode(quickpay.Payment{
				ID: 1234, OrderID: lastOrderID, Currency: body["currency"], State: quickpay.StateNew,
			})
		case strings.HasSuffix(r.URL.Path, "/link"):
			_ = json.NewEncoder(w).Encode(quickpay.Link{URL: "https://payment.quickpay.net/payments/stub"})
		case strings.HasSuffix(r.URL.Path, "/authorize"):
			_ = json.NewEncoder(w).Encode(quickpay.Payment{
				ID: 1234, OrderID: lastOrderID, Accepted: true, State: quickpay.StatePending,
				Metadata: quickpay.Metadata{Last4: "1111"},
			})
		case r.Method == http.MethodGet:
			_ = json.NewEncoder(w).Encode(quickpay.Payment{
				ID: 1234, OrderID: lastOrderID, Accepted: true, State: quickpay.StatePending,
			})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

type testEnv struct {
	store *checkout.SQLiteStore
	orch  *checkout.Orchestrator
	rec   *checkout.Reconciler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gw := stubGateway(t)
	store, err := checkout.NewSQLiteStore(filepath.Join(t.TempDir(), "checkout.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	agreements := testAgreements{c: quickpay.NewClient(quickpay.ClientConfig{APIKey: "k", BaseURL: gw.URL})}
	settings := checkout.Settings{
		Acquirer:        "nets",
		PaymentMethods:  "creditcard",
		TestMode:        true,
		ShopBaseURL:     "https://shop.example",
		Language:        "da",
		DefaultCurrency: "DKK",
		Statuses:        checkout.DefaultStatusLevels,
	}
	orch := checkout.NewOrchestrator(store, agreements, settings, nil)
	rec := checkout.NewReconciler(store, agreements, settings, orch, nil, nil, nil)
	return &testEnv{store: store, orch: orch, rec: rec}
}

func (e *testEnv) createOrder(t *testing.T) *checkout.Order {
	t.Helper()
	order := &checkout.Order{Key: "order-key", Status: 1, Total: 100.00, Currency: "DKK"}
	require.NoError(t, e.store.CreateOrder(context.Background(), order))
	return order
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) response.Response {
	t.Helper()
	var resp response.Response
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	return resp
}

func dataField(t *testing.T, resp response.Response, key string) any {
	t.Helper()
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok, "response data is %T", resp.Data)
	return data[key]
}
