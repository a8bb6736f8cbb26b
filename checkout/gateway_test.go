package checkout

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/metation/quickpay-checkout/quickpay"
)

// fakeGateway is an in-memory QuickPay stand-in served over httptest. It
// keeps payment and subscription documents so refreshes read back what
// earlier operations wrote.
type fakeGateway struct {
	mu            sync.Mutex
	srv           *httptest.Server
	nextPaymentID int
	nextSubID     int
	payments      map[int]*quickpay.Payment
	subscriptions map[int]*quickpay.Subscription
	recurrings    []quickpay.RecurringRequest
	linkRequests  map[int]quickpay.LinkRequest
	cancelled     map[int]bool
	linksDeleted  map[int]bool

	// authAccept controls whether direct authorizations are approved.
	authAccept bool
	// authTestMode marks authorized payments as test-card payments.
	authTestMode bool

	// linkEntered / linkRelease let a test hold the next link creation
	// in flight.
	linkEntered chan struct{}
	linkRelease chan struct{}
}

// holdNextLink makes the next link creation signal entered and then wait
// for release, simulating a slow gateway.
func (g *fakeGateway) holdNextLink() (entered <-chan struct{}, release chan struct{}) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.linkEntered = make(chan struct{})
	g.linkRelease = make(chan struct{})
	return g.linkEntered, g.linkRelease
}

func newFakeGateway(t *testing.T) *fakeGateway {
	t.Helper()
	g := &fakeGateway{
		nextPaymentID: 1000,
		nextSubID:     9000,
		payments:      make(map[int]*quickpay.Payment),
		subscriptions: make(map[int]*quickpay.Subscription),
		linkRequests:  make(map[int]quickpay.LinkRequest),
		cancelled:     make(map[int]bool),
		linksDeleted:  make(map[int]bool),
		authAccept:    true,
	}
	g.srv = httptest.NewServer(http.HandlerFunc(g.handle))
	t.Cleanup(g.srv.Close)
	return g
}

func (g *fakeGateway) client() *quickpay.Client {
	return quickpay.NewClient(quickpay.ClientConfig{APIKey: "test-key", BaseURL: g.srv.URL})
}

func (g *fakeGateway) payment(id int) quickpay.Payment {
	g.mu.Lock()
	defer g.mu.Unlock()
	return *g.payments[id]
}

func (g *fakeGateway) linkRequest(id int) quickpay.LinkRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.linkRequests[id]
}

func (g *fakeGateway) recurringCalls() []quickpay.RecurringRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]quickpay.RecurringRequest(nil), g.recurrings...)
}

func (g *fakeGateway) wasCancelled(id int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cancelled[id]
}

func (g *fakeGateway) linkDeleted(id int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.linksDeleted[id]
}

func (g *fakeGateway) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPut && strings.HasSuffix(r.URL.Path, "/link") {
		g.mu.Lock()
		entered, release := g.linkEntered, g.linkRelease
		g.linkEntered, g.linkRelease = nil, nil
		g.mu.Unlock()
		if entered != nil {
			close(entered)
			<-release
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	writeDoc := func(doc any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(doc)
	}

	switch {
	case len(parts) == 1 && parts[0] == "payments" && r.Method == http.MethodPost:
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		g.nextPaymentID++
		p := &quickpay.Payment{
			ID:       g.nextPaymentID,
			OrderID:  body["order_id"],
			Currency: body["currency"],
			State:    quickpay.StateNew,
		}
		g.payments[p.ID] = p
		writeDoc(p)

	case len(parts) == 2 && parts[0] == "payments" && r.Method == http.MethodGet:
		writeDoc(g.payments[atoi(parts[1])])

	case len(parts) == 3 && parts[0] == "payments" && parts[2] == "authorize":
		var req quickpay.AuthorizeRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		p := g.payments[atoi(parts[1])]
		p.TestMode = g.authTestMode
		if g.authAccept {
			p.Accepted = true
			p.State = quickpay.StatePending
			p.Operations = append(p.Operations, quickpay.Operation{
				Type: "authorize", Amount: req.Amount, QPStatusCode: "20000", QPStatusMsg: "Approved",
			})
			if n := req.Card.Number; len(n) >= 4 {
				p.Metadata.Last4 = n[len(n)-4:]
			}
		} else {
			p.State = quickpay.StateRejected
			p.Operations = append(p.Operations, quickpay.Operation{
				Type: "authorize", Amount: req.Amount, QPStatusCode: "40000", QPStatusMsg: "Rejected by acquirer",
			})
		}
		writeDoc(p)

	case len(parts) == 3 && parts[0] == "payments" && parts[2] == "capture":
		var body map[string]int64
		_ = json.NewDecoder(r.Body).Decode(&body)
		p := g.payments[atoi(parts[1])]
		p.Balance += body["amount"]
		p.State = quickpay.StateProcessed
		p.Operations = append(p.Operations, quickpay.Operation{Type: "capture", Amount: body["amount"]})
		writeDoc(p)

	case len(parts) == 3 && parts[0] == "payments" && parts[2] == "refund":
		var body map[string]int64
		_ = json.NewDecoder(r.Body).Decode(&body)
		p := g.payments[atoi(parts[1])]
		p.Balance -= body["amount"]
		p.Operations = append(p.Operations, quickpay.Operation{Type: "refund", Amount: body["amount"]})
		writeDoc(p)

	case len(parts) == 3 && parts[0] == "payments" && parts[2] == "cancel":
		p := g.payments[atoi(parts[1])]
		g.cancelled[p.ID] = true
		p.State = quickpay.StateRejected
		writeDoc(p)

	case len(parts) == 3 && parts[0] == "payments" && parts[2] == "link":
		id := atoi(parts[1])
		if r.Method == http.MethodDelete {
			g.linksDeleted[id] = true
			w.WriteHeader(http.StatusNoContent)
			return
		}
		var req quickpay.LinkRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		g.linkRequests[id] = req
		writeDoc(quickpay.Link{URL: fmt.Sprintf("%s/pay/%d", g.srv.URL, id)})

	case len(parts) == 1 && parts[0] == "subscriptions" && r.Method == http.MethodPost:
		var req quickpay.SubscriptionRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		g.nextSubID++
		sub := &quickpay.Subscription{
			ID:          g.nextSubID,
			OrderID:     req.OrderID,
			Currency:    req.Currency,
			Description: req.Description,
			State:       quickpay.StateNew,
		}
		g.subscriptions[sub.ID] = sub
		writeDoc(sub)

	case len(parts) == 3 && parts[0] == "subscriptions" && parts[2] == "link":
		writeDoc(quickpay.Link{URL: fmt.Sprintf("%s/subscribe/%s", g.srv.URL, parts[1])})

	case len(parts) == 3 && parts[0] == "subscriptions" && parts[2] == "recurring":
		var req quickpay.RecurringRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		g.recurrings = append(g.recurrings, req)
		g.nextPaymentID++
		p := &quickpay.Payment{
			ID:             g.nextPaymentID,
			OrderID:        req.OrderID,
			State:          quickpay.StatePending,
			SubscriptionID: atoi(parts[1]),
		}
		g.payments[p.ID] = p
		writeDoc(p)

	case len(parts) == 3 && parts[0] == "subscriptions" && parts[2] == "cancel":
		delete(g.subscriptions, atoi(parts[1]))
		w.WriteHeader(http.StatusOK)

	default:
		http.NotFound(w, r)
	}
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

const testPrivateKey = "test-private-key"

// stubAgreements serves one agreement for every currency.
type stubAgreements struct {
	c   *quickpay.Client
	key string
}

func (s stubAgreements) Client(string) *quickpay.Client { return s.c }
func (s stubAgreements) PrivateKey(string) string       { return s.key }

func testSettings() Settings {
	return Settings{
		Acquirer:        "nets",
		PaymentMethods:  "creditcard",
		TestMode:        true,
		AutoCapture:     false,
		ShopBaseURL:     "https://shop.example",
		Language:        "da",
		DefaultCurrency: "DKK",
		Statuses:        DefaultStatusLevels,
	}
}

// harness wires a real store and orchestrator against the fake gateway.
type harness struct {
	store    *SQLiteStore
	gateway  *fakeGateway
	orch     *Orchestrator
	settings Settings
}

func newHarness(t *testing.T, settings Settings) *harness {
	t.Helper()
	gw := newFakeGateway(t)
	store := newTestStore(t)
	agreements := stubAgreements{c: gw.client(), key: testPrivateKey}
	return &harness{
		store:    store,
		gateway:  gw,
		orch:     NewOrchestrator(store, agreements, settings, nil),
		settings: settings,
	}
}

func (h *harness) agreements() Agreements {
	return stubAgreements{c: h.gateway.client(), key: testPrivateKey}
}

func (h *harness) latestAttempt(t *testing.T, orderID int64) *PaymentAttempt {
	t.Helper()
	attempt, err := h.store.LatestAttempt(context.Background(), orderID)
	require.NoError(t, err)
	require.NotNil(t, attempt)
	return attempt
}
