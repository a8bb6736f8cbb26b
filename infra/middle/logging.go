package middle

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/metation/quickpay-checkout/infra/opensearch"
)

// responseWriter wraps http.ResponseWriter to capture response data
type responseWriter struct {
	http.ResponseWriter
	body       *bytes.Buffer
	statusCode int
	startTime  time.Time
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		body:           &bytes.Buffer{},
		statusCode:     http.StatusOK,
		startTime:      time.Now(),
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.body.Write(b)
	return rw.ResponseWriter.Write(b)
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

// PaymentAuditMiddleware writes one audit trail entry per payment
// request. Logging runs after the response and never blocks it.
func PaymentAuditMiddleware(auditLog *opensearch.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isPaymentEndpoint(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.New().String()
				r.Header.Set("X-Request-ID", requestID)
			}

			// Capture request body
			var requestBody []byte
			if r.Body != nil {
				requestBody, _ = io.ReadAll(r.Body)
				r.Body = io.NopCloser(bytes.NewBuffer(requestBody))
			}

			rw := newResponseWriter(w)
			next.ServeHTTP(rw, r)

			entry := opensearch.PaymentLog{
				Timestamp:        rw.startTime,
				Event:            eventForPath(r.URL.Path),
				RequestID:        requestID,
				UserAgent:        r.UserAgent(),
				ClientIP:         GetClientIP(r),
				StatusCode:       rw.statusCode,
				ProcessingTimeMs: time.Since(rw.startTime).Milliseconds(),
			}

			fillFromBodies(&entry, requestBody, rw.body.Bytes())

			if rw.statusCode >= 400 {
				entry.Error = extractErrorInfo(rw.body.Bytes())
			}

			// Log asynchronously to avoid blocking the response
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = auditLog.LogPaymentEvent(ctx, entry)
			}()
		})
	}
}

// isPaymentEndpoint checks if the URL path belongs to the payment flow
func isPaymentEndpoint(path string) bool {
	return strings.HasPrefix(path, "/checkout") || strings.HasPrefix(path, "/quickpay/")
}

// eventForPath maps a request path to its audit event name
func eventForPath(path string) string {
	switch {
	case strings.HasPrefix(path, "/quickpay/callback"):
		return opensearch.EventCallback
	case strings.HasPrefix(path, "/quickpay/success"), strings.HasPrefix(path, "/quickpay/failed"):
		return opensearch.EventBrowser
	case strings.HasPrefix(path, "/checkout"):
		return opensearch.EventAuthorize
	}
	return "request"
}

// fillFromBodies extracts payment fields from the request and response
// bodies. Callback requests carry the gateway payment document; checkout
// responses carry the created attempt under "data".
func fillFromBodies(entry *opensearch.PaymentLog, requestBody, responseBody []byte) {
	var req map[string]any
	if len(requestBody) > 0 && json.Unmarshal(requestBody, &req) == nil {
		if id, ok := req["id"].(float64); ok {
			entry.PaymentID = strconv.Itoa(int(id))
		}
		if orderID, ok := req["order_id"].(string); ok {
			entry.OrderID = orderID
		}
		if state, ok := req["state"].(string); ok {
			entry.State = state
		}
		if accepted, ok := req["accepted"].(bool); ok {
			entry.Accepted = accepted
		}
		if currency, ok := req["currency"].(string); ok {
			entry.Currency = currency
		}
		if amount, ok := req["amount"].(float64); ok {
			entry.Amount = amount
		}
	}

	var resp map[string]any
	if len(responseBody) > 0 && json.Unmarshal(responseBody, &resp) == nil {
		if data, ok := resp["data"].(map[string]any); ok {
			if orderID, ok := data["order_id"].(float64); ok && entry.OrderID == "" {
				entry.OrderID = strconv.Itoa(int(orderID))
			}
			if attemptID, ok := data["attempt_id"].(float64); ok {
				entry.AttemptID = strconv.Itoa(int(attemptID))
			}
			if paymentID, ok := data["payment_id"].(float64); ok && entry.PaymentID == "" {
				entry.PaymentID = strconv.Itoa(int(paymentID))
			}
		}
	}
}

// extractErrorInfo extracts error information from an error response body
func extractErrorInfo(responseBody []byte) opensearch.ErrorInfo {
	info := opensearch.ErrorInfo{}
	if len(responseBody) == 0 {
		return info
	}

	var resp map[string]any
	if err := json.Unmarshal(responseBody, &resp); err != nil {
		return info
	}

	if msg, ok := resp["error"].(string); ok {
		info.Message = msg
	} else if msg, ok := resp["message"].(string); ok {
		info.Message = msg
	}
	if code, ok := resp["code"].(float64); ok {
		info.Code = strconv.Itoa(int(code))
	}

	return info
}
