package opensearch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func disabledLogger(t *testing.T) *Logger {
	t.Helper()
	client, err := NewClient(Config{URL: "http://127.0.0.1:9", Enabled: false})
	require.NoError(t, err)
	return NewLogger(client)
}

func TestLogPaymentEventDisabled(t *testing.T) {
	logger := disabledLogger(t)

	err := logger.LogPaymentEvent(context.Background(), PaymentLog{
		Event:   EventCallback,
		OrderID: "57",
		State:   "processed",
	})
	assert.NoError(t, err, "a disabled audit log must swallow events silently")
}

func TestSearchLogsDisabled(t *testing.T) {
	logger := disabledLogger(t)

	query := map[string]any{
		"match": map[string]any{"order_id": "57"},
	}

	logs, err := logger.SearchLogs(context.Background(), query)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging is disabled")
	assert.Nil(t, logs)

	_, err = logger.GetOrderLogs(context.Background(), "57")
	assert.Error(t, err)

	_, err = logger.GetRecentErrorLogs(context.Background(), 24)
	assert.Error(t, err)
}

func TestGetPaymentStatsDisabled(t *testing.T) {
	logger := disabledLogger(t)

	stats, err := logger.GetPaymentStats(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging is disabled")
	assert.Nil(t, stats)
}

func TestSanitizeForLog(t *testing.T) {
	tests := []struct {
		name         string
		input        string
		shouldRedact bool
	}{
		{
			name:         "card_number",
			input:        `{"number": "4111111111111111"}`,
			shouldRedact: true,
		},
		{
			name:         "cvd",
			input:        `{"cvd": "123"}`,
			shouldRedact: true,
		},
		{
			name:         "expiration",
			input:        `{"expiration": "2512"}`,
			shouldRedact: true,
		},
		{
			name:         "private_key",
			input:        `{"private_key": "secret"}`,
			shouldRedact: true,
		},
		{
			name:         "multiple_fields",
			input:        `{"number": "4111111111111111", "cvd": "123", "api_key": "secret"}`,
			shouldRedact: true,
		},
		{
			name:         "no_sensitive_data",
			input:        `{"amount": 10000, "currency": "DKK"}`,
			shouldRedact: false,
		},
		{
			name:         "empty_input",
			input:        "",
			shouldRedact: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SanitizeForLog(tt.input)

			if tt.shouldRedact {
				assert.Contains(t, result, "***REDACTED***")
				assert.NotEqual(t, tt.input, result)
			} else {
				assert.Equal(t, tt.input, result)
			}
		})
	}
}

func TestPaymentLogEventNames(t *testing.T) {
	assert.Equal(t, "authorize", EventAuthorize)
	assert.Equal(t, "callback", EventCallback)
	assert.Equal(t, "browser_return", EventBrowser)
}
