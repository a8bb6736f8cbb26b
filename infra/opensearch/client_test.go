package opensearch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{
			name: "no_auth",
			cfg:  Config{URL: "http://127.0.0.1:9", Enabled: true},
		},
		{
			name: "with_auth",
			cfg:  Config{URL: "http://127.0.0.1:9", Username: "admin", Password: "admin", Enabled: true},
		},
		{
			name: "logging_disabled",
			cfg:  Config{URL: "http://127.0.0.1:9", Enabled: false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Index setup fails against an unreachable cluster; client
			// creation must still succeed so the service can start while
			// the log cluster is down.
			client, err := NewClient(tt.cfg)
			require.NoError(t, err)
			require.NotNil(t, client)
			assert.NotNil(t, client.GetClient())
			assert.Equal(t, tt.cfg.Enabled, client.IsEnabled())
		})
	}
}

func TestIndexNames(t *testing.T) {
	assert.Equal(t, "checkout-payment-logs", PaymentLogIndex)
	assert.Equal(t, "checkout-system-logs", SystemLogIndex)
}
