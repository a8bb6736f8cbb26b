package checkout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGatewayOrderID(t *testing.T) {
	assert.Equal(t, "57_000001", GatewayOrderID(57, 1))
	assert.Equal(t, "1203_000412", GatewayOrderID(1203, 412))
}

func TestParseGatewayOrderID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int64
		wantErr bool
	}{
		{name: "with attempt suffix", input: "57_000001", want: 57},
		{name: "bare order id", input: "57", want: 57},
		{name: "large attempt id", input: "1203_123456", want: 1203},
		{name: "empty", input: "", wantErr: true},
		{name: "not a number", input: "abc_000001", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseGatewayOrderID(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSignOrder(t *testing.T) {
	order := &Order{ID: 57, Total: 100.00, Key: "order-key"}

	hash := SignOrder(order, "private-key")
	assert.Len(t, hash, 64)
	assert.Equal(t, hash, SignOrder(order, "private-key"), "signature must be deterministic")

	// Any component change must change the signature
	other := *order
	other.Total = 100.01
	assert.NotEqual(t, hash, SignOrder(&other, "private-key"))

	other = *order
	other.Key = "other-key"
	assert.NotEqual(t, hash, SignOrder(&other, "private-key"))

	assert.NotEqual(t, hash, SignOrder(order, "other-private-key"))
}
