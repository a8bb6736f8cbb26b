package config

import (
	"strings"

	"github.com/metation/quickpay-checkout/checkout"
	"github.com/metation/quickpay-checkout/quickpay"
)

// AgreementSet resolves per-currency QuickPay agreements. Currencies
// without their own keys fall back to the default agreement.
type AgreementSet struct {
	defaultClient *quickpay.Client
	defaultKey    string
	clients       map[string]*quickpay.Client
	keys          map[string]string
}

var _ checkout.Agreements = (*AgreementSet)(nil)

// NewAgreements builds one API client per configured agreement.
func NewAgreements(app *App) *AgreementSet {
	mk := func(apiKey string) *quickpay.Client {
		return quickpay.NewClient(quickpay.ClientConfig{
			APIKey:  apiKey,
			BaseURL: app.GatewayBaseURL,
			Timeout: app.GatewayTimeout,
		})
	}

	set := &AgreementSet{
		defaultClient: mk(app.APIKey),
		defaultKey:    app.PrivateKey,
		clients:       make(map[string]*quickpay.Client, len(app.CurrencyAPIKeys)),
		keys:          make(map[string]string, len(app.CurrencyPrivateKeys)),
	}
	for cur, key := range app.CurrencyAPIKeys {
		set.clients[strings.ToUpper(cur)] = mk(key)
	}
	for cur, key := range app.CurrencyPrivateKeys {
		set.keys[strings.ToUpper(cur)] = key
	}
	return set
}

// Client returns the API client for a currency's agreement.
func (s *AgreementSet) Client(currency string) *quickpay.Client {
	if c, ok := s.clients[strings.ToUpper(currency)]; ok {
		return c
	}
	return s.defaultClient
}

// PrivateKey returns the callback signing key for a currency's agreement.
func (s *AgreementSet) PrivateKey(currency string) string {
	if k, ok := s.keys[strings.ToUpper(currency)]; ok {
		return k
	}
	return s.defaultKey
}
