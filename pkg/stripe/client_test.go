package stripe

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/marketplace-payments/pkg/config"
)

func TestNewClientValidatesKeyAgainstEnvironment(t *testing.T) {
	cases := []struct {
		name string
		cfg  config.StripeConfig
		ok   bool
	}{
		{"test key", config.StripeConfig{APIKey: "sk_test_123", Secret: "whsec_1"}, true},
		{"restricted live key", config.StripeConfig{APIKey: "rk_live_123", Secret: "whsec_1", Env: "LIVE"}, true},
		{"live key in test", config.StripeConfig{APIKey: "sk_live_123", Secret: "whsec_1"}, false},
		{"unknown env", config.StripeConfig{APIKey: "sk_test_123", Secret: "whsec_1", Env: "staging"}, false},
		{"missing secret", config.StripeConfig{APIKey: "sk_test_123"}, false},
		{"missing key", config.StripeConfig{Secret: "whsec_1"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := NewClient(context.Background(), tc.cfg, nil)
			if !tc.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "whsec_1", c.SigningSecret())
		})
	}
}

func TestNewProviderUsesClientSecret(t *testing.T) {
	c, err := NewClient(context.Background(), config.StripeConfig{APIKey: "sk_test_1", Secret: "whsec_2"}, nil)
	require.NoError(t, err)

	p, err := NewProvider(c)
	require.NoError(t, err)
	assert.Equal(t, "whsec_2", p.signingSecret)
}
