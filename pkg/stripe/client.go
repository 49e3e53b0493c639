package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/paymentintent"
	"github.com/stripe/stripe-go/v84/refund"

	"github.com/angelmondragon/marketplace-payments/pkg/config"
	"github.com/angelmondragon/marketplace-payments/pkg/logger"
)

// keyPrefixes lists the secret and restricted key prefixes each
// environment accepts.
var keyPrefixes = map[string][]string{
	"test": {"sk_test_", "rk_test_"},
	"live": {"sk_live_", "rk_live_"},
}

// Client carries validated Stripe credentials and per-key resource clients,
// so no package-level stripe.Key is set.
type Client struct {
	environment   string
	signingSecret string
	intents       *paymentintent.Client
	refunds       *refund.Client
}

// NewClient checks that the API key matches the configured environment and
// that a webhook signing secret is present.
func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	env := cfg.Environment()
	prefixes, ok := keyPrefixes[env]
	if !ok {
		return nil, fmt.Errorf("stripe environment must be test or live, got %q", env)
	}
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil, errors.New("stripe api key is required")
	}
	if !hasAnyPrefix(key, prefixes) {
		return nil, fmt.Errorf("stripe %s environment needs a key starting with %s", env, strings.Join(prefixes, " or "))
	}
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errors.New("stripe webhook secret is required")
	}

	backend := stripe.GetBackend(stripe.APIBackend)
	c := &Client{
		environment:   env,
		signingSecret: secret,
		intents:       &paymentintent.Client{B: backend, Key: key},
		refunds:       &refund.Client{B: backend, Key: key},
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "stripe_env", env), "stripe client initialized")
	}
	return c, nil
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// Environment reports "test" or "live".
func (c *Client) Environment() string {
	return c.environment
}

// SigningSecret returns the webhook endpoint secret.
func (c *Client) SigningSecret() string {
	return c.signingSecret
}
