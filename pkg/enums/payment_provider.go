package enums

import "strings"

// PaymentProvider names an external payment processor.
type PaymentProvider string

const (
	PaymentProviderStripe PaymentProvider = "stripe"
	PaymentProviderSquare PaymentProvider = "square"
)

var paymentProviders = []PaymentProvider{PaymentProviderStripe, PaymentProviderSquare}

func (p PaymentProvider) String() string { return string(p) }

// ParsePaymentProvider accepts any casing and surrounding whitespace.
func ParsePaymentProvider(value string) (PaymentProvider, error) {
	return parse(strings.ToLower(strings.TrimSpace(value)), paymentProviders, "payment provider")
}
