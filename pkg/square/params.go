package square

import (
	"strings"

	sq "github.com/square/square-go-sdk"
)

// PaymentCreateParams are the inputs to an immediate Square charge.
type PaymentCreateParams struct {
	AmountCents    int64
	AppFeeCents    int64
	Currency       string
	LocationID     string
	CustomerID     string
	SourceID       string
	IdempotencyKey string
	Note           string
	ReferenceID    string
}

func (p PaymentCreateParams) request(key string) *sq.CreatePaymentRequest {
	return &sq.CreatePaymentRequest{
		IdempotencyKey: key,
		SourceID:       p.SourceID,
		LocationID:     optional(p.LocationID),
		CustomerID:     optional(p.CustomerID),
		Note:           optional(p.Note),
		ReferenceID:    optional(p.ReferenceID),
		AmountMoney:    money(p.AmountCents, p.Currency),
		AppFeeMoney:    money(p.AppFeeCents, p.Currency),
	}
}

// RefundCreateParams describe a refund against a completed payment.
type RefundCreateParams struct {
	PaymentID      string
	AmountCents    int64
	Currency       string
	Reason         string
	IdempotencyKey string
}

func (p RefundCreateParams) request(key string) *sq.RefundPaymentRequest {
	return &sq.RefundPaymentRequest{
		IdempotencyKey: key,
		PaymentID:      optional(p.PaymentID),
		Reason:         optional(p.Reason),
		AmountMoney:    money(p.AmountCents, p.Currency),
	}
}

// optional returns nil for blank input so the SDK omits the field.
func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

// money returns nil for non-positive amounts; currency defaults to USD.
func money(amount int64, currency string) *sq.Money {
	if amount <= 0 {
		return nil
	}
	code := sq.Currency("USD")
	if c := strings.ToUpper(strings.TrimSpace(currency)); c != "" {
		code = sq.Currency(c)
	}
	return &sq.Money{Amount: &amount, Currency: &code}
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
