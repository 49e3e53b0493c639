package fees

import (
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketplace-payments/pkg/config"
	pkgerrors "github.com/angelmondragon/marketplace-payments/pkg/errors"
)

const (
	DefaultCommissionBps      int64 = 500
	DefaultProcessingFeeCents int64 = 25

	bpsDenominator = 10000
)

// Breakdown is the full set of amounts a buyer pays for one order, in minor units.
type Breakdown struct {
	SubtotalCents      int64 `json:"subtotalCents"`
	ServiceFeeCents    int64 `json:"serviceFeeCents"`
	ProcessingFeeCents int64 `json:"processingFeeCents"`
	TotalCents         int64 `json:"totalCents"`
}

// PlatformFeeCents is the amount the marketplace keeps on a split charge.
func (b Breakdown) PlatformFeeCents() int64 {
	return b.ServiceFeeCents + b.ProcessingFeeCents
}

// Equal reports whether two breakdowns carry identical amounts.
func (b Breakdown) Equal(other Breakdown) bool {
	return b == other
}

type params struct {
	commissionBps      int64
	processingFeeCents int64
}

// Option overrides one fee parameter.
type Option func(*params)

func WithCommissionBps(bps int64) Option {
	return func(p *params) { p.commissionBps = bps }
}

func WithProcessingFee(cents int64) Option {
	return func(p *params) { p.processingFeeCents = cents }
}

// Calculate derives the fee breakdown for subtotal. The service fee is
// subtotal*bps/10000 rounded half away from zero.
func Calculate(subtotal int64, opts ...Option) (Breakdown, error) {
	p := params{
		commissionBps:      DefaultCommissionBps,
		processingFeeCents: DefaultProcessingFeeCents,
	}
	for _, opt := range opts {
		opt(&p)
	}

	if subtotal <= 0 {
		return Breakdown{}, pkgerrors.New(pkgerrors.CodeInvalidAmount, "subtotal must be positive").
			WithDetails(map[string]any{"subtotal_cents": subtotal})
	}
	if p.commissionBps < 0 || p.commissionBps > bpsDenominator {
		return Breakdown{}, pkgerrors.New(pkgerrors.CodeInvalidAmount, "commission out of range").
			WithDetails(map[string]any{"commission_bps": p.commissionBps})
	}
	if p.processingFeeCents < 0 {
		return Breakdown{}, pkgerrors.New(pkgerrors.CodeInvalidAmount, "processing fee must not be negative").
			WithDetails(map[string]any{"processing_fee_cents": p.processingFeeCents})
	}

	service := decimal.NewFromInt(subtotal).
		Mul(decimal.NewFromInt(p.commissionBps)).
		Div(decimal.NewFromInt(bpsDenominator)).
		Round(0).
		IntPart()

	return Breakdown{
		SubtotalCents:      subtotal,
		ServiceFeeCents:    service,
		ProcessingFeeCents: p.processingFeeCents,
		TotalCents:         subtotal + service + p.processingFeeCents,
	}, nil
}

// Calculator binds the configured fee schedule so every caller prices orders
// the same way.
type Calculator struct {
	opts []Option
}

// NewCalculator builds a Calculator from the fees config.
func NewCalculator(cfg config.FeesConfig) Calculator {
	return Calculator{opts: []Option{
		WithCommissionBps(cfg.CommissionBps),
		WithProcessingFee(cfg.ProcessingFeeCents),
	}}
}

// DefaultCalculator uses the built-in fee schedule.
func DefaultCalculator() Calculator {
	return Calculator{}
}

// Calculate prices subtotal with the bound schedule.
func (c Calculator) Calculate(subtotal int64) (Breakdown, error) {
	return Calculate(subtotal, c.opts...)
}
