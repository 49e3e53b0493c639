package fees

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/marketplace-payments/pkg/config"
	pkgerrors "github.com/angelmondragon/marketplace-payments/pkg/errors"
)

func TestCalculateDefaults(t *testing.T) {
	b, err := Calculate(1000)
	require.NoError(t, err)
	assert.Equal(t, Breakdown{SubtotalCents: 1000, ServiceFeeCents: 50, ProcessingFeeCents: 25, TotalCents: 1075}, b)
	assert.Equal(t, int64(75), b.PlatformFeeCents())
}

func TestCalculateRoundsHalfUp(t *testing.T) {
	cases := []struct {
		subtotal int64
		want     int64
	}{
		{subtotal: 10, want: 1},   // 0.5
		{subtotal: 9, want: 0},    // 0.45
		{subtotal: 30, want: 2},   // 1.5
		{subtotal: 1, want: 0},    // 0.05
		{subtotal: 999, want: 50}, // 49.95
	}
	for _, tc := range cases {
		b, err := Calculate(tc.subtotal)
		require.NoError(t, err)
		assert.Equal(t, tc.want, b.ServiceFeeCents, "subtotal %d", tc.subtotal)
	}
}

func TestCalculateTotalIdentity(t *testing.T) {
	for _, subtotal := range []int64{1, 7, 99, 1000, 123457, 9999999} {
		b, err := Calculate(subtotal, WithCommissionBps(725), WithProcessingFee(30))
		require.NoError(t, err)
		assert.Equal(t, b.SubtotalCents+b.ServiceFeeCents+b.ProcessingFeeCents, b.TotalCents)
	}
}

func TestCalculateRejectsNonPositiveSubtotal(t *testing.T) {
	for _, subtotal := range []int64{0, -1} {
		_, err := Calculate(subtotal)
		require.Error(t, err)
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidAmount))
	}
}

func TestCalculateRejectsBadOptions(t *testing.T) {
	_, err := Calculate(100, WithCommissionBps(10001))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidAmount))

	_, err = Calculate(100, WithProcessingFee(-1))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidAmount))
}

func TestCalculatorUsesConfig(t *testing.T) {
	calc := NewCalculator(config.FeesConfig{CommissionBps: 1000, ProcessingFeeCents: 0})
	b, err := calc.Calculate(2000)
	require.NoError(t, err)
	assert.Equal(t, int64(200), b.ServiceFeeCents)
	assert.Equal(t, int64(2200), b.TotalCents)

	def, err := DefaultCalculator().Calculate(1000)
	require.NoError(t, err)
	assert.Equal(t, int64(1075), def.TotalCents)
}
