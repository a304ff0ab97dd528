package ebay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeeTiers(t *testing.T) {
	schedule := DefaultFeeSchedule()

	tests := []struct {
		name  string
		price float64
		want  float64
	}{
		{"zero price charges fixed fee only", 0, 0.72},
		{"negative price charges fixed fee only", -5, 0.72},
		{"tier one", 100, 0.72 + 4.00},
		{"tier one boundary", 300, 0.72 + 12.00},
		{"tier two", 1000, 0.72 + 12.00 + 14.00},
		{"above tier two cap", 5000, 0.72 + 12.00 + 74.00},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, schedule.Fee(tt.price), 1e-9)
		})
	}
}

func TestFindMinimumPriceCoversTarget(t *testing.T) {
	schedule := DefaultFeeSchedule()

	for _, target := range []float64{10, 50, 299, 313, 500, 2000} {
		price, err := schedule.FindMinimumPrice(target)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, price+schedule.Fee(price), target, "target %.2f", target)

		// One penny less must fall short, otherwise the result is not minimal.
		lower := price - 0.01
		assert.Less(t, lower+schedule.Fee(lower), target, "target %.2f", target)
	}
}

func TestFindMinimumPriceTinyTarget(t *testing.T) {
	schedule := DefaultFeeSchedule()
	price, err := schedule.FindMinimumPrice(1)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, price+schedule.Fee(price), 1.0)
}
