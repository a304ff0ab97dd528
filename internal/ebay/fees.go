package ebay

import "fmt"

// FeeSchedule models the UK private-seller fee structure: a fixed
// per-order fee plus a tiered percentage of the sale price.
type FeeSchedule struct {
	FixedFee float64
}

const (
	tier1Rate  = 0.04
	tier2Rate  = 0.02
	tier1Limit = 300.0
	tier2Limit = 4000.0
)

func DefaultFeeSchedule() FeeSchedule {
	return FeeSchedule{FixedFee: 0.72}
}

// Fee returns the total selling fee for a sale at price. Amounts above the
// second tier limit are not charged further.
func (f FeeSchedule) Fee(price float64) float64 {
	if price <= 0 {
		return f.FixedFee
	}
	if price <= tier1Limit {
		return f.FixedFee + price*tier1Rate
	}
	tier2Portion := min(price, tier2Limit) - tier1Limit
	return f.FixedFee + tier1Limit*tier1Rate + tier2Portion*tier2Rate
}

// FindMinimumPrice returns the lowest price, in whole pennies, whose payout
// (price plus buyer-paid fee) reaches targetTotal. Used when the seller
// absorbs the fee but still wants to clear a target amount.
func (f FeeSchedule) FindMinimumPrice(targetTotal float64) (float64, error) {
	// Solve the tier equation for a starting estimate, then walk up by a
	// penny until the target is met. The closed form alone is off by
	// rounding at tier edges.
	crossover := tier1Limit + f.Fee(tier1Limit)

	var estimate float64
	if targetTotal > crossover {
		tier2Base := f.FixedFee + tier1Limit*(tier1Rate-tier2Rate)
		estimate = (targetTotal - tier2Base) / (1 + tier2Rate)
	} else {
		estimate = (targetTotal - f.FixedFee) / (1 + tier1Rate)
	}

	price := float64(int(estimate*100)) / 100
	for {
		if price+f.Fee(price) >= targetTotal {
			return price, nil
		}
		price += 0.01
		if price > targetTotal {
			return 0, fmt.Errorf("no price below %.2f covers the fee", targetTotal)
		}
	}
}
