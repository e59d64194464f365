package commission

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"sanaahub/internal/money"
)

var ErrInvalidAmount = errors.New("amount must be positive")

// TierSource supplies the active, ascending-by-min rate tiers for a revenue
// type. The database repository implements it; tests inject fixed tables.
type TierSource interface {
	ActiveTiers(ctx context.Context, revenueType RevenueType) ([]Tier, error)
}

// DefaultLadders is the hard-coded fallback used when no configured tier
// matches. Rates rise with the amount; the ladders differ per revenue
// stream. Injected so tests can substitute alternates.
func DefaultLadders() map[RevenueType][]Tier {
	max := func(s string) *decimal.Decimal {
		v := decimal.RequireFromString(s)
		return &v
	}

	return map[RevenueType][]Tier{
		RevenueDesignSale: {
			{MinAmount: decimal.Zero, MaxAmount: max("10000"), RatePercent: decimal.RequireFromString("5")},
			{MinAmount: decimal.RequireFromString("10000.01"), MaxAmount: max("50000"), RatePercent: decimal.RequireFromString("7.5")},
			{MinAmount: decimal.RequireFromString("50000.01"), MaxAmount: max("100000"), RatePercent: decimal.RequireFromString("10")},
			{MinAmount: decimal.RequireFromString("100000.01"), RatePercent: decimal.RequireFromString("12")},
		},
		RevenueContractReferral: {
			{MinAmount: decimal.Zero, MaxAmount: max("20000"), RatePercent: decimal.RequireFromString("3")},
			{MinAmount: decimal.RequireFromString("20000.01"), MaxAmount: max("100000"), RatePercent: decimal.RequireFromString("5")},
			{MinAmount: decimal.RequireFromString("100000.01"), RatePercent: decimal.RequireFromString("8")},
		},
	}
}

// Resolver is a pure rate lookup: no side effects beyond reading the tier
// table.
type Resolver struct {
	tiers    TierSource
	defaults map[RevenueType][]Tier
}

func NewResolver(tiers TierSource, defaults map[RevenueType][]Tier) *Resolver {
	return &Resolver{tiers: tiers, defaults: defaults}
}

// Resolve computes the commission split for one sale. A founding member
// selling a design pays no commission; that check precedes any tier lookup.
// Net is derived by subtraction so commission + net always reproduces the
// amount exactly.
func (r *Resolver) Resolve(ctx context.Context, revenueType RevenueType, amount decimal.Decimal, foundingMember bool) (*Quote, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	amount = money.Round(amount)

	if foundingMember && revenueType == RevenueDesignSale {
		return &Quote{
			Amount:           amount,
			RatePercent:      decimal.Zero,
			CommissionAmount: decimal.Zero.Round(2),
			NetAmount:        amount,
			FoundingMember:   true,
		}, nil
	}

	rate, err := r.ratePercent(ctx, revenueType, amount)
	if err != nil {
		return nil, err
	}

	commissionAmount := money.Percent(amount, rate)
	return &Quote{
		Amount:           amount,
		RatePercent:      rate,
		CommissionAmount: commissionAmount,
		NetAmount:        amount.Sub(commissionAmount),
	}, nil
}

func (r *Resolver) ratePercent(ctx context.Context, revenueType RevenueType, amount decimal.Decimal) (decimal.Decimal, error) {
	tiers, err := r.tiers.ActiveTiers(ctx, revenueType)
	if err != nil {
		return decimal.Zero, err
	}

	// Tiers arrive ordered by ascending min_amount; the first containing
	// tier wins, which resolves any overlap deterministically.
	for _, t := range tiers {
		if t.Contains(amount) {
			return t.RatePercent, nil
		}
	}

	for _, t := range r.defaults[revenueType] {
		if t.Contains(amount) {
			return t.RatePercent, nil
		}
	}

	// Default ladders are unbounded at the top, so reaching here means the
	// ladder table itself is broken.
	return decimal.Zero, errors.New("no commission tier covers amount")
}
