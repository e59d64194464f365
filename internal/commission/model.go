package commission

import (
	"time"

	"github.com/shopspring/decimal"
)

// RevenueType distinguishes the two commissionable revenue streams.
type RevenueType string

const (
	RevenueDesignSale       RevenueType = "design_sale"
	RevenueContractReferral RevenueType = "contract_referral"
)

// Tier is one row of the configurable rate table. MaxAmount nil means
// unbounded. Active tiers for one revenue type are resolved lowest
// MinAmount first.
type Tier struct {
	ID          int64            `db:"id" json:"id"`
	RevenueType RevenueType      `db:"revenue_type" json:"revenue_type"`
	MinAmount   decimal.Decimal  `db:"min_amount" json:"min_amount"`
	MaxAmount   *decimal.Decimal `db:"max_amount" json:"max_amount,omitempty"`
	RatePercent decimal.Decimal  `db:"rate_percent" json:"rate_percent"`
	IsActive    bool             `db:"is_active" json:"is_active"`
	CreatedAt   time.Time        `db:"created_at" json:"created_at"`
}

// Contains reports whether amount falls inside [MinAmount, MaxAmount].
func (t Tier) Contains(amount decimal.Decimal) bool {
	if amount.LessThan(t.MinAmount) {
		return false
	}
	if t.MaxAmount != nil && amount.GreaterThan(*t.MaxAmount) {
		return false
	}
	return true
}

// Quote is the resolver's result. CommissionAmount + NetAmount == Amount
// exactly.
type Quote struct {
	Amount           decimal.Decimal `json:"amount"`
	RatePercent      decimal.Decimal `json:"rate_percent"`
	CommissionAmount decimal.Decimal `json:"commission_amount"`
	NetAmount        decimal.Decimal `json:"net_amount"`
	FoundingMember   bool            `json:"founding_member"`
}
