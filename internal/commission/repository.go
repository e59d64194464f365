package commission

import (
	"context"

	"github.com/jmoiron/sqlx"
)

type repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) TierSource {
	return &repository{db: db}
}

func (r *repository) ActiveTiers(ctx context.Context, revenueType RevenueType) ([]Tier, error) {
	query := `
		SELECT id, revenue_type, min_amount, max_amount, rate_percent, is_active, created_at
		FROM commission_tiers
		WHERE revenue_type = $1 AND is_active = TRUE
		ORDER BY min_amount ASC
	`

	var tiers []Tier
	err := r.db.SelectContext(ctx, &tiers, query, string(revenueType))
	if err != nil {
		return nil, err
	}

	return tiers, nil
}
