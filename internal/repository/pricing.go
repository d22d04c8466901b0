package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"vowsuite/internal/model"
)

// PricingRepo reads the externally maintained feature_costs registry.
// Rows change rarely (platform operators edit prices), so lookups go through
// a short-lived Redis cache.
type PricingRepo struct {
	db  *pgxpool.Pool
	rdb *redis.Client
	ttl time.Duration
}

func NewPricingRepo(db *pgxpool.Pool, rdb *redis.Client, ttl time.Duration) *PricingRepo {
	return &PricingRepo{db: db, rdb: rdb, ttl: ttl}
}

// GetFeature returns the registry row for a feature or theme key, or
// (nil, nil) when the key is unknown. Unknown keys are a normal outcome:
// cost calculation silently skips them.
func (r *PricingRepo) GetFeature(ctx context.Context, key string) (*model.FeatureCost, error) {
	cacheKey := "pricing:" + key

	if data, err := r.rdb.Get(ctx, cacheKey).Bytes(); err == nil {
		var fc model.FeatureCost
		if err := json.Unmarshal(data, &fc); err == nil {
			return &fc, nil
		}
		// Corrupt cache entry: fall through to the database.
	}

	query := `SELECT feature_key, display_name, credit_cost, enabled
		FROM feature_costs WHERE feature_key = $1`

	var fc model.FeatureCost
	err := r.db.QueryRow(ctx, query, key).Scan(&fc.FeatureKey, &fc.DisplayName, &fc.CreditCost, &fc.Enabled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find feature cost: %w", err)
	}

	if data, err := json.Marshal(&fc); err == nil {
		_ = r.rdb.Set(ctx, cacheKey, data, r.ttl).Err()
	}
	return &fc, nil
}
