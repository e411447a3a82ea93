package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stuartoffabean/sentinel/internal/domain"
)

// priceTTL bounds how long a mirrored quote survives without refresh, so a
// dashboard never renders a price from a dead subscription as current.
const priceTTL = 5 * time.Minute

// PriceCache implements domain.PriceCache on Redis hashes. Each asset's quote
// lives at "price:{assetID}" with fields "bid", "ask" and "ts" (Unix
// nanoseconds).
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.rdb}
}

func priceKey(assetID string) string {
	return "price:" + assetID
}

// SetPrice stores the latest quote for an asset.
func (pc *PriceCache) SetPrice(ctx context.Context, assetID string, bid, ask float64, ts time.Time) error {
	key := priceKey(assetID)
	pipe := pc.rdb.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"bid": strconv.FormatFloat(bid, 'f', -1, 64),
		"ask": strconv.FormatFloat(ask, 'f', -1, 64),
		"ts":  strconv.FormatInt(ts.UnixNano(), 10),
	})
	pipe.Expire(ctx, key, priceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", assetID, err)
	}
	return nil
}

// GetPrice retrieves the latest quote for an asset. It returns
// domain.ErrNotFound when no quote is mirrored.
func (pc *PriceCache) GetPrice(ctx context.Context, assetID string) (float64, float64, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(assetID)).Result()
	if err != nil {
		return 0, 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", assetID, err)
	}
	if len(vals) == 0 {
		return 0, 0, time.Time{}, domain.ErrNotFound
	}

	bid, err := strconv.ParseFloat(vals["bid"], 64)
	if err != nil {
		return 0, 0, time.Time{}, fmt.Errorf("redis: parse bid %s: %w", assetID, err)
	}
	ask, err := strconv.ParseFloat(vals["ask"], 64)
	if err != nil {
		return 0, 0, time.Time{}, fmt.Errorf("redis: parse ask %s: %w", assetID, err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return 0, 0, time.Time{}, fmt.Errorf("redis: parse ts %s: %w", assetID, err)
	}
	return bid, ask, time.Unix(0, tsNano), nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
