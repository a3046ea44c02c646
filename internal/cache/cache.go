package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const reportKeyPrefix = "grc:report:"

type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// Cache is a read-through cache for report payloads, keyed by
// organization and filter hash. Entries expire after a short TTL so
// score changes are visible within one TTL window.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 60 * time.Second
	}

	return &Cache{client: client, ttl: ttl, logger: logger}, nil
}

func (c *Cache) Close() error {
	return c.client.Close()
}

func reportKey(orgID uuid.UUID, report, filterHash string) string {
	return fmt.Sprintf("%s%s:%s:%s", reportKeyPrefix, orgID, report, filterHash)
}

// GetReport unmarshals a cached payload into dest. The second return
// is false on a miss; cache errors degrade to a miss and are logged,
// never surfaced.
func (c *Cache) GetReport(ctx context.Context, orgID uuid.UUID, report, filterHash string, dest interface{}) (bool, error) {
	raw, err := c.client.Get(ctx, reportKey(orgID, report, filterHash)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		c.logger.Warn("report cache read failed", "report", report, "error", err)
		return false, nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("decoding cached report: %w", err)
	}
	return true, nil
}

// SetReport stores a payload under the (org, report, filter) key.
func (c *Cache) SetReport(ctx context.Context, orgID uuid.UUID, report, filterHash string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding report for cache: %w", err)
	}
	if err := c.client.Set(ctx, reportKey(orgID, report, filterHash), raw, c.ttl).Err(); err != nil {
		c.logger.Warn("report cache write failed", "report", report, "error", err)
	}
	return nil
}

// InvalidateOrg drops every cached report for an organization. Called
// after compliance snapshots land so fresh scores are served promptly.
func (c *Cache) InvalidateOrg(ctx context.Context, orgID uuid.UUID) error {
	pattern := fmt.Sprintf("%s%s:*", reportKeyPrefix, orgID)
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scanning report cache keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}
