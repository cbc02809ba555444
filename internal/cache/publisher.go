package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/finlake/internal/catalog"
	"github.com/sells-group/finlake/internal/resilience"
)

// KeyPrefix namespaces every cache key.
const KeyPrefix = "finlake"

// ErrCacheMiss is returned by Get when no record is cached.
var ErrCacheMiss = eris.New("cache: miss")

// Store is the subset of the go-redis client the publisher needs.
type Store interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// Record is the cached form of a gold table.
type Record struct {
	Data           json.RawMessage `json:"data"`
	FileBucketPath string          `json:"file_bucket_path"`
	RefDate        string          `json:"ref_date"`
	TraceID        string          `json:"trace_id"`
}

// Key returns the cache key of a gold table's aggregation.
func Key(table catalog.GoldTable, agg catalog.AggregationType) string {
	return KeyPrefix + ":" + strings.ToLower(string(table)) + ":" + strings.ToLower(string(agg))
}

// Publisher writes gold tables to Redis.
type Publisher struct {
	store Store
	ttl   time.Duration
	retry resilience.RetryConfig
	log   *zap.Logger
}

// NewPublisher creates a Publisher. A zero ttl stores records without expiry.
func NewPublisher(store Store, ttl time.Duration) *Publisher {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("cache", "redis call")
	return &Publisher{
		store: store,
		ttl:   ttl,
		retry: retry,
		log:   zap.L().With(zap.String("component", "cache")),
	}
}

// Publish stores rows with their provenance under Key(table, agg).
func (p *Publisher) Publish(ctx context.Context, table catalog.GoldTable, agg catalog.AggregationType, rows any, refDate, traceID, bucketPath string) error {
	data, err := json.Marshal(rows)
	if err != nil {
		return eris.Wrap(err, "cache: marshal rows")
	}
	payload, err := json.Marshal(Record{
		Data:           data,
		FileBucketPath: bucketPath,
		RefDate:        refDate,
		TraceID:        traceID,
	})
	if err != nil {
		return eris.Wrap(err, "cache: marshal record")
	}

	key := Key(table, agg)
	err = resilience.Do(ctx, p.retry, func(ctx context.Context) error {
		return p.store.Set(ctx, key, payload, p.ttl).Err()
	})
	if err != nil {
		return eris.Wrapf(err, "cache: set %s", key)
	}
	p.log.Info("table published", zap.String("key", key), zap.Int("bytes", len(payload)))
	return nil
}

// Get returns the cached record of a gold table's aggregation.
func (p *Publisher) Get(ctx context.Context, table catalog.GoldTable, agg catalog.AggregationType) (*Record, error) {
	key := Key(table, agg)
	raw, err := resilience.DoVal(ctx, p.retry, func(ctx context.Context) (string, error) {
		return p.store.Get(ctx, key).Result()
	})
	if eris.Is(err, redis.Nil) {
		return nil, eris.Wrapf(ErrCacheMiss, "key %s", key)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "cache: get %s", key)
	}
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, eris.Wrapf(err, "cache: decode %s", key)
	}
	return &rec, nil
}
