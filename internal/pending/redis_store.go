package pending

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	pkgerrors "github.com/repurposehub/checkout-service/pkg/errors"
	"github.com/repurposehub/checkout-service/pkg/logger"
)

// keyValue is the slice of the redis client the store needs.
type keyValue interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	PendingCheckoutKey(visitID string) string
}

// RedisStore keeps pending records in redis under a per-visit key. Records
// older than maxAge are treated as absent and reaped on read; the TTL is a
// backstop so abandoned visits do not accumulate.
type RedisStore struct {
	kv     keyValue
	ttl    time.Duration
	maxAge time.Duration
	logg   *logger.Logger
	clock  func() time.Time
}

// RedisStoreOptions configure a RedisStore.
type RedisStoreOptions struct {
	// TTL is the redis expiry backstop. Should exceed MaxAge.
	TTL time.Duration
	// MaxAge is the resumability window.
	MaxAge time.Duration
	Logger *logger.Logger
	// Clock overrides time.Now, used by tests.
	Clock func() time.Time
}

// NewRedisStore builds a RedisStore over the shared redis client.
func NewRedisStore(kv keyValue, opts RedisStoreOptions) (*RedisStore, error) {
	if kv == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "pending: redis client is required")
	}
	maxAge := opts.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = maxAge + 15*time.Minute
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &RedisStore{kv: kv, ttl: ttl, maxAge: maxAge, logg: opts.Logger, clock: clock}, nil
}

func (s *RedisStore) Get(ctx context.Context, visitID string) (*Record, error) {
	key := s.kv.PendingCheckoutKey(visitID)
	raw, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read pending checkout")
	}

	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil || rec.CheckoutID == "" || rec.IdempotencyKey == "" {
		// Unreadable records are dropped rather than surfaced.
		if s.logg != nil {
			s.logg.Warn(s.logg.WithVisitID(ctx, visitID), "pending.malformed_record_dropped")
		}
		if delErr := s.kv.Del(ctx, key); delErr != nil && s.logg != nil {
			s.logg.Error(ctx, "pending.cleanup_failed", delErr)
		}
		return nil, nil
	}

	if rec.Age(s.clock()) > s.maxAge {
		if delErr := s.kv.Del(ctx, key); delErr != nil && s.logg != nil {
			s.logg.Error(ctx, "pending.cleanup_failed", delErr)
		}
		return nil, nil
	}
	return &rec, nil
}

func (s *RedisStore) Put(ctx context.Context, visitID string, rec Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode pending checkout")
	}
	if err := s.kv.Set(ctx, s.kv.PendingCheckoutKey(visitID), payload, s.ttl); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store pending checkout")
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, visitID string) error {
	if err := s.kv.Del(ctx, s.kv.PendingCheckoutKey(visitID)); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete pending checkout")
	}
	return nil
}
