package guard

import (
	"context"
	"errors"
	"time"

	"github.com/park285/matka-round-server/internal/domain"
	"github.com/park285/matka-round-server/internal/obslog"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RoundLease makes "at most one active round" hold across server processes sharing one Redis.
type RoundLease struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRoundLease returns a lease whose key expires after ttl, so a crashed holder cannot block
// rounds forever. rdb may be nil.
func NewRoundLease(rdb *redis.Client, ttl time.Duration) *RoundLease {
	if ttl <= 0 {
		ttl = 40 * time.Minute
	}
	return &RoundLease{rdb: rdb, ttl: ttl}
}

func (l *RoundLease) key() string { return keyPrefix + "round:active" }

func (l *RoundLease) Enabled() bool { return l != nil && l.rdb != nil }

// Acquire claims the lease for roundID, failing with ErrAlreadyActive when another round holds it.
func (l *RoundLease) Acquire(ctx context.Context, roundID string) error {
	if !l.Enabled() {
		return nil
	}
	ok, err := l.rdb.SetNX(ctx, l.key(), roundID, l.ttl).Result()
	if err != nil {
		return domain.StorageError("acquire round lease", err)
	}
	if !ok {
		holder, _ := l.rdb.Get(ctx, l.key()).Result()
		obslog.L().Warn("round_lease_busy", zap.String("round_id", roundID), zap.String("holder", holder))
		return domain.ErrAlreadyActive
	}
	return nil
}

// Holder returns the round currently holding the lease, "" when free.
func (l *RoundLease) Holder(ctx context.Context) (string, error) {
	if !l.Enabled() {
		return "", nil
	}
	v, err := l.rdb.Get(ctx, l.key()).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", domain.StorageError("read round lease", err)
	}
	return v, nil
}

// Release frees the lease only if roundID still holds it.
func (l *RoundLease) Release(ctx context.Context, roundID string) error {
	if !l.Enabled() {
		return nil
	}
	key := l.key()
	err := l.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		if cur != roundID {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		return err
	}, key)
	if err != nil {
		obslog.L().Warn("round_lease_release_error", zap.String("round_id", roundID), zap.Error(err))
		return domain.StorageError("release round lease", err)
	}
	return nil
}
