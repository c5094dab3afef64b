// Package cache keeps read-side snapshots and webhook delivery markers in
// redis. Nothing here is authoritative: the ledger store always wins.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"caredit/internal/models"

	"github.com/redis/go-redis/v9"
)

type CacheService struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCacheService(client *redis.Client, defaultTTL time.Duration) *CacheService {
	return &CacheService{
		client: client,
		ttl:    defaultTTL,
	}
}

// Base operations
func (s *CacheService) Set(ctx context.Context, key string, value interface{}) error {
	return s.SetWithTTL(ctx, key, value, s.ttl)
}

func (s *CacheService) SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	return s.client.Set(ctx, key, data, ttl).Err()
}

func (s *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get cache value: %w", err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal cache value: %w", err)
	}
	return true, nil
}

func (s *CacheService) Delete(ctx context.Context, keys ...string) error {
	return s.client.Del(ctx, keys...).Err()
}

// Key generation
func (s *CacheService) GenerateKey(entityType, keyType string, value interface{}) string {
	return fmt.Sprintf("%s:%s:%v", entityType, keyType, value)
}

// Account snapshots
//
// Every invalidation bumps a per-user generation counter. A reader takes
// the generation before it reads the store and hands it back to
// CacheAccount, which only writes while the counter is unchanged. A
// snapshot read before a commit therefore never lands after that commit's
// invalidation.

const generationTTL = 24 * time.Hour

func (s *CacheService) accountKey(userID uint) string {
	return s.GenerateKey("account", "user", userID)
}

func (s *CacheService) generationKey(userID uint) string {
	return s.GenerateKey("account", "generation", userID)
}

// AccountGeneration returns the current snapshot generation for userID.
func (s *CacheService) AccountGeneration(ctx context.Context, userID uint) (int64, error) {
	gen, err := s.client.Get(ctx, s.generationKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read account generation: %w", err)
	}
	return gen, nil
}

// CacheAccount stores the snapshot if gen is still current. A lost race is
// not an error: the snapshot is simply dropped.
func (s *CacheService) CacheAccount(ctx context.Context, account *models.Account, gen int64) error {
	if account == nil {
		return errors.New("cannot cache nil account")
	}
	data, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	genKey := s.generationKey(account.UserID)

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != gen {
			return errStaleSnapshot
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.accountKey(account.UserID), data, s.ttl)
			return nil
		})
		return err
	}, genKey)
	if errors.Is(err, errStaleSnapshot) || errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to cache account: %w", err)
	}
	return nil
}

var errStaleSnapshot = errors.New("account snapshot is stale")

// GetAccount returns nil, nil on a miss.
func (s *CacheService) GetAccount(ctx context.Context, userID uint) (*models.Account, error) {
	var account models.Account
	found, err := s.Get(ctx, s.accountKey(userID), &account)
	if err != nil || !found {
		return nil, err
	}
	return &account, nil
}

func (s *CacheService) InvalidateAccount(ctx context.Context, userID uint) error {
	genKey := s.generationKey(userID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genKey)
		pipe.Expire(ctx, genKey, generationTTL)
		pipe.Del(ctx, s.accountKey(userID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to invalidate account: %w", err)
	}
	return nil
}

// Webhook deliveries

// SeenEvent reports whether a gateway event id was already processed.
func (s *CacheService) SeenEvent(ctx context.Context, eventID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.GenerateKey("webhook", "event", eventID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check webhook event: %w", err)
	}
	return n > 0, nil
}

// MarkEvent remembers a processed gateway event id for ttl.
func (s *CacheService) MarkEvent(ctx context.Context, eventID string, ttl time.Duration) error {
	key := s.GenerateKey("webhook", "event", eventID)
	if err := s.client.Set(ctx, key, time.Now().Unix(), ttl).Err(); err != nil {
		return fmt.Errorf("failed to mark webhook event: %w", err)
	}
	return nil
}

func (s *CacheService) HealthCheck(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	return nil
}

// Close closes the Redis client connection
func (s *CacheService) Close() error {
	return s.client.Close()
}
