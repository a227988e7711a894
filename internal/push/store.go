package push

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix  = "push:subs:"
	maxSubsPerUser  = 10
	subscriptionTTL = 30 * 24 * time.Hour
)

// RedisStore хранит подписки пользователя списком в Redis: не больше maxSubsPerUser, TTL 30 дней.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func subsKey(userID string) string { return redisKeyPrefix + userID }

// Add добавляет подписку; подписка с тем же endpoint заменяется, старейшие вытесняются.
func (s *RedisStore) Add(ctx context.Context, userID string, sub Subscription) error {
	raw, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("push store encode: %w", err)
	}
	if err := s.Remove(ctx, userID, sub.Endpoint); err != nil {
		return err
	}
	key := subsKey(userID)
	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, key, string(raw))
	pipe.LTrim(ctx, key, -maxSubsPerUser, -1)
	pipe.Expire(ctx, key, subscriptionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push store add: %w", err)
	}
	return nil
}

// List возвращает подписки пользователя; битые записи пропускаются.
func (s *RedisStore) List(ctx context.Context, userID string) ([]Subscription, error) {
	items, err := s.rdb.LRange(ctx, subsKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("push store list: %w", err)
	}
	subs := make([]Subscription, 0, len(items))
	for _, item := range items {
		var sub Subscription
		if json.Unmarshal([]byte(item), &sub) == nil && sub.Endpoint != "" {
			subs = append(subs, sub)
		}
	}
	return subs, nil
}

// Remove удаляет подписку по endpoint.
func (s *RedisStore) Remove(ctx context.Context, userID, endpoint string) error {
	key := subsKey(userID)
	items, err := s.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("push store remove: %w", err)
	}
	for _, item := range items {
		var sub Subscription
		if json.Unmarshal([]byte(item), &sub) == nil && sub.Endpoint != endpoint {
			continue
		}
		if err := s.rdb.LRem(ctx, key, 0, item).Err(); err != nil {
			return fmt.Errorf("push store remove: %w", err)
		}
	}
	return nil
}
