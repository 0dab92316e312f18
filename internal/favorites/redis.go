package favorites

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "actionboard:favorites:"

// RedisService stores favorites as one Redis set per category plus an index
// set naming the categories that hold at least one favorite.
type RedisService struct {
	client *redis.Client
	prefix string
}

// NewRedisService connects to redisURL and checks the connection.
func NewRedisService(redisURL, prefix string) (*RedisService, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisServiceWithClient(client, prefix), nil
}

// NewRedisServiceWithClient wraps an existing client.
func NewRedisServiceWithClient(client *redis.Client, prefix string) *RedisService {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &RedisService{client: client, prefix: prefix}
}

func (s *RedisService) categoryKey(categoryID string) string {
	return s.prefix + "category:" + categoryID
}

func (s *RedisService) indexKey() string {
	return s.prefix + "categories"
}

func (s *RedisService) SetFavorite(ctx context.Context, actionID, categoryID string, isFavorite bool) error {
	key := s.categoryKey(categoryID)
	if isFavorite {
		_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.SAdd(ctx, key, actionID)
			p.SAdd(ctx, s.indexKey(), categoryID)
			return nil
		})
		if err != nil {
			return fmt.Errorf("set favorite %s/%s: %w", categoryID, actionID, err)
		}
		return nil
	}
	if err := s.client.SRem(ctx, key, actionID).Err(); err != nil {
		return fmt.Errorf("clear favorite %s/%s: %w", categoryID, actionID, err)
	}
	n, err := s.client.SCard(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("count favorites %s: %w", categoryID, err)
	}
	if n == 0 {
		if err := s.client.SRem(ctx, s.indexKey(), categoryID).Err(); err != nil {
			return fmt.Errorf("update favorites index: %w", err)
		}
	}
	return nil
}

func (s *RedisService) ListFavorites(ctx context.Context) (map[string][]string, error) {
	categories, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list favorite categories: %w", err)
	}
	out := make(map[string][]string, len(categories))
	for _, categoryID := range categories {
		ids, err := s.client.SMembers(ctx, s.categoryKey(categoryID)).Result()
		if err != nil {
			return nil, fmt.Errorf("list favorites %s: %w", categoryID, err)
		}
		if len(ids) > 0 {
			out[categoryID] = ids
		}
	}
	return out, nil
}

// Ping checks the connection.
func (s *RedisService) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisService) Close() error {
	return s.client.Close()
}

func (s *RedisService) String() string {
	return "redis(" + strings.TrimSuffix(s.prefix, ":") + ")"
}
