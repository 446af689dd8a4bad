package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClients keeps lesson queue state and change-feed pub/sub on separate
// connections so a busy subscriber never stalls state reads.
type RedisClients struct {
	State  *redis.Client
	PubSub *redis.Client
}

func NewRedisClients(ctx context.Context, redisURL string) (*RedisClients, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	stateClient := redis.NewClient(opt)
	if err := stateClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis (state): %w", err)
	}

	pubsubOpt := *opt
	pubsubClient := redis.NewClient(&pubsubOpt)
	if err := pubsubClient.Ping(ctx).Err(); err != nil {
		stateClient.Close()
		return nil, fmt.Errorf("failed to ping Redis (pubsub): %w", err)
	}

	return &RedisClients{
		State:  stateClient,
		PubSub: pubsubClient,
	}, nil
}

func (r *RedisClients) Close() {
	r.State.Close()
	r.PubSub.Close()
}
