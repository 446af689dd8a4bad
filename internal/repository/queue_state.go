package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"lms-backend/internal/quizqueue"
)

// QueueStateRepo keeps in-progress lesson queues in Redis. Every save
// refreshes the TTL, so only abandoned sessions expire.
type QueueStateRepo struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewQueueStateRepo(rdb *redis.Client, ttl time.Duration) *QueueStateRepo {
	return &QueueStateRepo{rdb: rdb, ttl: ttl}
}

func queueKey(sessionID uuid.UUID) string {
	return "lesson_queue:" + sessionID.String()
}

func (r *QueueStateRepo) SaveQueue(ctx context.Context, q *quizqueue.Queue) error {
	data, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("marshal queue: %w", err)
	}
	return r.rdb.Set(ctx, queueKey(q.SessionID), data, r.ttl).Err()
}

func (r *QueueStateRepo) LoadQueue(ctx context.Context, sessionID uuid.UUID) (*quizqueue.Queue, error) {
	data, err := r.rdb.Get(ctx, queueKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, quizqueue.ErrStateNotFound
	}
	if err != nil {
		return nil, err
	}

	var q quizqueue.Queue
	if err := json.Unmarshal(data, &q); err != nil {
		return nil, fmt.Errorf("unmarshal queue: %w", err)
	}
	return &q, nil
}

func (r *QueueStateRepo) DeleteQueue(ctx context.Context, sessionID uuid.UUID) error {
	return r.rdb.Del(ctx, queueKey(sessionID)).Err()
}
