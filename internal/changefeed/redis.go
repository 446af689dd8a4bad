package changefeed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"lms-backend/internal/models"
)

const channelPrefix = "changes:"

// RedisFeed fans events out over Redis pub/sub, one channel per table, so
// every API replica sees every write.
type RedisFeed struct {
	rdb *redis.Client
	log *zap.Logger
}

func NewRedisFeed(rdb *redis.Client, log *zap.Logger) *RedisFeed {
	return &RedisFeed{rdb: rdb, log: log}
}

func (f *RedisFeed) Publish(ctx context.Context, ev models.ChangeEvent) error {
	data, err := json.Marshal(stamp(ev))
	if err != nil {
		return fmt.Errorf("marshal change event: %w", err)
	}
	return f.rdb.Publish(ctx, channelPrefix+ev.Table, data).Err()
}

func (f *RedisFeed) Subscribe(ctx context.Context, table string) (<-chan models.ChangeEvent, error) {
	pubsub := f.rdb.Subscribe(ctx, channelPrefix+table)
	// Wait for the subscription to be confirmed so no event published after
	// Subscribe returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", table, err)
	}

	out := make(chan models.ChangeEvent, 16)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev models.ChangeEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					f.log.Warn("dropping malformed change event", zap.String("channel", msg.Channel), zap.Error(err))
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
