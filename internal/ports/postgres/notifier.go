package postgres

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// DefaultChannel is the Redis pub/sub channel game ids are announced on.
const DefaultChannel = "offbeat:games"

// Notifier announces changed document ids between processes sharing the table.
type Notifier interface {
	Notify(ctx context.Context, id string) error
	// Listen streams announced ids until ctx is done.
	Listen(ctx context.Context) (<-chan string, error)
}

// DialRedis connects to Redis and checks the connection.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return rdb, nil
}

// RedisNotifier implements Notifier with Redis pub/sub.
type RedisNotifier struct {
	rdb     *redis.Client
	channel string
}

// NewRedisNotifier publishes on channel, or DefaultChannel when empty.
func NewRedisNotifier(rdb *redis.Client, channel string) *RedisNotifier {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisNotifier{rdb: rdb, channel: channel}
}

func (n *RedisNotifier) Notify(ctx context.Context, id string) error {
	return n.rdb.Publish(ctx, n.channel, id).Err()
}

func (n *RedisNotifier) Listen(ctx context.Context) (<-chan string, error) {
	sub := n.rdb.Subscribe(ctx, n.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", n.channel, err)
	}

	out := make(chan string, 64)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- msg.Payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

var _ Notifier = (*RedisNotifier)(nil)
