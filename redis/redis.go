package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/GetStream/unified-inbox/inbox"
)

// Redis provides caching and push events in Redis.
type Redis struct {
	cli    *redis.Client
	logger *slog.Logger
}

// Connect connects to the Redis server and pings the server to ensure the
// connection is working.
func Connect(ctx context.Context, addr string, logger *slog.Logger) (*Redis, error) {
	cli := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	if err := cli.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return New(cli, logger), nil
}

// New wraps an existing client.
func New(cli *redis.Client, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{
		cli:    cli,
		logger: logger,
	}
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.cli.Close()
}

const (
	messagePrefix = "messages"
	eventPrefix   = "events"
	maxSize       = 10
)

func threadKey(ref inbox.ConversationRef) string {
	return fmt.Sprintf("%s:%s", messagePrefix, ref)
}

// ListMessages returns the cached messages of a thread in ascending order.
func (r *Redis) ListMessages(ctx context.Context, ref inbox.ConversationRef) ([]inbox.Message, error) {
	vals, err := r.cli.ZRangeByScore(ctx, threadKey(ref), &redis.ZRangeBy{
		Min: "-inf",
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange: %w", err)
	}

	out := make([]inbox.Message, 0, len(vals))
	for _, key := range vals {
		var msg message
		if err := r.cli.HGetAll(ctx, key).Scan(&msg); err != nil {
			return nil, fmt.Errorf("hgetall: %w", err)
		}
		if msg.ID == "" {
			// Evicted between the range and the read.
			continue
		}
		out = append(out, msg.InboxMessage(ref))
	}

	return out, nil
}

// InsertMessage adds the message to Redis under messages:REF:MESSAGE_ID and
// adds the key to the thread's sorted set.
func (r *Redis) InsertMessage(ctx context.Context, msg inbox.Message) error {
	m := newMessage(msg)
	setKey := threadKey(msg.ThreadRef)
	key := fmt.Sprintf("%s:%s", setKey, m.ID)

	err := r.cli.Watch(ctx, func(tx *redis.Tx) error {
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, m)
			pipe.ZAdd(ctx, setKey, redis.Z{
				Score:  float64(m.CreatedAt),
				Member: key,
			})
			return nil
		})
		return err
	}, key)

	if err != nil {
		return fmt.Errorf("redis insert message: %w", err)
	}

	// Only the most recent messages of each thread stay cached.
	if err := r.evictOldest(ctx, setKey); err != nil {
		return fmt.Errorf("evict oldest: %w", err)
	}
	return nil
}

func (r *Redis) evictOldest(ctx context.Context, setKey string) error {
	vals, err := r.cli.ZRange(ctx, setKey, 0, int64(-maxSize-1)).Result()
	if err != nil {
		return fmt.Errorf("zrange: %w", err)
	}

	for _, key := range vals {
		_ = r.cli.ZRem(ctx, setKey, key).Err()
		_ = r.cli.Del(ctx, key).Err()
	}

	return nil
}

func eventChannel(userID string) string {
	return fmt.Sprintf("%s:%s", eventPrefix, userID)
}

// Publish sends a feed event to every subscriber of userID.
func (r *Redis) Publish(ctx context.Context, userID string, e inbox.Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := r.cli.Publish(ctx, eventChannel(userID), b).Err(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// Subscribe delivers userID's feed events to fn until ctx is done. The
// subscription is confirmed before Subscribe starts delivering. Malformed
// events are logged and skipped.
func (r *Redis) Subscribe(ctx context.Context, userID string, fn func(inbox.Event)) error {
	sub := r.cli.Subscribe(ctx, eventChannel(userID))
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var e inbox.Event
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				r.logger.Error("Could not decode event", "channel", msg.Channel, "error", err.Error())
				continue
			}
			fn(e)
		}
	}
}
