package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const payloadField = "payload"

// RedisBus is the durable backend: a hosted Redis Streams store with
// per-stream XADD and a blocking XREAD fan-read, matching spec.md §4.1's
// "Durable" backend contract.
type RedisBus struct {
	client *redis.Client
}

// NewRedisBus connects to url and names the connection clientName (shown in
// CLIENT LIST, mirroring redis.client_name in config.yaml).
func NewRedisBus(ctx context.Context, url, clientName string) (*RedisBus, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opts.ClientName = clientName
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisBus{client: client}, nil
}

// Publish appends event to stream via XADD and returns the server-assigned
// monotonic entry id.
func (b *RedisBus) Publish(ctx context.Context, stream string, event Event) (string, error) {
	data, err := event.Dumps()
	if err != nil {
		return "", fmt.Errorf("failed to marshal event: %w", err)
	}
	id, err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{payloadField: data},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("bus publish failed: %w", err)
	}
	return id, nil
}

// Consume blocks up to blockMS for the next entry after lastID via XREAD.
// A block-window expiry surfaces as ErrTimeout, not an operator error; a
// genuine connection failure is returned as a transient error so the
// caller can retry with the same lastID.
func (b *RedisBus) Consume(ctx context.Context, stream string, lastID string, blockMS int) (Message, error) {
	if lastID == "" {
		lastID = "0-0"
	}
	res, err := b.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, lastID},
		Count:   1,
		Block:   blockDuration(blockMS),
	}).Result()
	if errors.Is(err, redis.Nil) {
		return Message{}, ErrTimeout
	}
	if err != nil {
		return Message{}, fmt.Errorf("bus consume failed: %w", err)
	}
	if len(res) == 0 || len(res[0].Messages) == 0 {
		return Message{}, ErrTimeout
	}
	entry := res[0].Messages[0]
	raw, ok := entry.Values[payloadField]
	if !ok {
		return Message{}, fmt.Errorf("bus entry %s missing %q field", entry.ID, payloadField)
	}
	data, ok := raw.(string)
	if !ok {
		return Message{}, fmt.Errorf("bus entry %s has non-string payload", entry.ID)
	}
	event, err := FromBytes([]byte(data))
	if err != nil {
		return Message{}, fmt.Errorf("failed to decode event: %w", err)
	}
	return Message{Event: event, ID: entry.ID}, nil
}

// Close releases the underlying Redis client connection.
func (b *RedisBus) Close() error {
	return b.client.Close()
}
