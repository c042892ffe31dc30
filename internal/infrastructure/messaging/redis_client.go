package messaging

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// GoRedisClient adapts *redis.Client to RedisClient.
type GoRedisClient struct {
	client *redis.Client

	mu     sync.Mutex
	pubsub []*redis.PubSub
}

// NewGoRedisClient wraps an existing client. Closing the adapter closes
// its subscriptions, not the client.
func NewGoRedisClient(client *redis.Client) *GoRedisClient {
	return &GoRedisClient{client: client}
}

// Publish implements RedisClient.
func (c *GoRedisClient) Publish(ctx context.Context, channel string, message interface{}) error {
	return c.client.Publish(ctx, channel, message).Err()
}

// Subscribe implements RedisClient. It waits for the subscription to be
// confirmed so no message published right after it is lost.
func (c *GoRedisClient) Subscribe(ctx context.Context, channels ...string) (<-chan RedisMessage, error) {
	ps := c.client.Subscribe(ctx, channels...)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %v: %w", channels, err)
	}

	c.mu.Lock()
	c.pubsub = append(c.pubsub, ps)
	c.mu.Unlock()

	out := make(chan RedisMessage)
	go func() {
		defer close(out)
		for msg := range ps.Channel() {
			select {
			case out <- RedisMessage{Channel: msg.Channel, Payload: msg.Payload}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close implements RedisClient.
func (c *GoRedisClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for _, ps := range c.pubsub {
		if err := ps.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.pubsub = nil
	return firstErr
}
