package messaging

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// goRedisClient adapts *redis.Client to RedisClient.
type goRedisClient struct {
	client *redis.Client
	pubsub *redis.PubSub
}

// NewGoRedisClient wraps a go-redis client for use by RedisEventBus. Closing
// it closes the subscription, not the shared client.
func NewGoRedisClient(client *redis.Client) RedisClient {
	return &goRedisClient{client: client}
}

func (c *goRedisClient) Publish(ctx context.Context, channel string, message interface{}) error {
	return c.client.Publish(ctx, channel, message).Err()
}

func (c *goRedisClient) Subscribe(ctx context.Context, channels ...string) (<-chan RedisMessage, error) {
	c.pubsub = c.client.Subscribe(ctx, channels...)
	// Wait for the subscription confirmation so publish-after-subscribe
	// is never lost.
	if _, err := c.pubsub.Receive(ctx); err != nil {
		_ = c.pubsub.Close()
		return nil, err
	}

	out := make(chan RedisMessage)
	go func() {
		defer close(out)
		for msg := range c.pubsub.Channel() {
			select {
			case out <- RedisMessage{Channel: msg.Channel, Payload: msg.Payload}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (c *goRedisClient) Close() error {
	if c.pubsub == nil {
		return nil
	}
	return c.pubsub.Close()
}
