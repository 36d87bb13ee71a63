package changefeed

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const DefaultRedisChannel = "chamba:changefeed"

// RedisFeed fans events out across instances over Redis Pub/Sub. Every
// instance, the publisher included, receives events through its subscription.
type RedisFeed struct {
	client   *redis.Client
	channel  string
	registry *registry

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedisClient parses a redis:// URL and verifies the server answers.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	if redisURL == "" {
		return nil, errors.New("redis: url is empty")
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return client, nil
}

func NewRedisFeed(client *redis.Client, channel string) *RedisFeed {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	ctx, cancel := context.WithCancel(context.Background())
	feed := &RedisFeed{
		client:   client,
		channel:  channel,
		registry: newRegistry(),
		cancel:   cancel,
	}

	feed.wg.Add(1)
	go feed.listen(ctx)
	return feed
}

func (f *RedisFeed) Publish(ctx context.Context, event Event) error {
	payload, err := encodeEvent(event)
	if err != nil {
		return err
	}
	if err := f.client.Publish(ctx, f.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (f *RedisFeed) Subscribe(entity Entity, handler Handler) Unsubscribe {
	return f.registry.subscribe(entity, handler)
}

// Close stops the subscriber loop and closes the client, which the feed owns.
func (f *RedisFeed) Close() error {
	f.cancel()
	f.wg.Wait()
	return f.client.Close()
}

func (f *RedisFeed) listen(ctx context.Context) {
	defer f.wg.Done()

	retry := newBackoff()
	connected := false
	for ctx.Err() == nil {
		err := f.receive(ctx, func() {
			if connected {
				f.registry.dispatch(ResyncEvent())
			}
			connected = true
			retry.reset()
		})
		if ctx.Err() != nil {
			return
		}
		log.Printf("changefeed redis: subscription lost: %v", err)
		if !retry.wait(ctx) {
			return
		}
	}
}

// receive subscribes and pumps messages until the connection fails.
// onSubscribed runs once the subscription is confirmed.
func (f *RedisFeed) receive(ctx context.Context, onSubscribed func()) error {
	pubsub := f.client.Subscribe(ctx, f.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	onSubscribed()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			return err
		}
		event, err := decodeEvent([]byte(msg.Payload))
		if err != nil {
			log.Printf("changefeed redis: %v", err)
			continue
		}
		f.registry.dispatch(event)
	}
}
