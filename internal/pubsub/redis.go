package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBroker shares notices between API instances over Redis pub/sub. A
// per-plan revision counter is kept next to the channel so pollers can tell
// whether anything changed without subscribing.
type RedisBroker struct {
	client *redis.Client
	prefix string
}

// NewRedisBroker connects to redisURL and verifies the connection.
func NewRedisBroker(redisURL string) (*RedisBroker, error) {
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

	return NewRedisBrokerWithClient(client), nil
}

func NewRedisBrokerWithClient(client *redis.Client) *RedisBroker {
	return &RedisBroker{client: client, prefix: "plan:"}
}

func (b *RedisBroker) channel(planKey string) string {
	return b.prefix + "changes:" + planKey
}

func (b *RedisBroker) revisionKey(planKey string) string {
	return b.prefix + "revision:" + planKey
}

func (b *RedisBroker) Publish(ctx context.Context, n Notice) (Notice, error) {
	revision, err := b.client.Incr(ctx, b.revisionKey(n.PlanKey)).Result()
	if err != nil {
		return Notice{}, fmt.Errorf("bump plan revision: %w", err)
	}
	n.Revision = revision
	if n.At == 0 {
		n.At = time.Now().UnixMilli()
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return Notice{}, fmt.Errorf("marshal notice: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel(n.PlanKey), payload).Err(); err != nil {
		return Notice{}, fmt.Errorf("publish notice: %w", err)
	}
	return n, nil
}

// Subscribe waits for the subscription to be confirmed before returning so
// no notice published afterwards is missed.
func (b *RedisBroker) Subscribe(ctx context.Context, planKey string, fn func(Notice)) (func(), error) {
	ps := b.client.Subscribe(ctx, b.channel(planKey))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", planKey, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range ps.Channel() {
			var n Notice
			if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
				log.Printf("pubsub: drop malformed notice on %s: %v", msg.Channel, err)
				continue
			}
			fn(n)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			_ = ps.Close()
			<-done
		})
	}, nil
}

// Revision returns the number of notices published for planKey.
func (b *RedisBroker) Revision(ctx context.Context, planKey string) (int64, error) {
	n, err := b.client.Get(ctx, b.revisionKey(planKey)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read plan revision: %w", err)
	}
	return n, nil
}

func (b *RedisBroker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}
