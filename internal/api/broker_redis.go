package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"churchtransport/pkg/logger"
)

// RedisBroker implements EventBroker over Redis Pub/Sub so every API instance sees every
// transport event.
type RedisBroker struct {
	rdb *redis.Client
	log logger.Logger

	mu  sync.Mutex
	pss map[chan SSEEvent]*redis.PubSub
}

func NewRedisBroker(url string, log logger.Logger) (*RedisBroker, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return &RedisBroker{rdb: rdb, log: log, pss: map[chan SSEEvent]*redis.PubSub{}}, nil
}

func (b *RedisBroker) Subscribe(eventID string) chan SSEEvent {
	ch := make(chan SSEEvent, 16)
	ctx := context.Background()
	ps := b.rdb.Subscribe(ctx, chanName(eventID))
	// wait for the subscription to be confirmed
	if _, err := ps.Receive(ctx); err != nil {
		b.log.Warn("redis subscribe failed", "event_id", eventID, "error", err)
	}
	b.mu.Lock()
	b.pss[ch] = ps
	b.mu.Unlock()
	msgs := ps.Channel()
	go func() {
		defer close(ch)
		for msg := range msgs {
			var evt SSEEvent
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				continue
			}
			select {
			case ch <- evt:
			default:
			}
		}
	}()
	return ch
}

// Unsubscribe closes the Redis subscription; ch is closed once its reader goroutine exits.
func (b *RedisBroker) Unsubscribe(eventID string, ch chan SSEEvent) {
	b.mu.Lock()
	ps := b.pss[ch]
	delete(b.pss, ch)
	b.mu.Unlock()
	if ps != nil {
		_ = ps.Close()
	}
}

func (b *RedisBroker) Publish(eventID string, evt SSEEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	if err := b.rdb.Publish(ctx, chanName(eventID), data).Err(); err != nil {
		b.log.Warn("redis publish failed", "event_id", eventID, "error", err)
	}
}

func (b *RedisBroker) Close() error { return b.rdb.Close() }

func chanName(eventID string) string { return "event:" + eventID }
