package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// ChangeChannel is the Redis pub/sub channel carrying stock change events.
const ChangeChannel = "inventory.stock_changed"

// Publisher announces committed ledger changes.
type Publisher interface {
	Publish(ctx context.Context, evt ChangeEvent) error
}

// Subscriber delivers ledger changes until ctx is cancelled, then closes the channel.
// Bursts may be coalesced: a receiver only learns that something changed.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan ChangeEvent, error)
}

// LocalNotifier fans change events out to in-process subscribers.
type LocalNotifier struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan ChangeEvent
}

// NewLocalNotifier constructs an in-process notifier.
func NewLocalNotifier() *LocalNotifier {
	return &LocalNotifier{subs: make(map[int]chan ChangeEvent)}
}

// Publish never blocks; a subscriber with a pending event keeps that one.
func (n *LocalNotifier) Publish(_ context.Context, evt ChangeEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs {
		offer(ch, evt)
	}
	return nil
}

// Subscribe registers a new listener.
func (n *LocalNotifier) Subscribe(ctx context.Context) (<-chan ChangeEvent, error) {
	ch := make(chan ChangeEvent, 1)
	n.mu.Lock()
	n.nextID++
	id := n.nextID
	n.subs[id] = ch
	n.mu.Unlock()
	go func() {
		<-ctx.Done()
		n.mu.Lock()
		delete(n.subs, id)
		close(ch)
		n.mu.Unlock()
	}()
	return ch, nil
}

// RedisNotifier distributes change events across processes through Redis pub/sub.
type RedisNotifier struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

// NewRedisNotifier builds a notifier bound to ChangeChannel.
func NewRedisNotifier(client *redis.Client, logger *slog.Logger) *RedisNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisNotifier{client: client, channel: ChangeChannel, logger: logger}
}

// Publish sends the event to every process listening on the channel.
func (n *RedisNotifier) Publish(ctx context.Context, evt ChangeEvent) error {
	if n == nil || n.client == nil {
		return errors.New("inventory: redis notifier not configured")
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		return fmt.Errorf("inventory: publish change: %w", err)
	}
	return nil
}

// Subscribe waits for the subscription to be confirmed before returning.
func (n *RedisNotifier) Subscribe(ctx context.Context) (<-chan ChangeEvent, error) {
	if n == nil || n.client == nil {
		return nil, errors.New("inventory: redis notifier not configured")
	}
	pubsub := n.client.Subscribe(ctx, n.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("inventory: subscribe %s: %w", n.channel, err)
	}
	out := make(chan ChangeEvent, 1)
	go func() {
		defer close(out)
		defer func() { _ = pubsub.Close() }()
		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var evt ChangeEvent
				if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
					n.logger.Warn("decode stock change", slog.Any("error", err))
					evt = ChangeEvent{Reason: "unknown"}
				}
				offer(out, evt)
			}
		}
	}()
	return out, nil
}

func offer(ch chan ChangeEvent, evt ChangeEvent) {
	select {
	case ch <- evt:
	default:
	}
}
