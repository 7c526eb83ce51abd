package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/labstack/gommon/log"
	pkgerrors "github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Message is one event on the queue. Body holds the JSON payload.
type Message struct {
	Type string          `json:"type"`
	Body json.RawMessage `json:"body"`
}

// NewMessage encodes v as the body of a message of the given type.
func NewMessage(typ string, v any) (Message, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return Message{}, pkgerrors.Wrapf(err, "queue: encode %s", typ)
	}
	return Message{Type: typ, Body: body}, nil
}

// Decode unmarshals the body into v.
func (m Message) Decode(v any) error {
	return pkgerrors.Wrapf(json.Unmarshal(m.Body, v), "queue: decode %s", m.Type)
}

// Queue is the abstraction over different backends.
type Queue interface {
	Publish(ctx context.Context, msg Message) error
	Consume(ctx context.Context) (<-chan Message, error)
}

// InMemory is a channel-backed queue for dev and tests.
type InMemory struct {
	ch chan Message
}

// NewInMemory creates a bounded in-memory queue.
func NewInMemory(size int) *InMemory {
	return &InMemory{ch: make(chan Message, size)}
}

func (q *InMemory) Publish(ctx context.Context, msg Message) error {
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume forwards messages until ctx ends.
func (q *InMemory) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			select {
			case msg := <-q.ch:
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// RedisQueue is a Redis list used with LPUSH/BRPOP, so delivery is FIFO.
type RedisQueue struct {
	client *redis.Client
	key    string
	wait   time.Duration
	log    *log.Logger
}

func NewRedisQueue(client *redis.Client, key string, logger *log.Logger) *RedisQueue {
	if key == "" {
		key = "classmaster:task-events"
	}
	return &RedisQueue{client: client, key: key, wait: 5 * time.Second, log: logger}
}

func (q *RedisQueue) Publish(ctx context.Context, msg Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return pkgerrors.Wrap(err, "queue: encode message")
	}
	return pkgerrors.Wrap(q.client.LPush(ctx, q.key, raw).Err(), "queue: lpush")
}

// Consume streams messages using BRPOP. Malformed entries are logged and dropped.
func (q *RedisQueue) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			res, err := q.client.BRPop(ctx, q.wait, q.key).Result()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if !errors.Is(err, redis.Nil) {
					q.log.Warnf("brpop %s failed: %v", q.key, err)
					select {
					case <-time.After(time.Second):
					case <-ctx.Done():
						return
					}
				}
				continue
			}
			if len(res) != 2 {
				continue
			}
			var msg Message
			if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
				q.log.Warnf("dropping malformed message on %s: %v", q.key, err)
				continue
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
