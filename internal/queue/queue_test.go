package queue

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classmaster/internal/logging"
)

type statusChanged struct {
	TaskID string `json:"task_id"`
	Points int    `json:"points"`
}

func TestMessageRoundTrip(t *testing.T) {
	msg, err := NewMessage("task.status_changed", statusChanged{TaskID: "t-1", Points: 155})
	require.NoError(t, err)
	assert.Equal(t, "task.status_changed", msg.Type)

	var got statusChanged
	require.NoError(t, msg.Decode(&got))
	assert.Equal(t, statusChanged{TaskID: "t-1", Points: 155}, got)

	bad := Message{Type: "x", Body: []byte("{")}
	assert.Error(t, bad.Decode(&got))
}

func TestInMemoryDeliversInOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(4)
	for _, id := range []string{"a", "b", "c"} {
		msg, err := NewMessage("task.status_changed", statusChanged{TaskID: id})
		require.NoError(t, err)
		require.NoError(t, q.Publish(ctx, msg))
	}

	out, err := q.Consume(ctx)
	require.NoError(t, err)
	for _, want := range []string{"a", "b", "c"} {
		select {
		case msg := <-out:
			var got statusChanged
			require.NoError(t, msg.Decode(&got))
			assert.Equal(t, want, got.TaskID)
		case <-time.After(time.Second):
			t.Fatalf("message %s not delivered", want)
		}
	}
}

func TestInMemoryPublishRespectsContext(t *testing.T) {
	q := NewInMemory(1)
	require.NoError(t, q.Publish(context.Background(), Message{Type: "a"}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, q.Publish(ctx, Message{Type: "b"}), context.Canceled)
}

func TestInMemoryConsumeClosesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	out, err := NewInMemory(1).Consume(ctx)
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-out:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("consumer channel not closed")
	}
}

func TestRedisQueue(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	key := "classmaster:test:" + time.Now().Format("150405.000000")
	defer client.Del(context.Background(), key)

	q := NewRedisQueue(client, key, logging.Discard())
	msg, err := NewMessage("task.status_changed", statusChanged{TaskID: "t-9"})
	require.NoError(t, err)
	require.NoError(t, q.Publish(ctx, msg))

	out, err := q.Consume(ctx)
	require.NoError(t, err)
	got := <-out
	assert.Equal(t, "task.status_changed", got.Type)
	assert.JSONEq(t, `{"task_id":"t-9","points":0}`, string(got.Body))
}
