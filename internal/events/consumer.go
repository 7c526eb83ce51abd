// Package events consumes task events from the queue and turns them into audit log lines
// and metrics.
package events

import (
	"context"

	"github.com/labstack/gommon/log"

	"classmaster/internal/metrics"
	"classmaster/internal/queue"
	"classmaster/internal/task"
)

type Consumer struct {
	metrics *metrics.Metrics
	log     *log.Logger
}

func NewConsumer(m *metrics.Metrics, logger *log.Logger) *Consumer {
	return &Consumer{metrics: m, log: logger}
}

// Run handles messages until ctx ends or the queue closes its channel.
func (c *Consumer) Run(ctx context.Context, q queue.Queue) error {
	msgs, err := q.Consume(ctx)
	if err != nil {
		return err
	}
	c.log.Info("task event consumer started")
	for msg := range msgs {
		if err := c.Handle(msg); err != nil {
			c.log.Warnf("event %s: %v", msg.Type, err)
		}
	}
	c.log.Info("task event consumer stopped")
	return nil
}

// Handle processes one message. Unknown types are counted and ignored.
func (c *Consumer) Handle(msg queue.Message) error {
	c.metrics.EventConsumed(msg.Type)
	switch msg.Type {
	case task.EventStatusChanged:
		var evt task.StatusChanged
		if err := msg.Decode(&evt); err != nil {
			return err
		}
		c.log.Infof("audit task=%s owner=%s category=%s %s->%s scored=%t points=%d check_task=%q at=%s",
			evt.TaskID, evt.OwnerID, evt.Category, evt.From, evt.To, evt.Scored, evt.Points,
			evt.CheckTaskID, evt.At.Format("2006-01-02T15:04:05Z07:00"))
	default:
		c.log.Debugf("ignoring event type %q", msg.Type)
	}
	return nil
}
