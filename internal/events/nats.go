package events

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// DefaultSubjectPrefix is prepended to event names to form NATS subjects
const DefaultSubjectPrefix = "scheduler.events"

// NATSNotifier publishes events as JSON on "<prefix>.<event name>"
type NATSNotifier struct {
	nc     *nats.Conn
	prefix string
	logger *zap.Logger
}

// NewNATSNotifier creates a notifier publishing on nc
func NewNATSNotifier(nc *nats.Conn, prefix string, logger *zap.Logger) *NATSNotifier {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSNotifier{
		nc:     nc,
		prefix: prefix,
		logger: logger.Named("events"),
	}
}

// Subject returns the subject an event is published on
func (n *NATSNotifier) Subject(name string) string {
	return n.prefix + "." + name
}

// Notify implements Notifier
func (n *NATSNotifier) Notify(ctx context.Context, name string, payload any) {
	event, err := newEvent(name, payload)
	if err != nil {
		n.logger.Error("Failed to marshal event", zap.String("event", name), zap.Error(err))
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		n.logger.Error("Failed to marshal event", zap.String("event", name), zap.Error(err))
		return
	}

	if err := n.nc.Publish(n.Subject(name), data); err != nil {
		n.logger.Error("Failed to publish event",
			zap.String("subject", n.Subject(name)),
			zap.Error(err))
		return
	}

	n.logger.Debug("Event published", zap.String("subject", n.Subject(name)))
}

// Subscribe delivers every event published under the notifier's prefix to
// handler until ctx is done.
func (n *NATSNotifier) Subscribe(ctx context.Context, handler func(Event)) error {
	sub, err := n.nc.Subscribe(n.prefix+".>", func(msg *nats.Msg) {
		var event Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			n.logger.Error("Failed to unmarshal event", zap.Error(err))
			return
		}
		handler(event)
	})
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		sub.Unsubscribe()
	}()

	return nil
}
