// Package events carries state-change notifications from the core to the
// presentation layer. The core publishes; it has no dependency on how
// subscribers render the events.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
)

// Topic is the single in-process topic all platform events flow through.
const Topic = "lumenlock.events"

// Type identifies an event kind.
type Type string

const (
	TypeConnected    Type = "connected"
	TypeDisconnected Type = "disconnected"
)

// ErrorType builds an "error:<kind>" event type.
func ErrorType(kind string) Type { return Type("error:" + kind) }

// TransactionType builds a "transaction:<status>" event type.
func TransactionType(status string) Type { return Type("transaction:" + status) }

// EscrowType builds an "escrow:<status>" event type.
func EscrowType(status string) Type { return Type("escrow:" + status) }

// Event is a state-change notification.
type Event struct {
	Type Type              `json:"type"`
	At   time.Time         `json:"at"`
	Data map[string]string `json:"data,omitempty"`
}

// Bus is an in-process publish/subscribe event bus.
type Bus struct {
	pubsub *gochannel.GoChannel
	logger *slog.Logger
}

// NewBus creates an event bus.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 256},
			watermill.NewSlogLogger(logger),
		),
		logger: logger,
	}
}

// Publish sends an event to all subscribers. Publishing never blocks the
// caller's operation: failures are logged, not returned up the call path.
func (b *Bus) Publish(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now()
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		b.logger.Error("marshal event", "type", evt.Type, "error", err)
		return
	}

	msg := message.NewMessage(uuid.NewString(), payload)
	if err := b.pubsub.Publish(Topic, msg); err != nil {
		b.logger.Error("publish event", "type", evt.Type, "error", err)
	}
}

// Subscribe returns a channel of decoded events. The channel closes when
// ctx is cancelled or the bus is closed.
func (b *Bus) Subscribe(ctx context.Context) (<-chan Event, error) {
	msgs, err := b.pubsub.Subscribe(ctx, Topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	out := make(chan Event, 64)
	go func() {
		defer close(out)
		for msg := range msgs {
			var evt Event
			if err := json.Unmarshal(msg.Payload, &evt); err != nil {
				b.logger.Warn("drop undecodable event", "error", err)
				msg.Ack()
				continue
			}
			msg.Ack()
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}
