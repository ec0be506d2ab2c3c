package service

import (
	"context"
	"encoding/json"

	"ai-refinery/internal/pkg/logger"
	"ai-refinery/pkg/refine"

	"github.com/ThreeDotsLabs/watermill/message"
)

const consumerModule = "SnapshotConsumer"

// SnapshotHandler renders or otherwise reacts to one session snapshot.
type SnapshotHandler func(ctx context.Context, snap refine.Snapshot) error

type IConsumerService interface {
	Consume(ctx context.Context) error
}

type consumerService struct {
	subscriber message.Subscriber
	topicName  string
	handler    SnapshotHandler
	logger     logger.ILogger
}

func NewConsumerService(
	subscriber message.Subscriber,
	topicName string,
	handler SnapshotHandler,
	log logger.ILogger,
) IConsumerService {
	return &consumerService{
		subscriber: subscriber,
		topicName:  topicName,
		handler:    handler,
		logger:     log,
	}
}

// Consume subscribes and hands snapshots to the handler in a background
// goroutine until ctx is done.
func (cs *consumerService) Consume(ctx context.Context) error {
	messages, err := cs.subscriber.Subscribe(ctx, cs.topicName)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			cs.processMessage(ctx, msg)
		}
	}()

	return nil
}

func (cs *consumerService) processMessage(ctx context.Context, msg *message.Message) {
	var snap refine.Snapshot
	if err := json.Unmarshal(msg.Payload, &snap); err != nil {
		cs.logger.Error(consumerModule, "Failed to unmarshal snapshot", map[string]interface{}{"error": err.Error()})
		msg.Ack() // Ack invalid messages to prevent infinite retry
		return
	}

	// A snapshot is superseded by the next one, so a failed render is
	// logged and acked rather than redelivered.
	if err := cs.handler(ctx, snap); err != nil {
		cs.logger.Warn(consumerModule, "Snapshot handler failed", map[string]interface{}{"session_id": snap.ID, "error": err.Error()})
	}
	msg.Ack()
}
