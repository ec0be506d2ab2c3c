package service

import (
	"context"
	"encoding/json"

	"ai-refinery/internal/pkg/logger"
	"ai-refinery/pkg/refine"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

const publisherModule = "SnapshotPublisher"

// IPublisherService forwards controller snapshots onto the in-process bus.
type IPublisherService interface {
	refine.Notifier
}

type publisherService struct {
	topicName string
	publisher message.Publisher
	logger    logger.ILogger
}

func NewPublisherService(topicName string, publisher message.Publisher, log logger.ILogger) IPublisherService {
	return &publisherService{
		topicName: topicName,
		publisher: publisher,
		logger:    log,
	}
}

func (ps *publisherService) Notify(ctx context.Context, snap refine.Snapshot) {
	payload, err := json.Marshal(snap)
	if err != nil {
		ps.logger.Error(publisherModule, "Failed to encode snapshot", map[string]interface{}{"session_id": snap.ID, "error": err.Error()})
		return
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set("session_id", snap.ID)
	msg.Metadata.Set("connection_state", snap.ConnectionState.String())

	if err := ps.publisher.Publish(ps.topicName, msg); err != nil {
		ps.logger.Error(publisherModule, "Failed to publish snapshot", map[string]interface{}{"session_id": snap.ID, "error": err.Error()})
	}
}
