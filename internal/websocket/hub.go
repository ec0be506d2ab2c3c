package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"ai-refinery/internal/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const clusterChannel = "pipeline_events"

// Hub fans the envelopes of running pipelines out to watchers. With Redis
// configured, envelopes published on one instance reach watchers connected
// to any instance.
type Hub struct {
	// Watchers per pipeline run
	watchers map[uuid.UUID][]*Client

	register   chan *Client
	unregister chan *Client

	mu sync.RWMutex

	rdb *redis.Client

	// instance tags our own Redis messages so they are not delivered twice
	instance string

	logger logger.ILogger
}

func NewHub(rdb *redis.Client, log logger.ILogger) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		watchers:   make(map[uuid.UUID][]*Client),
		rdb:        rdb,
		instance:   uuid.NewString(),
		logger:     log,
	}
}

func (h *Hub) Run(ctx context.Context) {
	if h.rdb != nil {
		go h.subscribeToRedis(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.register:
			h.mu.Lock()
			h.watchers[client.PipelineID] = append(h.watchers[client.PipelineID], client)
			h.mu.Unlock()
			h.logger.Info("Hub", "Watcher registered", map[string]interface{}{"pipeline_id": client.PipelineID})

		case client := <-h.unregister:
			h.mu.Lock()
			h.removeLocked(client)
			h.mu.Unlock()
		}
	}
}

func (h *Hub) removeLocked(client *Client) {
	clients, ok := h.watchers[client.PipelineID]
	if !ok {
		return
	}
	for i, c := range clients {
		if c == client {
			h.watchers[client.PipelineID] = append(clients[:i], clients[i+1:]...)
			close(client.Send)
			break
		}
	}
	if len(h.watchers[client.PipelineID]) == 0 {
		delete(h.watchers, client.PipelineID)
		h.logger.Info("Hub", "Pipeline has no watchers left", map[string]interface{}{"pipeline_id": client.PipelineID})
	}
}

// Publish mirrors one encoded envelope of a pipeline to its watchers.
func (h *Hub) Publish(ctx context.Context, pipelineID uuid.UUID, envelope []byte) {
	h.deliver(pipelineID, envelope)

	if h.rdb != nil {
		payload, _ := json.Marshal(clusterMessage{
			Origin:     h.instance,
			PipelineID: pipelineID.String(),
			Message:    envelope,
		})
		if err := h.rdb.Publish(ctx, clusterChannel, payload).Err(); err != nil {
			h.logger.Warn("Hub", "Redis publish failed", map[string]interface{}{"error": err.Error()})
		}
	}
}

// Watchers returns the number of local watchers of a pipeline.
func (h *Hub) Watchers(pipelineID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.watchers[pipelineID])
}

func (h *Hub) deliver(pipelineID uuid.UUID, data []byte) {
	var slow []*Client

	h.mu.RLock()
	for _, client := range h.watchers[pipelineID] {
		select {
		case client.Send <- data:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range slow {
		h.logger.Warn("Hub", "Watcher send buffer full, dropping watcher", map[string]interface{}{"pipeline_id": pipelineID})
		h.mu.Lock()
		h.removeLocked(client)
		h.mu.Unlock()
	}
}

type clusterMessage struct {
	Origin     string          `json:"origin"`
	PipelineID string          `json:"pipeline_id"`
	Message    json.RawMessage `json:"message"`
}

func (h *Hub) subscribeToRedis(ctx context.Context) {
	pubsub := h.rdb.Subscribe(ctx, clusterChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		var msg *redis.Message
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			msg = m
		}

		var payload clusterMessage
		if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
			h.logger.Warn("Hub", "Redis message parse error", map[string]interface{}{"error": err.Error()})
			continue
		}
		if payload.Origin == h.instance {
			continue
		}
		id, err := uuid.Parse(payload.PipelineID)
		if err != nil {
			continue
		}
		h.deliver(id, payload.Message)
	}
}
