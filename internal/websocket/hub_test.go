package websocket

import (
	"context"
	"testing"
	"time"

	"ai-refinery/internal/pkg/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := NewHub(nil, logger.NewNopLogger())
	go hub.Run(ctx)
	return hub
}

func TestHubDeliversToPipelineWatchers(t *testing.T) {
	hub := startHub(t)
	id, other := uuid.New(), uuid.New()

	watcher := &Client{Hub: hub, PipelineID: id, Send: make(chan []byte, 4)}
	bystander := &Client{Hub: hub, PipelineID: other, Send: make(chan []byte, 4)}
	hub.register <- watcher
	hub.register <- bystander
	require.Eventually(t, func() bool { return hub.Watchers(id) == 1 && hub.Watchers(other) == 1 }, time.Second, 5*time.Millisecond)

	hub.Publish(context.Background(), id, []byte(`{"type":"status","content":"Generating initial content..."}`))

	select {
	case msg := <-watcher.Send:
		assert.JSONEq(t, `{"type":"status","content":"Generating initial content..."}`, string(msg))
	case <-time.After(time.Second):
		t.Fatal("watcher got nothing")
	}
	assert.Empty(t, bystander.Send)

	hub.unregister <- watcher
	require.Eventually(t, func() bool { return hub.Watchers(id) == 0 }, time.Second, 5*time.Millisecond)
	_, open := <-watcher.Send
	assert.False(t, open)
}

func TestHubDropsSlowWatcher(t *testing.T) {
	hub := startHub(t)
	id := uuid.New()

	slow := &Client{Hub: hub, PipelineID: id, Send: make(chan []byte)}
	hub.register <- slow
	require.Eventually(t, func() bool { return hub.Watchers(id) == 1 }, time.Second, 5*time.Millisecond)

	hub.Publish(context.Background(), id, []byte(`{"type":"done","content":"completed"}`))

	assert.Equal(t, 0, hub.Watchers(id))
	_, open := <-slow.Send
	assert.False(t, open)

	// a late unregister for a dropped watcher is a no-op
	hub.unregister <- slow
}
