package service

import (
	"context"
	"sync"
	"time"

	"ai-refinery/internal/pkg/logger"
	"ai-refinery/pkg/events"
	"ai-refinery/pkg/refine"

	"github.com/patrickmn/go-cache"
)

const (
	lifecycleModule = "LifecycleNotifier"
	// terminalTTL is how long a finished session is remembered, so repeated
	// terminal snapshots do not restart it.
	terminalTTL = 10 * time.Minute
)

// EventPublisher is satisfied by the NATS publisher.
type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

// LifecycleNotifier turns the snapshot stream into coarse lifecycle events:
// started, stage advanced, completed, failed and aborted. One notifier may
// observe several controllers.
type LifecycleNotifier struct {
	publisher EventPublisher
	logger    logger.ILogger
	timeout   time.Duration

	mu   sync.Mutex
	last *cache.Cache
}

func NewLifecycleNotifier(publisher EventPublisher, log logger.ILogger) *LifecycleNotifier {
	return &LifecycleNotifier{
		publisher: publisher,
		logger:    log,
		timeout:   2 * time.Second,
		last:      cache.New(terminalTTL, 2*terminalTTL),
	}
}

func (n *LifecycleNotifier) Notify(ctx context.Context, snap refine.Snapshot) {
	if snap.ID == "" {
		return
	}

	n.mu.Lock()
	var prev refine.Snapshot
	cached, seen := n.last.Get(snap.ID)
	if seen {
		prev = cached.(refine.Snapshot)
	}
	if seen && prev.Terminal() {
		n.mu.Unlock()
		return
	}
	if snap.Terminal() {
		n.last.Set(snap.ID, snap, terminalTTL)
	} else {
		n.last.Set(snap.ID, snap, cache.NoExpiration)
	}
	n.mu.Unlock()

	for _, ev := range lifecycleEvents(prev, seen, snap) {
		pubCtx, cancel := context.WithTimeout(ctx, n.timeout)
		err := n.publisher.Publish(pubCtx, ev)
		cancel()
		if err != nil {
			n.logger.Warn(lifecycleModule, "Failed to publish lifecycle event", map[string]interface{}{
				"session_id": snap.ID,
				"type":       ev.EventType(),
				"error":      err.Error(),
			})
		}
	}
}

func lifecycleEvents(prev refine.Snapshot, seen bool, snap refine.Snapshot) []events.Event {
	var out []events.Event
	base := func() map[string]interface{} {
		return map[string]interface{}{
			"session_id": snap.ID,
			"stage":      snap.Stage.String(),
		}
	}

	if !seen {
		data := base()
		data["prompt"] = snap.Prompt
		out = append(out, events.NewEvent(events.RefineSessionStarted, data))
	}
	if seen && snap.Stage > prev.Stage {
		data := base()
		data["from"] = prev.Stage.String()
		out = append(out, events.NewEvent(events.RefineStageAdvanced, data))
	}

	switch {
	case snap.Completed:
		data := base()
		data["final_length"] = len(snap.Final)
		out = append(out, events.NewEvent(events.RefineSessionCompleted, data))
	case snap.ConnectionState == refine.ConnFailed:
		data := base()
		data["error"] = snap.TerminalError
		out = append(out, events.NewEvent(events.RefineSessionFailed, data))
	case snap.ConnectionState == refine.ConnClosed:
		out = append(out, events.NewEvent(events.RefineSessionAborted, base()))
	}
	return out
}
