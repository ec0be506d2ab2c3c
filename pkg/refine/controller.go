package refine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

const logModule = "RefineController"

const (
	ReasonUnexpectedClose = "connection closed unexpectedly"
	ReasonMalformed       = "error processing response"
	ReasonStageTimeout    = "stage timed out"
)

// ErrEmptyPrompt is returned by Start when the prompt is blank.
var ErrEmptyPrompt = errors.New("prompt is required")

type Config struct {
	Prompts Prompts
	// StageTimeout fails a stage that has not completed in time. Zero
	// disables it.
	StageTimeout time.Duration
	Logger       Logger
	Notifiers    []Notifier
}

// Controller drives one refinement session at a time over a single
// connection. Run several controllers for concurrent sessions.
type Controller struct {
	dialer       Dialer
	prompts      Prompts
	stageTimeout time.Duration
	logger       Logger
	notifiers    []Notifier

	mu     sync.Mutex
	sess   *session
	conn   Conn
	gen    uint64
	cancel context.CancelFunc

	// notifyMu keeps observer deliveries in state order.
	notifyMu sync.Mutex
}

func NewController(dialer Dialer, cfg Config) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	return &Controller{
		dialer:       dialer,
		prompts:      cfg.Prompts.withDefaults(),
		stageTimeout: cfg.StageTimeout,
		logger:       logger,
		notifiers:    cfg.Notifiers,
	}
}

// Start discards any previous session, dials the producer and sends the
// initial request. Connection failures are reported through the snapshot;
// the only error returned is ErrEmptyPrompt.
func (c *Controller) Start(ctx context.Context, prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return ErrEmptyPrompt
	}

	c.mu.Lock()
	old := c.teardownLocked()
	c.gen++
	gen := c.gen
	sess := newSession(prompt)
	sess.conn = ConnConnecting
	c.sess = sess
	sessCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}
	c.logger.Info(logModule, "Starting session", map[string]interface{}{"session_id": sess.id.String()})
	c.publish(sessCtx)

	// Abort cancels sessCtx, which also ends a dial still in progress
	dialCtx, stopDial := context.WithCancel(ctx)
	unlink := context.AfterFunc(sessCtx, stopDial)
	conn, err := c.dialer.Dial(dialCtx)
	unlink()
	stopDial()

	c.mu.Lock()
	if gen != c.gen {
		// aborted or restarted while dialing
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return nil
	}
	if err != nil {
		sess.fail(fmt.Sprintf("failed to connect: %v", err))
		sess.finish()
		cancel()
		c.mu.Unlock()
		c.logger.Error(logModule, "Connection failed", map[string]interface{}{"session_id": sess.id.String(), "error": err.Error()})
		c.publish(sessCtx)
		return nil
	}
	sess.conn = ConnOpen
	if pi, ok := conn.(PipelineIdentifier); ok {
		sess.pipelineID = pi.PipelineID()
	}
	c.conn = conn
	c.mu.Unlock()
	c.publish(sessCtx)

	if err := conn.Send(sessCtx, StartRequest{Prompt: prompt}); err != nil {
		c.failAndClose(sessCtx, gen, fmt.Sprintf("failed to send request: %v", err))
		return nil
	}

	go c.run(sessCtx, gen, conn)
	return nil
}

// Abort stops the current session immediately. Envelopes still in flight
// are dropped.
func (c *Controller) Abort() {
	c.mu.Lock()
	if c.sess == nil {
		c.mu.Unlock()
		return
	}
	sess := c.sess
	aborted := !sess.conn.Terminal()
	if aborted {
		sess.conn = ConnClosed
	}
	conn := c.teardownLocked()
	c.gen++
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if aborted {
		c.logger.Info(logModule, "Session aborted", map[string]interface{}{"session_id": sess.id.String()})
		c.publish(context.Background())
	}
}

// teardownLocked cancels the session context, releases waiters and hands
// back the connection for the caller to close outside the lock.
func (c *Controller) teardownLocked() Conn {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.sess != nil {
		c.sess.finish()
	}
	conn := c.conn
	c.conn = nil
	return conn
}

// Snapshot returns a copy of the current session. Before the first Start it
// reports an idle, empty session.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return Snapshot{ConnectionState: ConnIdle}
	}
	return c.sess.snapshot()
}

// Wait blocks until the current session is terminal or ctx is done.
func (c *Controller) Wait(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	if c.sess == nil {
		c.mu.Unlock()
		return Snapshot{ConnectionState: ConnIdle}, nil
	}
	done := c.sess.done
	c.mu.Unlock()

	select {
	case <-done:
		return c.Snapshot(), nil
	case <-ctx.Done():
		return c.Snapshot(), ctx.Err()
	}
}

// run is the single consumer of a connection's events.
func (c *Controller) run(ctx context.Context, gen uint64, conn Conn) {
	var timer *time.Timer
	var timeout <-chan time.Time
	arm := func() {
		if c.stageTimeout <= 0 {
			return
		}
		if timer == nil {
			timer = time.NewTimer(c.stageTimeout)
		} else {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(c.stageTimeout)
		}
		timeout = timer.C
	}
	arm()
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	events := conn.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timeout:
			c.handle(ctx, gen, conn, ErrorEnvelope(ReasonStageTimeout), nil)
			return
		case ev, ok := <-events:
			if !ok || ev.Closed {
				c.handleClosed(ctx, gen, ev.Err)
				return
			}
			env, err := DecodeEnvelope(ev.Data)
			res := c.handle(ctx, gen, conn, env, err)
			if res.terminal {
				return
			}
			if res.advanced {
				arm()
			}
		}
	}
}

type outcome struct {
	terminal bool
	advanced bool
}

// handle applies one envelope. The state mutation happens under the lock;
// network writes happen after it is released but still on the run
// goroutine, so requests are never sent concurrently.
func (c *Controller) handle(ctx context.Context, gen uint64, conn Conn, env Envelope, decodeErr error) outcome {
	c.mu.Lock()
	sess := c.sess
	if gen != c.gen || sess == nil || sess.conn.Terminal() {
		c.mu.Unlock()
		return outcome{terminal: true}
	}

	if decodeErr != nil {
		c.mu.Unlock()
		c.logger.Warn(logModule, "Malformed envelope", map[string]interface{}{"session_id": sess.id.String(), "error": decodeErr.Error()})
		c.failAndClose(ctx, gen, ReasonMalformed)
		return outcome{terminal: true}
	}

	if env.RatingsErr != nil && sess.route.HasRatings() {
		c.logger.Warn(logModule, "Unreadable ratings", map[string]interface{}{"session_id": sess.id.String(), "error": env.RatingsErr.Error()})
	}
	d := Demux(sess.route, env)
	if d.Error != "" {
		c.mu.Unlock()
		c.logger.Error(logModule, "Producer reported error", map[string]interface{}{"session_id": sess.id.String(), "error": d.Error})
		c.failAndClose(ctx, gen, d.Error)
		return outcome{terminal: true}
	}

	changed := false
	if d.Hint != nil && *d.Hint > sess.route {
		sess.route = *d.Hint
		changed = true
	}
	if d.Buffer != nil {
		sess.apply(*d.Buffer)
		changed = true
	}
	if d.Rating != nil {
		record, clamped := d.Rating.Record.Normalize()
		if len(clamped) > 0 {
			c.logger.Warn(logModule, "Clamped out-of-range ratings", map[string]interface{}{"session_id": sess.id.String(), "fields": clamped})
		}
		sess.ratings[d.Rating.Stage] = record
		changed = true
	}
	if d.Buffer == nil && d.Rating == nil && d.Hint == nil && !d.Completed {
		c.logger.Debug(logModule, "Ignored envelope", map[string]interface{}{"session_id": sess.id.String(), "kind": string(env.Kind)})
	}

	if !d.Completed {
		c.mu.Unlock()
		if changed {
			c.publish(ctx)
		}
		return outcome{}
	}

	next, ok := sess.stage.Next()
	if !ok {
		sess.completed = true
		sess.conn = ConnClosed
		conn := c.teardownLocked()
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		c.logger.Info(logModule, "Session completed", map[string]interface{}{"session_id": sess.id.String()})
		c.publish(ctx)
		return outcome{terminal: true}
	}

	sess.stage = next
	if sess.route < next {
		sess.route = next
	}
	req, _ := BuildStageRequest(c.prompts, next, sess.bufferMap())
	c.mu.Unlock()

	c.logger.Info(logModule, "Stage advanced", map[string]interface{}{"session_id": sess.id.String(), "stage": next.String()})
	c.publish(ctx)

	if err := conn.Send(ctx, req); err != nil {
		c.failAndClose(ctx, gen, fmt.Sprintf("failed to send request: %v", err))
		return outcome{terminal: true}
	}
	return outcome{advanced: true}
}

func (c *Controller) handleClosed(ctx context.Context, gen uint64, cause error) {
	c.mu.Lock()
	sess := c.sess
	if gen != c.gen || sess == nil || sess.conn != ConnOpen {
		c.mu.Unlock()
		return
	}
	sess.fail(ReasonUnexpectedClose)
	conn := c.teardownLocked()
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	details := map[string]interface{}{"session_id": sess.id.String()}
	if cause != nil {
		details["error"] = cause.Error()
	}
	c.logger.Error(logModule, "Connection closed unexpectedly", details)
	c.publish(ctx)
}

func (c *Controller) failAndClose(ctx context.Context, gen uint64, reason string) {
	c.mu.Lock()
	sess := c.sess
	if gen != c.gen || sess == nil || sess.conn.Terminal() {
		c.mu.Unlock()
		return
	}
	sess.fail(reason)
	conn := c.teardownLocked()
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	c.publish(ctx)
}

func (c *Controller) publish(ctx context.Context) {
	if len(c.notifiers) == 0 {
		return
	}
	// observers still hear about the final state after the session
	// context is cancelled
	ctx = context.WithoutCancel(ctx)
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	snap := c.Snapshot()
	for _, n := range c.notifiers {
		n.Notify(ctx, snap)
	}
}
