package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"ai-refinery/internal/pkg/logger"
	"ai-refinery/pkg/refine"

	fastws "github.com/fasthttp/websocket"
)

// PipelineIDHeader carries the producer's pipeline id on the upgrade response.
const PipelineIDHeader = "X-Pipeline-Id"

// Dialer opens refinement connections to the producer endpoint.
type Dialer struct {
	URL              string
	HandshakeTimeout time.Duration
	// Token, when set, is sent as a bearer token on the handshake.
	Token  string
	Logger logger.ILogger
}

var (
	_ refine.Dialer             = (*Dialer)(nil)
	_ refine.PipelineIdentifier = (*clientConn)(nil)
)

func (d *Dialer) Dial(ctx context.Context) (refine.Conn, error) {
	dialer := fastws.Dialer{
		HandshakeTimeout: d.HandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}
	if dialer.HandshakeTimeout == 0 {
		dialer.HandshakeTimeout = 10 * time.Second
	}

	header := http.Header{}
	if d.Token != "" {
		header.Set("Authorization", "Bearer "+d.Token)
	}

	ws, resp, err := dialer.DialContext(ctx, d.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", d.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", d.URL, err)
	}

	c := &clientConn{
		ws:         ws,
		pipelineID: resp.Header.Get(PipelineIDHeader),
		events: make(chan refine.Event, 256),
		closed: make(chan struct{}),
		logger: d.Logger,
	}
	go c.readPump()
	return c, nil
}

// clientConn adapts a websocket to refine.Conn. A single read pump turns
// frames into an ordered event stream.
type clientConn struct {
	ws         *fastws.Conn
	pipelineID string
	events chan refine.Event
	logger logger.ILogger

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

func (c *clientConn) Send(ctx context.Context, v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteJSON(v); err != nil {
		return fmt.Errorf("write request: %w", err)
	}
	return nil
}

func (c *clientConn) PipelineID() string {
	return c.pipelineID
}

func (c *clientConn) Events() <-chan refine.Event {
	return c.events
}

// Close sends a normal close frame and releases the socket. It is safe to
// call more than once.
func (c *clientConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.writeMu.Lock()
		c.ws.WriteControl(
			fastws.CloseMessage,
			fastws.FormatCloseMessage(fastws.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

func (c *clientConn) readPump() {
	defer close(c.events)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			ev := refine.Event{Closed: true}
			if !fastws.IsCloseError(err, fastws.CloseNormalClosure) && !errors.Is(err, fastws.ErrCloseSent) {
				ev.Err = err
			}
			if c.logger != nil {
				c.logger.Debug("WebSocketClient", "Read loop ended", map[string]interface{}{"error": err.Error()})
			}
			c.emit(ev)
			return
		}
		if !c.emit(refine.Event{Data: data}) {
			return
		}
	}
}

// emit delivers an event unless the connection was closed locally, in which
// case nobody is reading any more.
func (c *clientConn) emit(ev refine.Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.closed:
		return false
	}
}
