package refine

import "context"

// Event is one item on a connection's ordered event stream: either an
// inbound frame or the notice that the connection closed.
type Event struct {
	Data   []byte
	Closed bool
	// Err is the close cause, if any.
	Err error
}

// Conn is one bidirectional streaming connection. Events must be delivered
// in arrival order and the channel closed after the Closed event.
type Conn interface {
	Send(ctx context.Context, v interface{}) error
	Events() <-chan Event
	Close() error
}

// PipelineIdentifier is implemented by connections whose producer names the
// pipeline run serving them.
type PipelineIdentifier interface {
	PipelineID() string
}

// Dialer opens connections to the producer.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context) (Conn, error) { return f(ctx) }

// Notifier observes session state. Notify is called synchronously after
// every applied change and must not block for long.
type Notifier interface {
	Notify(ctx context.Context, snap Snapshot)
}

// Logger is the subset of the application logger the controller uses.
type Logger interface {
	Debug(module, message string, details map[string]interface{})
	Info(module, message string, details map[string]interface{})
	Warn(module, message string, details map[string]interface{})
	Error(module, message string, details map[string]interface{})
}

type nopLogger struct{}

func (nopLogger) Debug(string, string, map[string]interface{}) {}
func (nopLogger) Info(string, string, map[string]interface{})  {}
func (nopLogger) Warn(string, string, map[string]interface{})  {}
func (nopLogger) Error(string, string, map[string]interface{}) {}
