package refine

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type fakeConn struct {
	events chan Event
	sent   chan interface{}

	mu      sync.Mutex
	closed  bool
	sendErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		events: make(chan Event, 64),
		sent:   make(chan interface{}, 16),
	}
}

func (f *fakeConn) Send(_ context.Context, v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	if f.closed {
		return errors.New("use of closed connection")
	}
	f.sent <- v
	return nil
}

func (f *fakeConn) Events() <-chan Event { return f.events }

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConn) push(t *testing.T, env Envelope) {
	t.Helper()
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	f.events <- Event{Data: raw}
}

func (f *fakeConn) nextSent(t *testing.T) interface{} {
	t.Helper()
	select {
	case v := <-f.sent:
		return v
	case <-time.After(waitFor):
		t.Fatal("no request sent")
		return nil
	}
}

type recordingNotifier struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *recordingNotifier) Notify(_ context.Context, s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recordingNotifier) last() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snaps[len(r.snaps)-1]
}

func startSession(t *testing.T, cfg Config) (*Controller, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	c := NewController(DialerFunc(func(context.Context) (Conn, error) { return conn, nil }), cfg)
	require.NoError(t, c.Start(context.Background(), "Explain recursion"))

	req, ok := conn.nextSent(t).(StartRequest)
	require.True(t, ok, "first request must be a StartRequest")
	assert.Equal(t, "Explain recursion", req.Prompt)
	return c, conn
}

func eventually(t *testing.T, c *Controller, cond func(Snapshot) bool) {
	t.Helper()
	require.Eventually(t, func() bool { return cond(c.Snapshot()) }, waitFor, tick)
}

func TestControllerAppendsFragmentsInOrder(t *testing.T) {
	for _, stage := range Stages {
		t.Run(stage.String(), func(t *testing.T) {
			c, conn := startSession(t, Config{})
			for i := StageInitial; i < stage; i++ {
				conn.push(t, DoneEnvelope())
				conn.nextSent(t)
			}
			eventually(t, c, func(s Snapshot) bool { return s.Stage == stage })

			for _, frag := range []string{"a", "b", "c", "d"} {
				conn.push(t, ContentEnvelope(frag))
			}

			eventually(t, c, func(s Snapshot) bool { return s.Buffer(stage) == "abcd" })
			s := c.Snapshot()
			for _, other := range Stages {
				if other != stage {
					assert.Empty(t, s.Buffer(other), other.String())
				}
			}
			assert.Equal(t, ConnOpen, s.ConnectionState)
		})
	}
}

func TestControllerFeedbackReplaces(t *testing.T) {
	c, conn := startSession(t, Config{})
	conn.push(t, ContentEnvelope("draft"))
	conn.push(t, DoneEnvelope())
	conn.nextSent(t)

	conn.push(t, ContentEnvelope("partial "))
	conn.push(t, ContentEnvelope(`{"feedback":"X"}`))
	eventually(t, c, func(s Snapshot) bool { return s.Technical == "X" })

	conn.push(t, ContentEnvelope(`{"feedback":"Y"}`))
	eventually(t, c, func(s Snapshot) bool { return s.Technical == "Y" })
	assert.Equal(t, "draft", c.Snapshot().Initial)
}

func TestControllerRatingsIsolatedPerStage(t *testing.T) {
	c, conn := startSession(t, Config{})
	conn.push(t, DoneEnvelope())
	conn.nextSent(t)
	conn.push(t, RatingsEnvelope(RatingRecord{Clarity: Score(8)}))
	conn.push(t, DoneEnvelope())
	conn.nextSent(t)
	conn.push(t, RatingsEnvelope(RatingRecord{Engagement: Score(6)}))
	eventually(t, c, func(s Snapshot) bool { return s.CreativeRatings != nil })

	conn.push(t, DoneEnvelope())
	conn.nextSent(t)
	conn.push(t, RatingsEnvelope(RatingRecord{Impact: Score(1)}))
	conn.push(t, ContentEnvelope("end"))
	eventually(t, c, func(s Snapshot) bool { return s.Final == "end" })

	s := c.Snapshot()
	require.NotNil(t, s.TechnicalRatings)
	assert.Equal(t, 8, *s.TechnicalRatings.Clarity)
	assert.Nil(t, s.TechnicalRatings.Engagement)
	assert.Equal(t, 6, *s.CreativeRatings.Engagement)
	assert.Nil(t, s.CreativeRatings.Clarity)
	assert.Nil(t, s.CreativeRatings.Impact)
}

func TestControllerClampsRatings(t *testing.T) {
	c, conn := startSession(t, Config{})
	conn.push(t, DoneEnvelope())
	conn.nextSent(t)
	conn.push(t, RatingsEnvelope(RatingRecord{Clarity: Score(12)}))
	eventually(t, c, func(s Snapshot) bool { return s.TechnicalRatings != nil })
	assert.Equal(t, 10, *c.Snapshot().TechnicalRatings.Clarity)
}

func TestControllerDoneAdvancesOneStage(t *testing.T) {
	c, conn := startSession(t, Config{})
	conn.push(t, DoneEnvelope())

	req, ok := conn.nextSent(t).(StageRequest)
	require.True(t, ok)
	assert.Contains(t, req.Messages[0].Content, "technical tutor")
	assert.Equal(t, StageTechnical, c.Snapshot().Stage)
}

func TestControllerStatusHintRoutesWithoutAdvancing(t *testing.T) {
	c, conn := startSession(t, Config{})
	conn.push(t, StatusEnvelope("Getting technical feedback..."))
	conn.push(t, ContentEnvelope("early"))
	eventually(t, c, func(s Snapshot) bool { return s.Technical == "early" })

	s := c.Snapshot()
	assert.Equal(t, StageInitial, s.Stage)
	assert.Equal(t, StageTechnical, s.ActiveBuffer)
	assert.Empty(t, s.Initial)

	// done still moves exactly one step
	conn.push(t, DoneEnvelope())
	conn.nextSent(t)
	eventually(t, c, func(s Snapshot) bool { return s.Stage == StageTechnical })
	assert.Equal(t, StageTechnical, c.Snapshot().ActiveBuffer)
}

func TestControllerErrorStopsMutation(t *testing.T) {
	c, conn := startSession(t, Config{})
	conn.push(t, ContentEnvelope("kept"))
	conn.push(t, ErrorEnvelope("model overloaded"))
	conn.push(t, ContentEnvelope(" dropped"))

	eventually(t, c, func(s Snapshot) bool { return s.ConnectionState == ConnFailed })
	assert.Never(t, func() bool { return c.Snapshot().Initial != "kept" }, 100*time.Millisecond, tick)

	s := c.Snapshot()
	assert.Equal(t, "model overloaded", s.TerminalError)
	assert.True(t, conn.isClosed())
}

func TestControllerMalformedEnvelope(t *testing.T) {
	c, conn := startSession(t, Config{})
	conn.events <- Event{Data: []byte("not json")}

	eventually(t, c, func(s Snapshot) bool { return s.ConnectionState == ConnFailed })
	assert.Equal(t, ReasonMalformed, c.Snapshot().TerminalError)
}

func TestControllerUnreadableRatingsIgnored(t *testing.T) {
	t.Run("bad field during initial", func(t *testing.T) {
		c, conn := startSession(t, Config{})
		conn.events <- Event{Data: []byte(`{"type":"ratings","content":{"clarity":"8"}}`)}
		conn.push(t, ContentEnvelope("draft"))

		eventually(t, c, func(s Snapshot) bool { return s.Initial == "draft" })
		s := c.Snapshot()
		assert.Equal(t, ConnOpen, s.ConnectionState)
		assert.Empty(t, s.TerminalError)
		assert.Nil(t, s.TechnicalRatings)
	})

	t.Run("missing content during technical", func(t *testing.T) {
		c, conn := startSession(t, Config{})
		conn.push(t, DoneEnvelope())
		conn.nextSent(t)

		conn.events <- Event{Data: []byte(`{"type":"ratings"}`)}
		conn.push(t, ContentEnvelope("critique"))

		eventually(t, c, func(s Snapshot) bool { return s.Technical == "critique" })
		s := c.Snapshot()
		assert.Equal(t, ConnOpen, s.ConnectionState)
		assert.Nil(t, s.TechnicalRatings)
	})

	t.Run("readable fields kept during technical", func(t *testing.T) {
		c, conn := startSession(t, Config{})
		conn.push(t, DoneEnvelope())
		conn.nextSent(t)

		conn.events <- Event{Data: []byte(`{"type":"ratings","content":{"clarity":"8","structure":7}}`)}

		eventually(t, c, func(s Snapshot) bool { return s.TechnicalRatings != nil })
		s := c.Snapshot()
		assert.Nil(t, s.TechnicalRatings.Clarity)
		assert.Equal(t, 7, *s.TechnicalRatings.Structure)
		assert.Equal(t, ConnOpen, s.ConnectionState)
	})
}

func TestControllerUnknownKindIgnored(t *testing.T) {
	c, conn := startSession(t, Config{})
	conn.events <- Event{Data: []byte(`{"type":"heartbeat"}`)}
	conn.push(t, ContentEnvelope("still here"))

	eventually(t, c, func(s Snapshot) bool { return s.Initial == "still here" })
	assert.Equal(t, ConnOpen, c.Snapshot().ConnectionState)
}

func TestControllerUnexpectedClose(t *testing.T) {
	c, conn := startSession(t, Config{})
	conn.events <- Event{Closed: true, Err: errors.New("EOF")}

	eventually(t, c, func(s Snapshot) bool { return s.ConnectionState == ConnFailed })
	assert.Equal(t, ReasonUnexpectedClose, c.Snapshot().TerminalError)
}

func TestControllerDialFailure(t *testing.T) {
	c := NewController(DialerFunc(func(context.Context) (Conn, error) {
		return nil, errors.New("connection refused")
	}), Config{})

	require.NoError(t, c.Start(context.Background(), "hi"))

	s := c.Snapshot()
	assert.Equal(t, ConnFailed, s.ConnectionState)
	assert.Contains(t, s.TerminalError, "connection refused")

	_, err := c.Wait(context.Background())
	assert.NoError(t, err)
}

func TestControllerRejectsEmptyPrompt(t *testing.T) {
	c := NewController(DialerFunc(func(context.Context) (Conn, error) {
		t.Fatal("must not dial")
		return nil, nil
	}), Config{})
	assert.ErrorIs(t, c.Start(context.Background(), "   "), ErrEmptyPrompt)
	assert.Equal(t, ConnIdle, c.Snapshot().ConnectionState)
}

func TestControllerAbortFreezesState(t *testing.T) {
	c, conn := startSession(t, Config{})
	conn.push(t, ContentEnvelope("draft"))
	conn.push(t, DoneEnvelope())
	conn.nextSent(t)
	conn.push(t, ContentEnvelope("half a critique"))
	eventually(t, c, func(s Snapshot) bool { return s.Technical == "half a critique" })

	c.Abort()
	before := c.Snapshot()
	assert.Equal(t, ConnClosed, before.ConnectionState)
	assert.Empty(t, before.TerminalError)
	assert.True(t, conn.isClosed())

	conn.push(t, ContentEnvelope(" more"))
	conn.push(t, RatingsEnvelope(RatingRecord{Clarity: Score(3)}))
	conn.push(t, DoneEnvelope())
	conn.events <- Event{Closed: true}

	assert.Never(t, func() bool {
		s := c.Snapshot()
		return s.Technical != before.Technical || s.Stage != before.Stage ||
			s.TechnicalRatings != nil || s.ConnectionState != ConnClosed
	}, 100*time.Millisecond, tick)
}

func TestControllerAbortCancelsDial(t *testing.T) {
	dialing := make(chan struct{})
	dialErr := make(chan error, 1)
	c := NewController(DialerFunc(func(ctx context.Context) (Conn, error) {
		close(dialing)
		<-ctx.Done()
		dialErr <- ctx.Err()
		return nil, ctx.Err()
	}), Config{})

	started := make(chan struct{})
	go func() {
		defer close(started)
		assert.NoError(t, c.Start(context.Background(), "hi"))
	}()

	<-dialing
	c.Abort()

	select {
	case err := <-dialErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(waitFor):
		t.Fatal("dial was not cancelled by Abort")
	}
	<-started
	s := c.Snapshot()
	assert.Equal(t, ConnClosed, s.ConnectionState)
	assert.Empty(t, s.TerminalError)
}

func TestControllerStartResetsSession(t *testing.T) {
	first := newFakeConn()
	second := newFakeConn()
	conns := []*fakeConn{first, second}
	var mu sync.Mutex
	c := NewController(DialerFunc(func(context.Context) (Conn, error) {
		mu.Lock()
		defer mu.Unlock()
		next := conns[0]
		conns = conns[1:]
		return next, nil
	}), Config{})

	require.NoError(t, c.Start(context.Background(), "one"))
	first.nextSent(t)
	first.push(t, ContentEnvelope("old"))
	eventually(t, c, func(s Snapshot) bool { return s.Initial == "old" })
	oldID := c.Snapshot().ID

	require.NoError(t, c.Start(context.Background(), "two"))
	second.nextSent(t)
	assert.True(t, first.isClosed())

	s := c.Snapshot()
	assert.NotEqual(t, oldID, s.ID)
	assert.Equal(t, "two", s.Prompt)
	assert.Empty(t, s.Initial)
	assert.Equal(t, StageInitial, s.Stage)
	assert.Equal(t, ConnOpen, s.ConnectionState)
}

func TestControllerStageTimeout(t *testing.T) {
	c, _ := startSession(t, Config{StageTimeout: 30 * time.Millisecond})
	eventually(t, c, func(s Snapshot) bool { return s.ConnectionState == ConnFailed })
	assert.Equal(t, ReasonStageTimeout, c.Snapshot().TerminalError)
}

func TestControllerRoundTrip(t *testing.T) {
	rec := &recordingNotifier{}
	c, conn := startSession(t, Config{Notifiers: []Notifier{rec}})

	conn.push(t, StatusEnvelope("Generating initial content..."))
	conn.push(t, ContentEnvelope("Recursion "))
	conn.push(t, ContentEnvelope("is..."))
	conn.push(t, DoneEnvelope())

	technical, ok := conn.nextSent(t).(StageRequest)
	require.True(t, ok)
	require.Len(t, technical.Messages, 2)
	assert.Equal(t, "system", technical.Messages[0].Role)
	assert.Contains(t, technical.Messages[0].Content, "technical tutor")
	assert.Equal(t, "user", technical.Messages[1].Role)
	assert.Equal(t, "Recursion is...", technical.Messages[1].Content)

	conn.push(t, StatusEnvelope("Getting technical feedback..."))
	conn.push(t, RatingsEnvelope(RatingRecord{
		Clarity: Score(8), Structure: Score(7), TechnicalAccuracy: Score(9), Completeness: Score(6),
	}))
	conn.push(t, ContentEnvelope(`{"feedback":"Add a base case example."}`))
	conn.push(t, DoneEnvelope())

	creative, ok := conn.nextSent(t).(StageRequest)
	require.True(t, ok)
	assert.Contains(t, creative.Messages[0].Content, "creative tutor")
	assert.Equal(t, "Recursion is...", creative.Messages[1].Content)

	s := c.Snapshot()
	require.NotNil(t, s.TechnicalRatings)
	assert.Equal(t, 9, *s.TechnicalRatings.TechnicalAccuracy)
	assert.Nil(t, s.CreativeRatings)

	conn.push(t, StatusEnvelope("Getting creative feedback..."))
	conn.push(t, ContentEnvelope("Use a story."))
	conn.push(t, DoneEnvelope())

	final, ok := conn.nextSent(t).(StageRequest)
	require.True(t, ok)
	user := final.Messages[1].Content
	assert.True(t, strings.Contains(user, "Recursion is..."))
	assert.True(t, strings.Contains(user, "Add a base case example."))
	assert.True(t, strings.Contains(user, "Use a story."))

	conn.push(t, StatusEnvelope("Generating final improved content..."))
	conn.push(t, ContentEnvelope("Better recursion."))
	conn.push(t, DoneEnvelope())

	done, err := c.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ConnClosed, done.ConnectionState)
	assert.Empty(t, done.TerminalError)
	assert.True(t, done.Completed)
	assert.Equal(t, "Better recursion.", done.Final)
	assert.True(t, conn.isClosed())

	// the post-final close is expected and must not fail the session
	conn.events <- Event{Closed: true}
	assert.Never(t, func() bool { return c.Snapshot().ConnectionState != ConnClosed }, 50*time.Millisecond, tick)

	require.Eventually(t, func() bool { return rec.last().Completed }, waitFor, tick)
}

func TestControllerSendFailure(t *testing.T) {
	c, conn := startSession(t, Config{})
	conn.mu.Lock()
	conn.sendErr = errors.New("broken pipe")
	conn.mu.Unlock()

	conn.push(t, DoneEnvelope())

	eventually(t, c, func(s Snapshot) bool { return s.ConnectionState == ConnFailed })
	assert.Contains(t, c.Snapshot().TerminalError, "broken pipe")
}
