package refine

import (
	"strings"

	"github.com/google/uuid"
)

// session is the mutable state of one pipeline run. It is owned by a
// Controller and only touched under its lock.
type session struct {
	id     uuid.UUID
	prompt string
	// pipelineID is the producer's name for this run, when it reports one.
	pipelineID string

	// stage advances only on done; route is where content is written and
	// may run ahead of stage when a status hint arrives early.
	stage Stage
	route Stage

	buffers [StageFinal + 1]strings.Builder
	ratings map[Stage]RatingRecord

	conn          ConnectionState
	terminalError string
	completed     bool

	done     chan struct{}
	finished bool
}

func newSession(prompt string) *session {
	return &session{
		id:      uuid.New(),
		prompt:  prompt,
		stage:   StageInitial,
		route:   StageInitial,
		ratings: make(map[Stage]RatingRecord, 2),
		conn:    ConnIdle,
		done:    make(chan struct{}),
	}
}

// finish releases waiters once the session is terminal.
func (s *session) finish() {
	if !s.finished {
		s.finished = true
		close(s.done)
	}
}

func (s *session) buffer(st Stage) string {
	return s.buffers[st].String()
}

func (s *session) bufferMap() map[Stage]string {
	m := make(map[Stage]string, len(Stages))
	for _, st := range Stages {
		m[st] = s.buffer(st)
	}
	return m
}

func (s *session) apply(u BufferUpdate) {
	if !u.Stage.valid() {
		return
	}
	b := &s.buffers[u.Stage]
	if u.Mode == ModeReplace {
		b.Reset()
	}
	b.WriteString(u.Text)
}

// fail records the first terminal error; later ones are dropped.
func (s *session) fail(reason string) {
	if s.terminalError == "" {
		s.terminalError = reason
	}
	s.conn = ConnFailed
}

func (s *session) snapshot() Snapshot {
	snap := Snapshot{
		ID:              s.id.String(),
		PipelineID:      s.pipelineID,
		Prompt:          s.prompt,
		Stage:           s.stage,
		ActiveBuffer:    s.route,
		Initial:         s.buffer(StageInitial),
		Technical:       s.buffer(StageTechnical),
		Creative:        s.buffer(StageCreative),
		Final:           s.buffer(StageFinal),
		ConnectionState: s.conn,
		TerminalError:   s.terminalError,
		Completed:       s.completed,
	}
	if r, ok := s.ratings[StageTechnical]; ok {
		c := r.clone()
		snap.TechnicalRatings = &c
	}
	if r, ok := s.ratings[StageCreative]; ok {
		c := r.clone()
		snap.CreativeRatings = &c
	}
	return snap
}

// Snapshot is a read-only copy of a session for display layers.
type Snapshot struct {
	ID           string `json:"id"`
	PipelineID   string `json:"pipeline_id,omitempty"`
	Prompt       string `json:"prompt"`
	Stage        Stage  `json:"stage"`
	ActiveBuffer Stage  `json:"active_buffer"`

	Initial   string `json:"initial"`
	Technical string `json:"technical"`
	Creative  string `json:"creative"`
	Final     string `json:"final"`

	TechnicalRatings *RatingRecord `json:"technical_ratings,omitempty"`
	CreativeRatings  *RatingRecord `json:"creative_ratings,omitempty"`

	ConnectionState ConnectionState `json:"connection_state"`
	TerminalError   string          `json:"terminal_error,omitempty"`
	// Completed is set once the final stage finished without error.
	Completed bool `json:"completed"`
}

// Buffer returns the accumulated text for a stage.
func (s Snapshot) Buffer(st Stage) string {
	switch st {
	case StageInitial:
		return s.Initial
	case StageTechnical:
		return s.Technical
	case StageCreative:
		return s.Creative
	case StageFinal:
		return s.Final
	}
	return ""
}

// Ratings returns the record for a critique stage, or nil.
func (s Snapshot) Ratings(st Stage) *RatingRecord {
	switch st {
	case StageTechnical:
		return s.TechnicalRatings
	case StageCreative:
		return s.CreativeRatings
	}
	return nil
}

// Terminal reports whether the session has stopped.
func (s Snapshot) Terminal() bool {
	return s.ConnectionState.Terminal()
}
