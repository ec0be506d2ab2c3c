package refine

import "fmt"

// Stage identifies one step of the refinement pipeline.
type Stage int

const (
	StageInitial Stage = iota
	StageTechnical
	StageCreative
	StageFinal
)

// Stages lists every stage in pipeline order.
var Stages = []Stage{StageInitial, StageTechnical, StageCreative, StageFinal}

func (s Stage) String() string {
	switch s {
	case StageInitial:
		return "initial"
	case StageTechnical:
		return "technical"
	case StageCreative:
		return "creative"
	case StageFinal:
		return "final"
	default:
		return "unknown"
	}
}

// Next returns the stage that follows s. The second result is false when s
// is the last stage.
func (s Stage) Next() (Stage, bool) {
	if s >= StageFinal {
		return StageFinal, false
	}
	return s + 1, true
}

// HasRatings reports whether the stage owns a rating slot.
func (s Stage) HasRatings() bool {
	return s == StageTechnical || s == StageCreative
}

func (s Stage) valid() bool {
	return s >= StageInitial && s <= StageFinal
}

// ConnectionState tracks the transport lifecycle of a session.
type ConnectionState int

const (
	ConnIdle ConnectionState = iota
	ConnConnecting
	ConnOpen
	ConnClosed
	ConnFailed
)

func (c ConnectionState) String() string {
	switch c {
	case ConnIdle:
		return "idle"
	case ConnConnecting:
		return "connecting"
	case ConnOpen:
		return "open"
	case ConnClosed:
		return "closed"
	case ConnFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further envelopes will be processed.
func (c ConnectionState) Terminal() bool {
	return c == ConnClosed || c == ConnFailed
}

func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Stage) UnmarshalText(b []byte) error {
	for _, st := range Stages {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown stage %q", b)
}

func (c ConnectionState) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *ConnectionState) UnmarshalText(b []byte) error {
	for _, st := range []ConnectionState{ConnIdle, ConnConnecting, ConnOpen, ConnClosed, ConnFailed} {
		if st.String() == string(b) {
			*c = st
			return nil
		}
	}
	return fmt.Errorf("unknown connection state %q", b)
}
