package refine

import (
	"encoding/json"
	"strings"
)

// BufferMode says how a buffer update is applied.
type BufferMode int

const (
	ModeAppend BufferMode = iota
	ModeReplace
)

type BufferUpdate struct {
	Stage Stage
	Text  string
	Mode  BufferMode
}

type RatingUpdate struct {
	Stage  Stage
	Record RatingRecord
}

// Decision is the outcome of demultiplexing one envelope. The zero value
// means the envelope carries nothing to apply.
type Decision struct {
	Buffer    *BufferUpdate
	Rating    *RatingUpdate
	Hint      *Stage
	Completed bool
	// Error is non-empty when the envelope terminates the session.
	Error string
}

// statusTokens are checked in priority order.
var statusTokens = []struct {
	token string
	stage Stage
}{
	{"technical", StageTechnical},
	{"creative", StageCreative},
	{"final", StageFinal},
}

// Demux maps an envelope onto the session without touching it. current is
// the stage whose buffer receives content.
func Demux(current Stage, env Envelope) Decision {
	switch env.Kind {
	case KindError:
		return Decision{Error: env.Reason}

	case KindStatus:
		text := strings.ToLower(env.Status)
		for _, t := range statusTokens {
			if strings.Contains(text, t.token) {
				s := t.stage
				return Decision{Hint: &s}
			}
		}
		return Decision{}

	case KindContent:
		var fb feedbackPayload
		if err := json.Unmarshal([]byte(env.Text), &fb); err == nil && fb.Feedback != nil {
			return Decision{Buffer: &BufferUpdate{Stage: current, Text: *fb.Feedback, Mode: ModeReplace}}
		}
		return Decision{Buffer: &BufferUpdate{Stage: current, Text: env.Text, Mode: ModeAppend}}

	case KindRatings:
		if !current.HasRatings() {
			return Decision{}
		}
		if env.RatingsErr != nil && env.Ratings.Empty() {
			return Decision{}
		}
		return Decision{Rating: &RatingUpdate{Stage: current, Record: env.Ratings}}

	case KindDone:
		return Decision{Completed: true}
	}
	return Decision{}
}
