package refine

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Kind tags the variant carried by an Envelope.
type Kind string

const (
	KindStatus  Kind = "status"
	KindContent Kind = "content"
	KindRatings Kind = "ratings"
	KindError   Kind = "error"
	KindDone    Kind = "done"
)

// ErrMalformedEnvelope is returned when an inbound frame is not a valid
// envelope.
var ErrMalformedEnvelope = errors.New("malformed envelope")

// Envelope is one inbound unit of data. Exactly one payload field is
// meaningful, selected by Kind.
type Envelope struct {
	Kind Kind

	// Status is the progress text of a status envelope.
	Status string
	// Text is the content payload exactly as received. It may be a raw
	// fragment or the JSON encoding of a feedback object.
	Text string
	// Ratings is the record carried by a ratings envelope.
	Ratings RatingRecord
	// RatingsErr is set when a ratings payload was missing or had fields
	// that could not be read. Ratings then holds only the readable fields.
	RatingsErr error
	// Reason is the failure text of an error envelope.
	Reason string
}

type wireEnvelope struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content,omitempty"`
}

// DecodeEnvelope parses one frame from the connection. Unknown kinds decode
// successfully so that callers can ignore them.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if w.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformedEnvelope)
	}

	env := Envelope{Kind: Kind(w.Type)}
	switch env.Kind {
	case KindStatus:
		env.Status = textOf(w.Content)
	case KindContent:
		env.Text = textOf(w.Content)
	case KindRatings:
		env.Ratings, env.RatingsErr = parseRatingsLenient(w.Content)
	case KindError:
		env.Reason = textOf(w.Content)
		if env.Reason == "" {
			env.Reason = "unknown error"
		}
	}
	return env, nil
}

// textOf unwraps a JSON string; any other JSON value is kept verbatim.
func textOf(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// MarshalJSON encodes the envelope in wire form.
func (e Envelope) MarshalJSON() ([]byte, error) {
	w := wireEnvelope{Type: string(e.Kind)}
	var content interface{}
	switch e.Kind {
	case KindStatus:
		content = e.Status
	case KindContent:
		content = e.Text
	case KindRatings:
		content = e.Ratings
	case KindError:
		content = e.Reason
	case KindDone:
		content = "completed"
	}
	if content != nil {
		raw, err := json.Marshal(content)
		if err != nil {
			return nil, err
		}
		w.Content = raw
	}
	return json.Marshal(w)
}

func StatusEnvelope(text string) Envelope { return Envelope{Kind: KindStatus, Status: text} }

func ContentEnvelope(text string) Envelope { return Envelope{Kind: KindContent, Text: text} }

func RatingsEnvelope(r RatingRecord) Envelope { return Envelope{Kind: KindRatings, Ratings: r} }

func ErrorEnvelope(reason string) Envelope { return Envelope{Kind: KindError, Reason: reason} }

func DoneEnvelope() Envelope { return Envelope{Kind: KindDone} }

// FeedbackEnvelope builds a content envelope whose text replaces the active
// buffer instead of extending it.
func FeedbackEnvelope(feedback string) (Envelope, error) {
	raw, err := json.Marshal(feedbackPayload{Feedback: &feedback})
	if err != nil {
		return Envelope{}, err
	}
	return ContentEnvelope(string(raw)), nil
}

type feedbackPayload struct {
	Feedback *string `json:"feedback"`
}
