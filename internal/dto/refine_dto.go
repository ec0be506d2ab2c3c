package dto

import (
	"time"

	"github.com/google/uuid"
)

// GenerateRequest is whatever arrives on /ws/generate. A request carrying
// messages advances the pipeline; otherwise it starts one from the prompt.
type GenerateRequest struct {
	Prompt   string           `json:"prompt,omitempty"`
	Messages []ChatMessageDTO `json:"messages,omitempty"`
}

type StartRequest struct {
	Prompt string `json:"prompt" validate:"required"`
}

type ChatMessageDTO struct {
	Role    string `json:"role" validate:"required,oneof=system user"`
	Content string `json:"content" validate:"required"`
}

type StageRequestDTO struct {
	Messages []ChatMessageDTO `json:"messages" validate:"required,min=1,max=4,dive"`
}

// UserContent returns the last user message of the request.
func (r StageRequestDTO) UserContent() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == "user" {
			return r.Messages[i].Content
		}
	}
	return ""
}

type PipelineState string

const (
	PipelineRunning   PipelineState = "running"
	PipelineWaiting   PipelineState = "waiting"
	PipelineCompleted PipelineState = "completed"
	PipelineFailed    PipelineState = "failed"
)

type PipelineStatusResponse struct {
	Id        uuid.UUID     `json:"id"`
	Stage     string        `json:"stage"`
	Status    string        `json:"status,omitempty"`
	State     PipelineState `json:"state"`
	Error     string        `json:"error,omitempty"`
	Envelopes int           `json:"envelopes"`
	StartedAt time.Time     `json:"started_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}
