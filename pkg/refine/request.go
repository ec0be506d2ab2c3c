package refine

import (
	"fmt"

	"ai-refinery/internal/constant"
	"ai-refinery/pkg/llm"
)

// StartRequest opens a pipeline run.
type StartRequest struct {
	Prompt string `json:"prompt"`
}

// StageRequest asks the producer for the next stage.
type StageRequest struct {
	Messages []llm.Message `json:"messages"`
}

// Prompts holds the system instruction sent with each stage-transition
// request. Its content is opaque to the controller.
type Prompts struct {
	Technical string
	Creative  string
	Final     string
}

func DefaultPrompts() Prompts {
	return Prompts{
		Technical: constant.TechnicalTutorInstruction,
		Creative:  constant.CreativeTutorInstruction,
		Final:     constant.EditorInstruction,
	}
}

func (p Prompts) withDefaults() Prompts {
	d := DefaultPrompts()
	if p.Technical == "" {
		p.Technical = d.Technical
	}
	if p.Creative == "" {
		p.Creative = d.Creative
	}
	if p.Final == "" {
		p.Final = d.Final
	}
	return p
}

// BuildStageRequest returns the request that starts stage to, using the
// buffers accumulated so far. It returns false for stages that are not
// entered through a transition request.
func BuildStageRequest(p Prompts, to Stage, buffers map[Stage]string) (StageRequest, bool) {
	initial := buffers[StageInitial]
	switch to {
	case StageTechnical:
		return pair(p.Technical, initial), true
	case StageCreative:
		return pair(p.Creative, initial), true
	case StageFinal:
		user := fmt.Sprintf(
			"Original Content: %s\n\nTechnical Feedback: %s\n\nCreative Feedback: %s\n\nPlease improve the content based on this feedback.",
			initial, buffers[StageTechnical], buffers[StageCreative],
		)
		return pair(p.Final, user), true
	}
	return StageRequest{}, false
}

func pair(system, user string) StageRequest {
	return StageRequest{Messages: []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: user},
	}}
}
