package refine

import (
	"testing"
)

func TestBuildStageRequest(t *testing.T) {
	buffers := map[Stage]string{
		StageInitial:   "draft",
		StageTechnical: "tech notes",
		StageCreative:  "style notes",
	}
	p := Prompts{Technical: "T", Creative: "C", Final: "F"}

	tests := []struct {
		to         Stage
		wantSystem string
		wantUser   string
		wantOK     bool
	}{
		{StageTechnical, "T", "draft", true},
		{StageCreative, "C", "draft", true},
		{StageFinal, "F", "Original Content: draft\n\nTechnical Feedback: tech notes\n\nCreative Feedback: style notes\n\nPlease improve the content based on this feedback.", true},
		{StageInitial, "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.to.String(), func(t *testing.T) {
			req, ok := BuildStageRequest(p, tt.to, buffers)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if len(req.Messages) != 2 {
				t.Fatalf("len(Messages) = %d, want 2", len(req.Messages))
			}
			if req.Messages[0].Role != "system" || req.Messages[0].Content != tt.wantSystem {
				t.Errorf("system = %+v, want content %q", req.Messages[0], tt.wantSystem)
			}
			if req.Messages[1].Role != "user" || req.Messages[1].Content != tt.wantUser {
				t.Errorf("user = %+v, want content %q", req.Messages[1], tt.wantUser)
			}
		})
	}
}

func TestPromptsDefaults(t *testing.T) {
	p := Prompts{Creative: "custom"}.withDefaults()
	if p.Creative != "custom" {
		t.Errorf("Creative = %q, want override kept", p.Creative)
	}
	if p.Technical != DefaultPrompts().Technical || p.Final != DefaultPrompts().Final {
		t.Errorf("missing defaults: %+v", p)
	}
}
