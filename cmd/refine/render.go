package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"ai-refinery/pkg/refine"

	"github.com/fatih/color"
)

var stageTitles = map[refine.Stage]string{
	refine.StageInitial:   "Initial draft",
	refine.StageTechnical: "Technical critique",
	refine.StageCreative:  "Creative critique",
	refine.StageFinal:     "Final content",
}

// renderer prints snapshot deltas so streamed text appears as it arrives.
type renderer struct {
	w io.Writer

	mu       sync.Mutex
	pipeline string
	printed  map[refine.Stage]string
	rated   map[refine.Stage]bool

	heading *color.Color
	score   *color.Color
	failure *color.Color
	success *color.Color
	muted   *color.Color
}

func newRenderer(w io.Writer) *renderer {
	return &renderer{
		w:       w,
		printed: make(map[refine.Stage]string),
		rated:   make(map[refine.Stage]bool),
		heading: color.New(color.FgCyan, color.Bold),
		score:   color.New(color.FgYellow),
		failure: color.New(color.FgRed, color.Bold),
		success: color.New(color.FgGreen, color.Bold),
		muted:   color.New(color.Faint),
	}
}

// Render is the snapshot consumer's handler.
func (r *renderer) Render(_ context.Context, snap refine.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if snap.PipelineID != "" && snap.PipelineID != r.pipeline {
		r.pipeline = snap.PipelineID
		r.muted.Fprintf(r.w, "pipeline %s\n", snap.PipelineID)
	}

	for _, st := range refine.Stages {
		text := snap.Buffer(st)
		shown, started := r.printed[st]
		if text == "" || text == shown {
			continue
		}

		switch {
		case !started:
			r.heading.Fprintf(r.w, "\n== %s ==\n", stageTitles[st])
			fmt.Fprint(r.w, text)
		case strings.HasPrefix(text, shown):
			fmt.Fprint(r.w, text[len(shown):])
		default:
			// buffer was replaced
			r.muted.Fprintln(r.w, "\n(revised)")
			fmt.Fprint(r.w, text)
		}
		r.printed[st] = text
	}

	for _, st := range []refine.Stage{refine.StageTechnical, refine.StageCreative} {
		rec := snap.Ratings(st)
		if rec == nil || r.rated[st] {
			continue
		}
		r.rated[st] = true
		r.printRatings(st, *rec)
	}
	return nil
}

func (r *renderer) printRatings(st refine.Stage, rec refine.RatingRecord) {
	fields := []struct {
		name  string
		value *int
	}{
		{"clarity", rec.Clarity},
		{"structure", rec.Structure},
		{"technical accuracy", rec.TechnicalAccuracy},
		{"completeness", rec.Completeness},
		{"engagement", rec.Engagement},
		{"style", rec.Style},
		{"impact", rec.Impact},
		{"innovation", rec.Innovation},
	}
	r.heading.Fprintf(r.w, "\n-- %s ratings --\n", strings.ToLower(stageTitles[st]))
	for _, f := range fields {
		if f.value == nil {
			continue
		}
		r.score.Fprintf(r.w, "  %-20s %2d/%d\n", f.name, *f.value, refine.MaxScore)
	}
}

// Summary prints the outcome line and returns the process exit code.
func (r *renderer) Summary(snap refine.Snapshot) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	fmt.Fprintln(r.w)
	switch {
	case snap.Completed:
		r.success.Fprintln(r.w, "✔ Refinement completed")
		return 0
	case snap.ConnectionState == refine.ConnFailed:
		r.failure.Fprintf(r.w, "✘ Refinement failed during %s: %s\n", snap.ActiveBuffer, snap.TerminalError)
		return 1
	default:
		r.muted.Fprintf(r.w, "Refinement stopped during %s\n", snap.ActiveBuffer)
		return 130
	}
}
