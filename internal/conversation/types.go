package conversation

import (
	"context"

	"mediaforge/internal/assembly"
)

// Input describes a conversation request.
type Input struct {
	Title     string   `json:"title" validate:"required,max=200"`
	Topic     string   `json:"topic" validate:"required"`
	Context   string   `json:"context,omitempty"`
	Style     string   `json:"style,omitempty"`
	ActorRefs []string `json:"actor_refs" validate:"required,min=1,dive,required"`
	LineCount int      `json:"line_count" validate:"required,min=1"`
	// Stitch defaults to true.
	Stitch *bool `json:"stitch,omitempty"`
	// WithTransitions defaults to conversation.with_transitions.
	WithTransitions *bool `json:"with_transitions,omitempty"`
}

// Options overrides per-run behaviour.
type Options struct {
	// RequireReview overrides conversation.require_review.
	RequireReview *bool
}

// Assembler stitches rendered clips.
type Assembler interface {
	Assemble(ctx context.Context, clips []assembly.Clip, opts assembly.Options) (assembly.Result, error)
}
