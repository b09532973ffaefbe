package api

import (
	"mediaforge/internal/conversation"
	"mediaforge/internal/jobstore"
	"mediaforge/internal/review"
)

// CreateJobRequest is the POST /api/jobs body.
type CreateJobRequest struct {
	Title           string  `json:"title" validate:"required,max=200"`
	Description     string  `json:"description,omitempty" validate:"max=5000"`
	SourceURL       string  `json:"source_url,omitempty" validate:"omitempty,url"`
	Style           string  `json:"style,omitempty"`
	DurationSeconds int     `json:"duration_seconds,omitempty" validate:"omitempty,min=1,max=600"`
	AspectRatio     string  `json:"aspect_ratio,omitempty" validate:"omitempty,oneof=16:9 9:16 1:1"`
	Voice           string  `json:"voice,omitempty"`
	Speed           float64 `json:"speed,omitempty" validate:"omitempty,gt=0,lte=4"`
	AvatarImage     string  `json:"avatar_image,omitempty"`
	PersonaID       string  `json:"persona_id,omitempty"`
	AutoApprove     *bool   `json:"auto_approve,omitempty"`
}

// JobInput converts the request into the stored input shape.
func (r CreateJobRequest) JobInput() jobstore.JobInput {
	return jobstore.JobInput{
		Title:           r.Title,
		Description:     r.Description,
		SourceURL:       r.SourceURL,
		Style:           r.Style,
		DurationSeconds: r.DurationSeconds,
		AspectRatio:     r.AspectRatio,
		Voice:           r.Voice,
		Speed:           r.Speed,
		AvatarImage:     r.AvatarImage,
		PersonaID:       r.PersonaID,
	}
}

// CreateConversationRequest is the POST /api/conversations body.
type CreateConversationRequest struct {
	conversation.Input
	RequireReview *bool `json:"require_review,omitempty"`
}

// ClipRequest names one clip for ad-hoc assembly. A zero duration is probed.
type ClipRequest struct {
	Path     string  `json:"path" validate:"required"`
	Duration float64 `json:"duration,omitempty" validate:"gte=0"`
}

// AssembleRequest is the POST /api/assemble body. A non-empty layout selects
// split-screen assembly instead of sequential stitching.
type AssembleRequest struct {
	Clips             []ClipRequest `json:"clips" validate:"required,min=1,dive"`
	WithTransitions   bool          `json:"with_transitions"`
	TransitionSeconds *float64      `json:"transition_seconds,omitempty" validate:"omitempty,gte=0"`
	// OutputPath is a relative name resolved under assembly.output_dir.
	OutputPath        string        `json:"output_path,omitempty"`
	Layout            string        `json:"layout,omitempty" validate:"omitempty,oneof=horizontal vertical grid"`
}

// AssembleResponse reports the produced file.
type AssembleResponse struct {
	OutputPath  string  `json:"output_path"`
	Duration    float64 `json:"duration"`
	Transitions int     `json:"transitions"`
	FellBack    bool    `json:"fell_back,omitempty"`
	Layout      string  `json:"layout,omitempty"`
}

// JobResponse wraps a single job.
type JobResponse struct {
	Job *jobstore.Job `json:"job"`
}

// JobListResponse wraps a job listing.
type JobListResponse struct {
	Jobs []*jobstore.Job `json:"jobs"`
}

// ConversationResponse wraps a single conversation.
type ConversationResponse struct {
	Conversation *jobstore.Conversation `json:"conversation"`
}

// ConversationListResponse wraps a conversation listing.
type ConversationListResponse struct {
	Conversations []*jobstore.Conversation `json:"conversations"`
}

// DialogueResponse lists a conversation's lines in sequence order.
type DialogueResponse struct {
	ConversationID string                  `json:"conversation_id"`
	Lines          []jobstore.DialogueLine `json:"lines"`
}

// ReviewListResponse lists review queue entries newest first.
type ReviewListResponse struct {
	Items []review.Item `json:"items"`
	Count int           `json:"count"`
}

// PersonaResponse wraps a single persona.
type PersonaResponse struct {
	Persona *jobstore.Persona `json:"persona"`
}

// PersonaListResponse wraps a persona listing.
type PersonaListResponse struct {
	Personas []*jobstore.Persona `json:"personas"`
}

// ActionResponse acknowledges an approve, reject or delete.
type ActionResponse struct {
	ID     string `json:"id"`
	Action string `json:"action"`
	OK     bool   `json:"ok"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// DependencyStatus captures availability of an external binary.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// CheckResult is one readiness probe outcome.
type CheckResult struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// HealthReport is the /health/ready body.
type HealthReport struct {
	Ready  bool          `json:"ready"`
	Checks []CheckResult `json:"checks"`
}

// DaemonStatus aggregates daemon runtime information.
type DaemonStatus struct {
	Running               bool               `json:"running"`
	PID                   int                `json:"pid"`
	Version               string             `json:"version,omitempty"`
	StartedAt             string             `json:"started_at,omitempty"`
	StoreBackend          string             `json:"store_backend"`
	AdmissionBackend      string             `json:"admission_backend,omitempty"`
	LockFilePath          string             `json:"lock_file_path"`
	JobsInFlight          int                `json:"jobs_in_flight"`
	ConversationsInFlight int                `json:"conversations_in_flight"`
	ReviewQueueLength     int                `json:"review_queue_length"`
	StatusCounts          map[string]int     `json:"status_counts"`
	Dependencies          []DependencyStatus `json:"dependencies"`
}
