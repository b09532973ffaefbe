package jobstore

import (
	"slices"
	"time"
)

// Kind identifies the record family stored under an id.
type Kind string

const (
	KindJob          Kind = "job"
	KindConversation Kind = "conversation"
	KindPersona      Kind = "persona"
)

// Status represents the lifecycle of a job or conversation.
type Status string

const (
	StatusPending         Status = "pending"
	StatusScripting       Status = "scripting"
	StatusImageGen        Status = "image_gen"
	StatusAudioGen        Status = "audio_gen"
	StatusVideoGen        Status = "video_gen"
	StatusAssembling      Status = "assembling"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
	StatusQueuedForReview Status = "queued_for_review"
)

// InterruptedReason is recorded on records that were in flight when the daemon stopped.
const InterruptedReason = "interrupted by restart"

var allStatuses = []Status{
	StatusPending,
	StatusScripting,
	StatusImageGen,
	StatusAudioGen,
	StatusVideoGen,
	StatusAssembling,
	StatusCompleted,
	StatusFailed,
	StatusQueuedForReview,
}

var inFlightStatuses = map[Status]struct{}{
	StatusPending:    {},
	StatusScripting:  {},
	StatusImageGen:   {},
	StatusAudioGen:   {},
	StatusVideoGen:   {},
	StatusAssembling: {},
}

// jobTransitions lists every legal forward edge for a job. Failure edges are
// derived from inFlightStatuses.
var jobTransitions = map[Status][]Status{
	StatusPending:         {StatusScripting},
	StatusScripting:       {StatusImageGen},
	StatusImageGen:        {StatusAudioGen},
	StatusAudioGen:        {StatusVideoGen},
	StatusVideoGen:        {StatusCompleted, StatusQueuedForReview},
	StatusQueuedForReview: {StatusCompleted},
}

var conversationTransitions = map[Status][]Status{
	StatusPending:         {StatusScripting},
	StatusScripting:       {StatusAudioGen},
	StatusAudioGen:        {StatusVideoGen},
	StatusVideoGen:        {StatusAssembling, StatusCompleted, StatusQueuedForReview},
	StatusAssembling:      {StatusCompleted, StatusQueuedForReview},
	StatusQueuedForReview: {StatusCompleted},
}

// AllStatuses returns every known status value.
func AllStatuses() []Status {
	return slices.Clone(allStatuses)
}

// ParseStatus converts a raw string into a Status.
func ParseStatus(value string) (Status, bool) {
	status := Status(value)
	if slices.Contains(allStatuses, status) {
		return status, true
	}
	return "", false
}

// IsTerminal reports whether no further transition can leave the status.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsInFlight reports whether an orchestrator is still producing output.
func (s Status) IsInFlight() bool {
	_, ok := inFlightStatuses[s]
	return ok
}

// CanTransition reports whether a record of the given kind may move from one
// status to another. Failure is reachable from every in-flight status.
func CanTransition(kind Kind, from, to Status) bool {
	if to == StatusFailed {
		return from.IsInFlight()
	}
	var table map[Status][]Status
	switch kind {
	case KindJob:
		table = jobTransitions
	case KindConversation:
		table = conversationTransitions
	default:
		return false
	}
	return slices.Contains(table[from], to)
}

// JobInput captures what a caller asked a job to produce.
type JobInput struct {
	Title           string  `json:"title"`
	Description     string  `json:"description,omitempty"`
	SourceURL       string  `json:"source_url,omitempty"`
	Style           string  `json:"style,omitempty"`
	DurationSeconds int     `json:"duration_seconds,omitempty"`
	AspectRatio     string  `json:"aspect_ratio,omitempty"`
	Voice           string  `json:"voice,omitempty"`
	Speed           float64 `json:"speed,omitempty"`
	AvatarImage     string  `json:"avatar_image,omitempty"`
	PersonaID       string  `json:"persona_id,omitempty"`
	AutoApprove     *bool   `json:"auto_approve,omitempty"`
}

// StageOutputs holds the artifact references produced so far.
type StageOutputs struct {
	SourceText       string  `json:"source_text,omitempty"`
	Script           string  `json:"script,omitempty"`
	SceneHint        string  `json:"scene_hint,omitempty"`
	DurationEstimate float64 `json:"duration_estimate,omitempty"`
	ImageRef         string  `json:"image_ref,omitempty"`
	AudioRef         string  `json:"audio_ref,omitempty"`
	AudioDuration    float64 `json:"audio_duration,omitempty"`
	VideoRef         string  `json:"video_ref,omitempty"`
	VideoDuration    float64 `json:"video_duration,omitempty"`
}

// Artifacts lists the file references owned by the job.
func (o StageOutputs) Artifacts() []string {
	var refs []string
	for _, ref := range []string{o.ImageRef, o.AudioRef, o.VideoRef} {
		if ref != "" {
			refs = append(refs, ref)
		}
	}
	return refs
}

// Job is one single-clip pipeline execution.
type Job struct {
	ID          string       `json:"id"`
	Status      Status       `json:"status"`
	Progress    int          `json:"progress"`
	Input       JobInput     `json:"input"`
	Outputs     StageOutputs `json:"stage_outputs"`
	Error       string       `json:"error,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}

// Clone returns a deep copy safe to hand to other goroutines.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	if j.Input.AutoApprove != nil {
		v := *j.Input.AutoApprove
		cp.Input.AutoApprove = &v
	}
	if j.CompletedAt != nil {
		ts := *j.CompletedAt
		cp.CompletedAt = &ts
	}
	return &cp
}

// DialogueLine is one actor utterance within a conversation.
type DialogueLine struct {
	Sequence      int     `json:"sequence"`
	ActorRef      string  `json:"actor_ref"`
	ActorName     string  `json:"actor_name"`
	Text          string  `json:"text"`
	AudioRef      string  `json:"audio_ref,omitempty"`
	AudioDuration float64 `json:"audio_duration,omitempty"`
	ClipRef       string  `json:"clip_ref,omitempty"`
	ClipDuration  float64 `json:"clip_duration,omitempty"`
}

// Done reports whether the line has a rendered clip.
func (l DialogueLine) Done() bool {
	return l.ClipRef != ""
}

// Conversation is the parent record of a multi-actor run.
type Conversation struct {
	ID                string         `json:"id"`
	Title             string         `json:"title"`
	Topic             string         `json:"topic"`
	Context           string         `json:"context,omitempty"`
	StyleTag          string         `json:"style"`
	ActorRefs         []string       `json:"actor_refs"`
	ExpectedLineCount int            `json:"expected_line_count"`
	LineCount         int            `json:"line_count"`
	Stitch            bool           `json:"stitch"`
	WithTransitions   bool           `json:"with_transitions"`
	Status            Status         `json:"status"`
	Progress          int            `json:"progress"`
	Lines             []DialogueLine `json:"lines,omitempty"`
	FinalMediaPath    string         `json:"final_media_path,omitempty"`
	FinalDuration     float64        `json:"final_duration,omitempty"`
	FellBack          bool           `json:"assembly_fell_back,omitempty"`
	Error             string         `json:"error,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	CompletedAt       *time.Time     `json:"completed_at,omitempty"`
}

// Clone returns a deep copy safe to hand to other goroutines.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	cp := *c
	cp.ActorRefs = slices.Clone(c.ActorRefs)
	cp.Lines = slices.Clone(c.Lines)
	if c.CompletedAt != nil {
		ts := *c.CompletedAt
		cp.CompletedAt = &ts
	}
	return &cp
}

// Artifacts lists the file references owned by the conversation.
func (c *Conversation) Artifacts() []string {
	var refs []string
	for _, line := range c.Lines {
		if line.AudioRef != "" {
			refs = append(refs, line.AudioRef)
		}
		if line.ClipRef != "" {
			refs = append(refs, line.ClipRef)
		}
	}
	if c.FinalMediaPath != "" && !slices.Contains(refs, c.FinalMediaPath) {
		refs = append(refs, c.FinalMediaPath)
	}
	return refs
}

// Persona is a reusable actor identity with a voice and avatar image.
type Persona struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	Personality string    `json:"personality,omitempty" yaml:"personality"`
	Description string    `json:"description,omitempty" yaml:"description"`
	VoiceStyle  string    `json:"voice_style,omitempty" yaml:"voice_style"`
	ImageRef    string    `json:"image_ref,omitempty" yaml:"image_ref"`
	AvatarStyle string    `json:"avatar_style,omitempty" yaml:"avatar_style"`
	Active      bool      `json:"active" yaml:"active"`
	CreatedAt   time.Time `json:"created_at" yaml:"-"`
	UpdatedAt   time.Time `json:"updated_at" yaml:"-"`
}

// QueueEntry references a record awaiting review approval.
type QueueEntry struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Record is the untyped snapshot a Backend persists.
type Record struct {
	Kind      Kind
	ID        string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
	Payload   []byte
}

// Query filters Backend.List results. Results are ordered newest first.
type Query struct {
	Kind     Kind
	Statuses []string
	Limit    int
}
