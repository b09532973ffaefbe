package collaborators

import "context"

// ScriptRequest asks for narration text for one clip.
type ScriptRequest struct {
	Title          string `json:"title"`
	Description    string `json:"description"`
	Style          string `json:"style"`
	TargetDuration int    `json:"target_duration"`
}

// Script is the script producer's result.
type Script struct {
	Text             string  `json:"text"`
	SceneHint        string  `json:"scene_hint"`
	DurationEstimate float64 `json:"duration_estimate"`
}

// ImageRequest asks for one scene image. AvatarImage, when set, is composited
// into the scene by the producer.
type ImageRequest struct {
	SceneDescription string `json:"scene_description"`
	Style            string `json:"style"`
	AspectRatio      string `json:"aspect_ratio"`
	AvatarImage      string `json:"avatar_image,omitempty"`
}

// SpeechRequest asks for synthesized narration.
type SpeechRequest struct {
	Text  string  `json:"text"`
	Voice string  `json:"voice"`
	Speed float64 `json:"speed"`
}

// Audio is a synthesized audio artifact.
type Audio struct {
	Ref      string  `json:"audio_ref"`
	Duration float64 `json:"duration"`
}

// RenderRequest asks for an avatar clip driven by an image and audio track.
type RenderRequest struct {
	Prompt   string `json:"prompt"`
	ImageRef string `json:"image_ref"`
	AudioRef string `json:"audio_ref"`
}

// Clip is a rendered video artifact.
type Clip struct {
	Ref      string  `json:"clip_ref"`
	Duration float64 `json:"duration"`
}

// Speaker describes a persona to the dialogue producer.
type Speaker struct {
	Name        string `json:"name"`
	Personality string `json:"personality,omitempty"`
	Description string `json:"description,omitempty"`
}

// DialogueRequest asks for an ordered multi-actor exchange.
type DialogueRequest struct {
	Topic     string    `json:"topic"`
	Speakers  []Speaker `json:"speakers"`
	LineCount int       `json:"line_count"`
	Style     string    `json:"style"`
	Context   string    `json:"context,omitempty"`
}

// DialogueTurn is one returned line. The producer may return more or fewer
// turns than requested.
type DialogueTurn struct {
	Actor string `json:"actor"`
	Text  string `json:"text"`
}

// ScriptProducer turns a title and description into narration.
type ScriptProducer interface {
	ProduceScript(ctx context.Context, req ScriptRequest) (Script, error)
}

// ImageProducer renders a scene image and returns its reference.
type ImageProducer interface {
	ProduceImage(ctx context.Context, req ImageRequest) (string, error)
}

// SpeechProducer synthesizes speech.
type SpeechProducer interface {
	Synthesize(ctx context.Context, req SpeechRequest) (Audio, error)
}

// RenderProducer renders an avatar clip. Typically the slowest call.
type RenderProducer interface {
	Render(ctx context.Context, req RenderRequest) (Clip, error)
}

// DialogueProducer writes multi-actor dialogue.
type DialogueProducer interface {
	ProduceDialogue(ctx context.Context, req DialogueRequest) ([]DialogueTurn, error)
}

// ArticleFetcher extracts readable text from a source URL.
type ArticleFetcher interface {
	FetchArticle(ctx context.Context, url string) (string, error)
}
