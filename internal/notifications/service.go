package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"mediaforge/internal/config"
)

const userAgent = "mediaforge/0.1.0"

// Event names a pipeline milestone.
type Event string

const (
	EventStageProgress         Event = "stage_progress"
	EventJobCompleted          Event = "job_completed"
	EventJobQueuedForReview    Event = "job_queued_for_review"
	EventJobFailed             Event = "job_failed"
	EventConversationCompleted Event = "conversation_completed"
	EventConversationQueued    Event = "conversation_queued_for_review"
	EventConversationFailed    Event = "conversation_failed"
	EventTest                  Event = "test"
)

// Payload carries event fields. Known keys: id, title, stage, progress,
// error, output.
type Payload map[string]any

// Service publishes events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds an ntfy-backed service, or a no-op when no topic is set.
func NewService(cfg *config.Config) Service {
	if cfg == nil || strings.TrimSpace(cfg.Notifications.NtfyTopic) == "" {
		return noopService{}
	}
	return &ntfyService{
		endpoint:    strings.TrimSpace(cfg.Notifications.NtfyTopic),
		client:      &http.Client{Timeout: cfg.NotificationTimeout()},
		stageEvents: cfg.Notifications.StageEvents,
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint    string
	client      *http.Client
	stageEvents bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	msg, ok := n.format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func (n *ntfyService) format(event Event, payload Payload) (message, bool) {
	title := payload.str("title")
	switch event {
	case EventStageProgress:
		if !n.stageEvents {
			return message{}, false
		}
		return message{
			title:    "mediaforge - Progress",
			body:     fmt.Sprintf("%s: %s (%v%%)", title, payload.str("stage"), payload["progress"]),
			tags:     []string{"mediaforge", "progress"},
			priority: "low",
		}, true
	case EventJobCompleted:
		return message{
			title: "mediaforge - Job Complete",
			body:  fmt.Sprintf("Job complete: %s", title),
			tags:  []string{"mediaforge", "job", "completed"},
		}, true
	case EventJobQueuedForReview, EventConversationQueued:
		return message{
			title: "mediaforge - Review Needed",
			body:  fmt.Sprintf("Awaiting review: %s\nApprove with: mediaforge review approve %s", title, payload.str("id")),
			tags:  []string{"mediaforge", "review"},
		}, true
	case EventConversationCompleted:
		body := fmt.Sprintf("Conversation complete: %s", title)
		if output := payload.str("output"); output != "" {
			body += "\nFile: " + output
		}
		return message{
			title: "mediaforge - Conversation Complete",
			body:  body,
			tags:  []string{"mediaforge", "conversation", "completed"},
		}, true
	case EventJobFailed, EventConversationFailed:
		label := "Job"
		if event == EventConversationFailed {
			label = "Conversation"
		}
		return message{
			title:    "mediaforge - Failed",
			body:     fmt.Sprintf("%s failed: %s\n%s", label, title, payload.str("error")),
			tags:     []string{"mediaforge", "error", "alert"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "mediaforge - Test",
			body:     "Notification system test",
			tags:     []string{"mediaforge", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (p Payload) str(key string) string {
	if p == nil {
		return ""
	}
	switch v := p[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	default:
		return fmt.Sprint(v)
	}
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
