package collaborators

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mediaforge/internal/config"
)

const (
	defaultHTTPTimeout = 10 * time.Minute
	userAgent          = "mediaforge/1.0"
)

// Config captures the runtime settings required to reach the producers.
type Config struct {
	BaseURL       string
	APIKey        string
	ScriptURL     string
	ImageURL      string
	SpeechURL     string
	RenderURL     string
	DialogueURL   string
	Timeout       time.Duration
	RetryAttempts int
}

// ConfigFromApp maps the [collaborators] section onto a client Config.
func ConfigFromApp(cfg *config.Config) Config {
	if cfg == nil {
		return Config{}
	}
	return Config{
		BaseURL:       cfg.Collaborators.BaseURL,
		APIKey:        cfg.Collaborators.APIKey,
		ScriptURL:     cfg.Collaborators.ScriptURL,
		ImageURL:      cfg.Collaborators.ImageURL,
		SpeechURL:     cfg.Collaborators.SpeechURL,
		RenderURL:     cfg.Collaborators.RenderURL,
		DialogueURL:   cfg.Collaborators.DialogueURL,
		Timeout:       cfg.CollaboratorTimeout(),
		RetryAttempts: cfg.Collaborators.RetryAttempts,
	}
}

// Client implements every producer contract over HTTP JSON.
type Client struct {
	cfg        Config
	httpClient *http.Client
	retry      retryPolicy
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRetryBackoff overrides the retry backoff delays.
func WithRetryBackoff(baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.retry.baseDelay = baseDelay
		c.retry.maxDelay = maxDelay
	}
}

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(c *Client) {
		c.retry.sleeper = sleeper
	}
}

// NewClient constructs a producer client.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	client := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		retry:      newRetryPolicy(cfg.RetryAttempts),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// ProduceScript calls the script producer.
func (c *Client) ProduceScript(ctx context.Context, req ScriptRequest) (Script, error) {
	var out Script
	if err := c.call(ctx, "script", c.cfg.ScriptURL, "script", req, &out); err != nil {
		return Script{}, err
	}
	out.Text = strings.TrimSpace(out.Text)
	if out.Text == "" {
		return Script{}, &emptyResultError{Op: "script", Field: "text"}
	}
	return out, nil
}

// ProduceImage calls the image producer.
func (c *Client) ProduceImage(ctx context.Context, req ImageRequest) (string, error) {
	var out struct {
		ImageRef string `json:"image_ref"`
	}
	if err := c.call(ctx, "image", c.cfg.ImageURL, "image", req, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.ImageRef) == "" {
		return "", &emptyResultError{Op: "image", Field: "image_ref"}
	}
	return out.ImageRef, nil
}

// Synthesize calls the speech producer.
func (c *Client) Synthesize(ctx context.Context, req SpeechRequest) (Audio, error) {
	var out Audio
	if err := c.call(ctx, "speech", c.cfg.SpeechURL, "speech", req, &out); err != nil {
		return Audio{}, err
	}
	if strings.TrimSpace(out.Ref) == "" {
		return Audio{}, &emptyResultError{Op: "speech", Field: "audio_ref"}
	}
	return out, nil
}

// Render calls the avatar render producer.
func (c *Client) Render(ctx context.Context, req RenderRequest) (Clip, error) {
	var out Clip
	if err := c.call(ctx, "render", c.cfg.RenderURL, "render", req, &out); err != nil {
		return Clip{}, err
	}
	if strings.TrimSpace(out.Ref) == "" {
		return Clip{}, &emptyResultError{Op: "render", Field: "clip_ref"}
	}
	return out, nil
}

// ProduceDialogue calls the dialogue producer. Blank turns are dropped.
func (c *Client) ProduceDialogue(ctx context.Context, req DialogueRequest) ([]DialogueTurn, error) {
	var out struct {
		Lines []DialogueTurn `json:"lines"`
	}
	if err := c.call(ctx, "dialogue", c.cfg.DialogueURL, "dialogue", req, &out); err != nil {
		return nil, err
	}
	turns := make([]DialogueTurn, 0, len(out.Lines))
	for _, turn := range out.Lines {
		turn.Actor = strings.TrimSpace(turn.Actor)
		turn.Text = strings.TrimSpace(turn.Text)
		if turn.Text == "" {
			continue
		}
		turns = append(turns, turn)
	}
	if len(turns) == 0 {
		return nil, &emptyResultError{Op: "dialogue", Field: "lines"}
	}
	return turns, nil
}

func (c *Client) endpoint(override, path string) (string, error) {
	if override = strings.TrimSpace(override); override != "" {
		return override, nil
	}
	if c.cfg.BaseURL == "" {
		return "", fmt.Errorf("%s producer: no endpoint configured (set collaborators.base_url)", path)
	}
	return url.JoinPath(c.cfg.BaseURL, path)
}

func (c *Client) call(ctx context.Context, op, override, path string, payload, out any) error {
	endpoint, err := c.endpoint(override, path)
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s request: encode body: %w", op, err)
	}
	return c.retry.do(ctx, op, func() error {
		return c.postOnce(ctx, op, endpoint, encoded, out)
	})
}

func (c *Client) postOnce(ctx context.Context, op, endpoint string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s request: new request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: http error (timeout=%s): %w", op, c.httpClient.Timeout, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s request: read body: %w", op, err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		retryAfter, _ := parseRetryAfter(resp.Header.Get("Retry-After"))
		return &httpStatusError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Body:       summarizePayloadSnippet(string(raw)),
			RetryAfter: retryAfter,
		}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s request: decode response (%s): %w", op, summarizePayloadSnippet(string(raw)), err)
	}
	return nil
}

type httpStatusError struct {
	Op         string
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("%s request: http %d: %s", e.Op, e.StatusCode, e.Body)
}

type emptyResultError struct {
	Op    string
	Field string
}

func (e *emptyResultError) Error() string {
	return fmt.Sprintf("%s: empty %s in response", e.Op, e.Field)
}

// IsEmptyResult reports whether err came from a producer returning no usable output.
func IsEmptyResult(err error) bool {
	var target *emptyResultError
	return errors.As(err, &target)
}

func summarizePayloadSnippet(content string) string {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "<empty>"
	}
	clean := strings.Join(strings.Fields(trimmed), " ")
	const limit = 160
	runes := []rune(clean)
	if len(runes) > limit {
		clean = string(runes[:limit]) + "..."
	}
	return clean
}
