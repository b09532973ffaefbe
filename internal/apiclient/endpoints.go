package apiclient

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"mediaforge/internal/api"
	"mediaforge/internal/jobstore"
	"mediaforge/internal/personas"
	"mediaforge/internal/review"
)

// Status fetches /api/status.
func (c *Client) Status(ctx context.Context) (api.DaemonStatus, error) {
	var out api.DaemonStatus
	err := c.do(ctx, http.MethodGet, "/api/status", nil, nil, &out)
	return out, err
}

// Ready fetches /health/ready. A 503 reply still decodes into the report.
func (c *Client) Ready(ctx context.Context) (api.HealthReport, error) {
	resp, err := c.send(ctx, http.MethodGet, "/health/ready", nil, nil)
	if err != nil {
		return api.HealthReport{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return api.HealthReport{}, decodeError(resp)
	}
	var out api.HealthReport
	err = decodeBody(resp, http.MethodGet, "/health/ready", &out)
	return out, err
}

// SubmitJob creates a job. With wait the call blocks until the job is terminal.
func (c *Client) SubmitJob(ctx context.Context, req api.CreateJobRequest, wait bool) (*jobstore.Job, error) {
	var out api.JobResponse
	if err := c.do(ctx, http.MethodPost, "/api/jobs", waitQuery(wait), req, &out); err != nil {
		return nil, err
	}
	return out.Job, nil
}

// ListJobs lists jobs newest first, optionally filtered by status.
func (c *Client) ListJobs(ctx context.Context, statuses []jobstore.Status, limit int) ([]*jobstore.Job, error) {
	query := url.Values{}
	for _, s := range statuses {
		query.Add("status", string(s))
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var out api.JobListResponse
	if err := c.do(ctx, http.MethodGet, "/api/jobs", query, nil, &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

// GetJob fetches one job.
func (c *Client) GetJob(ctx context.Context, id string) (*jobstore.Job, error) {
	var out api.JobResponse
	if err := c.do(ctx, http.MethodGet, pathID("/api/jobs", id), nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Job, nil
}

// ApproveJob approves a job waiting for review.
func (c *Client) ApproveJob(ctx context.Context, id string) (*jobstore.Job, error) {
	var out api.JobResponse
	if err := c.do(ctx, http.MethodPost, pathID("/api/jobs", id, "approve"), nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Job, nil
}

// DeleteJob cancels and removes a job.
func (c *Client) DeleteJob(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, pathID("/api/jobs", id), nil, nil, nil)
}

// ListReview lists the review queue newest first.
func (c *Client) ListReview(ctx context.Context) ([]review.Item, error) {
	var out api.ReviewListResponse
	if err := c.do(ctx, http.MethodGet, "/api/review", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// ApproveReview approves the queued job or conversation behind id.
func (c *Client) ApproveReview(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, pathID("/api/review", id, "approve"), nil, nil, nil)
}

// RejectReview deletes the queued job or conversation behind id.
func (c *Client) RejectReview(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, pathID("/api/review", id, "reject"), nil, nil, nil)
}

// CreateConversation starts a conversation. With wait the call blocks until
// it is terminal.
func (c *Client) CreateConversation(ctx context.Context, req api.CreateConversationRequest, wait bool) (*jobstore.Conversation, error) {
	var out api.ConversationResponse
	if err := c.do(ctx, http.MethodPost, "/api/conversations", waitQuery(wait), req, &out); err != nil {
		return nil, err
	}
	return out.Conversation, nil
}

// ListConversations lists conversations newest first.
func (c *Client) ListConversations(ctx context.Context, limit int) ([]*jobstore.Conversation, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var out api.ConversationListResponse
	if err := c.do(ctx, http.MethodGet, "/api/conversations", query, nil, &out); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

// GetConversation fetches one conversation.
func (c *Client) GetConversation(ctx context.Context, id string) (*jobstore.Conversation, error) {
	var out api.ConversationResponse
	if err := c.do(ctx, http.MethodGet, pathID("/api/conversations", id), nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Conversation, nil
}

// Dialogue fetches a conversation's lines in sequence order.
func (c *Client) Dialogue(ctx context.Context, id string) ([]jobstore.DialogueLine, error) {
	var out api.DialogueResponse
	if err := c.do(ctx, http.MethodGet, pathID("/api/conversations", id, "dialogue"), nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Lines, nil
}

// ApproveConversation approves a conversation waiting for review.
func (c *Client) ApproveConversation(ctx context.Context, id string) (*jobstore.Conversation, error) {
	var out api.ConversationResponse
	if err := c.do(ctx, http.MethodPost, pathID("/api/conversations", id, "approve"), nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Conversation, nil
}

// DeleteConversation cancels and removes a conversation.
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, pathID("/api/conversations", id), nil, nil, nil)
}

// CreatePersona stores a persona.
func (c *Client) CreatePersona(ctx context.Context, input personas.Input) (*jobstore.Persona, error) {
	var out api.PersonaResponse
	if err := c.do(ctx, http.MethodPost, "/api/personas", nil, input, &out); err != nil {
		return nil, err
	}
	return out.Persona, nil
}

// ListPersonas lists personas, optionally only active ones.
func (c *Client) ListPersonas(ctx context.Context, activeOnly bool) ([]*jobstore.Persona, error) {
	var query url.Values
	if activeOnly {
		query = url.Values{"active": []string{"true"}}
	}
	var out api.PersonaListResponse
	if err := c.do(ctx, http.MethodGet, "/api/personas", query, nil, &out); err != nil {
		return nil, err
	}
	return out.Personas, nil
}

// GetPersona fetches one persona.
func (c *Client) GetPersona(ctx context.Context, id string) (*jobstore.Persona, error) {
	var out api.PersonaResponse
	if err := c.do(ctx, http.MethodGet, pathID("/api/personas", id), nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Persona, nil
}

// Assemble stitches or tiles existing clips.
func (c *Client) Assemble(ctx context.Context, req api.AssembleRequest) (api.AssembleResponse, error) {
	var out api.AssembleResponse
	err := c.do(ctx, http.MethodPost, "/api/assemble", nil, req, &out)
	return out, err
}
