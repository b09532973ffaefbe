// Package review exposes the queue of jobs and conversations waiting for
// approval. Entries are references only; status lives on the records.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"mediaforge/internal/jobstore"
	"mediaforge/internal/logging"
	"mediaforge/internal/services"
)

// Handler is what the queue needs from an orchestrator.
type Handler interface {
	Approve(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// Funcs adapts a pair of functions to Handler.
type Funcs struct {
	ApproveFunc func(ctx context.Context, id string) error
	DeleteFunc  func(ctx context.Context, id string) error
}

// Approve implements Handler.
func (f Funcs) Approve(ctx context.Context, id string) error { return f.ApproveFunc(ctx, id) }

// Delete implements Handler.
func (f Funcs) Delete(ctx context.Context, id string) error { return f.DeleteFunc(ctx, id) }

// Item is a queue entry joined with its record.
type Item struct {
	ID           string                 `json:"id"`
	Kind         jobstore.Kind          `json:"kind"`
	EnqueuedAt   string                 `json:"enqueued_at"`
	Title        string                 `json:"title"`
	Status       jobstore.Status        `json:"status"`
	Job          *jobstore.Job          `json:"job,omitempty"`
	Conversation *jobstore.Conversation `json:"conversation,omitempty"`
}

// Queue dispatches review actions to the owning orchestrator by kind.
type Queue struct {
	store    *jobstore.Store
	handlers map[jobstore.Kind]Handler
	logger   *slog.Logger
}

// New builds a queue. handlers maps record kinds to their orchestrator.
func New(store *jobstore.Store, handlers map[jobstore.Kind]Handler, logger *slog.Logger) *Queue {
	return &Queue{
		store:    store,
		handlers: handlers,
		logger:   logging.NewComponentLogger(logger, "review"),
	}
}

// List returns entries newest first, joined with their records. Entries whose
// record vanished are skipped.
func (q *Queue) List(ctx context.Context) ([]Item, error) {
	entries, err := q.store.ReviewEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("list review entries: %w", err)
	}
	items := make([]Item, 0, len(entries))
	for _, entry := range entries {
		item := Item{
			ID:         entry.ID,
			Kind:       entry.Kind,
			EnqueuedAt: entry.EnqueuedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		}
		switch entry.Kind {
		case jobstore.KindJob:
			job, err := q.store.GetJob(ctx, entry.ID)
			if errors.Is(err, services.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			item.Job, item.Title, item.Status = job, job.Input.Title, job.Status
		case jobstore.KindConversation:
			conv, err := q.store.GetConversation(ctx, entry.ID)
			if errors.Is(err, services.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			item.Conversation, item.Title, item.Status = conv, conv.Title, conv.Status
		default:
			q.logger.Warn("review entry has unknown kind",
				logging.String("id", entry.ID),
				logging.String("kind", string(entry.Kind)),
			)
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// Len returns the number of waiting entries.
func (q *Queue) Len(ctx context.Context) (int, error) {
	entries, err := q.store.ReviewEntries(ctx)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// Approve completes the record behind id.
func (q *Queue) Approve(ctx context.Context, id string) error {
	handler, err := q.handlerFor(ctx, id)
	if err != nil {
		return err
	}
	return handler.Approve(ctx, id)
}

// Reject deletes the record behind id.
func (q *Queue) Reject(ctx context.Context, id string) error {
	handler, err := q.handlerFor(ctx, id)
	if err != nil {
		return err
	}
	if err := handler.Delete(ctx, id); err != nil {
		return err
	}
	q.logger.Info("review entry rejected",
		logging.String("id", id),
		logging.String(logging.FieldEventType, "review_rejected"),
	)
	return nil
}

// handlerFor resolves the kind from the queue entry, falling back to the
// stored records so an already-approved id still reaches its orchestrator.
func (q *Queue) handlerFor(ctx context.Context, id string) (Handler, error) {
	kind, err := q.kindOf(ctx, id)
	if err != nil {
		return nil, err
	}
	handler, ok := q.handlers[kind]
	if !ok || handler == nil {
		return nil, fmt.Errorf("%w: no review handler for %s", services.ErrConfiguration, kind)
	}
	return handler, nil
}

func (q *Queue) kindOf(ctx context.Context, id string) (jobstore.Kind, error) {
	entries, err := q.store.ReviewEntries(ctx)
	if err != nil {
		return "", err
	}
	for _, entry := range entries {
		if entry.ID == id {
			return entry.Kind, nil
		}
	}
	if _, err := q.store.GetJob(ctx, id); err == nil {
		return jobstore.KindJob, nil
	} else if !errors.Is(err, services.ErrNotFound) {
		return "", err
	}
	if _, err := q.store.GetConversation(ctx, id); err == nil {
		return jobstore.KindConversation, nil
	} else if !errors.Is(err, services.ErrNotFound) {
		return "", err
	}
	return "", fmt.Errorf("%w: review item %s", services.ErrNotFound, id)
}
