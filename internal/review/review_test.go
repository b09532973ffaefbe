package review_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mediaforge/internal/jobstore"
	"mediaforge/internal/logging"
	"mediaforge/internal/review"
	"mediaforge/internal/services"
	"mediaforge/internal/testsupport"
)

type countingBackend struct {
	jobstore.Backend
	dequeued atomic.Int32
}

func (c *countingBackend) Dequeue(ctx context.Context, id string) (bool, error) {
	removed, err := c.Backend.Dequeue(ctx, id)
	if removed {
		c.dequeued.Add(1)
	}
	return removed, err
}

// approveUnderLock mirrors an orchestrator approval: lock, check, dequeue, persist.
func approveUnderLock(store *jobstore.Store) func(ctx context.Context, id string) error {
	return func(ctx context.Context, id string) error {
		unlock := store.Lock(id)
		defer unlock()
		job, err := store.GetJob(ctx, id)
		if err != nil {
			return err
		}
		switch job.Status {
		case jobstore.StatusCompleted:
			return nil
		case jobstore.StatusQueuedForReview:
		default:
			return services.State("approve", "job is %s", job.Status)
		}
		if _, err := store.Dequeue(ctx, id); err != nil {
			return err
		}
		job.Status = jobstore.StatusCompleted
		return store.PutJob(ctx, job)
	}
}

func deleteJob(store *jobstore.Store) func(ctx context.Context, id string) error {
	return func(ctx context.Context, id string) error {
		unlock := store.Lock(id)
		defer unlock()
		existed, err := store.DeleteJob(ctx, id)
		if err != nil {
			return err
		}
		if !existed {
			return services.ErrNotFound
		}
		return nil
	}
}

func seedQueuedJob(t *testing.T, store *jobstore.Store, id, title string) {
	t.Helper()
	ctx := context.Background()
	job := &jobstore.Job{ID: id, Status: jobstore.StatusQueuedForReview, Progress: 100, Input: jobstore.JobInput{Title: title}}
	if err := store.PutJob(ctx, job); err != nil {
		t.Fatalf("PutJob failed: %v", err)
	}
	if err := store.Enqueue(ctx, jobstore.KindJob, id); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
}

func TestListJoinsNewestFirst(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	seedQueuedJob(t, store, "job-old", "Older")
	time.Sleep(5 * time.Millisecond)
	conv := &jobstore.Conversation{ID: "conv-new", Title: "Panel", Status: jobstore.StatusQueuedForReview}
	if err := store.PutConversation(ctx, conv); err != nil {
		t.Fatalf("PutConversation failed: %v", err)
	}
	if err := store.Enqueue(ctx, jobstore.KindConversation, conv.ID); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	queue := review.New(store, nil, logging.NewNop())
	items, err := queue.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].ID != "conv-new" || items[0].Conversation == nil || items[0].Title != "Panel" {
		t.Fatalf("expected newest conversation first, got %#v", items[0])
	}
	if items[1].ID != "job-old" || items[1].Job == nil || items[1].Title != "Older" {
		t.Fatalf("expected job second, got %#v", items[1])
	}
	if n, err := queue.Len(ctx); err != nil || n != 2 {
		t.Fatalf("Len = %d (err=%v), want 2", n, err)
	}
}

func TestConcurrentApproveDequeuesOnce(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	base := testsupport.MustOpenStore(t, cfg)
	counting := &countingBackend{Backend: base.Backend()}
	store := jobstore.New(counting)
	seedQueuedJob(t, store, "job-1", "Contested")

	queue := review.New(store, map[jobstore.Kind]review.Handler{
		jobstore.KindJob: review.Funcs{ApproveFunc: approveUnderLock(store), DeleteFunc: deleteJob(store)},
	}, logging.NewNop())

	const n = 16
	var wg sync.WaitGroup
	var failures atomic.Int32
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := queue.Approve(context.Background(), "job-1"); err != nil {
				failures.Add(1)
			}
		}()
	}
	wg.Wait()

	if failures.Load() != 0 {
		t.Fatalf("expected every approval to succeed, %d failed", failures.Load())
	}
	if got := counting.dequeued.Load(); got != 1 {
		t.Fatalf("expected exactly one dequeue, got %d", got)
	}
	job, err := store.GetJob(context.Background(), "job-1")
	if err != nil || job.Status != jobstore.StatusCompleted {
		t.Fatalf("expected completed job, got %v (err=%v)", job, err)
	}
}

func TestRejectDeletesRecord(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	seedQueuedJob(t, store, "job-2", "Unwanted")
	ctx := context.Background()

	queue := review.New(store, map[jobstore.Kind]review.Handler{
		jobstore.KindJob: review.Funcs{ApproveFunc: approveUnderLock(store), DeleteFunc: deleteJob(store)},
	}, logging.NewNop())

	if err := queue.Reject(ctx, "job-2"); err != nil {
		t.Fatalf("Reject failed: %v", err)
	}
	if _, err := store.GetJob(ctx, "job-2"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected job removed, got %v", err)
	}
	if n, _ := queue.Len(ctx); n != 0 {
		t.Fatalf("expected empty queue, got %d", n)
	}
	if err := queue.Approve(ctx, "job-2"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found for rejected id, got %v", err)
	}
}

func TestApproveWithoutHandlerIsConfigurationError(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	seedQueuedJob(t, store, "job-3", "Orphan")

	queue := review.New(store, map[jobstore.Kind]review.Handler{}, logging.NewNop())
	if err := queue.Approve(context.Background(), "job-3"); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
