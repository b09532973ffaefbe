package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"mediaforge/internal/collaborators"
	"mediaforge/internal/config"
	"mediaforge/internal/fileutil"
	"mediaforge/internal/jobstore"
	"mediaforge/internal/logging"
	"mediaforge/internal/notifications"
	"mediaforge/internal/services"
)

// Producers bundles the collaborators a job calls. Articles is optional.
type Producers struct {
	Script   collaborators.ScriptProducer
	Image    collaborators.ImageProducer
	Speech   collaborators.SpeechProducer
	Render   collaborators.RenderProducer
	Articles collaborators.ArticleFetcher
}

// Options overrides per-submission behaviour.
type Options struct {
	// AutoApprove overrides workflow.auto_approve and the input's own flag.
	AutoApprove *bool
}

// Filter narrows List results.
type Filter struct {
	Statuses []jobstore.Status
	Limit    int
}

// Orchestrator owns job execution.
type Orchestrator struct {
	cfg       *config.Config
	store     *jobstore.Store
	producers Producers
	notifier  notifications.Service
	logger    *slog.Logger
	sem       *semaphore.Weighted

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu   sync.Mutex
	runs map[string]context.CancelFunc
	wg   sync.WaitGroup
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithNotifier sets the progress event sink.
func WithNotifier(notifier notifications.Service) Option {
	return func(o *Orchestrator) {
		if notifier != nil {
			o.notifier = notifier
		}
	}
}

// New builds an orchestrator.
func New(cfg *config.Config, store *jobstore.Store, producers Producers, logger *slog.Logger, opts ...Option) (*Orchestrator, error) {
	if cfg == nil || store == nil {
		return nil, errors.New("pipeline: config and store are required")
	}
	if producers.Script == nil || producers.Image == nil || producers.Speech == nil || producers.Render == nil {
		return nil, fmt.Errorf("pipeline: %w: script, image, speech, and render producers are required", services.ErrConfiguration)
	}
	limit := max(cfg.Workflow.MaxConcurrentJobs, 1)
	baseCtx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:        cfg,
		store:      store,
		producers:  producers,
		notifier:   notifications.NewService(cfg),
		logger:     logging.NewComponentLogger(logger, "pipeline"),
		sem:        semaphore.NewWeighted(int64(limit)),
		baseCtx:    baseCtx,
		baseCancel: cancel,
		runs:       make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Submit validates and persists a pending job, then runs it in the
// background. The returned snapshot is the pending job.
func (o *Orchestrator) Submit(ctx context.Context, input jobstore.JobInput, opts Options) (*jobstore.Job, error) {
	job, err := o.create(ctx, input, opts)
	if err != nil {
		return nil, err
	}
	o.start(job.ID)
	return job, nil
}

// Run is the synchronous Submit. It returns the job once it reaches
// completed, queued_for_review, or failed; a stage failure is reported through
// the job's status and error, not the returned error. It returns ErrNotFound
// when the job is deleted mid-run.
//
// ctx bounds only the wait. When it ends first, Run returns the latest
// snapshot together with ctx.Err() and the job keeps running.
func (o *Orchestrator) Run(ctx context.Context, input jobstore.JobInput, opts Options) (*jobstore.Job, error) {
	job, err := o.create(ctx, input, opts)
	if err != nil {
		return nil, err
	}
	done := o.start(job.ID)
	readCtx := context.WithoutCancel(ctx)
	select {
	case <-done:
		return o.Status(readCtx, job.ID)
	case <-ctx.Done():
		current, err := o.Status(readCtx, job.ID)
		if err != nil {
			return nil, err
		}
		return current, ctx.Err()
	}
}

// start launches the run for id. The returned channel closes when it returns.
func (o *Orchestrator) start(id string) <-chan struct{} {
	runCtx := o.register(id)
	done := make(chan struct{})
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer close(done)
		defer o.unregister(id)
		o.execute(runCtx, id)
	}()
	return done
}

// Status returns the current snapshot.
func (o *Orchestrator) Status(ctx context.Context, id string) (*jobstore.Job, error) {
	return o.store.GetJob(ctx, id)
}

// List returns jobs newest first.
func (o *Orchestrator) List(ctx context.Context, filter Filter) ([]*jobstore.Job, error) {
	return o.store.ListJobs(ctx, filter.Statuses, filter.Limit)
}

// Approve completes a job waiting for review. Approving a completed job is a
// no-op; failed and in-flight jobs cannot be approved.
func (o *Orchestrator) Approve(ctx context.Context, id string) (*jobstore.Job, error) {
	unlock := o.store.Lock(id)
	defer unlock()

	job, err := o.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	switch job.Status {
	case jobstore.StatusCompleted:
		if _, err := o.store.Dequeue(ctx, id); err != nil {
			return nil, fmt.Errorf("dequeue %s: %w", id, err)
		}
		return job, nil
	case jobstore.StatusQueuedForReview:
	default:
		return nil, services.State("approve", "job %s is %s", id, job.Status)
	}

	// The record moves first so a failed write leaves the job queued with
	// its entry intact; a leftover entry is cleared by the next approve.
	now := time.Now().UTC()
	job.Status = jobstore.StatusCompleted
	job.Progress = 100
	job.CompletedAt = &now
	if err := o.store.PutJob(ctx, job); err != nil {
		return nil, fmt.Errorf("persist approval: %w", err)
	}
	if _, err := o.store.Dequeue(ctx, id); err != nil {
		return nil, fmt.Errorf("dequeue %s: %w", id, err)
	}
	o.logger.Info("job approved",
		logging.String(logging.FieldJobID, id),
		logging.String(logging.FieldEventType, "job_approved"),
	)
	o.publish(ctx, notifications.EventJobCompleted, job)
	return job.Clone(), nil
}

// Delete removes a job in any state along with its review entry and local
// artifacts. An in-flight run is cancelled and its pending output discarded.
func (o *Orchestrator) Delete(ctx context.Context, id string) error {
	unlock := o.store.Lock(id)
	job, err := o.store.GetJob(ctx, id)
	if err != nil {
		unlock()
		return err
	}
	if _, err := o.store.DeleteJob(ctx, id); err != nil {
		unlock()
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	unlock()

	o.cancelRun(id)
	o.removeArtifacts(id, job.Outputs.Artifacts())
	o.logger.Info("job deleted",
		logging.String(logging.FieldJobID, id),
		logging.String("previous_status", string(job.Status)),
		logging.String(logging.FieldEventType, "job_deleted"),
	)
	return nil
}

// Wait blocks until every in-flight run returns.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Shutdown cancels in-flight runs and waits for them to unwind or for ctx to
// expire. Interrupted jobs are failed with the restart reason.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.baseCancel()
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) create(ctx context.Context, input jobstore.JobInput, opts Options) (*jobstore.Job, error) {
	if err := o.baseCtx.Err(); err != nil {
		return nil, services.State("submit", "pipeline is shutting down")
	}
	input, err := o.normalizeInput(ctx, input)
	if err != nil {
		return nil, err
	}
	if opts.AutoApprove != nil {
		v := *opts.AutoApprove
		input.AutoApprove = &v
	}
	job := &jobstore.Job{
		ID:     uuid.NewString(),
		Status: jobstore.StatusPending,
		Input:  input,
	}
	if err := o.store.PutJob(ctx, job); err != nil {
		return nil, fmt.Errorf("persist job: %w", err)
	}
	o.logger.Info("job submitted",
		logging.String(logging.FieldJobID, job.ID),
		logging.String("title", input.Title),
		logging.String(logging.FieldEventType, "job_submitted"),
	)
	return job.Clone(), nil
}

func (o *Orchestrator) normalizeInput(ctx context.Context, input jobstore.JobInput) (jobstore.JobInput, error) {
	input.Title = strings.TrimSpace(input.Title)
	if input.Title == "" {
		return input, services.Input("submit", "title is required")
	}
	if input.DurationSeconds < 0 {
		return input, services.Input("submit", "duration_seconds must be positive")
	}
	if input.Speed < 0 {
		return input, services.Input("submit", "speed must be positive")
	}
	wf := o.cfg.Workflow
	if strings.TrimSpace(input.Style) == "" {
		input.Style = wf.DefaultStyle
	}
	if input.DurationSeconds == 0 {
		input.DurationSeconds = wf.DefaultDurationSeconds
	}
	if strings.TrimSpace(input.AspectRatio) == "" {
		input.AspectRatio = wf.DefaultAspectRatio
	}
	if input.Speed == 0 {
		input.Speed = 1.0
	}
	if id := strings.TrimSpace(input.PersonaID); id != "" {
		persona, err := o.store.GetPersona(ctx, id)
		if errors.Is(err, services.ErrNotFound) {
			return input, services.Input("submit", "persona %s does not exist", id)
		}
		if err != nil {
			return input, fmt.Errorf("load persona %s: %w", id, err)
		}
		if !persona.Active {
			return input, services.Input("submit", "persona %s is inactive", id)
		}
		if input.Voice == "" {
			input.Voice = persona.VoiceStyle
		}
		if input.AvatarImage == "" {
			input.AvatarImage = persona.ImageRef
		}
	}
	if strings.TrimSpace(input.Voice) == "" {
		input.Voice = wf.DefaultVoice
	}
	return input, nil
}

func (o *Orchestrator) register(id string) context.Context {
	ctx, cancel := context.WithCancel(o.baseCtx)
	o.mu.Lock()
	o.runs[id] = cancel
	o.mu.Unlock()
	return services.WithJobID(ctx, id)
}

func (o *Orchestrator) unregister(id string) {
	o.mu.Lock()
	cancel, ok := o.runs[id]
	delete(o.runs, id)
	o.mu.Unlock()
	if ok {
		cancel()
	}
}

func (o *Orchestrator) cancelRun(id string) {
	o.mu.Lock()
	cancel, ok := o.runs[id]
	o.mu.Unlock()
	if ok {
		cancel()
	}
}

// InFlight reports how many runs are registered.
func (o *Orchestrator) InFlight() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.runs)
}

func (o *Orchestrator) removeArtifacts(id string, paths []string) {
	if len(paths) == 0 {
		return
	}
	removed, err := fileutil.RemoveArtifacts(paths)
	if err != nil {
		logging.WarnWithContext(o.logger, "artifact cleanup incomplete", "artifact_cleanup_failed",
			logging.String(logging.FieldJobID, id),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove leftover files manually"),
		)
		return
	}
	o.logger.Debug("artifacts removed", logging.String(logging.FieldJobID, id), logging.Int("count", removed))
}

func (o *Orchestrator) publish(ctx context.Context, event notifications.Event, job *jobstore.Job) {
	payload := notifications.Payload{
		"id":       job.ID,
		"title":    job.Input.Title,
		"stage":    string(job.Status),
		"progress": job.Progress,
		"error":    job.Error,
		"output":   job.Outputs.VideoRef,
	}
	if err := o.notifier.Publish(context.WithoutCancel(ctx), event, payload); err != nil {
		o.logger.Debug("progress event not delivered",
			logging.String(logging.FieldJobID, job.ID),
			logging.String("event", string(event)),
			logging.Error(err),
		)
	}
}
