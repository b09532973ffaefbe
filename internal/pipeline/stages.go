package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mediaforge/internal/collaborators"
	"mediaforge/internal/jobstore"
	"mediaforge/internal/logging"
	"mediaforge/internal/notifications"
	"mediaforge/internal/services"
)

// errDiscarded stops a run whose job disappeared between stages.
var errDiscarded = errors.New("job deleted during run")

// stageFunc calls one producer against a snapshot and returns a mutation to
// apply to the stored outputs.
type stageFunc func(ctx context.Context, job *jobstore.Job) (func(*jobstore.StageOutputs), error)

type stage struct {
	name     string
	status   jobstore.Status
	progress int
	run      stageFunc
}

func (o *Orchestrator) stages() []stage {
	return []stage{
		{name: "scripting", status: jobstore.StatusScripting, progress: 10, run: o.runScript},
		{name: "image", status: jobstore.StatusImageGen, progress: 30, run: o.runImage},
		{name: "audio", status: jobstore.StatusAudioGen, progress: 50, run: o.runSpeech},
		{name: "video", status: jobstore.StatusVideoGen, progress: 70, run: o.runRender},
	}
}

func (o *Orchestrator) execute(ctx context.Context, id string) {
	logger := logging.WithContext(ctx, o.logger)
	if err := o.sem.Acquire(ctx, 1); err != nil {
		o.fail(ctx, id, "queue", err)
		return
	}
	defer o.sem.Release(1)

	started := time.Now()
	for _, st := range o.stages() {
		if err := o.runStage(ctx, id, st); err != nil {
			if errors.Is(err, errDiscarded) {
				logger.Info("run stopped; job deleted",
					logging.String(logging.FieldStage, st.name),
					logging.String(logging.FieldEventType, "run_discarded"),
				)
				return
			}
			o.fail(ctx, id, st.name, err)
			return
		}
	}
	if err := o.finish(ctx, id); err != nil {
		if errors.Is(err, errDiscarded) {
			return
		}
		o.fail(ctx, id, "finalize", err)
		return
	}
	logger.Info("job finished",
		logging.String(logging.FieldEventType, "job_finished"),
		logging.Duration("elapsed", time.Since(started)),
	)
}

func (o *Orchestrator) runStage(ctx context.Context, id string, st stage) error {
	stageCtx := services.WithStage(ctx, st.name)
	logger := logging.WithContext(stageCtx, o.logger)

	snapshot, err := o.enter(stageCtx, id, st.status)
	if err != nil {
		return err
	}
	logger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("processing_status", string(st.status)),
	)
	started := time.Now()

	callCtx, cancel := o.stageContext(stageCtx)
	apply, err := st.run(callCtx, snapshot)
	cancel()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return o.interruption(ctx, id, ctxErr)
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return services.Wrap(services.ErrTimeout, st.name, "collaborator call",
				fmt.Sprintf("exceeded %s", o.cfg.StageTimeout()), err)
		}
		return err
	}

	job, err := o.commit(stageCtx, id, st.progress, apply)
	if err != nil {
		return err
	}
	logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Int(logging.FieldProgress, job.Progress),
		logging.Duration("stage_duration", time.Since(started)),
	)
	o.publish(stageCtx, notifications.EventStageProgress, job)
	return nil
}

// interruption distinguishes a delete (job gone) from a shutdown.
func (o *Orchestrator) interruption(ctx context.Context, id string, cause error) error {
	if _, err := o.store.GetJob(context.WithoutCancel(ctx), id); errors.Is(err, services.ErrNotFound) {
		return errDiscarded
	}
	return fmt.Errorf("%s: %w", jobstore.InterruptedReason, cause)
}

func (o *Orchestrator) stageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if timeout := o.cfg.StageTimeout(); timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

// enter records the stage transition under the job lock and returns a
// snapshot for the producer call.
func (o *Orchestrator) enter(ctx context.Context, id string, status jobstore.Status) (*jobstore.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, o.interruption(ctx, id, err)
	}
	unlock := o.store.Lock(id)
	defer unlock()

	job, err := o.store.GetJob(ctx, id)
	if errors.Is(err, services.ErrNotFound) {
		return nil, errDiscarded
	}
	if err != nil {
		return nil, fmt.Errorf("load job: %w", err)
	}
	if !jobstore.CanTransition(jobstore.KindJob, job.Status, status) {
		return nil, services.State("enter stage", "cannot move job from %s to %s", job.Status, status)
	}
	job.Status = status
	if err := o.store.PutJob(ctx, job); err != nil {
		return nil, fmt.Errorf("persist stage entry: %w", err)
	}
	return job.Clone(), nil
}

// commit applies producer output under the job lock. Output for a job deleted
// while the producer ran is dropped.
func (o *Orchestrator) commit(ctx context.Context, id string, progress int, apply func(*jobstore.StageOutputs)) (*jobstore.Job, error) {
	ctx = context.WithoutCancel(ctx)
	unlock := o.store.Lock(id)
	defer unlock()

	job, err := o.store.GetJob(ctx, id)
	if errors.Is(err, services.ErrNotFound) {
		var scratch jobstore.StageOutputs
		if apply != nil {
			apply(&scratch)
		}
		o.removeArtifacts(id, scratch.Artifacts())
		return nil, errDiscarded
	}
	if err != nil {
		return nil, fmt.Errorf("load job: %w", err)
	}
	if apply != nil {
		apply(&job.Outputs)
	}
	job.Progress = max(job.Progress, progress)
	if err := o.store.PutJob(ctx, job); err != nil {
		return nil, fmt.Errorf("persist stage output: %w", err)
	}
	return job.Clone(), nil
}

// finish moves a rendered job to completed or into the review queue.
func (o *Orchestrator) finish(ctx context.Context, id string) error {
	unlock := o.store.Lock(id)
	defer unlock()

	job, err := o.store.GetJob(ctx, id)
	if errors.Is(err, services.ErrNotFound) {
		return errDiscarded
	}
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}

	autoApprove := o.cfg.Workflow.AutoApprove
	if job.Input.AutoApprove != nil {
		autoApprove = *job.Input.AutoApprove
	}
	job.Progress = 100
	event := notifications.EventJobCompleted
	if autoApprove {
		now := time.Now().UTC()
		job.Status = jobstore.StatusCompleted
		job.CompletedAt = &now
	} else {
		job.Status = jobstore.StatusQueuedForReview
		event = notifications.EventJobQueuedForReview
	}
	if err := o.store.PutJob(ctx, job); err != nil {
		return fmt.Errorf("persist final status: %w", err)
	}
	if job.Status == jobstore.StatusQueuedForReview {
		if err := o.store.Enqueue(ctx, jobstore.KindJob, id); err != nil {
			return fmt.Errorf("enqueue for review: %w", err)
		}
	}
	logging.WithContext(ctx, o.logger).Info("job finalized",
		logging.Args(append(logging.DecisionAttrs("review", string(job.Status), fmt.Sprintf("auto_approve=%t", autoApprove)),
			logging.String(logging.FieldEventType, "stage_complete"),
		)...)...,
	)
	o.publish(ctx, event, job)
	return nil
}

// fail records the error on a job that is still in flight. Writes use a
// detached context so cancellation cannot drop the failure.
func (o *Orchestrator) fail(ctx context.Context, id, stageName string, cause error) {
	writeCtx := context.WithoutCancel(ctx)
	logger := logging.WithContext(services.WithStage(ctx, stageName), o.logger)

	unlock := o.store.Lock(id)
	job, err := o.store.GetJob(writeCtx, id)
	if err != nil {
		unlock()
		if !errors.Is(err, services.ErrNotFound) {
			logger.Error("failed to load job for failure", logging.Error(err))
		}
		return
	}
	if !job.Status.IsInFlight() {
		unlock()
		return
	}
	message := strings.TrimSpace(cause.Error())
	if ctx.Err() != nil && errors.Is(cause, context.Canceled) {
		message = jobstore.InterruptedReason
	}
	job.Status = jobstore.StatusFailed
	job.Error = message
	putErr := o.store.PutJob(writeCtx, job)
	unlock()

	logger.Error("stage failed",
		logging.String(logging.FieldEventType, "stage_failure"),
		logging.String(logging.FieldErrorKind, string(services.Kind(cause))),
		logging.String("error_message", message),
		logging.Alert("stage_failure"),
		logging.Error(cause),
	)
	if putErr != nil {
		logger.Error("failed to persist stage failure", logging.Error(putErr))
		return
	}
	o.publish(writeCtx, notifications.EventJobFailed, job)
}

func (o *Orchestrator) runScript(ctx context.Context, job *jobstore.Job) (func(*jobstore.StageOutputs), error) {
	source := o.enrich(ctx, job)
	description := job.Input.Description
	if source != "" {
		description = source
	}
	script, err := o.producers.Script.ProduceScript(ctx, collaborators.ScriptRequest{
		Title:          job.Input.Title,
		Description:    description,
		Style:          job.Input.Style,
		TargetDuration: job.Input.DurationSeconds,
	})
	if err != nil {
		return nil, services.Wrap(services.ErrCollaborator, "scripting", "produce script", "", err)
	}
	if strings.TrimSpace(script.Text) == "" {
		return nil, services.Wrap(services.ErrCollaborator, "scripting", "produce script", "empty script", nil)
	}
	return func(out *jobstore.StageOutputs) {
		out.SourceText = source
		out.Script = script.Text
		out.SceneHint = script.SceneHint
		out.DurationEstimate = script.DurationEstimate
	}, nil
}

// enrich fetches article text for inputs that point at a source URL. Failure
// falls back to the caller's description.
func (o *Orchestrator) enrich(ctx context.Context, job *jobstore.Job) string {
	url := strings.TrimSpace(job.Input.SourceURL)
	if url == "" || o.producers.Articles == nil || !o.cfg.Collaborators.FetchArticles {
		return ""
	}
	if job.Outputs.SourceText != "" {
		return job.Outputs.SourceText
	}
	text, err := o.producers.Articles.FetchArticle(ctx, url)
	if err != nil || strings.TrimSpace(text) == "" {
		logging.WarnWithContext(logging.WithContext(ctx, o.logger), "source article unavailable; using description", "article_fetch_failed",
			logging.String("source_url", url),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the source URL is reachable"),
		)
		return ""
	}
	return strings.TrimSpace(text)
}

func (o *Orchestrator) runImage(ctx context.Context, job *jobstore.Job) (func(*jobstore.StageOutputs), error) {
	scene := job.Outputs.SceneHint
	if strings.TrimSpace(scene) == "" {
		scene = job.Outputs.Script
	}
	ref, err := o.producers.Image.ProduceImage(ctx, collaborators.ImageRequest{
		SceneDescription: scene,
		Style:            job.Input.Style,
		AspectRatio:      job.Input.AspectRatio,
		AvatarImage:      job.Input.AvatarImage,
	})
	if err != nil {
		return nil, services.Wrap(services.ErrCollaborator, "image", "produce image", "", err)
	}
	if strings.TrimSpace(ref) == "" {
		return nil, services.Wrap(services.ErrCollaborator, "image", "produce image", "empty image reference", nil)
	}
	return func(out *jobstore.StageOutputs) { out.ImageRef = ref }, nil
}

func (o *Orchestrator) runSpeech(ctx context.Context, job *jobstore.Job) (func(*jobstore.StageOutputs), error) {
	audio, err := o.producers.Speech.Synthesize(ctx, collaborators.SpeechRequest{
		Text:  job.Outputs.Script,
		Voice: job.Input.Voice,
		Speed: job.Input.Speed,
	})
	if err != nil {
		return nil, services.Wrap(services.ErrCollaborator, "audio", "synthesize", "", err)
	}
	if strings.TrimSpace(audio.Ref) == "" {
		return nil, services.Wrap(services.ErrCollaborator, "audio", "synthesize", "empty audio reference", nil)
	}
	return func(out *jobstore.StageOutputs) {
		out.AudioRef = audio.Ref
		out.AudioDuration = audio.Duration
	}, nil
}

func (o *Orchestrator) runRender(ctx context.Context, job *jobstore.Job) (func(*jobstore.StageOutputs), error) {
	clip, err := o.producers.Render.Render(ctx, collaborators.RenderRequest{
		Prompt:   job.Outputs.SceneHint,
		ImageRef: job.Outputs.ImageRef,
		AudioRef: job.Outputs.AudioRef,
	})
	if err != nil {
		return nil, services.Wrap(services.ErrCollaborator, "video", "render", "", err)
	}
	if strings.TrimSpace(clip.Ref) == "" {
		return nil, services.Wrap(services.ErrCollaborator, "video", "render", "empty clip reference", nil)
	}
	return func(out *jobstore.StageOutputs) {
		out.VideoRef = clip.Ref
		out.VideoDuration = clip.Duration
	}, nil
}
