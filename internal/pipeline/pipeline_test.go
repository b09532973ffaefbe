package pipeline_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mediaforge/internal/collaborators"
	"mediaforge/internal/config"
	"mediaforge/internal/jobstore"
	"mediaforge/internal/logging"
	"mediaforge/internal/pipeline"
	"mediaforge/internal/services"
	"mediaforge/internal/testsupport"
)

type fakeProducers struct {
	dir string

	mu            sync.Mutex
	scriptReqs    []collaborators.ScriptRequest
	speechReqs    []collaborators.SpeechRequest
	renderStarted chan string
	renderGate    chan struct{}
	renderErr     error
	activeRenders atomic.Int32
	peakRenders   atomic.Int32
}

func newFakeProducers(t *testing.T) *fakeProducers {
	t.Helper()
	return &fakeProducers{dir: t.TempDir(), renderStarted: make(chan string, 16)}
}

func (f *fakeProducers) producers() pipeline.Producers {
	return pipeline.Producers{Script: f, Image: f, Speech: f, Render: f}
}

func (f *fakeProducers) ProduceScript(_ context.Context, req collaborators.ScriptRequest) (collaborators.Script, error) {
	f.mu.Lock()
	f.scriptReqs = append(f.scriptReqs, req)
	f.mu.Unlock()
	return collaborators.Script{Text: "Narration for " + req.Title, SceneHint: "studio", DurationEstimate: 45}, nil
}

func (f *fakeProducers) ProduceImage(_ context.Context, req collaborators.ImageRequest) (string, error) {
	return "https://cdn.example.com/" + req.Style + ".png", nil
}

func (f *fakeProducers) Synthesize(_ context.Context, req collaborators.SpeechRequest) (collaborators.Audio, error) {
	f.mu.Lock()
	f.speechReqs = append(f.speechReqs, req)
	f.mu.Unlock()
	file, err := os.CreateTemp(f.dir, "speech-*.wav")
	if err != nil {
		return collaborators.Audio{}, err
	}
	_ = file.Close()
	return collaborators.Audio{Ref: file.Name(), Duration: 11.5}, nil
}

func (f *fakeProducers) Render(ctx context.Context, req collaborators.RenderRequest) (collaborators.Clip, error) {
	active := f.activeRenders.Add(1)
	defer f.activeRenders.Add(-1)
	for {
		peak := f.peakRenders.Load()
		if active <= peak || f.peakRenders.CompareAndSwap(peak, active) {
			break
		}
	}
	select {
	case f.renderStarted <- req.AudioRef:
	default:
	}
	if f.renderGate != nil {
		select {
		case <-f.renderGate:
		case <-ctx.Done():
			return collaborators.Clip{}, ctx.Err()
		}
	}
	if f.renderErr != nil {
		return collaborators.Clip{}, f.renderErr
	}
	return collaborators.Clip{Ref: filepath.Join(f.dir, "clip.mp4"), Duration: 11.5}, nil
}

type fakeArticles struct {
	text string
	err  error
}

func (a fakeArticles) FetchArticle(context.Context, string) (string, error) { return a.text, a.err }

func newOrchestrator(t *testing.T, cfg *config.Config, store *jobstore.Store, producers pipeline.Producers) *pipeline.Orchestrator {
	t.Helper()
	orch, err := pipeline.New(cfg, store, producers, logging.NewNop())
	if err != nil {
		t.Fatalf("pipeline.New failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = orch.Shutdown(ctx)
	})
	return orch
}

func TestSubmitRunsToReviewThenApprove(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	fakes := newFakeProducers(t)
	orch := newOrchestrator(t, cfg, store, fakes.producers())
	ctx := context.Background()

	pending, err := orch.Submit(ctx, jobstore.JobInput{Title: "Launch teaser", Description: "New product"}, pipeline.Options{})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if pending.Status != jobstore.StatusPending {
		t.Fatalf("expected pending snapshot, got %s", pending.Status)
	}
	orch.Wait()

	job, err := orch.Status(ctx, pending.ID)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if job.Status != jobstore.StatusQueuedForReview {
		t.Fatalf("expected queued_for_review, got %s (%s)", job.Status, job.Error)
	}
	if job.Progress != 100 {
		t.Fatalf("expected progress 100, got %d", job.Progress)
	}
	if job.Outputs.VideoRef == "" || job.Outputs.AudioRef == "" || job.Outputs.ImageRef == "" || job.Outputs.Script == "" {
		t.Fatalf("expected every stage output, got %#v", job.Outputs)
	}
	if job.Outputs.DurationEstimate != 45 {
		t.Fatalf("expected duration estimate 45, got %v", job.Outputs.DurationEstimate)
	}
	if job.Input.Style != cfg.Workflow.DefaultStyle || job.Input.DurationSeconds != cfg.Workflow.DefaultDurationSeconds {
		t.Fatalf("expected defaults applied, got %#v", job.Input)
	}
	entries, err := store.ReviewEntries(ctx)
	if err != nil || len(entries) != 1 || entries[0].ID != job.ID {
		t.Fatalf("expected one review entry for job, got %v (err=%v)", entries, err)
	}

	approved, err := orch.Approve(ctx, job.ID)
	if err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if approved.Status != jobstore.StatusCompleted || approved.CompletedAt == nil {
		t.Fatalf("expected completed with timestamp, got %#v", approved)
	}
	entries, err = store.ReviewEntries(ctx)
	if err != nil || len(entries) != 0 {
		t.Fatalf("expected empty review queue, got %v (err=%v)", entries, err)
	}
}

func TestRunWithAutoApproveCompletes(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithAutoApprove(true))
	store := testsupport.MustOpenStore(t, cfg)
	orch := newOrchestrator(t, cfg, store, newFakeProducers(t).producers())

	job, err := orch.Run(context.Background(), jobstore.JobInput{Title: "Recap"}, pipeline.Options{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if job.Status != jobstore.StatusCompleted || job.Progress != 100 || job.CompletedAt == nil {
		t.Fatalf("expected completed job, got %#v", job)
	}
	entries, _ := store.ReviewEntries(context.Background())
	if len(entries) != 0 {
		t.Fatalf("auto-approved job must not be queued, got %v", entries)
	}
}

func TestOptionsOverrideAutoApprove(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithAutoApprove(true))
	store := testsupport.MustOpenStore(t, cfg)
	orch := newOrchestrator(t, cfg, store, newFakeProducers(t).producers())

	review := false
	job, err := orch.Run(context.Background(), jobstore.JobInput{Title: "Recap"}, pipeline.Options{AutoApprove: &review})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if job.Status != jobstore.StatusQueuedForReview {
		t.Fatalf("expected review override, got %s", job.Status)
	}
}

func TestSubmitRejectsEmptyTitle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	orch := newOrchestrator(t, cfg, store, newFakeProducers(t).producers())

	_, err := orch.Submit(context.Background(), jobstore.JobInput{Title: "   "}, pipeline.Options{})
	if !errors.Is(err, services.ErrInput) {
		t.Fatalf("expected input error, got %v", err)
	}
	jobs, err := orch.List(context.Background(), pipeline.Filter{})
	if err != nil || len(jobs) != 0 {
		t.Fatalf("expected no persisted jobs, got %d (err=%v)", len(jobs), err)
	}
}

func TestStageFailureMarksJobFailed(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	fakes := newFakeProducers(t)
	fakes.renderErr = errors.New("avatar service returned 500")
	orch := newOrchestrator(t, cfg, store, fakes.producers())
	ctx := context.Background()

	job, err := orch.Run(ctx, jobstore.JobInput{Title: "Broken"}, pipeline.Options{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if job.Status != jobstore.StatusFailed {
		t.Fatalf("expected failed, got %s", job.Status)
	}
	if !strings.Contains(job.Error, "video") || !strings.Contains(job.Error, "avatar service returned 500") {
		t.Fatalf("expected stage and cause in error, got %q", job.Error)
	}
	if job.Progress != 50 {
		t.Fatalf("expected progress to stay at last milestone 50, got %d", job.Progress)
	}
	if job.Outputs.AudioRef == "" {
		t.Fatal("expected earlier outputs to be kept")
	}

	if _, err := orch.Approve(ctx, job.ID); !errors.Is(err, services.ErrState) {
		t.Fatalf("expected state error approving failed job, got %v", err)
	}
}

func TestApproveIsIdempotentAndChecksState(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithAutoApprove(true))
	store := testsupport.MustOpenStore(t, cfg)
	orch := newOrchestrator(t, cfg, store, newFakeProducers(t).producers())
	ctx := context.Background()

	job, err := orch.Run(ctx, jobstore.JobInput{Title: "Done"}, pipeline.Options{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	again, err := orch.Approve(ctx, job.ID)
	if err != nil {
		t.Fatalf("approve on completed should succeed: %v", err)
	}
	if again.Status != jobstore.StatusCompleted {
		t.Fatalf("unexpected status %s", again.Status)
	}
	if _, err := orch.Approve(ctx, "missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	inFlight := &jobstore.Job{ID: "in-flight", Status: jobstore.StatusAudioGen, Input: jobstore.JobInput{Title: "x"}}
	if err := store.PutJob(ctx, inFlight); err != nil {
		t.Fatalf("PutJob failed: %v", err)
	}
	if _, err := orch.Approve(ctx, inFlight.ID); !errors.Is(err, services.ErrState) {
		t.Fatalf("expected state error for in-flight job, got %v", err)
	}
}

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

// recordingBackend keeps the status sequence persisted for each job.
type recordingBackend struct {
	jobstore.Backend
	mu       sync.Mutex
	statuses map[string][]string
	failPut  string
}

func (r *recordingBackend) Put(ctx context.Context, rec jobstore.Record) error {
	r.mu.Lock()
	failing := r.failPut != "" && rec.Status == r.failPut
	r.mu.Unlock()
	if failing {
		return errors.New("disk full")
	}
	if err := r.Backend.Put(ctx, rec); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.statuses == nil {
		r.statuses = make(map[string][]string)
	}
	seen := r.statuses[rec.ID]
	if len(seen) == 0 || seen[len(seen)-1] != rec.Status {
		r.statuses[rec.ID] = append(seen, rec.Status)
	}
	return nil
}

func (r *recordingBackend) sequence(id string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.statuses[id], ",")
}

func (r *recordingBackend) failStatus(status jobstore.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failPut = string(status)
}

func TestPersistedStatusPath(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	base := testsupport.MustOpenStore(t, cfg)
	recording := &recordingBackend{Backend: base.Backend()}
	store := jobstore.New(recording)
	ctx := context.Background()

	t.Run("review then approve", func(t *testing.T) {
		orch := newOrchestrator(t, cfg, store, newFakeProducers(t).producers())
		job, err := orch.Run(ctx, jobstore.JobInput{Title: "Walkthrough"}, pipeline.Options{})
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if _, err := orch.Approve(ctx, job.ID); err != nil {
			t.Fatalf("Approve failed: %v", err)
		}
		want := "pending,scripting,image_gen,audio_gen,video_gen,queued_for_review,completed"
		if got := recording.sequence(job.ID); got != want {
			t.Fatalf("unexpected status path:\n got: %s\nwant: %s", got, want)
		}
	})

	t.Run("stage failure", func(t *testing.T) {
		fakes := newFakeProducers(t)
		fakes.renderErr = errors.New("render farm offline")
		orch := newOrchestrator(t, cfg, store, fakes.producers())
		job, err := orch.Run(ctx, jobstore.JobInput{Title: "Breaks late"}, pipeline.Options{})
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		want := "pending,scripting,image_gen,audio_gen,video_gen,failed"
		if got := recording.sequence(job.ID); got != want {
			t.Fatalf("unexpected status path:\n got: %s\nwant: %s", got, want)
		}
	})
}

func TestApproveWriteFailureKeepsReviewEntry(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	base := testsupport.MustOpenStore(t, cfg)
	recording := &recordingBackend{Backend: base.Backend()}
	store := jobstore.New(recording)
	orch := newOrchestrator(t, cfg, store, newFakeProducers(t).producers())
	ctx := context.Background()

	job, err := orch.Run(ctx, jobstore.JobInput{Title: "Fragile"}, pipeline.Options{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	recording.failStatus(jobstore.StatusCompleted)
	if _, err := orch.Approve(ctx, job.ID); err == nil {
		t.Fatal("expected approve to fail when the write fails")
	}
	current, err := orch.Status(ctx, job.ID)
	if err != nil || current.Status != jobstore.StatusQueuedForReview {
		t.Fatalf("expected job still queued, got %v (err=%v)", current, err)
	}
	entries, err := store.ReviewEntries(ctx)
	if err != nil || len(entries) != 1 || entries[0].ID != job.ID {
		t.Fatalf("expected review entry kept, got %v (err=%v)", entries, err)
	}

	recording.failStatus("")
	approved, err := orch.Approve(ctx, job.ID)
	if err != nil || approved.Status != jobstore.StatusCompleted {
		t.Fatalf("expected retry to complete, got %v (err=%v)", approved, err)
	}
	entries, _ = store.ReviewEntries(ctx)
	if len(entries) != 0 {
		t.Fatalf("expected empty review queue, got %v", entries)
	}
}

func TestRunCallerCancelDoesNotStopJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	fakes := newFakeProducers(t)
	fakes.renderGate = make(chan struct{})
	orch := newOrchestrator(t, cfg, store, fakes.producers())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-fakes.renderStarted
		cancel()
	}()
	job, err := orch.Run(ctx, jobstore.JobInput{Title: "Impatient caller"}, pipeline.Options{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if job == nil || job.Status != jobstore.StatusVideoGen {
		t.Fatalf("expected in-flight snapshot, got %v", job)
	}

	close(fakes.renderGate)
	orch.Wait()
	final, err := orch.Status(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if final.Status != jobstore.StatusQueuedForReview || final.Error != "" {
		t.Fatalf("expected run to finish unaffected, got %s %q", final.Status, final.Error)
	}
}

func TestConcurrentApprovalsDequeueOnce(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	base := testsupport.MustOpenStore(t, cfg)
	counting := &countingBackend{Backend: base.Backend()}
	store := jobstore.New(counting)
	orch := newOrchestrator(t, cfg, store, newFakeProducers(t).producers())
	ctx := context.Background()

	job, err := orch.Run(ctx, jobstore.JobInput{Title: "Contested"}, pipeline.Options{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if job.Status != jobstore.StatusQueuedForReview {
		t.Fatalf("expected queued_for_review, got %s", job.Status)
	}

	const approvers = 12
	var wg sync.WaitGroup
	errs := make(chan error, approvers)
	for range approvers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := orch.Approve(ctx, job.ID); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("approve failed: %v", err)
	}
	if got := counting.dequeued.Load(); got != 1 {
		t.Fatalf("expected exactly one dequeue, got %d", got)
	}
	final, err := orch.Status(ctx, job.ID)
	if err != nil || final.Status != jobstore.StatusCompleted {
		t.Fatalf("expected completed, got %v (err=%v)", final, err)
	}
}

func TestDeleteCancelsRunAndRemovesArtifacts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	fakes := newFakeProducers(t)
	fakes.renderGate = make(chan struct{})
	orch := newOrchestrator(t, cfg, store, fakes.producers())
	ctx := context.Background()

	job, err := orch.Submit(ctx, jobstore.JobInput{Title: "Doomed"}, pipeline.Options{})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	var audioRef string
	select {
	case audioRef = <-fakes.renderStarted:
	case <-time.After(5 * time.Second):
		t.Fatal("render never started")
	}
	if _, err := os.Stat(audioRef); err != nil {
		t.Fatalf("expected audio artifact on disk: %v", err)
	}

	if err := orch.Delete(ctx, job.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	orch.Wait()

	if _, err := orch.Status(ctx, job.ID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if _, err := os.Stat(audioRef); !os.IsNotExist(err) {
		t.Fatalf("expected audio artifact removed, stat err=%v", err)
	}
	if orch.InFlight() != 0 {
		t.Fatalf("expected no in-flight runs, got %d", orch.InFlight())
	}
	if err := orch.Delete(ctx, job.ID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestDeleteQueuedJobRemovesReviewEntry(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	orch := newOrchestrator(t, cfg, store, newFakeProducers(t).producers())
	ctx := context.Background()

	job, err := orch.Run(ctx, jobstore.JobInput{Title: "Queued"}, pipeline.Options{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if err := orch.Delete(ctx, job.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	entries, _ := store.ReviewEntries(ctx)
	if len(entries) != 0 {
		t.Fatalf("expected review entry removed, got %v", entries)
	}
}

func TestStageTimeoutFailsJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Workflow.StageTimeoutSeconds = 1
	store := testsupport.MustOpenStore(t, cfg)
	fakes := newFakeProducers(t)
	fakes.renderGate = make(chan struct{})
	orch := newOrchestrator(t, cfg, store, fakes.producers())

	job, err := orch.Run(context.Background(), jobstore.JobInput{Title: "Slow"}, pipeline.Options{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if job.Status != jobstore.StatusFailed {
		t.Fatalf("expected failed after timeout, got %s", job.Status)
	}
	if !strings.Contains(job.Error, "exceeded") {
		t.Fatalf("expected timeout in error, got %q", job.Error)
	}
}

func TestArticleEnrichment(t *testing.T) {
	cases := []struct {
		name       string
		articles   fakeArticles
		wantDesc   string
		wantSource string
	}{
		{"fetched", fakeArticles{text: "Full article body"}, "Full article body", "Full article body"},
		{"fallback", fakeArticles{err: errors.New("404")}, "short blurb", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testsupport.NewConfig(t, testsupport.WithAutoApprove(true))
			store := testsupport.MustOpenStore(t, cfg)
			fakes := newFakeProducers(t)
			producers := fakes.producers()
			producers.Articles = tc.articles
			orch := newOrchestrator(t, cfg, store, producers)

			job, err := orch.Run(context.Background(), jobstore.JobInput{
				Title:       "News",
				Description: "short blurb",
				SourceURL:   "https://news.example.com/story",
			}, pipeline.Options{})
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if job.Status != jobstore.StatusCompleted {
				t.Fatalf("expected completed, got %s (%s)", job.Status, job.Error)
			}
			if got := fakes.scriptReqs[0].Description; got != tc.wantDesc {
				t.Fatalf("script description = %q, want %q", got, tc.wantDesc)
			}
			if job.Outputs.SourceText != tc.wantSource {
				t.Fatalf("source text = %q, want %q", job.Outputs.SourceText, tc.wantSource)
			}
		})
	}
}

func TestPersonaSuppliesVoiceAndAvatar(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithAutoApprove(true))
	store := testsupport.MustOpenStore(t, cfg)
	fakes := newFakeProducers(t)
	orch := newOrchestrator(t, cfg, store, fakes.producers())
	ctx := context.Background()

	persona := testsupport.NewPersona(t, store, "Ava")
	job, err := orch.Run(ctx, jobstore.JobInput{Title: "Hosted", PersonaID: persona.ID}, pipeline.Options{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if job.Input.Voice != persona.VoiceStyle || job.Input.AvatarImage != persona.ImageRef {
		t.Fatalf("expected persona voice and avatar, got %#v", job.Input)
	}
	if fakes.speechReqs[0].Voice != persona.VoiceStyle {
		t.Fatalf("speech voice = %q, want %q", fakes.speechReqs[0].Voice, persona.VoiceStyle)
	}

	if _, err := orch.Submit(ctx, jobstore.JobInput{Title: "Ghost", PersonaID: "nobody"}, pipeline.Options{}); !errors.Is(err, services.ErrInput) {
		t.Fatalf("expected input error for unknown persona, got %v", err)
	}
}

func TestConcurrencyBoundedBySemaphore(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithAutoApprove(true))
	cfg.Workflow.MaxConcurrentJobs = 2
	store := testsupport.MustOpenStore(t, cfg)
	fakes := newFakeProducers(t)
	fakes.renderGate = make(chan struct{})
	orch := newOrchestrator(t, cfg, store, fakes.producers())
	ctx := context.Background()

	for i := range 5 {
		if _, err := orch.Submit(ctx, jobstore.JobInput{Title: "Batch " + string(rune('A'+i))}, pipeline.Options{}); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}
	for range 2 {
		select {
		case <-fakes.renderStarted:
		case <-time.After(5 * time.Second):
			t.Fatal("renders did not start")
		}
	}
	time.Sleep(50 * time.Millisecond)
	if peak := fakes.peakRenders.Load(); peak > 2 {
		t.Fatalf("expected at most 2 concurrent runs, saw %d", peak)
	}
	close(fakes.renderGate)
	orch.Wait()

	jobs, err := orch.List(ctx, pipeline.Filter{Statuses: []jobstore.Status{jobstore.StatusCompleted}})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(jobs) != 5 {
		t.Fatalf("expected 5 completed jobs, got %d", len(jobs))
	}
	if fakes.peakRenders.Load() > 2 {
		t.Fatalf("semaphore exceeded: peak %d", fakes.peakRenders.Load())
	}
}

func TestShutdownFailsInterruptedJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	fakes := newFakeProducers(t)
	fakes.renderGate = make(chan struct{})
	orch, err := pipeline.New(cfg, store, fakes.producers(), logging.NewNop())
	if err != nil {
		t.Fatalf("pipeline.New failed: %v", err)
	}
	ctx := context.Background()

	job, err := orch.Submit(ctx, jobstore.JobInput{Title: "Interrupted"}, pipeline.Options{})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	<-fakes.renderStarted

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := orch.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	final, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if final.Status != jobstore.StatusFailed || final.Error != jobstore.InterruptedReason {
		t.Fatalf("expected interrupted failure, got %s %q", final.Status, final.Error)
	}
	if _, err := orch.Submit(ctx, jobstore.JobInput{Title: "Late"}, pipeline.Options{}); !errors.Is(err, services.ErrState) {
		t.Fatalf("expected state error after shutdown, got %v", err)
	}
}
