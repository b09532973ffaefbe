package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"mediaforge/internal/admission"
	"mediaforge/internal/api"
	"mediaforge/internal/assembly"
	"mediaforge/internal/collaborators"
	"mediaforge/internal/config"
	"mediaforge/internal/conversation"
	"mediaforge/internal/jobstore"
	"mediaforge/internal/logging"
	"mediaforge/internal/notifications"
	"mediaforge/internal/personas"
	"mediaforge/internal/pipeline"
	"mediaforge/internal/review"
)

const shutdownTimeout = 30 * time.Second

// Producers is every collaborator contract the orchestrators call.
// *collaborators.Client satisfies it.
type Producers interface {
	collaborators.ScriptProducer
	collaborators.ImageProducer
	collaborators.SpeechProducer
	collaborators.RenderProducer
	collaborators.DialogueProducer
}

// Daemon coordinates the background services and enforces single-instance execution.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	version string

	store *jobstore.Store
	jobs  *pipeline.Orchestrator
	convs *conversation.Orchestrator
	review *review.Queue
	gate   *admission.Controller
	server *api.Server

	lockPath string
	lock     *flock.Flock

	running   atomic.Bool
	startedAt time.Time
}

type options struct {
	producers Producers
	articles  collaborators.ArticleFetcher
	assembler *assembly.Assembler
	notifier  notifications.Service
	version   string
}

// Option customizes daemon construction.
type Option func(*options)

// WithProducers replaces the HTTP collaborator client.
func WithProducers(p Producers) Option {
	return func(o *options) { o.producers = p }
}

// WithArticleFetcher replaces the HTML article fetcher.
func WithArticleFetcher(f collaborators.ArticleFetcher) Option {
	return func(o *options) { o.articles = f }
}

// WithAssembler replaces the ffmpeg-backed assembler.
func WithAssembler(a *assembly.Assembler) Option {
	return func(o *options) { o.assembler = a }
}

// WithNotifier replaces the config-derived notification service.
func WithNotifier(n notifications.Service) Option {
	return func(o *options) { o.notifier = n }
}

// WithVersion sets the version string reported by /api/status.
func WithVersion(version string) Option {
	return func(o *options) { o.version = version }
}

// New opens the store and wires every service. The daemon owns the store and
// releases it in Close.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	store, err := jobstore.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	d, err := build(ctx, cfg, store, logger, o)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return d, nil
}

func build(ctx context.Context, cfg *config.Config, store *jobstore.Store, logger *slog.Logger, o options) (*Daemon, error) {
	logger = logging.NewComponentLogger(logger, "daemon")

	recovered, err := store.RecoverInterrupted(ctx)
	if err != nil {
		return nil, fmt.Errorf("recover interrupted records: %w", err)
	}
	if recovered > 0 {
		logging.WarnWithContext(logger, "marked interrupted records failed", "interrupted_recovered",
			logging.Int("count", recovered),
			logging.String(logging.FieldErrorHint, "resubmit the affected jobs or conversations"),
		)
	}

	personaSvc := personas.NewService(store, logger)
	if seeded, err := personaSvc.SeedFile(ctx, cfg.Personas.CatalogPath); err != nil {
		return nil, fmt.Errorf("seed personas: %w", err)
	} else if seeded > 0 {
		logger.Info("persona catalog seeded",
			logging.String(logging.FieldEventType, "persona_catalog_seeded"),
			logging.Int("count", seeded),
			logging.String("path", cfg.Personas.CatalogPath),
		)
	}

	producers := o.producers
	if producers == nil {
		producers = collaborators.NewClient(collaborators.ConfigFromApp(cfg))
	}
	articles := o.articles
	if articles == nil && cfg.Collaborators.FetchArticles {
		articles = collaborators.NewHTMLFetcher(nil)
	}
	assembler := o.assembler
	if assembler == nil {
		assembler = assembly.New(cfg, logger)
	}
	notifier := o.notifier
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}

	jobs, err := pipeline.New(cfg, store, pipeline.Producers{
		Script:   producers,
		Image:    producers,
		Speech:   producers,
		Render:   producers,
		Articles: articles,
	}, logger, pipeline.WithNotifier(notifier))
	if err != nil {
		return nil, err
	}
	convs, err := conversation.New(cfg, store, conversation.Producers{
		Dialogue: producers,
		Speech:   producers,
		Render:   producers,
	}, assembler, logger, conversation.WithNotifier(notifier))
	if err != nil {
		return nil, err
	}

	queue := review.New(store, map[jobstore.Kind]review.Handler{
		jobstore.KindJob: review.Funcs{
			ApproveFunc: func(ctx context.Context, id string) error {
				_, err := jobs.Approve(ctx, id)
				return err
			},
			DeleteFunc: jobs.Delete,
		},
		jobstore.KindConversation: review.Funcs{
			ApproveFunc: func(ctx context.Context, id string) error {
				_, err := convs.Approve(ctx, id)
				return err
			},
			DeleteFunc: convs.Delete,
		},
	}, logger)

	gate, err := admission.FromConfig(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	lockPath := LockPath(cfg.Paths.LogDir)
	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		version:  o.version,
		store:    store,
		jobs:     jobs,
		convs:    convs,
		review:   queue,
		gate:     gate,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}

	server, err := api.NewServer(cfg, api.Services{
		Jobs:          jobs,
		Conversations: convs,
		Review:        queue,
		Personas:      personaSvc,
		Assembler:     assembler,
		Reporter:      d,
	}, gate, logger)
	if err != nil {
		_ = gate.Close()
		return nil, err
	}
	d.server = server
	return d, nil
}

// Start acquires the daemon lock and begins serving the API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another mediaforge daemon instance is already running")
	}

	if err := d.server.Start(ctx); err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("start api server: %w", err)
	}

	d.startedAt = time.Now().UTC()
	d.running.Store(true)
	d.logger.Info("mediaforge daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.String("address", d.server.Addr()),
		logging.String("store_backend", d.cfg.Store.Backend),
	)
	return nil
}

// Stop stops serving and releases the daemon lock. In-flight runs keep going
// until Close.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.server.Stop()
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "daemon_lock_release_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove "+d.lockPath+" if the next start reports a running instance"),
		)
	}
	d.running.Store(false)
	d.logger.Info("mediaforge daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close stops the daemon, interrupts in-flight runs and releases the store
// and admission backend.
func (d *Daemon) Close() error {
	d.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := d.jobs.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown jobs: %w", err))
	}
	if err := d.convs.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown conversations: %w", err))
	}
	if err := d.gate.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close admission backend: %w", err))
	}
	if err := d.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}

// Addr returns the bound API address once started.
func (d *Daemon) Addr() string {
	return d.server.Addr()
}

// Handler exposes the API router, mainly for in-process tests.
func (d *Daemon) Handler() http.Handler {
	return d.server.Handler()
}

// LockPath returns the lock file this daemon holds while running.
func (d *Daemon) LockPath() string {
	return d.lockPath
}

// Status implements api.StatusReporter.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	status := api.DaemonStatus{
		Running:               d.running.Load(),
		PID:                   os.Getpid(),
		Version:               d.version,
		StoreBackend:          d.cfg.Store.Backend,
		LockFilePath:          d.lockPath,
		JobsInFlight:          d.jobs.InFlight(),
		ConversationsInFlight: d.convs.InFlight(),
		StatusCounts:          d.statusCounts(ctx),
	}
	if !d.startedAt.IsZero() {
		status.StartedAt = d.startedAt.Format(time.RFC3339)
	}
	if d.gate != nil {
		status.AdmissionBackend = d.cfg.Admission.Backend
	}
	if n, err := d.review.Len(ctx); err == nil {
		status.ReviewQueueLength = n
	} else {
		logging.WarnWithContext(d.logger, "review queue length unavailable", "status_review_len_failed", logging.Error(err))
	}
	for _, dep := range preflightDeps(d.cfg) {
		status.Dependencies = append(status.Dependencies, api.DependencyStatus{
			Name:        dep.Name,
			Command:     dep.Command,
			Description: dep.Description,
			Optional:    dep.Optional,
			Available:   dep.Available,
			Detail:      dep.Detail,
		})
	}
	return status
}

// statusCounts keys are "<kind>.<status>", for example "job.completed".
func (d *Daemon) statusCounts(ctx context.Context) map[string]int {
	counts := make(map[string]int)
	jobs, err := d.store.ListJobs(ctx, nil, 0)
	if err != nil {
		logging.WarnWithContext(d.logger, "job counts unavailable", "status_counts_failed", logging.Error(err))
	}
	for _, job := range jobs {
		counts[string(jobstore.KindJob)+"."+string(job.Status)]++
	}
	convs, err := d.store.ListConversations(ctx, nil, 0)
	if err != nil {
		logging.WarnWithContext(d.logger, "conversation counts unavailable", "status_counts_failed", logging.Error(err))
	}
	for _, conv := range convs {
		counts[string(jobstore.KindConversation)+"."+string(conv.Status)]++
	}
	return counts
}

// PIDPath returns where mediaforged records its process id.
func PIDPath(logDir string) string {
	return filepath.Join(logDir, "mediaforged.pid")
}

// LockPath returns the single-instance lock file location under logDir.
func LockPath(logDir string) string {
	return filepath.Join(logDir, "mediaforged.lock")
}
