package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"mediaforge/internal/collaborators"
	"mediaforge/internal/config"
	"mediaforge/internal/fileutil"
	"mediaforge/internal/jobstore"
	"mediaforge/internal/logging"
	"mediaforge/internal/notifications"
	"mediaforge/internal/services"
)

// Producers bundles the collaborators a conversation calls.
type Producers struct {
	Dialogue collaborators.DialogueProducer
	Speech   collaborators.SpeechProducer
	Render   collaborators.RenderProducer
}

// Orchestrator owns conversation runs.
type Orchestrator struct {
	cfg       *config.Config
	store     *jobstore.Store
	producers Producers
	assembler Assembler
	notifier  notifications.Service
	logger    *slog.Logger

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
func New(cfg *config.Config, store *jobstore.Store, producers Producers, assembler Assembler, logger *slog.Logger, opts ...Option) (*Orchestrator, error) {
	if cfg == nil || store == nil {
		return nil, errors.New("conversation: config and store are required")
	}
	if producers.Dialogue == nil || producers.Speech == nil || producers.Render == nil || assembler == nil {
		return nil, fmt.Errorf("conversation: %w: dialogue, speech, render producers and an assembler are required", services.ErrConfiguration)
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:        cfg,
		store:      store,
		producers:  producers,
		assembler:  assembler,
		notifier:   notifications.NewService(cfg),
		logger:     logging.NewComponentLogger(logger, "conversation"),
		baseCtx:    baseCtx,
		baseCancel: cancel,
		runs:       make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Create validates and persists a conversation, then runs it in the
// background.
func (o *Orchestrator) Create(ctx context.Context, input Input, opts Options) (*jobstore.Conversation, error) {
	conv, personas, err := o.create(ctx, input)
	if err != nil {
		return nil, err
	}
	o.start(conv.ID, personas, opts)
	return conv, nil
}

// Run is the synchronous Create. Line and assembly failures are reported on
// the returned conversation. ctx bounds only the wait: when it ends first, Run
// returns the latest snapshot with ctx.Err() and the conversation keeps
// running.
func (o *Orchestrator) Run(ctx context.Context, input Input, opts Options) (*jobstore.Conversation, error) {
	conv, personas, err := o.create(ctx, input)
	if err != nil {
		return nil, err
	}
	done := o.start(conv.ID, personas, opts)
	readCtx := context.WithoutCancel(ctx)
	select {
	case <-done:
		return o.Get(readCtx, conv.ID)
	case <-ctx.Done():
		current, err := o.Get(readCtx, conv.ID)
		if err != nil {
			return nil, err
		}
		return current, ctx.Err()
	}
}

func (o *Orchestrator) start(id string, personas []*jobstore.Persona, opts Options) <-chan struct{} {
	runCtx := o.register(id)
	done := make(chan struct{})
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer close(done)
		defer o.unregister(id)
		o.execute(runCtx, id, personas, opts)
	}()
	return done
}

// Get returns a conversation snapshot including its lines.
func (o *Orchestrator) Get(ctx context.Context, id string) (*jobstore.Conversation, error) {
	return o.store.GetConversation(ctx, id)
}

// List returns conversations newest first.
func (o *Orchestrator) List(ctx context.Context, limit int) ([]*jobstore.Conversation, error) {
	return o.store.ListConversations(ctx, nil, limit)
}

// Lines returns the dialogue lines ordered by sequence.
func (o *Orchestrator) Lines(ctx context.Context, id string) ([]jobstore.DialogueLine, error) {
	conv, err := o.store.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	return sortedLines(conv.Lines), nil
}

// Approve completes a conversation waiting for review.
func (o *Orchestrator) Approve(ctx context.Context, id string) (*jobstore.Conversation, error) {
	unlock := o.store.Lock(id)
	defer unlock()

	conv, err := o.store.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	switch conv.Status {
	case jobstore.StatusCompleted:
		if _, err := o.store.Dequeue(ctx, id); err != nil {
			return nil, fmt.Errorf("dequeue %s: %w", id, err)
		}
		return conv, nil
	case jobstore.StatusQueuedForReview:
	default:
		return nil, services.State("approve", "conversation %s is %s", id, conv.Status)
	}
	now := time.Now().UTC()
	conv.Status = jobstore.StatusCompleted
	conv.Progress = 100
	conv.CompletedAt = &now
	if err := o.store.PutConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("persist approval: %w", err)
	}
	if _, err := o.store.Dequeue(ctx, id); err != nil {
		return nil, fmt.Errorf("dequeue %s: %w", id, err)
	}
	o.logger.Info("conversation approved",
		logging.String(logging.FieldConversationID, id),
		logging.String(logging.FieldEventType, "conversation_approved"),
	)
	o.publish(ctx, notifications.EventConversationCompleted, conv)
	return conv.Clone(), nil
}

// Delete removes a conversation, its lines, and its local artifacts. An
// in-flight run is cancelled.
func (o *Orchestrator) Delete(ctx context.Context, id string) error {
	unlock := o.store.Lock(id)
	conv, err := o.store.GetConversation(ctx, id)
	if err != nil {
		unlock()
		return err
	}
	if _, err := o.store.DeleteConversation(ctx, id); err != nil {
		unlock()
		return fmt.Errorf("delete conversation %s: %w", id, err)
	}
	unlock()

	o.cancelRun(id)
	o.removeArtifacts(id, conv.Artifacts())
	o.logger.Info("conversation deleted",
		logging.String(logging.FieldConversationID, id),
		logging.String("previous_status", string(conv.Status)),
		logging.String(logging.FieldEventType, "conversation_deleted"),
	)
	return nil
}

// Wait blocks until every in-flight run returns.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Shutdown cancels in-flight runs and waits for them or for ctx.
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

func (o *Orchestrator) create(ctx context.Context, input Input) (*jobstore.Conversation, []*jobstore.Persona, error) {
	if o.baseCtx.Err() != nil {
		return nil, nil, services.State("create conversation", "orchestrator is shutting down")
	}
	input.Title = strings.TrimSpace(input.Title)
	input.Topic = strings.TrimSpace(input.Topic)
	if input.Title == "" {
		return nil, nil, services.Input("create conversation", "title is required")
	}
	if input.Topic == "" {
		return nil, nil, services.Input("create conversation", "topic is required")
	}
	if len(input.ActorRefs) == 0 {
		return nil, nil, services.Input("create conversation", "at least one actor is required")
	}
	if input.LineCount < 1 {
		return nil, nil, services.Input("create conversation", "line_count must be at least 1")
	}
	if limit := o.cfg.Conversation.MaxLines; limit > 0 && input.LineCount > limit {
		return nil, nil, services.Input("create conversation", "line_count %d exceeds conversation.max_lines %d", input.LineCount, limit)
	}
	personas, err := o.resolveActors(ctx, input.ActorRefs)
	if err != nil {
		return nil, nil, err
	}

	stitch := true
	if input.Stitch != nil {
		stitch = *input.Stitch
	}
	transitions := o.cfg.Conversation.WithTransitions
	if input.WithTransitions != nil {
		transitions = *input.WithTransitions
	}
	style := strings.TrimSpace(input.Style)
	if style == "" {
		style = o.cfg.Workflow.DefaultStyle
	}
	refs := make([]string, len(personas))
	for i, p := range personas {
		refs[i] = p.ID
	}

	conv := &jobstore.Conversation{
		ID:                uuid.NewString(),
		Title:             input.Title,
		Topic:             input.Topic,
		Context:           strings.TrimSpace(input.Context),
		StyleTag:          style,
		ActorRefs:         refs,
		ExpectedLineCount: input.LineCount,
		Stitch:            stitch,
		WithTransitions:   transitions,
		Status:            jobstore.StatusPending,
	}
	if err := o.store.PutConversation(ctx, conv); err != nil {
		return nil, nil, fmt.Errorf("persist conversation: %w", err)
	}
	o.logger.Info("conversation created",
		logging.String(logging.FieldConversationID, conv.ID),
		logging.String("title", conv.Title),
		logging.Int("actors", len(refs)),
		logging.Int("requested_lines", input.LineCount),
		logging.String(logging.FieldEventType, "conversation_created"),
	)
	return conv.Clone(), personas, nil
}

// resolveActors loads every referenced persona. Any missing or inactive
// reference rejects the whole request.
func (o *Orchestrator) resolveActors(ctx context.Context, refs []string) ([]*jobstore.Persona, error) {
	personas := make([]*jobstore.Persona, 0, len(refs))
	seen := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			return nil, services.Input("create conversation", "actor reference is empty")
		}
		if _, dup := seen[ref]; dup {
			continue
		}
		seen[ref] = struct{}{}
		persona, err := o.store.GetPersona(ctx, ref)
		if errors.Is(err, services.ErrNotFound) {
			return nil, services.Input("create conversation", "actor %s does not exist", ref)
		}
		if err != nil {
			return nil, fmt.Errorf("load persona %s: %w", ref, err)
		}
		if !persona.Active {
			return nil, services.Input("create conversation", "actor %s is inactive", ref)
		}
		personas = append(personas, persona)
	}
	return personas, nil
}

func (o *Orchestrator) register(id string) context.Context {
	ctx, cancel := context.WithCancel(o.baseCtx)
	o.mu.Lock()
	o.runs[id] = cancel
	o.mu.Unlock()
	return services.WithConversationID(ctx, id)
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

func (o *Orchestrator) removeArtifacts(id string, paths []string) {
	if len(paths) == 0 {
		return
	}
	if _, err := fileutil.RemoveArtifacts(paths); err != nil {
		logging.WarnWithContext(o.logger, "artifact cleanup incomplete", "artifact_cleanup_failed",
			logging.String(logging.FieldConversationID, id),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove leftover files manually"),
		)
	}
}

func (o *Orchestrator) publish(ctx context.Context, event notifications.Event, conv *jobstore.Conversation) {
	payload := notifications.Payload{
		"id":       conv.ID,
		"title":    conv.Title,
		"stage":    string(conv.Status),
		"progress": conv.Progress,
		"error":    conv.Error,
		"output":   conv.FinalMediaPath,
	}
	if err := o.notifier.Publish(context.WithoutCancel(ctx), event, payload); err != nil {
		o.logger.Debug("progress event not delivered",
			logging.String(logging.FieldConversationID, conv.ID),
			logging.String("event", string(event)),
			logging.Error(err),
		)
	}
}

// InFlight returns the number of running conversations.
func (o *Orchestrator) InFlight() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.runs)
}
