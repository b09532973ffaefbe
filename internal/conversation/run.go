package conversation

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"mediaforge/internal/assembly"
	"mediaforge/internal/collaborators"
	"mediaforge/internal/jobstore"
	"mediaforge/internal/logging"
	"mediaforge/internal/notifications"
	"mediaforge/internal/services"
	"mediaforge/internal/textutil"
)

// errDiscarded stops a run whose conversation was deleted.
var errDiscarded = errors.New("conversation deleted during run")

const (
	progressScripted  = 10
	progressLines     = 80
	progressAssembled = 90
)

// lineError names the failing line and stage.
type lineError struct {
	sequence int
	stage    string
	err      error
}

func (e *lineError) Error() string {
	return fmt.Sprintf("line %d %s: %v", e.sequence, e.stage, e.err)
}

func (e *lineError) Unwrap() error { return e.err }

func (o *Orchestrator) execute(ctx context.Context, id string, personas []*jobstore.Persona, opts Options) {
	logger := logging.WithContext(ctx, o.logger)
	started := time.Now()

	err := o.script(ctx, id, personas)
	if err == nil {
		err = o.produceLines(ctx, id, personas)
	}
	if err == nil {
		err = o.finish(ctx, id, opts)
	}
	switch {
	case err == nil:
		logger.Info("conversation finished",
			logging.String(logging.FieldEventType, "conversation_finished"),
			logging.Duration("elapsed", time.Since(started)),
		)
	case errors.Is(err, errDiscarded):
		logger.Info("run stopped; conversation deleted",
			logging.String(logging.FieldEventType, "run_discarded"),
		)
	default:
		o.fail(ctx, id, err)
	}
}

// script calls the dialogue producer once and stores the resulting lines.
func (o *Orchestrator) script(ctx context.Context, id string, personas []*jobstore.Persona) error {
	ctx = services.WithStage(ctx, "dialogue")
	conv, err := o.transition(ctx, id, jobstore.StatusScripting, 0)
	if err != nil {
		return err
	}

	speakers := make([]collaborators.Speaker, len(personas))
	for i, p := range personas {
		speakers[i] = collaborators.Speaker{Name: p.Name, Personality: p.Personality, Description: p.Description}
	}
	callCtx, cancel := o.callContext(ctx)
	turns, err := o.producers.Dialogue.ProduceDialogue(callCtx, collaborators.DialogueRequest{
		Topic:     conv.Topic,
		Speakers:  speakers,
		LineCount: conv.ExpectedLineCount,
		Style:     conv.StyleTag,
		Context:   conv.Context,
	})
	cancel()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return o.interruption(ctx, id, ctxErr)
		}
		return o.collaboratorError("dialogue", "produce dialogue", callCtx, err)
	}
	if len(turns) == 0 {
		return services.Wrap(services.ErrCollaborator, "dialogue", "produce dialogue", "no dialogue lines returned", nil)
	}

	lines := make([]jobstore.DialogueLine, len(turns))
	for i, turn := range turns {
		persona := o.speaker(ctx, turn.Actor, personas)
		lines[i] = jobstore.DialogueLine{
			Sequence:  i + 1,
			ActorRef:  persona.ID,
			ActorName: persona.Name,
			Text:      strings.TrimSpace(turn.Text),
		}
	}

	_, err = o.update(ctx, id, func(c *jobstore.Conversation) error {
		c.Lines = lines
		c.LineCount = len(lines)
		c.Progress = max(c.Progress, progressScripted)
		return nil
	})
	if err != nil {
		return err
	}
	logging.WithContext(ctx, o.logger).Info("dialogue produced",
		logging.String(logging.FieldEventType, "dialogue_complete"),
		logging.Int("lines", len(lines)),
		logging.Int("requested_lines", conv.ExpectedLineCount),
	)
	return nil
}

// speaker resolves a dialogue turn to a requested persona by name. Unknown
// names fall back to the first persona.
func (o *Orchestrator) speaker(ctx context.Context, name string, personas []*jobstore.Persona) *jobstore.Persona {
	name = strings.TrimSpace(name)
	for _, p := range personas {
		if strings.EqualFold(p.Name, name) || strings.EqualFold(p.ID, name) {
			return p
		}
	}
	logging.WarnWithContext(logging.WithContext(ctx, o.logger), "unknown speaker; using first actor", "speaker_fallback",
		logging.String("speaker", name),
		logging.String("fallback_actor", personas[0].ID),
		logging.String(logging.FieldErrorHint, "dialogue producer returned a name outside the requested actors"),
	)
	return personas[0]
}

// produceLines runs audio then render for every line. Lines may overlap up to
// conversation.line_parallelism; stages within a line never do.
func (o *Orchestrator) produceLines(ctx context.Context, id string, personas []*jobstore.Persona) error {
	conv, err := o.transition(services.WithStage(ctx, "audio"), id, jobstore.StatusAudioGen, progressScripted)
	if err != nil {
		return err
	}
	byID := make(map[string]*jobstore.Persona, len(personas))
	for _, p := range personas {
		byID[p.ID] = p
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(max(1, o.cfg.Conversation.LineParallelism))
	for _, line := range conv.Lines {
		if line.Done() {
			continue
		}
		persona := byID[line.ActorRef]
		if persona == nil {
			persona = personas[0]
		}
		group.Go(func() error {
			return o.produceLine(groupCtx, id, line, persona)
		})
	}
	err = group.Wait()
	if err == nil {
		return nil
	}
	if errors.Is(err, errDiscarded) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return o.interruption(ctx, id, ctxErr)
	}
	return err
}

func (o *Orchestrator) produceLine(ctx context.Context, id string, line jobstore.DialogueLine, persona *jobstore.Persona) error {
	ctx = services.WithStage(ctx, fmt.Sprintf("line_%d", line.Sequence))
	logger := logging.WithContext(ctx, o.logger).With(logging.FieldLine, line.Sequence)

	if err := ctx.Err(); err != nil {
		return err
	}
	callCtx, cancel := o.callContext(ctx)
	audio, err := o.producers.Speech.Synthesize(callCtx, collaborators.SpeechRequest{
		Text:  line.Text,
		Voice: persona.VoiceStyle,
	})
	cancel()
	if err == nil && strings.TrimSpace(audio.Ref) == "" {
		err = errors.New("empty audio reference")
	}
	if err != nil {
		return &lineError{sequence: line.Sequence, stage: "audio", err: o.collaboratorError("audio", "synthesize", callCtx, err)}
	}
	if _, err := o.updateLine(ctx, id, line.Sequence, []string{audio.Ref}, func(c *jobstore.Conversation, l *jobstore.DialogueLine) {
		l.AudioRef = audio.Ref
		l.AudioDuration = audio.Duration
		if c.Status == jobstore.StatusAudioGen {
			c.Status = jobstore.StatusVideoGen
		}
	}); err != nil {
		return err
	}
	logger.Debug("line audio ready", logging.String(logging.FieldEventType, "line_audio_complete"))

	if err := ctx.Err(); err != nil {
		return err
	}
	callCtx, cancel = o.callContext(ctx)
	clip, err := o.producers.Render.Render(callCtx, collaborators.RenderRequest{
		Prompt:   line.Text,
		ImageRef: persona.ImageRef,
		AudioRef: audio.Ref,
	})
	cancel()
	if err == nil && strings.TrimSpace(clip.Ref) == "" {
		err = errors.New("empty clip reference")
	}
	if err != nil {
		return &lineError{sequence: line.Sequence, stage: "render", err: o.collaboratorError("video", "render", callCtx, err)}
	}
	conv, err := o.updateLine(ctx, id, line.Sequence, []string{clip.Ref}, func(c *jobstore.Conversation, l *jobstore.DialogueLine) {
		l.ClipRef = clip.Ref
		l.ClipDuration = clip.Duration
		done := 0
		for _, other := range c.Lines {
			if other.Done() {
				done++
			}
		}
		if total := len(c.Lines); total > 0 {
			c.Progress = max(c.Progress, progressScripted+progressLines*done/total)
		}
	})
	if err != nil {
		return err
	}
	logger.Info("line rendered",
		logging.String(logging.FieldEventType, "line_complete"),
		logging.String("actor", persona.Name),
		logging.Int(logging.FieldProgress, conv.Progress),
	)
	o.publish(ctx, notifications.EventStageProgress, conv)
	return nil
}

// finish assembles the rendered lines when required and settles the final status.
func (o *Orchestrator) finish(ctx context.Context, id string, opts Options) error {
	ctx = services.WithStage(ctx, "assembly")
	if err := ctx.Err(); err != nil {
		return o.interruption(ctx, id, err)
	}
	conv, err := o.Get(ctx, id)
	if errors.Is(err, services.ErrNotFound) {
		return errDiscarded
	}
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}
	lines := sortedLines(conv.Lines)

	var result assembly.Result
	assembled := conv.Stitch && len(lines) > 1
	if assembled {
		if _, err := o.transition(ctx, id, jobstore.StatusAssembling, progressAssembled); err != nil {
			return err
		}
		clips := make([]assembly.Clip, len(lines))
		for i, line := range lines {
			clips[i] = assembly.Clip{Path: line.ClipRef, Duration: line.ClipDuration}
		}
		result, err = o.assembler.Assemble(ctx, clips, assembly.Options{
			WithTransitions:   conv.WithTransitions,
			TransitionSeconds: o.cfg.Conversation.TransitionSeconds,
			OutputPath:        o.outputPath(conv),
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return o.interruption(ctx, id, ctxErr)
			}
			return fmt.Errorf("assembly: %w", err)
		}
	}

	requireReview := o.cfg.Conversation.RequireReview
	if opts.RequireReview != nil {
		requireReview = *opts.RequireReview
	}
	event := notifications.EventConversationCompleted
	var discardOutput []string
	if assembled {
		discardOutput = []string{result.OutputPath}
	}
	final, err := o.update(ctx, id, func(c *jobstore.Conversation) error {
		switch {
		case assembled:
			c.FinalMediaPath = result.OutputPath
			c.FinalDuration = result.Duration
			c.FellBack = result.FellBack
		case len(lines) == 1:
			c.FinalMediaPath = lines[0].ClipRef
			c.FinalDuration = lines[0].ClipDuration
		}
		c.Progress = 100
		if requireReview {
			c.Status = jobstore.StatusQueuedForReview
			event = notifications.EventConversationQueued
			return nil
		}
		now := time.Now().UTC()
		c.Status = jobstore.StatusCompleted
		c.CompletedAt = &now
		return nil
	}, discardOutput...)
	if err != nil {
		return err
	}
	if final.Status == jobstore.StatusQueuedForReview {
		if err := o.store.Enqueue(context.WithoutCancel(ctx), jobstore.KindConversation, id); err != nil {
			return fmt.Errorf("enqueue for review: %w", err)
		}
	}
	logging.WithContext(ctx, o.logger).Info("conversation finalized",
		logging.Args(append(logging.DecisionAttrs("review", string(final.Status), fmt.Sprintf("require_review=%t", requireReview)),
			logging.String(logging.FieldEventType, "stage_complete"),
			logging.String("final_media_path", final.FinalMediaPath),
			logging.Float64("final_duration", final.FinalDuration),
			logging.Bool("assembly_fell_back", final.FellBack),
		)...)...,
	)
	o.publish(ctx, event, final)
	return nil
}

func (o *Orchestrator) outputPath(conv *jobstore.Conversation) string {
	name := textutil.Slug(conv.Title)
	short := conv.ID
	if len(short) > 8 {
		short = short[:8]
	}
	return filepath.Join(o.cfg.Assembly.OutputDir, fmt.Sprintf("%s_%s.mp4", name, short))
}

// transition moves the conversation to status if it is not already there
// and raises progress to at least the given value.
func (o *Orchestrator) transition(ctx context.Context, id string, status jobstore.Status, progress int) (*jobstore.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, o.interruption(ctx, id, err)
	}
	conv, err := o.update(ctx, id, func(c *jobstore.Conversation) error {
		c.Progress = max(c.Progress, progress)
		if c.Status == status {
			return nil
		}
		if !jobstore.CanTransition(jobstore.KindConversation, c.Status, status) {
			return services.State("enter stage", "cannot move conversation from %s to %s", c.Status, status)
		}
		c.Status = status
		return nil
	})
	if err != nil {
		return nil, err
	}
	logging.WithContext(ctx, o.logger).Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("processing_status", string(status)),
	)
	return conv, nil
}

// update applies mutate under the conversation lock. When the conversation
// is gone the listed artifacts are removed and errDiscarded is returned.
func (o *Orchestrator) update(ctx context.Context, id string, mutate func(*jobstore.Conversation) error, produced ...string) (*jobstore.Conversation, error) {
	ctx = context.WithoutCancel(ctx)
	unlock := o.store.Lock(id)
	defer unlock()

	conv, err := o.store.GetConversation(ctx, id)
	if errors.Is(err, services.ErrNotFound) {
		o.removeArtifacts(id, produced)
		return nil, errDiscarded
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if err := mutate(conv); err != nil {
		return nil, err
	}
	if err := o.store.PutConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("persist conversation: %w", err)
	}
	return conv.Clone(), nil
}

func (o *Orchestrator) updateLine(ctx context.Context, id string, sequence int, produced []string, mutate func(*jobstore.Conversation, *jobstore.DialogueLine)) (*jobstore.Conversation, error) {
	return o.update(ctx, id, func(c *jobstore.Conversation) error {
		for i := range c.Lines {
			if c.Lines[i].Sequence == sequence {
				mutate(c, &c.Lines[i])
				return nil
			}
		}
		return services.State("update line", "conversation %s has no line %d", id, sequence)
	}, produced...)
}

func (o *Orchestrator) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if timeout := o.cfg.StageTimeout(); timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

func (o *Orchestrator) collaboratorError(stage, op string, callCtx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, stage, op, fmt.Sprintf("exceeded %s", o.cfg.StageTimeout()), err)
	}
	return services.Wrap(services.ErrCollaborator, stage, op, "", err)
}

// interruption distinguishes a delete (conversation gone) from a shutdown.
func (o *Orchestrator) interruption(ctx context.Context, id string, cause error) error {
	if _, err := o.store.GetConversation(context.WithoutCancel(ctx), id); errors.Is(err, services.ErrNotFound) {
		return errDiscarded
	}
	return fmt.Errorf("%s: %w", jobstore.InterruptedReason, cause)
}

// fail records the error while the conversation is still in flight.
func (o *Orchestrator) fail(ctx context.Context, id string, cause error) {
	writeCtx := context.WithoutCancel(ctx)
	logger := logging.WithContext(ctx, o.logger)

	message := strings.TrimSpace(cause.Error())
	if ctx.Err() != nil && errors.Is(cause, context.Canceled) {
		message = jobstore.InterruptedReason
	}
	var failed bool
	conv, err := o.update(writeCtx, id, func(c *jobstore.Conversation) error {
		if !c.Status.IsInFlight() {
			return nil
		}
		c.Status = jobstore.StatusFailed
		c.Error = message
		failed = true
		return nil
	})
	if err != nil {
		if !errors.Is(err, errDiscarded) {
			logger.Error("failed to persist conversation failure", logging.Error(err))
		}
		return
	}
	if !failed {
		return
	}
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "conversation_failure"),
		logging.String(logging.FieldErrorKind, string(services.Kind(cause))),
		logging.String("error_message", message),
		logging.Alert("conversation_failure"),
		logging.Error(cause),
	}
	var le *lineError
	if errors.As(cause, &le) {
		attrs = append(attrs, logging.Int(logging.FieldLine, le.sequence), logging.String(logging.FieldStage, le.stage))
	}
	logger.Error("conversation failed", logging.Args(attrs...)...)
	o.publish(writeCtx, notifications.EventConversationFailed, conv)
}

func sortedLines(lines []jobstore.DialogueLine) []jobstore.DialogueLine {
	out := slices.Clone(lines)
	slices.SortFunc(out, func(a, b jobstore.DialogueLine) int { return a.Sequence - b.Sequence })
	return out
}
