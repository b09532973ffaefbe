package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"mediaforge/internal/config"
	"mediaforge/internal/keyedlock"
	"mediaforge/internal/services"
)

// Store is the typed view over a Backend used by the orchestrators.
type Store struct {
	backend Backend
	locks   keyedlock.Map
	now     func() time.Time
}

// New wraps an already opened backend.
func New(backend Backend) *Store {
	return &Store{backend: backend, now: time.Now}
}

// Open opens the configured backend and wraps it.
func Open(ctx context.Context, cfg *config.Config) (*Store, error) {
	backend, err := OpenBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return New(backend), nil
}

// Backend exposes the underlying key-value backend.
func (s *Store) Backend() Backend {
	return s.backend
}

// Close closes the underlying backend.
func (s *Store) Close() error {
	if s == nil || s.backend == nil {
		return nil
	}
	return s.backend.Close()
}

// Ping verifies the backend is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

// Lock acquires the exclusive per-id lock and returns its release function.
// Callers must not hold it across a collaborator call.
func (s *Store) Lock(id string) func() {
	return s.locks.Lock(id)
}

func (s *Store) put(ctx context.Context, kind Kind, id string, status string, created time.Time, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s %s: %w", kind, id, err)
	}
	return s.backend.Put(ctx, Record{
		Kind:      kind,
		ID:        id,
		Status:    status,
		CreatedAt: created,
		UpdatedAt: s.now().UTC(),
		Payload:   payload,
	})
}

func (s *Store) get(ctx context.Context, kind Kind, id string, dest any) error {
	rec, err := s.backend.Get(ctx, kind, id)
	if errors.Is(err, ErrRecordNotFound) {
		return fmt.Errorf("%w: %s %s", services.ErrNotFound, kind, id)
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(rec.Payload, dest); err != nil {
		return fmt.Errorf("decode %s %s: %w", kind, id, err)
	}
	return nil
}

func decodeAll[T any](records []Record) ([]*T, error) {
	out := make([]*T, 0, len(records))
	for _, rec := range records {
		value := new(T)
		if err := json.Unmarshal(rec.Payload, value); err != nil {
			return nil, fmt.Errorf("decode %s %s: %w", rec.Kind, rec.ID, err)
		}
		out = append(out, value)
	}
	return out, nil
}

func statusStrings(statuses []Status) []string {
	if len(statuses) == 0 {
		return nil
	}
	out := make([]string, len(statuses))
	for i, status := range statuses {
		out[i] = string(status)
	}
	return out
}

// PutJob persists a job snapshot, stamping UpdatedAt.
func (s *Store) PutJob(ctx context.Context, job *Job) error {
	if job == nil || job.ID == "" {
		return errors.New("job is nil or has no id")
	}
	now := s.now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	return s.put(ctx, KindJob, job.ID, string(job.Status), job.CreatedAt, job)
}

// GetJob loads a job; missing ids wrap services.ErrNotFound.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	var job Job
	if err := s.get(ctx, KindJob, id, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs returns jobs newest first, optionally filtered by status.
func (s *Store) ListJobs(ctx context.Context, statuses []Status, limit int) ([]*Job, error) {
	records, err := s.backend.List(ctx, Query{Kind: KindJob, Statuses: statusStrings(statuses), Limit: limit})
	if err != nil {
		return nil, err
	}
	return decodeAll[Job](records)
}

// DeleteJob removes the job and any review entry. It reports whether a record existed.
func (s *Store) DeleteJob(ctx context.Context, id string) (bool, error) {
	return s.backend.Delete(ctx, KindJob, id)
}

// PutConversation persists a conversation snapshot including its lines.
func (s *Store) PutConversation(ctx context.Context, conv *Conversation) error {
	if conv == nil || conv.ID == "" {
		return errors.New("conversation is nil or has no id")
	}
	for _, line := range conv.Lines {
		if line.ClipRef != "" && line.AudioRef == "" {
			return services.State("put conversation", "line %d has a clip without audio", line.Sequence)
		}
	}
	now := s.now().UTC()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	conv.UpdatedAt = now
	return s.put(ctx, KindConversation, conv.ID, string(conv.Status), conv.CreatedAt, conv)
}

// GetConversation loads a conversation; missing ids wrap services.ErrNotFound.
func (s *Store) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var conv Conversation
	if err := s.get(ctx, KindConversation, id, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// ListConversations returns conversations newest first.
func (s *Store) ListConversations(ctx context.Context, statuses []Status, limit int) ([]*Conversation, error) {
	records, err := s.backend.List(ctx, Query{Kind: KindConversation, Statuses: statusStrings(statuses), Limit: limit})
	if err != nil {
		return nil, err
	}
	return decodeAll[Conversation](records)
}

// DeleteConversation removes the conversation and any review entry.
func (s *Store) DeleteConversation(ctx context.Context, id string) (bool, error) {
	return s.backend.Delete(ctx, KindConversation, id)
}

// PutPersona persists a persona.
func (s *Store) PutPersona(ctx context.Context, persona *Persona) error {
	if persona == nil || persona.ID == "" {
		return errors.New("persona is nil or has no id")
	}
	now := s.now().UTC()
	if persona.CreatedAt.IsZero() {
		persona.CreatedAt = now
	}
	persona.UpdatedAt = now
	status := "inactive"
	if persona.Active {
		status = "active"
	}
	return s.put(ctx, KindPersona, persona.ID, status, persona.CreatedAt, persona)
}

// GetPersona loads a persona; missing ids wrap services.ErrNotFound.
func (s *Store) GetPersona(ctx context.Context, id string) (*Persona, error) {
	var persona Persona
	if err := s.get(ctx, KindPersona, id, &persona); err != nil {
		return nil, err
	}
	return &persona, nil
}

// ListPersonas returns personas newest first. activeOnly drops inactive ones.
func (s *Store) ListPersonas(ctx context.Context, activeOnly bool) ([]*Persona, error) {
	q := Query{Kind: KindPersona}
	if activeOnly {
		q.Statuses = []string{"active"}
	}
	records, err := s.backend.List(ctx, q)
	if err != nil {
		return nil, err
	}
	return decodeAll[Persona](records)
}

// Enqueue adds a review entry for the id.
func (s *Store) Enqueue(ctx context.Context, kind Kind, id string) error {
	return s.backend.Enqueue(ctx, QueueEntry{ID: id, Kind: kind, EnqueuedAt: s.now().UTC()})
}

// Dequeue removes the review entry and reports whether one was removed.
func (s *Store) Dequeue(ctx context.Context, id string) (bool, error) {
	return s.backend.Dequeue(ctx, id)
}

// ReviewEntries lists review queue entries, newest first.
func (s *Store) ReviewEntries(ctx context.Context) ([]QueueEntry, error) {
	return s.backend.ListQueue(ctx)
}

// Snapshot is every persisted record, as returned by LoadAll.
type Snapshot struct {
	Jobs          []*Job
	Conversations []*Conversation
	Personas      []*Persona
	Queue         []QueueEntry
}

// LoadAll reads every persisted record.
func (s *Store) LoadAll(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	var err error
	if snap.Jobs, err = s.ListJobs(ctx, nil, 0); err != nil {
		return Snapshot{}, fmt.Errorf("load jobs: %w", err)
	}
	if snap.Conversations, err = s.ListConversations(ctx, nil, 0); err != nil {
		return Snapshot{}, fmt.Errorf("load conversations: %w", err)
	}
	if snap.Personas, err = s.ListPersonas(ctx, false); err != nil {
		return Snapshot{}, fmt.Errorf("load personas: %w", err)
	}
	if snap.Queue, err = s.ReviewEntries(ctx); err != nil {
		return Snapshot{}, fmt.Errorf("load review queue: %w", err)
	}
	return snap, nil
}

// RecoverInterrupted fails every job and conversation left in flight by a
// previous process. Stage outputs are kept. It returns the number of records
// changed.
func (s *Store) RecoverInterrupted(ctx context.Context) (int, error) {
	var inFlight []Status
	for _, status := range allStatuses {
		if status.IsInFlight() {
			inFlight = append(inFlight, status)
		}
	}

	count := 0
	jobs, err := s.ListJobs(ctx, inFlight, 0)
	if err != nil {
		return 0, err
	}
	for _, job := range jobs {
		unlock := s.Lock(job.ID)
		job.Status = StatusFailed
		job.Error = InterruptedReason
		err := s.PutJob(ctx, job)
		unlock()
		if err != nil {
			return count, err
		}
		count++
	}

	convs, err := s.ListConversations(ctx, inFlight, 0)
	if err != nil {
		return count, err
	}
	for _, conv := range convs {
		unlock := s.Lock(conv.ID)
		conv.Status = StatusFailed
		conv.Error = InterruptedReason
		err := s.PutConversation(ctx, conv)
		unlock()
		if err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}
