package personas

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"mediaforge/internal/jobstore"
	"mediaforge/internal/logging"
	"mediaforge/internal/services"
)

// Input describes a persona to create.
type Input struct {
	ID          string `json:"id,omitempty" validate:"omitempty,max=64"`
	Name        string `json:"name" validate:"required,max=100"`
	Personality string `json:"personality,omitempty"`
	Description string `json:"description,omitempty"`
	VoiceStyle  string `json:"voice_style,omitempty"`
	ImageRef    string `json:"image_ref,omitempty"`
	AvatarStyle string `json:"avatar_style,omitempty"`
	// Active defaults to true.
	Active *bool `json:"active,omitempty"`
}

// Service creates and reads personas.
type Service struct {
	store  *jobstore.Store
	logger *slog.Logger
}

// NewService builds a persona service.
func NewService(store *jobstore.Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logging.NewComponentLogger(logger, "personas")}
}

// Create persists a new persona. A supplied id must not already exist.
func (s *Service) Create(ctx context.Context, input Input) (*jobstore.Persona, error) {
	persona, err := fromInput(input)
	if err != nil {
		return nil, err
	}
	if persona.ID == "" {
		persona.ID = uuid.NewString()
	}

	unlock := s.store.Lock(persona.ID)
	defer unlock()
	if _, err := s.store.GetPersona(ctx, persona.ID); err == nil {
		return nil, services.State("create persona", "persona %s already exists", persona.ID)
	} else if !errors.Is(err, services.ErrNotFound) {
		return nil, fmt.Errorf("check persona %s: %w", persona.ID, err)
	}
	if err := s.store.PutPersona(ctx, persona); err != nil {
		return nil, fmt.Errorf("persist persona: %w", err)
	}
	s.logger.Info("persona created",
		logging.String("persona_id", persona.ID),
		logging.String("name", persona.Name),
		logging.Bool("active", persona.Active),
		logging.String(logging.FieldEventType, "persona_created"),
	)
	return persona, nil
}

// Get returns a persona by id.
func (s *Service) Get(ctx context.Context, id string) (*jobstore.Persona, error) {
	return s.store.GetPersona(ctx, strings.TrimSpace(id))
}

// List returns personas newest first.
func (s *Service) List(ctx context.Context, activeOnly bool) ([]*jobstore.Persona, error) {
	return s.store.ListPersonas(ctx, activeOnly)
}

func fromInput(input Input) (*jobstore.Persona, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, services.Input("create persona", "name is required")
	}
	active := true
	if input.Active != nil {
		active = *input.Active
	}
	return &jobstore.Persona{
		ID:          strings.TrimSpace(input.ID),
		Name:        name,
		Personality: strings.TrimSpace(input.Personality),
		Description: strings.TrimSpace(input.Description),
		VoiceStyle:  strings.TrimSpace(input.VoiceStyle),
		ImageRef:    strings.TrimSpace(input.ImageRef),
		AvatarStyle: strings.TrimSpace(input.AvatarStyle),
		Active:      active,
	}, nil
}
