package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"mediaforge/internal/admission"
	"mediaforge/internal/assembly"
	"mediaforge/internal/config"
	"mediaforge/internal/conversation"
	"mediaforge/internal/jobstore"
	"mediaforge/internal/logging"
	"mediaforge/internal/personas"
	"mediaforge/internal/pipeline"
	"mediaforge/internal/review"
)

// JobService is the single-job orchestrator surface.
type JobService interface {
	Submit(ctx context.Context, input jobstore.JobInput, opts pipeline.Options) (*jobstore.Job, error)
	Run(ctx context.Context, input jobstore.JobInput, opts pipeline.Options) (*jobstore.Job, error)
	Status(ctx context.Context, id string) (*jobstore.Job, error)
	List(ctx context.Context, filter pipeline.Filter) ([]*jobstore.Job, error)
	Approve(ctx context.Context, id string) (*jobstore.Job, error)
	Delete(ctx context.Context, id string) error
}

// ConversationService is the conversation orchestrator surface.
type ConversationService interface {
	Create(ctx context.Context, input conversation.Input, opts conversation.Options) (*jobstore.Conversation, error)
	Run(ctx context.Context, input conversation.Input, opts conversation.Options) (*jobstore.Conversation, error)
	Get(ctx context.Context, id string) (*jobstore.Conversation, error)
	List(ctx context.Context, limit int) ([]*jobstore.Conversation, error)
	Lines(ctx context.Context, id string) ([]jobstore.DialogueLine, error)
	Approve(ctx context.Context, id string) (*jobstore.Conversation, error)
	Delete(ctx context.Context, id string) error
}

// ReviewService is the review queue surface.
type ReviewService interface {
	List(ctx context.Context) ([]review.Item, error)
	Approve(ctx context.Context, id string) error
	Reject(ctx context.Context, id string) error
}

// PersonaService creates and reads personas.
type PersonaService interface {
	Create(ctx context.Context, input personas.Input) (*jobstore.Persona, error)
	Get(ctx context.Context, id string) (*jobstore.Persona, error)
	List(ctx context.Context, activeOnly bool) ([]*jobstore.Persona, error)
}

// MediaAssembler stitches or tiles clips on request.
type MediaAssembler interface {
	Assemble(ctx context.Context, clips []assembly.Clip, opts assembly.Options) (assembly.Result, error)
	AssembleGrid(ctx context.Context, clips []assembly.Clip, layout assembly.Layout, outputPath string) (assembly.Result, error)
}

// StatusReporter supplies the daemon status and readiness views.
type StatusReporter interface {
	Status(ctx context.Context) DaemonStatus
	Ready(ctx context.Context) HealthReport
}

// Services bundles everything the handlers call.
type Services struct {
	Jobs          JobService
	Conversations ConversationService
	Review        ReviewService
	Personas      PersonaService
	Assembler     MediaAssembler
	Reporter      StatusReporter
}

// Server is the HTTP front of the daemon.
type Server struct {
	cfg      *config.Config
	svc      Services
	gate     *admission.Controller
	logger   *slog.Logger
	validate *validator.Validate
	handler  http.Handler

	listener net.Listener
	server   *http.Server
}

// NewServer builds the router. gate may be nil when admission is disabled.
func NewServer(cfg *config.Config, svc Services, gate *admission.Controller, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("api: config is required")
	}
	if svc.Jobs == nil || svc.Conversations == nil || svc.Review == nil || svc.Personas == nil || svc.Assembler == nil {
		return nil, errors.New("api: jobs, conversations, review, personas and assembler services are required")
	}
	s := &Server{
		cfg:      cfg,
		svc:      svc,
		gate:     gate,
		logger:   logging.NewComponentLogger(logger, "api-server"),
		validate: validator.New(),
	}
	s.handler = s.routes()
	return s, nil
}

// Handler returns the fully wrapped router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	auth := func(h http.HandlerFunc) http.HandlerFunc { return authMiddleware(s.cfg.API.Token, h) }

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/live", s.handleLive)
	mux.HandleFunc("GET /health/ready", s.handleReady)
	mux.HandleFunc("GET /api/status", auth(s.handleStatus))

	mux.HandleFunc("POST /api/jobs", auth(s.handleCreateJob))
	mux.HandleFunc("GET /api/jobs", auth(s.handleListJobs))
	mux.HandleFunc("GET /api/jobs/{id}", auth(s.handleGetJob))
	mux.HandleFunc("DELETE /api/jobs/{id}", auth(s.handleDeleteJob))
	mux.HandleFunc("POST /api/jobs/{id}/approve", auth(s.handleApproveJob))

	mux.HandleFunc("GET /api/review", auth(s.handleListReview))
	mux.HandleFunc("POST /api/review/{id}/approve", auth(s.handleApproveReview))
	mux.HandleFunc("POST /api/review/{id}/reject", auth(s.handleRejectReview))

	mux.HandleFunc("POST /api/conversations", auth(s.handleCreateConversation))
	mux.HandleFunc("GET /api/conversations", auth(s.handleListConversations))
	mux.HandleFunc("GET /api/conversations/{id}", auth(s.handleGetConversation))
	mux.HandleFunc("GET /api/conversations/{id}/dialogue", auth(s.handleDialogue))
	mux.HandleFunc("DELETE /api/conversations/{id}", auth(s.handleDeleteConversation))
	mux.HandleFunc("POST /api/conversations/{id}/approve", auth(s.handleApproveConversation))

	mux.HandleFunc("POST /api/assemble", auth(s.handleAssemble))

	mux.HandleFunc("POST /api/personas", auth(s.handleCreatePersona))
	mux.HandleFunc("GET /api/personas", auth(s.handleListPersonas))
	mux.HandleFunc("GET /api/personas/{id}", auth(s.handleGetPersona))

	return s.requestLogging(s.gate.Middleware(mux))
}

// Start listens on api.bind and serves until ctx is cancelled or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	bind := strings.TrimSpace(s.cfg.API.Bind)
	if bind == "" {
		return errors.New("api: api.bind is empty")
	}
	listener, err := net.Listen("tcp", bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Synchronous runs hold the response open for the whole pipeline.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the listener down, waiting up to five seconds for open requests.
func (s *Server) Stop() {
	if s == nil || s.server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
}
