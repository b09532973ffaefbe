package api

import (
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"mediaforge/internal/assembly"
	"mediaforge/internal/conversation"
	"mediaforge/internal/jobstore"
	"mediaforge/internal/personas"
	"mediaforge/internal/pipeline"
	"mediaforge/internal/services"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.svc.Reporter == nil {
		writeJSON(w, http.StatusOK, HealthReport{Ready: true})
		return
	}
	report := s.svc.Reporter.Ready(r.Context())
	status := http.StatusOK
	if !report.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.svc.Reporter == nil {
		writeJSON(w, http.StatusOK, DaemonStatus{Running: true})
		return
	}
	writeJSON(w, http.StatusOK, s.svc.Reporter.Status(r.Context()))
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := s.decode(r, "create job", &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	opts := pipeline.Options{AutoApprove: req.AutoApprove}
	if wantsWait(r) {
		job, err := s.svc.Jobs.Run(r.Context(), req.JobInput(), opts)
		if err != nil && job != nil {
			writeJSON(w, http.StatusAccepted, JobResponse{Job: job})
			return
		}
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, JobResponse{Job: job})
		return
	}
	job, err := s.svc.Jobs.Submit(r.Context(), req.JobInput(), opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, JobResponse{Job: job})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	statuses, err := parseStatuses(r.URL.Query()["status"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	jobs, err := s.svc.Jobs.List(r.Context(), pipeline.Filter{Statuses: statuses, Limit: limit})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, JobListResponse{Jobs: nonNil(jobs)})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.svc.Jobs.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, JobResponse{Job: job})
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.svc.Jobs.Delete(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ActionResponse{ID: id, Action: "delete", OK: true})
}

func (s *Server) handleApproveJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.svc.Jobs.Approve(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, JobResponse{Job: job})
}

func (s *Server) handleListReview(w http.ResponseWriter, r *http.Request) {
	items, err := s.svc.Review.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	items = nonNil(items)
	writeJSON(w, http.StatusOK, ReviewListResponse{Items: items, Count: len(items)})
}

func (s *Server) handleApproveReview(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.svc.Review.Approve(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ActionResponse{ID: id, Action: "approve", OK: true})
}

func (s *Server) handleRejectReview(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.svc.Review.Reject(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ActionResponse{ID: id, Action: "reject", OK: true})
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req CreateConversationRequest
	if err := s.decode(r, "create conversation", &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	opts := conversation.Options{RequireReview: req.RequireReview}
	if wantsWait(r) {
		conv, err := s.svc.Conversations.Run(r.Context(), req.Input, opts)
		if err != nil && conv != nil {
			writeJSON(w, http.StatusAccepted, ConversationResponse{Conversation: conv})
			return
		}
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ConversationResponse{Conversation: conv})
		return
	}
	conv, err := s.svc.Conversations.Create(r.Context(), req.Input, opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ConversationResponse{Conversation: conv})
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	convs, err := s.svc.Conversations.List(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ConversationListResponse{Conversations: nonNil(convs)})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.svc.Conversations.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ConversationResponse{Conversation: conv})
}

func (s *Server) handleDialogue(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	lines, err := s.svc.Conversations.Lines(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DialogueResponse{ConversationID: id, Lines: nonNil(lines)})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.svc.Conversations.Delete(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ActionResponse{ID: id, Action: "delete", OK: true})
}

func (s *Server) handleApproveConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.svc.Conversations.Approve(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ConversationResponse{Conversation: conv})
}

func (s *Server) handleAssemble(w http.ResponseWriter, r *http.Request) {
	var req AssembleRequest
	if err := s.decode(r, "assemble", &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	output, err := s.outputPath(req.OutputPath)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	clips := make([]assembly.Clip, len(req.Clips))
	for i, clip := range req.Clips {
		clips[i] = assembly.Clip{Path: clip.Path, Duration: clip.Duration}
	}

	var result assembly.Result
	if req.Layout != "" {
		result, err = s.svc.Assembler.AssembleGrid(r.Context(), clips, assembly.Layout(req.Layout), output)
	} else {
		transition := s.cfg.Conversation.TransitionSeconds
		if req.TransitionSeconds != nil {
			transition = *req.TransitionSeconds
		}
		result, err = s.svc.Assembler.Assemble(r.Context(), clips, assembly.Options{
			WithTransitions:   req.WithTransitions,
			TransitionSeconds: transition,
			OutputPath:        output,
		})
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AssembleResponse{
		OutputPath:  result.OutputPath,
		Duration:    result.Duration,
		Transitions: result.Transitions,
		FellBack:    result.FellBack,
		Layout:      string(result.Layout),
	})
}

func (s *Server) handleCreatePersona(w http.ResponseWriter, r *http.Request) {
	var req personas.Input
	if err := s.decode(r, "create persona", &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	persona, err := s.svc.Personas.Create(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, PersonaResponse{Persona: persona})
}

func (s *Server) handleListPersonas(w http.ResponseWriter, r *http.Request) {
	activeOnly := queryBool(r, "active")
	list, err := s.svc.Personas.List(r.Context(), activeOnly)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PersonaListResponse{Personas: nonNil(list)})
}

func (s *Server) handleGetPersona(w http.ResponseWriter, r *http.Request) {
	persona, err := s.svc.Personas.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PersonaResponse{Persona: persona})
}

func wantsWait(r *http.Request) bool {
	return queryBool(r, "wait")
}

func queryBool(r *http.Request, key string) bool {
	value := strings.TrimSpace(r.URL.Query().Get(key))
	return value == "1" || strings.EqualFold(value, "true")
}

func parseLimit(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, services.Input("parse limit", "limit must be a non-negative integer, got %q", raw)
	}
	return limit, nil
}

// parseStatuses accepts repeated or comma-separated status values.
func parseStatuses(values []string) ([]jobstore.Status, error) {
	var statuses []jobstore.Status
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			status, ok := jobstore.ParseStatus(part)
			if !ok {
				return nil, services.Input("parse status", "unknown status %q", part)
			}
			statuses = append(statuses, status)
		}
	}
	return statuses, nil
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

// outputPath confines a caller-chosen output name to assembly.output_dir. An
// empty name lets the assembler generate one.
func (s *Server) outputPath(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", nil
	}
	if !filepath.IsLocal(name) {
		return "", services.Input("assemble", "output_path %q must be a relative name under the output directory", name)
	}
	return filepath.Join(s.cfg.Assembly.OutputDir, name), nil
}
