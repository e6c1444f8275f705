// Package api exposes the engine's inspection and control surface over HTTP:
// plan trees, agent execution detail, cooperative interruption, and
// form-input submission.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/archonlabs/archon"
)

// Server bundles the HTTP handlers over the engine's read and control
// components.
type Server struct {
	reader     *archon.HierarchyReader
	interrupts *archon.InterruptionManager
	waits      *archon.UserInputWaitRegistry
	executor   *archon.PlanExecutor
	ids        *archon.IDDispatcher
	logger     *slog.Logger
}

// New creates a Server. logger may be nil.
func New(reader *archon.HierarchyReader, interrupts *archon.InterruptionManager, waits *archon.UserInputWaitRegistry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{reader: reader, interrupts: interrupts, waits: waits, logger: logger}
}

// WithExecutor enables the plan-launch endpoint. ids assigns plan ids up
// front so the launch response can carry one.
func (s *Server) WithExecutor(e *archon.PlanExecutor, ids *archon.IDDispatcher) *Server {
	s.executor = e
	s.ids = ids
	return s
}

// Router builds the chi router for the server.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/details/{planId}", s.handlePlanDetails)
	r.Get("/agent-execution/{stepId}", s.handleAgentExecution)
	r.Post("/executor/interrupt/{planId}", s.handleInterrupt)
	r.Get("/input/{planId}", s.handleInputState)
	r.Post("/input/{planId}", s.handleInputSubmit)
	if s.executor != nil {
		r.Post("/plans", s.handlePlanLaunch)
	}
	return r
}

// planRequest is the launch payload.
type planRequest struct {
	Title       string   `json:"title"`
	UserRequest string   `json:"user_request"`
	Steps       []string `json:"steps"`
	ModelName   string   `json:"model_name,omitempty"`
	UploadKey   string   `json:"upload_key,omitempty"`
}

// handlePlanLaunch starts a root plan asynchronously and returns its id.
func (s *Server) handlePlanLaunch(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.UserRequest == "" || len(req.Steps) == 0 {
		http.Error(w, "user_request and steps are required", http.StatusBadRequest)
		return
	}
	steps := make([]archon.Step, len(req.Steps))
	for i, sr := range req.Steps {
		steps[i] = archon.Step{StepIndex: i, StepRequirement: sr, Status: archon.StepNotStarted}
	}
	plan := &archon.Plan{
		CurrentPlanID: s.ids.NewPlanID(),
		Title:         req.Title,
		UserRequest:   req.UserRequest,
		ModelName:     req.ModelName,
		UploadKey:     req.UploadKey,
		Steps:         steps,
	}
	go func() {
		if _, err := s.executor.Execute(context.Background(), plan); err != nil {
			s.logger.Warn("plan execution ended with error", "plan", plan.CurrentPlanID, "error", err)
		}
	}()
	s.writeJSON(w, http.StatusAccepted, map[string]string{"plan_id": plan.CurrentPlanID})
}

// handlePlanDetails returns the plan tree with agent summaries but without
// think-act detail.
func (s *Server) handlePlanDetails(w http.ResponseWriter, r *http.Request) {
	planID := chi.URLParam(r, "planId")
	tree, err := s.reader.PlanTree(r.Context(), planID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, tree)
}

// handleAgentExecution returns the full agent record for a step, think-act
// records and tool calls included.
func (s *Server) handleAgentExecution(w http.ResponseWriter, r *http.Request) {
	stepID := chi.URLParam(r, "stepId")
	rec, err := s.reader.AgentDetail(r.Context(), stepID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

// handleInterrupt requests cooperative cancellation of a root plan.
// Interruption is not an error at this boundary: the call acknowledges the
// request, the tree unwinds at its next safe points.
func (s *Server) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	planID := chi.URLParam(r, "planId")
	s.interrupts.Request(planID)
	s.logger.Info("interrupt requested", "plan", planID)
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "interrupt requested"})
}

// handleInputState returns the pending (or expired) form for a root plan.
func (s *Server) handleInputState(w http.ResponseWriter, r *http.Request) {
	planID := chi.URLParam(r, "planId")
	state := s.waits.GetWaitState(planID)
	if state == nil {
		s.writeError(w, archon.ErrNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, state)
}

// handleInputSubmit completes a pending form with user data. Late
// submissions after timeout are accepted.
func (s *Server) handleInputSubmit(w http.ResponseWriter, r *http.Request) {
	planID := chi.URLParam(r, "planId")
	var payload map[string]string
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid payload: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.waits.Submit(planID, payload); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "submitted"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("write response failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, archon.ErrNotFound) {
		status = http.StatusNotFound
	}
	http.Error(w, err.Error(), status)
}
