package http

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/housecup/points-engine/internal/domain/account"
	"github.com/housecup/points-engine/internal/infrastructure/scheduler"
	"github.com/housecup/points-engine/pkg/apierror"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleHealth handles GET /health. Any failed check answers 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.deps.Health.Check(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, status)
}

// handleReady handles GET /ready. Only critical checks decide readiness.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	status := s.deps.Health.Check(r.Context())
	if !status.Ready {
		apierror.ServiceUnavailable(status.Message).Write(w)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive handles GET /live.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULED JOBS (ADMIN)
// ══════════════════════════════════════════════════════════════════════════════

type jobRunResponse struct {
	Job        string `json:"job"`
	Success    bool   `json:"success"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

func (s *Server) requireJobs(w http.ResponseWriter, r *http.Request) bool {
	if s.deps.Jobs == nil {
		apierror.ServiceUnavailable("Scheduler is disabled").Write(w)
		return false
	}
	if err := callerFrom(r).Require("ManageJobs", account.RoleAdmin); err != nil {
		writeError(w, r, err)
		return false
	}
	return true
}

// handleListJobs handles GET /api/v1/admin/jobs
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if !s.requireJobs(w, r) {
		return
	}
	writeList(w, r, s.deps.Jobs.ListJobs())
}

// handleRunJob handles POST /api/v1/admin/jobs/{jobName}/run. The job runs
// synchronously; a job that fails still answers 200 with the failure in the
// body.
func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	if !s.requireJobs(w, r) {
		return
	}
	name := chi.URLParam(r, "jobName")
	res, err := s.deps.Jobs.RunNow(r.Context(), name)
	switch {
	case errors.Is(err, scheduler.ErrJobNotFound):
		apierror.NotFound("Job " + name + " is not registered").Write(w)
		return
	case errors.Is(err, scheduler.ErrJobBusy):
		apierror.Conflict("Job " + name + " is already running").Write(w)
		return
	}

	body := jobRunResponse{
		Job:        res.JobName,
		Success:    res.Success(),
		DurationMS: res.Duration.Milliseconds(),
	}
	if res.Err != nil {
		body.Error = res.Err.Error()
	}
	writeJSON(w, r, http.StatusOK, body)
}
