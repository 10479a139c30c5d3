package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/housecup/points-engine/internal/application/query"
	"github.com/housecup/points-engine/internal/domain/shared"
)

const defaultReportSize = 10

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARDS
// ══════════════════════════════════════════════════════════════════════════════

// handleHouseLeaderboard handles GET /api/v1/leaderboard/houses
func (s *Server) handleHouseLeaderboard(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Queries.HouseLeaderboard(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// handleStudentLeaderboard handles GET /api/v1/leaderboard/students
// ?house_id=h1 | ?grade=10, &limit=20
func (s *Server) handleStudentLeaderboard(w http.ResponseWriter, r *http.Request) {
	grade, err := queryInt(r, "grade", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.deps.Queries.StudentLeaderboard(r.Context(), query.StudentLeaderboardQuery{
		HouseID: r.URL.Query().Get("house_id"),
		Grade:   shared.Grade(grade),
		Limit:   limit,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// handleStudentRank handles GET /api/v1/accounts/{accountID}/rank
func (s *Server) handleStudentRank(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Queries.StudentRank(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// ══════════════════════════════════════════════════════════════════════════════
// HOUSE STATISTICS
// ══════════════════════════════════════════════════════════════════════════════

// handleHouseStats handles GET /api/v1/houses/{houseID}/stats
func (s *Server) handleHouseStats(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Queries.HouseStats(r.Context(), chi.URLParam(r, "houseID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// handleTopContributors handles GET /api/v1/houses/{houseID}/contributors
func (s *Server) handleTopContributors(w http.ResponseWriter, r *http.Request) {
	n, err := queryInt(r, "limit", defaultReportSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	since, err := queryTime(r, "since")
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.deps.Queries.TopContributors(r.Context(), chi.URLParam(r, "houseID"), n, since)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeList(w, r, res)
}

// ══════════════════════════════════════════════════════════════════════════════
// REPORTS
// ══════════════════════════════════════════════════════════════════════════════

// handleTopStudents handles GET /api/v1/reports/top-students
func (s *Server) handleTopStudents(w http.ResponseWriter, r *http.Request) {
	n, err := queryInt(r, "limit", defaultReportSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.deps.Queries.TopStudents(r.Context(), n)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeList(w, r, res)
}

// handleTopPurchasers handles GET /api/v1/reports/top-purchasers
func (s *Server) handleTopPurchasers(w http.ResponseWriter, r *http.Request) {
	n, err := queryInt(r, "limit", defaultReportSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	since, err := queryTime(r, "since")
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.deps.Queries.TopPurchasers(r.Context(), n, since)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeList(w, r, res)
}

// handleTeacherActivity handles GET /api/v1/reports/teacher-activity
func (s *Server) handleTeacherActivity(w http.ResponseWriter, r *http.Request) {
	since, err := queryTime(r, "since")
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.deps.Queries.TeacherActivity(r.Context(), since)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeList(w, r, res)
}

// handleAudit handles GET /api/v1/audit
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.Queries.AuditLedger(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, report)
}
