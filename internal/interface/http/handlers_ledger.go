package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/housecup/points-engine/internal/application/command"
	"github.com/housecup/points-engine/internal/application/query"
	"github.com/housecup/points-engine/internal/domain/ledger"
	"github.com/housecup/points-engine/pkg/apierror"
)

// ══════════════════════════════════════════════════════════════════════════════
// AWARDS
// ══════════════════════════════════════════════════════════════════════════════

type awardPointsRequest struct {
	StudentID string `json:"student_id"`
	HouseID   string `json:"house_id"`
	Points    int64  `json:"points"`
	Reason    string `json:"reason"`
	Category  string `json:"category"`
}

// handleAwardPoints handles POST /api/v1/awards
func (s *Server) handleAwardPoints(w http.ResponseWriter, r *http.Request) {
	var req awardPointsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	award, err := s.deps.Commands.AwardPoints(r.Context(), command.AwardPointsCommand{
		Caller:    callerFrom(r),
		StudentID: req.StudentID,
		HouseID:   req.HouseID,
		Points:    req.Points,
		Reason:    req.Reason,
		Category:  req.Category,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, query.NewAwardView(award))
}

// handleAwardHistory handles GET /api/v1/awards
func (s *Server) handleAwardHistory(w http.ResponseWriter, r *http.Request) {
	since, err := queryTime(r, "since")
	if err != nil {
		writeError(w, r, err)
		return
	}
	until, err := queryTime(r, "until")
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	awards, err := s.deps.Queries.AwardHistory(r.Context(), query.AwardHistoryQuery{
		StudentID: q.Get("student_id"),
		TeacherID: q.Get("teacher_id"),
		HouseID:   q.Get("house_id"),
		Since:     since,
		Until:     until,
		Limit:     limit,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeList(w, r, awards)
}

// ══════════════════════════════════════════════════════════════════════════════
// PURCHASES
// ══════════════════════════════════════════════════════════════════════════════

type purchaseItemRequest struct {
	StudentID string `json:"student_id"`
	ItemID    string `json:"item_id"`
}

type resolveRequest struct {
	Notes string `json:"notes"`
}

// handlePurchaseItem handles POST /api/v1/purchases
func (s *Server) handlePurchaseItem(w http.ResponseWriter, r *http.Request) {
	var req purchaseItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	purchase, err := s.deps.Commands.PurchaseItem(r.Context(), command.PurchaseItemCommand{
		Caller:    callerFrom(r),
		StudentID: req.StudentID,
		ItemID:    req.ItemID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, query.NewPurchaseView(purchase))
}

// handlePurchaseHistory handles GET /api/v1/purchases
func (s *Server) handlePurchaseHistory(w http.ResponseWriter, r *http.Request) {
	since, err := queryTime(r, "since")
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	status := ledger.PurchaseStatus(q.Get("status"))
	if status != "" && !status.IsValid() {
		writeError(w, r, apierror.ValidationError("Invalid query parameter",
			apierror.FieldError{Field: "status", Message: "must be pending, fulfilled or cancelled"}))
		return
	}
	purchases, err := s.deps.Queries.PurchaseHistory(r.Context(), query.PurchaseHistoryQuery{
		StudentID: q.Get("student_id"),
		ItemID:    q.Get("item_id"),
		Status:    status,
		Since:     since,
		Limit:     limit,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeList(w, r, purchases)
}

// handleGetPurchase handles GET /api/v1/purchases/{purchaseID}
func (s *Server) handleGetPurchase(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Queries.GetPurchase(r.Context(), chi.URLParam(r, "purchaseID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, p)
}

// handleFulfillPurchase handles POST /api/v1/purchases/{purchaseID}/fulfill
func (s *Server) handleFulfillPurchase(w http.ResponseWriter, r *http.Request) {
	s.resolvePurchase(w, r, s.deps.Commands.FulfillPurchase)
}

// handleCancelPurchase handles POST /api/v1/purchases/{purchaseID}/cancel
func (s *Server) handleCancelPurchase(w http.ResponseWriter, r *http.Request) {
	s.resolvePurchase(w, r, s.deps.Commands.CancelPurchase)
}

type resolveFunc func(ctx context.Context, cmd command.ResolvePurchaseCommand) (ledger.Purchase, error)

func (s *Server) resolvePurchase(w http.ResponseWriter, r *http.Request, resolve resolveFunc) {
	var req resolveRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	purchase, err := resolve(r.Context(), command.ResolvePurchaseCommand{
		Caller:     callerFrom(r),
		PurchaseID: chi.URLParam(r, "purchaseID"),
		Notes:      req.Notes,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, query.NewPurchaseView(purchase))
}
