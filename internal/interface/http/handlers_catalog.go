package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/housecup/points-engine/internal/application/command"
	"github.com/housecup/points-engine/internal/application/query"
	"github.com/housecup/points-engine/internal/domain/account"
	"github.com/housecup/points-engine/internal/domain/house"
	"github.com/housecup/points-engine/internal/domain/shared"
	"github.com/housecup/points-engine/internal/domain/shop"
	"github.com/housecup/points-engine/pkg/apierror"
)

// ══════════════════════════════════════════════════════════════════════════════
// HOUSES
// ══════════════════════════════════════════════════════════════════════════════

type createHouseRequest struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Grade    int    `json:"grade"`
	ColorHex string `json:"color_hex"`
	Mascot   string `json:"mascot"`
	Motto    string `json:"motto"`
}

// handleCreateHouse handles POST /api/v1/houses
func (s *Server) handleCreateHouse(w http.ResponseWriter, r *http.Request) {
	var req createHouseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	h, err := s.deps.Commands.CreateHouse(r.Context(), callerFrom(r), house.NewHouseParams{
		ID:       req.ID,
		Name:     req.Name,
		Grade:    shared.Grade(req.Grade),
		ColorHex: req.ColorHex,
		Mascot:   req.Mascot,
		Motto:    req.Motto,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, query.NewHouseView(h))
}

// handleListHouses handles GET /api/v1/houses
func (s *Server) handleListHouses(w http.ResponseWriter, r *http.Request) {
	houses, err := s.deps.Queries.ListHouses(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeList(w, r, houses)
}

// handleGetHouse handles GET /api/v1/houses/{houseID}
func (s *Server) handleGetHouse(w http.ResponseWriter, r *http.Request) {
	h, err := s.deps.Queries.GetHouse(r.Context(), chi.URLParam(r, "houseID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, h)
}

// ══════════════════════════════════════════════════════════════════════════════
// ACCOUNTS
// ══════════════════════════════════════════════════════════════════════════════

type upsertProfileRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	HouseID     string `json:"house_id"`
	Grade       int    `json:"grade"`
}

// handleUpsertProfile handles PUT /api/v1/accounts/{accountID}. Counters are
// never taken from the body.
func (s *Server) handleUpsertProfile(w http.ResponseWriter, r *http.Request) {
	var req upsertProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	role, err := account.ParseRole(req.Role)
	if err != nil {
		writeError(w, r, err)
		return
	}
	a, err := s.deps.Commands.UpsertProfile(r.Context(), callerFrom(r), account.Profile{
		ID:          chi.URLParam(r, "accountID"),
		Email:       req.Email,
		DisplayName: req.DisplayName,
		Role:        role,
		HouseID:     req.HouseID,
		Grade:       shared.Grade(req.Grade),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, query.NewAccountView(a))
}

// handleListAccounts handles GET /api/v1/accounts
func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	grade, err := queryInt(r, "grade", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	filter := account.Filter{
		HouseID: r.URL.Query().Get("house_id"),
		Grade:   shared.Grade(grade),
	}
	if v := r.URL.Query().Get("role"); v != "" {
		if filter.Role, err = account.ParseRole(v); err != nil {
			writeError(w, r, err)
			return
		}
	}
	accounts, err := s.deps.Queries.ListAccounts(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeList(w, r, accounts)
}

// handleGetAccount handles GET /api/v1/accounts/{accountID}
func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	a, err := s.deps.Queries.GetAccount(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, a)
}

// ══════════════════════════════════════════════════════════════════════════════
// SHOP
// ══════════════════════════════════════════════════════════════════════════════

type submitShopRequestRequest struct {
	TeacherName     string `json:"teacher_name"`
	ItemName        string `json:"item_name"`
	ItemDescription string `json:"item_description"`
	SuggestedPrice  int64  `json:"suggested_price"`
	Category        string `json:"category"`
	Justification   string `json:"justification"`
}

type approveShopRequestRequest struct {
	FinalPrice    int64  `json:"final_price"`
	StockQuantity *int64 `json:"stock_quantity"`
	Notes         string `json:"notes"`
}

type setItemActiveRequest struct {
	Active *bool `json:"active"`
}

// handleListItems handles GET /api/v1/items?active=true
func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.deps.Queries.ListItems(r.Context(), queryBool(r, "active"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeList(w, r, items)
}

// handleGetItem handles GET /api/v1/items/{itemID}
func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.deps.Queries.GetItem(r.Context(), chi.URLParam(r, "itemID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, item)
}

// handleSetItemActive handles PUT /api/v1/items/{itemID}/active
func (s *Server) handleSetItemActive(w http.ResponseWriter, r *http.Request) {
	var req setItemActiveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Active == nil {
		writeError(w, r, apierror.ValidationError("Invalid request body",
			apierror.FieldError{Field: "active", Message: "is required"}))
		return
	}
	item, err := s.deps.Commands.SetItemActive(r.Context(), callerFrom(r), chi.URLParam(r, "itemID"), *req.Active)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, query.NewItemView(item))
}

// handleSubmitShopRequest handles POST /api/v1/shop-requests
func (s *Server) handleSubmitShopRequest(w http.ResponseWriter, r *http.Request) {
	var req submitShopRequestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	sr, err := s.deps.Commands.SubmitShopRequest(r.Context(), command.SubmitShopRequestCommand{
		Caller:          callerFrom(r),
		TeacherName:     req.TeacherName,
		ItemName:        req.ItemName,
		ItemDescription: req.ItemDescription,
		SuggestedPrice:  req.SuggestedPrice,
		Category:        shop.Category(req.Category),
		Justification:   req.Justification,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, query.NewRequestView(sr))
}

// handleListShopRequests handles GET /api/v1/shop-requests?status=pending
func (s *Server) handleListShopRequests(w http.ResponseWriter, r *http.Request) {
	status := shop.RequestStatus(r.URL.Query().Get("status"))
	if status != "" && !status.IsValid() {
		writeError(w, r, apierror.ValidationError("Invalid query parameter",
			apierror.FieldError{Field: "status", Message: "must be pending, approved or rejected"}))
		return
	}
	requests, err := s.deps.Queries.ListShopRequests(r.Context(), status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeList(w, r, requests)
}

// handleGetShopRequest handles GET /api/v1/shop-requests/{requestID}
func (s *Server) handleGetShopRequest(w http.ResponseWriter, r *http.Request) {
	sr, err := s.deps.Queries.GetShopRequest(r.Context(), chi.URLParam(r, "requestID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, sr)
}

// handleApproveShopRequest handles POST /api/v1/shop-requests/{requestID}/approve
func (s *Server) handleApproveShopRequest(w http.ResponseWriter, r *http.Request) {
	var req approveShopRequestRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	item, err := s.deps.Commands.ApproveShopRequest(r.Context(), command.ApproveShopRequestCommand{
		Caller:        callerFrom(r),
		RequestID:     chi.URLParam(r, "requestID"),
		FinalPrice:    req.FinalPrice,
		StockQuantity: req.StockQuantity,
		Notes:         req.Notes,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/items/"+item.ID)
	writeJSON(w, r, http.StatusCreated, query.NewItemView(item))
}

// handleRejectShopRequest handles POST /api/v1/shop-requests/{requestID}/reject
func (s *Server) handleRejectShopRequest(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	sr, err := s.deps.Commands.RejectShopRequest(r.Context(), command.RejectShopRequestCommand{
		Caller:    callerFrom(r),
		RequestID: chi.URLParam(r, "requestID"),
		Notes:     req.Notes,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, query.NewRequestView(sr))
}
