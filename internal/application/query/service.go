// Package query contains the read side of the engine. Queries never modify
// state: they read committed values through ledger.Reader and return plain
// result types ready to be serialized.
package query

import (
	"context"
	"log/slog"
	"time"

	"github.com/housecup/points-engine/internal/domain/account"
	"github.com/housecup/points-engine/internal/domain/house"
	"github.com/housecup/points-engine/internal/domain/leaderboard"
	"github.com/housecup/points-engine/internal/domain/ledger"
	"github.com/housecup/points-engine/internal/domain/shared"
	"github.com/housecup/points-engine/internal/domain/shop"
	"github.com/housecup/points-engine/pkg/logger"
	"github.com/housecup/points-engine/pkg/timeutil"
)

// Service answers one-shot reads, rankings, statistics and reports.
type Service struct {
	reader    ledger.Reader
	snapshots leaderboard.SnapshotStore
	clock     *timeutil.Clock
	logger    *slog.Logger
}

// NewService creates a query service. snapshots may be nil, in which case
// every trend is stable.
func NewService(reader ledger.Reader, snapshots leaderboard.SnapshotStore, clock *timeutil.Clock, log *slog.Logger) *Service {
	if clock == nil {
		clock = timeutil.MustClock("")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		reader:    reader,
		snapshots: snapshots,
		clock:     clock,
		logger:    log.With(logger.Component("query")),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// VIEWS
// ══════════════════════════════════════════════════════════════════════════════

// AccountView is the public shape of an account.
type AccountView struct {
	ID              string       `json:"id"`
	Email           string       `json:"email,omitempty"`
	DisplayName     string       `json:"display_name"`
	Role            account.Role `json:"role"`
	HouseID         string       `json:"house_id,omitempty"`
	Grade           shared.Grade `json:"grade,omitempty"`
	PointsEarned    int64        `json:"points_earned"`
	PointsSpent     int64        `json:"points_spent"`
	AvailablePoints int64        `json:"available_points"`
	Version         int64        `json:"version"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// NewAccountView converts an account.
func NewAccountView(a account.Account) AccountView {
	return AccountView{
		ID:              a.ID,
		Email:           a.Email,
		DisplayName:     a.Name(),
		Role:            a.Role,
		HouseID:         a.HouseID,
		Grade:           a.Grade,
		PointsEarned:    a.PointsEarned,
		PointsSpent:     a.PointsSpent,
		AvailablePoints: a.AvailablePoints(),
		Version:         a.Version,
		UpdatedAt:       a.UpdatedAt,
	}
}

// HouseView is the public shape of a house.
type HouseView struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Grade       shared.Grade `json:"grade"`
	ColorHex    string       `json:"color_hex,omitempty"`
	Mascot      string       `json:"mascot,omitempty"`
	Motto       string       `json:"motto,omitempty"`
	TotalPoints int64        `json:"total_points"`
	Version     int64        `json:"version"`
}

// NewHouseView converts a house.
func NewHouseView(h house.House) HouseView {
	return HouseView{
		ID:          h.ID,
		Name:        h.Name,
		Grade:       h.Grade,
		ColorHex:    h.ColorHex,
		Mascot:      h.Mascot,
		Motto:       h.Motto,
		TotalPoints: h.TotalPoints,
		Version:     h.Version,
	}
}

// ItemView is the public shape of a shop item. Remaining is omitted for
// unlimited items.
type ItemView struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Description   string        `json:"description,omitempty"`
	Category      shop.Category `json:"category"`
	ImageURL      string        `json:"image_url,omitempty"`
	Price         int64         `json:"price"`
	StockQuantity *int64        `json:"stock_quantity,omitempty"`
	SoldCount     int64         `json:"sold_count"`
	Remaining     *int64        `json:"remaining,omitempty"`
	Active        bool          `json:"active"`
	Available     bool          `json:"available"`
	CreatedBy     string        `json:"created_by,omitempty"`
	ApprovedBy    string        `json:"approved_by,omitempty"`
	Version       int64         `json:"version"`
}

// NewItemView converts an item.
func NewItemView(i shop.Item) ItemView {
	v := ItemView{
		ID:          i.ID,
		Name:        i.Name,
		Description: i.Description,
		Category:    i.Category,
		ImageURL:    i.ImageURL,
		Price:       i.Price,
		SoldCount:   i.SoldCount,
		Active:      i.Active,
		Available:   i.IsAvailable(),
		CreatedBy:   i.CreatedBy,
		ApprovedBy:  i.ApprovedBy,
		Version:     i.Version,
	}
	if i.StockQuantity != nil {
		stock := *i.StockQuantity
		v.StockQuantity = &stock
	}
	if remaining, limited := i.RemainingStock(); limited {
		v.Remaining = &remaining
	}
	return v
}

// PurchaseView is the public shape of a purchase.
type PurchaseView struct {
	ID              string                `json:"id"`
	StudentID       string                `json:"student_id"`
	ItemID          string                `json:"item_id"`
	ItemName        string                `json:"item_name"`
	PriceAtPurchase int64                 `json:"price_at_purchase"`
	Timestamp       time.Time             `json:"timestamp"`
	Status          ledger.PurchaseStatus `json:"status"`
	FulfilledAt     *time.Time            `json:"fulfilled_at,omitempty"`
	FulfilledBy     string                `json:"fulfilled_by,omitempty"`
	Notes           string                `json:"notes,omitempty"`
	Version         int64                 `json:"version"`
}

// NewPurchaseView converts a purchase.
func NewPurchaseView(p ledger.Purchase) PurchaseView {
	return PurchaseView{
		ID:              p.ID,
		StudentID:       p.StudentID,
		ItemID:          p.ItemID,
		ItemName:        p.ItemName,
		PriceAtPurchase: p.PriceAtPurchase,
		Timestamp:       p.Timestamp,
		Status:          p.Status,
		FulfilledAt:     p.FulfilledAt,
		FulfilledBy:     p.FulfilledBy,
		Notes:           p.Notes,
		Version:         p.Version,
	}
}

// RequestView is the public shape of a shop request.
type RequestView struct {
	ID              string             `json:"id"`
	TeacherID       string             `json:"teacher_id"`
	TeacherName     string             `json:"teacher_name,omitempty"`
	ItemName        string             `json:"item_name"`
	ItemDescription string             `json:"item_description,omitempty"`
	SuggestedPrice  int64              `json:"suggested_price"`
	Category        shop.Category      `json:"category"`
	Justification   string             `json:"justification,omitempty"`
	RequestedAt     time.Time          `json:"requested_at"`
	Status          shop.RequestStatus `json:"status"`
	AdminNotes      string             `json:"admin_notes,omitempty"`
	ReviewedBy      string             `json:"reviewed_by,omitempty"`
	ReviewedAt      *time.Time         `json:"reviewed_at,omitempty"`
	Version         int64              `json:"version"`
}

// NewRequestView converts a shop request.
func NewRequestView(r shop.Request) RequestView {
	return RequestView{
		ID:              r.ID,
		TeacherID:       r.TeacherID,
		TeacherName:     r.TeacherName,
		ItemName:        r.ItemName,
		ItemDescription: r.ItemDescription,
		SuggestedPrice:  r.SuggestedPrice,
		Category:        r.Category,
		Justification:   r.Justification,
		RequestedAt:     r.RequestedAt,
		Status:          r.Status,
		AdminNotes:      r.AdminNotes,
		ReviewedBy:      r.ReviewedBy,
		ReviewedAt:      r.ReviewedAt,
		Version:         r.Version,
	}
}

// AwardView is the public shape of an award.
type AwardView struct {
	ID        string               `json:"id"`
	StudentID string               `json:"student_id"`
	TeacherID string               `json:"teacher_id"`
	HouseID   string               `json:"house_id"`
	Points    int64                `json:"points"`
	Reason    string               `json:"reason"`
	Category  ledger.AwardCategory `json:"category"`
	Timestamp time.Time            `json:"timestamp"`
}

// NewAwardView converts an award.
func NewAwardView(a ledger.Award) AwardView {
	return AwardView{
		ID:        a.ID,
		StudentID: a.StudentID,
		TeacherID: a.TeacherID,
		HouseID:   a.HouseID,
		Points:    a.Points,
		Reason:    a.Reason,
		Category:  a.Category,
		Timestamp: a.Timestamp,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ONE-SHOT READS
// ══════════════════════════════════════════════════════════════════════════════

// GetAccount returns one account.
func (s *Service) GetAccount(ctx context.Context, id string) (AccountView, error) {
	a, err := s.reader.GetAccount(ctx, id)
	if err != nil {
		return AccountView{}, err
	}
	return NewAccountView(a), nil
}

// GetHouse returns one house.
func (s *Service) GetHouse(ctx context.Context, id string) (HouseView, error) {
	h, err := s.reader.GetHouse(ctx, id)
	if err != nil {
		return HouseView{}, err
	}
	return NewHouseView(h), nil
}

// GetItem returns one shop item.
func (s *Service) GetItem(ctx context.Context, id string) (ItemView, error) {
	i, err := s.reader.GetItem(ctx, id)
	if err != nil {
		return ItemView{}, err
	}
	return NewItemView(i), nil
}

// GetPurchase returns one purchase.
func (s *Service) GetPurchase(ctx context.Context, id string) (PurchaseView, error) {
	p, err := s.reader.GetPurchase(ctx, id)
	if err != nil {
		return PurchaseView{}, err
	}
	return NewPurchaseView(p), nil
}

// GetShopRequest returns one shop request.
func (s *Service) GetShopRequest(ctx context.Context, id string) (RequestView, error) {
	r, err := s.reader.GetShopRequest(ctx, id)
	if err != nil {
		return RequestView{}, err
	}
	return NewRequestView(r), nil
}

// ListAccounts returns accounts matching filter, sorted by id.
func (s *Service) ListAccounts(ctx context.Context, filter account.Filter) ([]AccountView, error) {
	accounts, err := s.reader.ListAccounts(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]AccountView, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, NewAccountView(a))
	}
	return out, nil
}

// ListHouses returns every house, sorted by id.
func (s *Service) ListHouses(ctx context.Context) ([]HouseView, error) {
	houses, err := s.reader.ListHouses(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]HouseView, 0, len(houses))
	for _, h := range houses {
		out = append(out, NewHouseView(h))
	}
	return out, nil
}

// ListItems returns the shop catalogue.
func (s *Service) ListItems(ctx context.Context, activeOnly bool) ([]ItemView, error) {
	items, err := s.reader.ListItems(ctx, activeOnly)
	if err != nil {
		return nil, err
	}
	out := make([]ItemView, 0, len(items))
	for _, i := range items {
		out = append(out, NewItemView(i))
	}
	return out, nil
}

// ListShopRequests returns requests in status, oldest first. An empty status
// lists every request.
func (s *Service) ListShopRequests(ctx context.Context, status shop.RequestStatus) ([]RequestView, error) {
	if status != "" && !status.IsValid() {
		return nil, shared.NewValidationError("query", "ListShopRequests", "unknown request status")
	}
	reqs, err := s.reader.ListShopRequests(ctx, status)
	if err != nil {
		return nil, err
	}
	out := make([]RequestView, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, NewRequestView(r))
	}
	return out, nil
}
